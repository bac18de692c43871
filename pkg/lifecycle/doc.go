/*
Package lifecycle tracks the environments a request passes through.

Every top-level request begins a stack in its context.Context. Sitemap
processors push an Entry when they start working on an environment (the
top-level request, a mounted sitemap, a cocoon: sub-request) and pop it when
they are done, so code deep inside a pipeline can find the current
environment and processor without explicit parameters.

Components registered with AddForAutomaticRelease are released when the
outermost entry is left, unless they were removed earlier.

Goroutines spawned mid-request must call Fork: the fork sees the entries of
its parent at fork time and evolves independently.
*/
package lifecycle
