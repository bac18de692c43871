/*
Package source resolves locations into ports.Source values.

Built-in schemes:

  - file:    local files, validity from the modification time
  - http(s): remote resources fetched with a pooled client
  - cocoon:  the output of a sitemap pipeline ("cocoon:/x" relative to the
    current sitemap, "cocoon://x" from the root sitemap)
  - cached:  a store-backed cache around any other source

A relative location is resolved against the base given to Resolve, usually
the context URI of the current environment.
*/
package source
