/*
Package pipeline assembles and executes XML publishing pipelines.

A pipeline is either a generator followed by zero or more transformers and a
serializer, or a single reader. Matchers, selectors and actions are the
components that decide which pipeline gets assembled; their interfaces live
here too so that every sitemap component shares one vocabulary.

Components are stateless: everything a component needs for one invocation is
carried by its Setup.
*/
package pipeline
