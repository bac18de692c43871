// Package components provides the built-in sitemap components: matchers,
// selectors, actions, generators, transformers, serializers and readers.
//
// Register installs all of them into a registry under their sitemap type
// names, with the usual defaults (file generator, xml serializer, wildcard
// matcher...).
package components
