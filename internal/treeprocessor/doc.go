// Package treeprocessor compiles a sitemap into a tree of processing nodes
// and walks it for every request.
//
// A TreeProcessor owns one sitemap. The tree is built lazily on first use and
// rebuilt when the sitemap source changes. Mounted sitemaps get child
// processors that share the parent's resolver, reload settings and hooks but
// own their tree and component scope.
//
// Nodes return true when they handled the request. false means "try the next
// sibling" and is never an error.
package treeprocessor
