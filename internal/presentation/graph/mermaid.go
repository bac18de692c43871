package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/cocoon/internal/treeprocessor"
)

// Overlay marks the nodes a request went through.
type Overlay struct {
	// Matched holds the locations of the nodes that handled the request.
	Matched []string
}

// GenerateMermaid renders a compiled sitemap as a Mermaid flowchart.
// Shapes follow the role of the node:
//   - pipelines: ((Circle))
//   - match, select, when, act: {Decision}
//   - generate: [/Parallelogram/]
//   - serialize, read: [\Parallelogram\]
//   - mount, call, resource: [[Subroutine]]
//   - other: [Rectangle]
//
// Resources reached from call or redirect-to are drawn once and linked with
// dotted arrows.
func GenerateMermaid(root treeprocessor.Node, overlay *Overlay) string {
	g := &generator{ids: make(map[string]string)}
	g.sb.WriteString("graph TD\n")
	if root != nil {
		g.node(root)
	}

	if overlay != nil && len(overlay.Matched) > 0 {
		g.sb.WriteString("\n    %% Overlay Styles\n")
		g.sb.WriteString("    classDef matched fill:#ffeb3b,stroke:#fbc02d,stroke-width:3px,color:#000;\n")
		seen := make(map[string]bool)
		for _, loc := range overlay.Matched {
			id, ok := g.ids[loc]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			fmt.Fprintf(&g.sb, "    class %s matched;\n", id)
		}
	}
	return g.sb.String()
}

type generator struct {
	sb  strings.Builder
	ids map[string]string
}

// node writes n and its subtree, returning the Mermaid id of n.
func (g *generator) node(n treeprocessor.Node) string {
	if id, ok := g.ids[n.Location()]; ok {
		return id
	}
	id := fmt.Sprintf("n%d", len(g.ids))
	g.ids[n.Location()] = id

	opener, closer := shape(n.Kind())
	label := n.Kind()
	if n.Label() != "" {
		label += "<br/>" + escape(n.Label())
	}
	fmt.Fprintf(&g.sb, "    %s%s\"%s\"%s\n", id, opener, label, closer)

	jump := n.Kind() == "call" || n.Kind() == "redirect-to"
	for _, child := range n.Children() {
		childID := g.node(child)
		arrow := "-->"
		if jump {
			arrow = "-.->"
		}
		fmt.Fprintf(&g.sb, "    %s %s %s\n", id, arrow, childID)
	}
	return id
}

func shape(kind string) (string, string) {
	switch kind {
	case "pipelines":
		return "((", "))"
	case "match", "select", "when", "act":
		return "{", "}"
	case "generate":
		return "[/", "/]"
	case "serialize", "read":
		return "[\\", "\\]"
	case "mount", "call", "resource":
		return "[[", "]]"
	}
	return "[", "]"
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}
