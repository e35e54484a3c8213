package view

import (
	"fmt"
	"io"
	"strings"

	"github.com/user/gencanvas/internal/types"
)

// Render writes an indented text tree of the projection. Visible nodes
// without a visible parent are printed as roots.
func Render(w io.Writer, p Projection) error {
	byID := make(map[types.NodeID]NodeView, len(p.Nodes))
	children := make(map[types.NodeID][]types.NodeID)
	hasParent := make(map[types.NodeID]bool)
	for _, nv := range p.Nodes {
		byID[nv.Node.ID] = nv
	}
	for _, e := range p.Edges {
		children[e.Source] = append(children[e.Source], e.Target)
		hasParent[e.Target] = true
	}

	printed := make(map[types.NodeID]bool)
	var walk func(id types.NodeID, depth int) error
	walk = func(id types.NodeID, depth int) error {
		if printed[id] {
			return nil
		}
		printed[id] = true
		if _, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), line(byID[id])); err != nil {
			return err
		}
		for _, c := range children[id] {
			if err := walk(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, nv := range p.Nodes {
		if hasParent[nv.Node.ID] {
			continue
		}
		if err := walk(nv.Node.ID, 0); err != nil {
			return err
		}
	}
	return nil
}

func line(nv NodeView) string {
	n := nv.Node
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] x%d", shortID(string(n.ID)), n.Status, n.Count)
	if len(n.Images) > 0 {
		fmt.Fprintf(&b, " images=%d", len(n.Images))
	}
	if n.Favorite {
		b.WriteString(" *")
	}
	if n.Stalled {
		b.WriteString(" (stalled)")
	}
	if prompt := strings.TrimSpace(n.Prompt); prompt != "" {
		fmt.Fprintf(&b, " %q", truncate(prompt, 60))
	}
	if nv.HiddenCount > 0 {
		fmt.Fprintf(&b, " (+%d hidden", nv.HiddenCount)
		if nv.PreviewTotal > 0 {
			fmt.Fprintf(&b, ", %d with images", nv.PreviewTotal)
		}
		b.WriteString(")")
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
