// Package view derives what a canvas renders from the full graph.
//
// Project is a pure function: it never mutates its inputs and keeps no
// state between calls.
package view

import (
	"github.com/user/gencanvas/internal/types"
)

const (
	// PreviewCap bounds the thumbnails collected under a collapsed node.
	PreviewCap = 9

	DefaultPreviewDepth = 3
	MinPreviewDepth     = 1
	MaxPreviewDepth     = 6
)

// Prefs are the view preferences that shape a projection.
type Prefs struct {
	// LatestLevels keeps only nodes fewer than this many hops from a leaf.
	// Zero disables windowing.
	LatestLevels  int
	PreviewImages bool
	PreviewDepth  int
}

func (p Prefs) normalized() Prefs {
	if p.LatestLevels < 0 {
		p.LatestLevels = 0
	}
	switch {
	case p.PreviewDepth == 0:
		p.PreviewDepth = DefaultPreviewDepth
	case p.PreviewDepth < MinPreviewDepth:
		p.PreviewDepth = MinPreviewDepth
	case p.PreviewDepth > MaxPreviewDepth:
		p.PreviewDepth = MaxPreviewDepth
	}
	return p
}

// PreviewImage is one thumbnail shown inside a collapsed node.
type PreviewImage struct {
	NodeID  types.NodeID  `json:"node_id"`
	ImageID types.ImageID `json:"image_id"`
	URL     string        `json:"url"`
}

// NodeView is a visible node plus its collapsed-subtree summary.
type NodeView struct {
	Node         *types.Node    `json:"node"`
	HiddenCount  int            `json:"hidden_count,omitempty"`
	Preview      []PreviewImage `json:"preview,omitempty"`
	PreviewTotal int            `json:"preview_total,omitempty"`
}

// Projection is the rendered subset of a graph.
type Projection struct {
	Nodes []NodeView   `json:"nodes"`
	Edges []types.Edge `json:"edges"`
}

// adjacency holds parent/child lists restricted to active nodes, in edge
// order.
type adjacency struct {
	active   map[types.NodeID]*types.Node
	children map[types.NodeID][]types.NodeID
	parents  map[types.NodeID][]types.NodeID
}

func buildAdjacency(nodes []*types.Node, edges []types.Edge) adjacency {
	a := adjacency{
		active:   make(map[types.NodeID]*types.Node, len(nodes)),
		children: make(map[types.NodeID][]types.NodeID),
		parents:  make(map[types.NodeID][]types.NodeID),
	}
	for _, n := range nodes {
		if n != nil && !n.Archived {
			a.active[n.ID] = n
		}
	}
	for _, e := range edges {
		if a.active[e.Source] == nil || a.active[e.Target] == nil {
			continue
		}
		a.children[e.Source] = append(a.children[e.Source], e.Target)
		a.parents[e.Target] = append(a.parents[e.Target], e.Source)
	}
	return a
}

// Project computes the visible nodes and edges for the given preferences.
// Output order follows the input order of nodes and edges.
func Project(nodes []*types.Node, edges []types.Edge, prefs Prefs) Projection {
	prefs = prefs.normalized()
	adj := buildAdjacency(nodes, edges)

	windowed := adj.window(nodes, prefs.LatestLevels)

	// Only rendered nodes act as collapse roots, so every hidden subtree has a
	// visible summary. Collapsed nodes inside another collapsed subtree are
	// subsumed by it.
	hidden := make(map[types.NodeID]bool)
	var collapsed []types.NodeID
	for _, n := range nodes {
		if n == nil || adj.active[n.ID] == nil || !windowed[n.ID] || !n.Collapsed {
			continue
		}
		collapsed = append(collapsed, n.ID)
		adj.walkDescendants(n.ID, func(id types.NodeID, _ int) {
			hidden[id] = true
		})
	}

	summaries := make(map[types.NodeID]NodeView, len(collapsed))
	for _, id := range collapsed {
		if hidden[id] {
			continue
		}
		summaries[id] = adj.summarize(id, prefs)
	}

	out := Projection{
		Nodes: []NodeView{},
		Edges: []types.Edge{},
	}
	visible := make(map[types.NodeID]bool)
	for _, n := range nodes {
		if n == nil || adj.active[n.ID] == nil || !windowed[n.ID] || hidden[n.ID] {
			continue
		}
		visible[n.ID] = true
		nv := summaries[n.ID]
		nv.Node = n
		out.Nodes = append(out.Nodes, nv)
	}
	for _, e := range edges {
		if visible[e.Source] && visible[e.Target] {
			out.Edges = append(out.Edges, e)
		}
	}
	return out
}

// window returns the active nodes whose minimum hop distance to any leaf is
// below levels. A multi-source BFS from every leaf walks parent links.
func (a adjacency) window(nodes []*types.Node, levels int) map[types.NodeID]bool {
	keep := make(map[types.NodeID]bool, len(a.active))
	if levels <= 0 {
		for id := range a.active {
			keep[id] = true
		}
		return keep
	}

	dist := make(map[types.NodeID]int, len(a.active))
	var queue []types.NodeID
	for _, n := range nodes {
		if n == nil || a.active[n.ID] == nil {
			continue
		}
		if len(a.children[n.ID]) == 0 {
			if _, seen := dist[n.ID]; !seen {
				dist[n.ID] = 0
				queue = append(queue, n.ID)
			}
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		d := dist[id]
		if d+1 >= levels {
			continue
		}
		for _, p := range a.parents[id] {
			if _, seen := dist[p]; seen {
				continue
			}
			dist[p] = d + 1
			queue = append(queue, p)
		}
	}
	for id, d := range dist {
		if d < levels {
			keep[id] = true
		}
	}
	return keep
}

// walkDescendants visits every active descendant of root once in BFS order,
// passing its depth below root (children are depth 1).
func (a adjacency) walkDescendants(root types.NodeID, visit func(id types.NodeID, depth int)) {
	type item struct {
		id    types.NodeID
		depth int
	}
	seen := map[types.NodeID]bool{root: true}
	queue := []item{{root, 0}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range a.children[cur.id] {
			if seen[c] {
				continue
			}
			seen[c] = true
			visit(c, cur.depth+1)
			queue = append(queue, item{c, cur.depth + 1})
		}
	}
}

func (a adjacency) summarize(root types.NodeID, prefs Prefs) NodeView {
	var nv NodeView
	a.walkDescendants(root, func(id types.NodeID, depth int) {
		nv.HiddenCount++
		if !prefs.PreviewImages || depth > prefs.PreviewDepth {
			return
		}
		img, ok := a.active[id].FirstImage()
		if !ok {
			return
		}
		nv.PreviewTotal++
		if len(nv.Preview) < PreviewCap {
			nv.Preview = append(nv.Preview, PreviewImage{NodeID: id, ImageID: img.ID, URL: img.URL})
		}
	})
	return nv
}
