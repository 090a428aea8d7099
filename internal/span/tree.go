package span

import (
	"sort"

	"github.com/xiaot623/gogo/tracelens/internal/domain"
)

// Node is a span with its children in the reconstructed forest.
type Node struct {
	Span     domain.Span `json:"span"`
	Children []*Node     `json:"children"`
}

// BuildTree rebuilds the span forest from scratch. A span is a root when it
// has no parent or when its parent is not in spans yet (an orphan); orphans
// move under their parent on the next build once the parent arrives.
// Siblings are ordered by start time, then by id.
func BuildTree(spans map[string]domain.Span) []*Node {
	ids := make([]string, 0, len(spans))
	for id := range spans {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	isRoot := make(map[string]bool, len(spans))
	for _, id := range ids {
		p := spans[id].ParentID
		if p == nil || *p == id {
			isRoot[id] = true
			continue
		}
		if _, ok := spans[*p]; !ok {
			isRoot[id] = true
		}
	}
	breakCycles(spans, ids, isRoot)

	nodes := make(map[string]*Node, len(spans))
	for _, id := range ids {
		nodes[id] = &Node{Span: spans[id], Children: []*Node{}}
	}

	roots := make([]*Node, 0)
	for _, id := range ids {
		n := nodes[id]
		if isRoot[id] {
			roots = append(roots, n)
			continue
		}
		parent := nodes[*spans[id].ParentID]
		parent.Children = append(parent.Children, n)
	}

	sortNodes(roots)
	for _, n := range nodes {
		sortNodes(n.Children)
	}
	return roots
}

// breakCycles promotes the smallest id of every parent cycle to a root so
// that each span is reachable exactly once.
func breakCycles(spans map[string]domain.Span, ids []string, isRoot map[string]bool) {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(spans))
	for _, id := range ids {
		var path []string
		cur := id
		for !isRoot[cur] && state[cur] != done {
			if state[cur] == visiting {
				promote := cur
				inCycle := false
				for _, p := range path {
					if p == cur {
						inCycle = true
					}
					if inCycle && p < promote {
						promote = p
					}
				}
				isRoot[promote] = true
				break
			}
			state[cur] = visiting
			path = append(path, cur)
			cur = *spans[cur].ParentID
		}
		for _, p := range path {
			state[p] = done
		}
	}
}

func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return less(nodes[i].Span, nodes[j].Span)
	})
}

func less(a, b domain.Span) bool {
	switch {
	case a.StartTime != nil && b.StartTime != nil:
		if !a.StartTime.Equal(*b.StartTime) {
			return a.StartTime.Before(*b.StartTime)
		}
	case a.StartTime != nil:
		return true
	case b.StartTime != nil:
		return false
	}
	return a.ID < b.ID
}

// Walk visits the forest depth-first in display order. Returning false from
// fn skips the node's children.
func Walk(nodes []*Node, fn func(n *Node, depth int) bool) {
	var visit func(ns []*Node, depth int)
	visit = func(ns []*Node, depth int) {
		for _, n := range ns {
			if fn(n, depth) {
				visit(n.Children, depth+1)
			}
		}
	}
	visit(nodes, 0)
}

// Count returns the number of nodes in the forest.
func Count(nodes []*Node) int {
	total := 0
	Walk(nodes, func(*Node, int) bool {
		total++
		return true
	})
	return total
}
