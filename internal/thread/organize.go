// Package thread turns a flat list of records into reply trees.
//
// Organize is a pure function: it never mutates its input and rebuilds every
// children list from scratch, so a parent that shows up late is picked up on
// the next pass without any bookkeeping.
package thread

import (
	"sort"

	"github.com/tbourn/go-ledger-sync/internal/domain"
)

// Node is a record plus its derived replies.
type Node struct {
	domain.Record
	Children []*Node `json:"children,omitempty"`
}

type key struct{ group, id string }

// Organize builds the forest for records.
//
// A record whose parent is unknown, or lives in another group, is a root.
// Records are visited in (CreatedAt, ID) order and a parent edge that would
// close a cycle is refused, which makes the later-seen node of the cycle a
// root. Roots and children are sorted by (CreatedAt, ID).
func Organize(records []domain.Record) []*Node {
	nodes := make(map[key]*Node, len(records))
	order := make([]*Node, 0, len(records))
	for _, r := range records {
		k := key{r.GroupKey, r.ID}
		if cur, dup := nodes[k]; dup {
			// Duplicate ids keep the confirmed copy.
			if cur.State != domain.Confirmed && r.State == domain.Confirmed {
				cur.Record = r.Clone()
			}
			continue
		}
		n := &Node{Record: r.Clone()}
		nodes[k] = n
		order = append(order, n)
	}
	sort.Slice(order, func(i, j int) bool { return domain.Less(order[i].Record, order[j].Record) })

	parent := make(map[*Node]*Node, len(order))
	roots := make([]*Node, 0)
	for _, n := range order {
		p, ok := nodes[key{n.GroupKey, n.ParentID}]
		if n.ParentID == "" || !ok || reaches(parent, p, n) {
			roots = append(roots, n)
			continue
		}
		parent[n] = p
		p.Children = append(p.Children, n)
	}

	// order was sorted before attachment, so children lists are already in
	// (CreatedAt, ID) order; sort anyway to keep the contract local.
	for _, n := range order {
		sortNodes(n.Children)
	}
	sortNodes(roots)
	return roots
}

// reaches reports whether walking accepted parent edges from start arrives
// at target. Accepted edges never form a cycle, so the walk terminates.
func reaches(parent map[*Node]*Node, start, target *Node) bool {
	for cur := start; cur != nil; cur = parent[cur] {
		if cur == target {
			return true
		}
	}
	return false
}

func sortNodes(ns []*Node) {
	sort.SliceStable(ns, func(i, j int) bool { return domain.Less(ns[i].Record, ns[j].Record) })
}

// Flatten walks the forest depth-first, parents before children.
func Flatten(roots []*Node) []domain.Record {
	var out []domain.Record
	var walk func([]*Node)
	walk = func(ns []*Node) {
		for _, n := range ns {
			out = append(out, n.Record)
			walk(n.Children)
		}
	}
	walk(roots)
	return out
}

// Find returns the node with id anywhere in the forest, or nil.
func Find(roots []*Node, id string) *Node {
	for _, n := range roots {
		if n.ID == id {
			return n
		}
		if hit := Find(n.Children, id); hit != nil {
			return hit
		}
	}
	return nil
}

// Count returns the number of nodes in the forest.
func Count(roots []*Node) int {
	total := 0
	for _, n := range roots {
		total += 1 + Count(n.Children)
	}
	return total
}
