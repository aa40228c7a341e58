package domain

import "strings"

// Node is one category in the tree arena
type Node struct {
	ID         int            `json:"id"`
	Record     CategoryRecord `json:"record"`
	Parent     int            `json:"parent"` // -1 for roots and orphans
	Children   []int          `json:"children,omitempty"`
	Expandable bool           `json:"expandable"`
}

// Tree holds all category nodes indexed by path.
// Roots and Children are ordered by display name.
type Tree struct {
	Nodes   []Node         `json:"nodes"`
	Roots   []int          `json:"roots"`
	Orphans []int          `json:"orphans,omitempty"` // Nodes whose parent path has no record
	Index   map[string]int `json:"-"`
}

// Lookup returns the node ID for a path
func (t *Tree) Lookup(path string) (int, bool) {
	id, ok := t.Index[strings.Trim(path, "/")]
	return id, ok
}

// Node returns the node with the given ID
func (t *Tree) Node(id int) (*Node, bool) {
	if id < 0 || id >= len(t.Nodes) {
		return nil, false
	}
	return &t.Nodes[id], true
}

// HasDescendant reports whether any other record lives below the node.
// This is broader than having children: an orphan below the node counts too.
func (t *Tree) HasDescendant(id int) bool {
	n, ok := t.Node(id)
	return ok && n.Expandable
}

// Depth returns the number of levels reachable from the roots
func (t *Tree) Depth() int {
	var walk func(ids []int) int
	walk = func(ids []int) int {
		deepest := 0
		for _, id := range ids {
			if d := walk(t.Nodes[id].Children); d > deepest {
				deepest = d
			}
		}
		if len(ids) == 0 {
			return 0
		}
		return deepest + 1
	}
	return walk(t.Roots)
}
