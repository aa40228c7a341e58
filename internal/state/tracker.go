package state

import (
	"errors"
	"fmt"

	"categorytree/rewriter/internal/domain"
)

var (
	ErrUnknownNode   = errors.New("unknown category node")
	ErrNotExpandable = errors.New("category node has no children")
)

// State is the visibility of a node's children
type State int

const (
	Collapsed State = iota
	Expanded
)

func (s State) String() string {
	if s == Expanded {
		return "expanded"
	}
	return "collapsed"
}

// Tracker holds the expand/collapse state of every node of one tree.
// All nodes start collapsed. It is not safe for concurrent use.
type Tracker struct {
	tree     *domain.Tree
	expanded map[int]bool
}

func NewTracker(tree *domain.Tree) *Tracker {
	return &Tracker{
		tree:     tree,
		expanded: make(map[int]bool),
	}
}

// IntentFor maps a category path, as carried by a rendered anchor, to a toggle intent
func (t *Tracker) IntentFor(path string) (domain.Intent, error) {
	id, ok := t.tree.Lookup(path)
	if !ok {
		return domain.Intent{}, fmt.Errorf("%w: %q", ErrUnknownNode, path)
	}
	return domain.Intent{NodeID: id, Action: domain.ActionToggle}, nil
}

// Apply moves a node from collapsed to expanded or back
func (t *Tracker) Apply(intent domain.Intent) (State, error) {
	node, ok := t.tree.Node(intent.NodeID)
	if !ok {
		return Collapsed, fmt.Errorf("%w: id %d", ErrUnknownNode, intent.NodeID)
	}
	if intent.Action != domain.ActionToggle {
		return t.State(intent.NodeID), fmt.Errorf("unsupported action %q", intent.Action)
	}
	if !node.Expandable {
		return Collapsed, fmt.Errorf("%w: %q", ErrNotExpandable, node.Record.Path)
	}

	if t.expanded[intent.NodeID] {
		delete(t.expanded, intent.NodeID)
		return Collapsed, nil
	}
	t.expanded[intent.NodeID] = true
	return Expanded, nil
}

func (t *Tracker) State(id int) State {
	if t.expanded[id] {
		return Expanded
	}
	return Collapsed
}

// ExpandPath returns the toggles needed to reveal a node: every collapsed
// ancestor from the root down, then the node itself when it is expandable
func (t *Tracker) ExpandPath(path string) ([]domain.Intent, error) {
	id, ok := t.tree.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, path)
	}

	chain := make([]int, 0)
	for cur := id; cur >= 0; cur = t.tree.Nodes[cur].Parent {
		chain = append([]int{cur}, chain...)
	}

	intents := make([]domain.Intent, 0, len(chain))
	for _, nodeID := range chain {
		if !t.tree.Nodes[nodeID].Expandable || t.State(nodeID) == Expanded {
			continue
		}
		intents = append(intents, domain.Intent{NodeID: nodeID, Action: domain.ActionToggle})
	}
	return intents, nil
}
