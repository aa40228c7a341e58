package tree

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"categorytree/rewriter/internal/domain"
)

// Options controls how sibling categories are ordered
type Options struct {
	Locale string // BCP 47 tag used for name comparison, "und" when empty
}

// Build groups records into a tree by path prefix.
// It never touches HTML: rendering happens in a separate adapter.
func Build(records []domain.CategoryRecord, opts Options) (*domain.Tree, error) {
	t := &domain.Tree{
		Nodes: make([]domain.Node, 0, len(records)),
		Roots: make([]int, 0),
		Index: make(map[string]int, len(records)),
	}

	for _, record := range records {
		if existing, ok := t.Index[record.Path]; ok {
			return nil, fmt.Errorf("%w: %q (%s and %s)", domain.ErrDuplicatePath,
				record.Path, t.Nodes[existing].Record.Href, record.Href)
		}
		id := len(t.Nodes)
		t.Index[record.Path] = id
		t.Nodes = append(t.Nodes, domain.Node{ID: id, Record: record, Parent: -1})
	}

	for id := range t.Nodes {
		parentPath := t.Nodes[id].Record.ParentPath()
		if parentPath == "" {
			t.Roots = append(t.Roots, id)
			continue
		}
		parentID, ok := t.Index[parentPath]
		if !ok {
			t.Orphans = append(t.Orphans, id)
			continue
		}
		t.Nodes[id].Parent = parentID
		t.Nodes[parentID].Children = append(t.Nodes[parentID].Children, id)
	}

	markDescendants(t)

	sorter, err := newNameSorter(t, opts.Locale)
	if err != nil {
		return nil, err
	}
	sorter.sort(t.Roots)
	sorter.sort(t.Orphans)
	for id := range t.Nodes {
		sorter.sort(t.Nodes[id].Children)
	}

	return t, nil
}

// markDescendants flags every node that has at least one path below it
func markDescendants(t *domain.Tree) {
	paths := make([]string, 0, len(t.Nodes))
	for _, n := range t.Nodes {
		paths = append(paths, n.Record.Path)
	}
	sort.Strings(paths)

	for id := range t.Nodes {
		prefix := t.Nodes[id].Record.Path + "/"
		i := sort.SearchStrings(paths, prefix)
		if i < len(paths) && strings.HasPrefix(paths[i], prefix) {
			t.Nodes[id].Expandable = true
		}
	}
}

type nameSorter struct {
	tree     *domain.Tree
	collator *collate.Collator
}

func newNameSorter(t *domain.Tree, locale string) (*nameSorter, error) {
	tag := language.Und
	if locale != "" {
		parsed, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
		}
		tag = parsed
	}
	return &nameSorter{tree: t, collator: collate.New(tag)}, nil
}

func (s *nameSorter) sort(ids []int) {
	sort.SliceStable(ids, func(i, j int) bool {
		a := s.tree.Nodes[ids[i]].Record.Name
		b := s.tree.Nodes[ids[j]].Record.Name
		return s.collator.CompareString(a, b) < 0
	})
}
