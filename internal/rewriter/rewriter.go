package rewriter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"categorytree/rewriter/internal/config"
	"categorytree/rewriter/internal/domain"
	"categorytree/rewriter/internal/parser"
	"categorytree/rewriter/internal/render"
	"categorytree/rewriter/internal/state"
	"categorytree/rewriter/internal/tree"
)

// Result describes the outcome of rewriting one page
type Result struct {
	HTML      string       `json:"-"`
	Changed   bool         `json:"changed"`
	Container string       `json:"container,omitempty"` // Selector that located the category list
	Tree      *domain.Tree `json:"tree,omitempty"`
	Expanded  []string     `json:"expanded,omitempty"`
}

// Records returns the categories of the rebuilt tree in document order
func (r *Result) Records() []domain.CategoryRecord {
	if r.Tree == nil {
		return nil
	}
	records := make([]domain.CategoryRecord, 0, len(r.Tree.Nodes))
	for _, n := range r.Tree.Nodes {
		records = append(records, n.Record)
	}
	return records
}

type Rewriter struct {
	parser       *parser.CategoryParser
	treeOptions  tree.Options
	renderOpts   render.Options
	defaultPaths []string
}

func NewRewriter(cfg config.TreeConfig) *Rewriter {
	return &Rewriter{
		parser:       parser.NewCategoryParser(cfg.Selectors, cfg.SidebarSelector, cfg.Marker),
		treeOptions:  tree.Options{Locale: cfg.Locale},
		renderOpts:   render.Options{InjectScript: cfg.InjectScript},
		defaultPaths: cfg.Expand,
	}
}

// Rewrite turns the flat category list of a page into a collapsible tree.
// Pages without a category list are returned unchanged. The nodes named in
// expand, plus the configured ones, are rendered expanded.
func (rw *Rewriter) Rewrite(ctx context.Context, page string, expand ...string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unchanged := &Result{HTML: page}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	container, source := rw.parser.LocateContainer(doc)
	if container.Length() == 0 {
		return unchanged, nil
	}

	records := rw.parser.ExtractRecords(container)
	if len(records) == 0 {
		log.Debugf("Container %s holds no category links, leaving page untouched", source)
		unchanged.Container = source
		return unchanged, nil
	}

	t, err := tree.Build(records, rw.treeOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to build category tree: %w", err)
	}
	if len(t.Orphans) > 0 {
		log.Warnf("⚠️ %d categories have no parent record and are not rendered", len(t.Orphans))
	}

	render.Render(container, t, rw.renderOpts)

	expanded := rw.expand(container, t, append(append([]string{}, rw.defaultPaths...), expand...))

	out, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize HTML: %w", err)
	}

	log.Debugf("Rebuilt %d categories from %s (depth %d)", len(t.Nodes), source, t.Depth())

	return &Result{
		HTML:      out,
		Changed:   true,
		Container: source,
		Tree:      t,
		Expanded:  expanded,
	}, nil
}

// expand toggles every collapsed node on the way to each path
func (rw *Rewriter) expand(container *goquery.Selection, t *domain.Tree, paths []string) []string {
	tracker := state.NewTracker(t)
	expanded := make([]string, 0)

	for _, path := range paths {
		intents, err := tracker.ExpandPath(path)
		if err != nil {
			log.Debugf("Cannot expand %q: %v", path, err)
			continue
		}

		for _, intent := range intents {
			if _, err := tracker.Apply(intent); err != nil {
				if !errors.Is(err, state.ErrNotExpandable) {
					log.Warnf("Failed to toggle %q: %v", path, err)
				}
				continue
			}
			if _, applied := render.ApplyIntent(container, t, intent); !applied {
				// Keep tracker and markup in agreement
				if _, err := tracker.Apply(intent); err != nil {
					log.Debugf("Failed to roll back toggle of %q: %v", path, err)
				}
				continue
			}
			expanded = append(expanded, t.Nodes[intent.NodeID].Record.Path)
		}
	}

	return expanded
}
