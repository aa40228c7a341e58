package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"categorytree/rewriter/internal/config"
	"categorytree/rewriter/internal/repository"
	"categorytree/rewriter/internal/rewriter"
)

// Summary counts what happened to the matched files
type Summary struct {
	Files     int
	Rewritten int
	Unchanged int
	Failed    int
}

type Runner struct {
	cfg        config.BatchConfig
	rewriter   *rewriter.Rewriter
	repository repository.CategoryRepository
}

func NewRunner(cfg config.BatchConfig, rw *rewriter.Rewriter, repo repository.CategoryRepository) *Runner {
	return &Runner{
		cfg:        cfg,
		rewriter:   rw,
		repository: repo,
	}
}

// Run rewrites every matching file of the input directory into the output
// directory, keeping relative paths. Pages that cannot be rewritten are
// copied as they are.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	files, err := r.matchFiles()
	if err != nil {
		return nil, err
	}

	log.Infof("🔄 Rewriting %d files from %s to %s", len(files), r.cfg.InputDir, r.cfg.OutputDir)

	var rewritten, unchanged, failed atomic.Int32

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.cfg.MaxWorkers))

	for _, rel := range files {
		rel := rel
		g.Go(func() error {
			changed, err := r.processFile(ctx, rel)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed.Add(1)
				log.Errorf("❌ Failed to process %s: %v", rel, err)
				return nil
			}
			if changed {
				rewritten.Add(1)
			} else {
				unchanged.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{
		Files:     len(files),
		Rewritten: int(rewritten.Load()),
		Unchanged: int(unchanged.Load()),
		Failed:    int(failed.Load()),
	}
	log.Infof("✅ Batch finished: %d rewritten, %d unchanged, %d failed",
		summary.Rewritten, summary.Unchanged, summary.Failed)

	return summary, nil
}

func (r *Runner) matchFiles() ([]string, error) {
	fsys := os.DirFS(r.cfg.InputDir)
	seen := make(map[string]bool)
	files := make([]string, 0)

	for _, pattern := range r.cfg.Include {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

func (r *Runner) processFile(ctx context.Context, rel string) (bool, error) {
	src := filepath.Join(r.cfg.InputDir, filepath.FromSlash(rel))
	dst := filepath.Join(r.cfg.OutputDir, filepath.FromSlash(rel))

	data, err := os.ReadFile(src)
	if err != nil {
		return false, fmt.Errorf("failed to read file: %w", err)
	}

	out := string(data)
	changed := false

	result, err := r.rewriter.Rewrite(ctx, out)
	switch {
	case err != nil && ctx.Err() != nil:
		return false, ctx.Err()
	case err != nil:
		log.Warnf("⚠️ Leaving %s untouched: %v", rel, err)
	case result.Changed:
		out = result.HTML
		changed = true
		if err := r.repository.SaveSnapshot(ctx, rel, result.Records()); err != nil {
			log.Warnf("⚠️ Failed to record categories of %s: %v", rel, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(dst, []byte(out), 0o644); err != nil {
		return false, fmt.Errorf("failed to write file: %w", err)
	}

	log.Debugf("Processed %s (changed=%t)", rel, changed)
	return changed, nil
}
