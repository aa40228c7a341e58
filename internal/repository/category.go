package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"categorytree/rewriter/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS category_snapshots (
	page_url   TEXT PRIMARY KEY,
	categories JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// CategoryRepository keeps the latest category list seen on each page
type CategoryRepository interface {
	EnsureSchema(ctx context.Context) error
	SaveSnapshot(ctx context.Context, pageURL string, records []domain.CategoryRecord) error
}

// DB is satisfied by *pgxpool.Pool
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type categoryRepository struct {
	db DB
}

func NewCategoryRepository(db DB) CategoryRepository {
	return &categoryRepository{
		db: db,
	}
}

func (r *categoryRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create category_snapshots: %w", err)
	}
	return nil
}

func (r *categoryRepository) SaveSnapshot(ctx context.Context, pageURL string, records []domain.CategoryRecord) error {
	query := `
	INSERT INTO category_snapshots (page_url, categories, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (page_url)
	DO UPDATE SET categories = $2, updated_at = now()`
	_, err := r.db.Exec(ctx, query, pageURL, records)
	if err != nil {
		return fmt.Errorf("failed to save category snapshot: %w", err)
	}

	return nil
}

type noopRepository struct{}

// NewNoopRepository returns a repository that discards snapshots
func NewNoopRepository() CategoryRepository {
	return noopRepository{}
}

func (noopRepository) EnsureSchema(ctx context.Context) error { return nil }

func (noopRepository) SaveSnapshot(ctx context.Context, pageURL string, records []domain.CategoryRecord) error {
	return nil
}
