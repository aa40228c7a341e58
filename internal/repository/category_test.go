package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"categorytree/rewriter/internal/domain"
)

type fakeExecer struct {
	queries []string
	args    [][]any
	err     error
}

func (f *fakeExecer) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	f.queries = append(f.queries, sql)
	f.args = append(f.args, arguments)
	return pgconn.CommandTag{}, f.err
}

func TestSaveSnapshot(t *testing.T) {
	db := &fakeExecer{}
	repo := NewCategoryRepository(db)
	records := []domain.CategoryRecord{{Path: "tech", Name: "Tech", Count: "1", Level: 1}}

	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, repo.SaveSnapshot(context.Background(), "https://blog.example/", records))

	require.Len(t, db.queries, 2)
	assert.Contains(t, db.queries[0], "CREATE TABLE IF NOT EXISTS category_snapshots")
	assert.Contains(t, db.queries[1], "ON CONFLICT (page_url)")
	assert.Equal(t, []any{"https://blog.example/", records}, db.args[1])
}

func TestSaveSnapshotError(t *testing.T) {
	repo := NewCategoryRepository(&fakeExecer{err: errors.New("connection refused")})

	err := repo.SaveSnapshot(context.Background(), "https://blog.example/", nil)
	assert.ErrorContains(t, err, "connection refused")
}
