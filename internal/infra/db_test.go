package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateUsesEmbeddedFS(t *testing.T) {
	pool, err := pgxpool.New(context.Background(), "postgres://cardgen@127.0.0.1:1/cardgen")
	require.NoError(t, err)
	defer pool.Close()

	var dir string
	orig := gooseUp
	gooseUp = func(ctx context.Context, db *sql.DB, d string) error {
		dir = d
		return nil
	}
	defer func() { gooseUp = orig }()

	require.NoError(t, Migrate(context.Background(), pool))
	assert.Equal(t, ".", dir)
}

func TestMigratePropagatesFailure(t *testing.T) {
	pool, err := pgxpool.New(context.Background(), "postgres://cardgen@127.0.0.1:1/cardgen")
	require.NoError(t, err)
	defer pool.Close()

	orig := gooseUp
	gooseUp = func(context.Context, *sql.DB, string) error { return errors.New("boom") }
	defer func() { gooseUp = orig }()

	err = Migrate(context.Background(), pool)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestIsNoRows(t *testing.T) {
	assert.True(t, IsNoRows(pgx.ErrNoRows))
	assert.True(t, IsNoRows(fmt.Errorf("wrapped: %w", sql.ErrNoRows)))
	assert.False(t, IsNoRows(errors.New("other")))
}

type recordingExecutor struct {
	queries []string
}

func (r *recordingExecutor) Exec(_ context.Context, query string, _ ...any) (pgconn.CommandTag, error) {
	r.queries = append(r.queries, query)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (r *recordingExecutor) QueryRow(_ context.Context, query string, _ ...any) pgx.Row {
	r.queries = append(r.queries, query)
	return errorRow{err: pgx.ErrNoRows}
}

func (r *recordingExecutor) Query(_ context.Context, query string, _ ...any) (pgx.Rows, error) {
	r.queries = append(r.queries, query)
	return nil, errors.New("not implemented")
}

func TestSQLRunnerStripsMarker(t *testing.T) {
	exec := &recordingExecutor{}
	runner := NewSQLRunner(exec, zerolog.New(io.Discard))

	_, err := runner.Exec(context.Background(), "--sql 1b4e28ba-2fa1-41d2-883f-0016d3cca427\nupdate t set x = 1;")
	require.NoError(t, err)
	require.Len(t, exec.queries, 1)
	assert.Equal(t, "update t set x = 1;", exec.queries[0])

	err = runner.QueryRow(context.Background(), "--sql 1b4e28ba-2fa1-41d2-883f-0016d3cca427\nselect 1;").Scan()
	assert.True(t, IsNoRows(err))
}

func TestSQLRunnerRejectsUnmarkedQuery(t *testing.T) {
	exec := &recordingExecutor{}
	runner := NewSQLRunner(exec, zerolog.New(io.Discard))

	_, err := runner.Exec(context.Background(), "update t set x = 1;")
	assert.ErrorIs(t, err, ErrMissingMarker)
	assert.Empty(t, exec.queries)

	err = runner.QueryRow(context.Background(), "select 1;").Scan()
	assert.ErrorIs(t, err, ErrMissingMarker)
}
