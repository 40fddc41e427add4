package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	url := os.Getenv("ROSTER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ROSTER_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := OpenPostgres(ctx, url)
	require.NoError(t, err)
	require.NoError(t, ApplyMigrations(ctx, pool, Migrations()))

	_, err = pool.Exec(ctx, `DELETE FROM documents WHERE collection LIKE 'it_%'`)
	require.NoError(t, err)

	s := NewPostgresStore(pool)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStoreIntegration(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()

	requests := s.Collection("it_requests")
	members := s.Collection("it_members")

	rid, err := requests.Add(ctx, json.RawMessage(`{"Uid":"u1","name":"Ana"}`))
	require.NoError(t, err)

	_, err = members.Get(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := &recorder{}
	sub, err := members.Subscribe(ctx, rec.fn)
	require.NoError(t, err)
	defer sub.Stop()
	assert.Eventually(t, func() bool { return rec.count() >= 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Empty(t, rec.last())

	b := s.Batch()
	b.Set("it_members", "u1", json.RawMessage(`{"Uid":"u1","userpoints":0}`))
	b.Delete("it_requests", rid)
	require.NoError(t, b.Commit(ctx))

	assert.Eventually(t, func() bool {
		last := rec.last()
		return len(last) == 1 && last[0].ID == "u1"
	}, 5*time.Second, 20*time.Millisecond)

	pending, err := requests.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPostgresListOrderAndLimit(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()

	c := s.Collection("it_order")
	for _, id := range []string{"b", "a", "C", "c"} {
		require.NoError(t, c.Set(ctx, id, json.RawMessage(`{}`)))
	}

	all, err := c.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "a", "b", "c"}, ids(all))

	two, err := c.List(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "a"}, ids(two))
}
