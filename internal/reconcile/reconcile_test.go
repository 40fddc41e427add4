package reconcile

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"ecoroster/console/internal/mirror"
	"ecoroster/console/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(collection string, ids ...string) mirror.Snapshot {
	docs := make([]store.Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, store.Document{ID: id, Data: json.RawMessage(`{}`)})
	}
	return mirror.Snapshot{Collection: collection, Documents: docs, Live: true}
}

func ids(docs []store.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

func TestViewIsSnapshotMinusHidden(t *testing.T) {
	r := New()
	r.Apply(snap("registration_requests", "r1", "r2", "r3"))

	r.HideOptimistic("registration_requests", "r2")
	assert.Equal(t, []string{"r1", "r3"}, ids(r.View("registration_requests")))
	assert.Equal(t, []string{"r2"}, r.Hidden("registration_requests"))
}

func TestSnapshotClearsHides(t *testing.T) {
	r := New()
	r.Apply(snap("registration_requests", "r1", "r2"))
	r.HideOptimistic("registration_requests", "r1")

	// the store still has r1, so it reappears
	r.Apply(snap("registration_requests", "r1", "r2"))
	assert.Equal(t, []string{"r1", "r2"}, ids(r.View("registration_requests")))
	assert.Empty(t, r.Hidden("registration_requests"))
}

func TestHideAfterSnapshotWins(t *testing.T) {
	r := New()
	r.Apply(snap("users", "u1", "u2"))
	r.Apply(snap("users", "u1", "u2"))
	r.HideOptimistic("users", "u1")

	assert.Equal(t, []string{"u2"}, ids(r.View("users")))
}

func TestSnapshotWithoutHiddenIDKeepsItGone(t *testing.T) {
	r := New()
	r.Apply(snap("users", "u1", "u2"))
	r.HideOptimistic("users", "u1")
	r.Apply(snap("users", "u2"))

	assert.Equal(t, []string{"u2"}, ids(r.View("users")))
}

func TestCollectionsAreIndependent(t *testing.T) {
	r := New()
	r.Apply(snap("registration_requests", "r1"))
	r.Apply(snap("users", "u1"))
	r.HideOptimistic("registration_requests", "r1")

	r.Apply(snap("users", "u1", "u2"))
	assert.Empty(t, r.View("registration_requests"))
	assert.Equal(t, []string{"r1"}, r.Hidden("registration_requests"))
}

func TestHideUnknownIDIsHarmless(t *testing.T) {
	r := New()
	r.HideOptimistic("users", "ghost")
	assert.Empty(t, r.View("users"))

	r.Apply(snap("users", "u1"))
	assert.Equal(t, []string{"u1"}, ids(r.View("users")))
}

func TestWatchReceivesUpdatesInOrder(t *testing.T) {
	r := New()
	var got [][]string
	cancel := r.Watch(func(u Update) {
		got = append(got, append([]string{u.Collection}, ids(u.Documents)...))
	})

	r.Apply(snap("users", "u1", "u2"))
	r.HideOptimistic("users", "u1")
	r.Apply(snap("users", "u2"))

	cancel()
	cancel()
	r.Apply(snap("users"))

	assert.Equal(t, [][]string{
		{"users", "u1", "u2"},
		{"users", "u2"},
		{"users", "u2"},
	}, got)
}

func TestWatchOrderUnderConcurrentWriters(t *testing.T) {
	r := New()

	var (
		mu      sync.Mutex
		applied []string
	)
	cancel := r.Watch(func(u Update) {
		mu.Lock()
		defer mu.Unlock()
		if len(u.Documents) == 1 {
			applied = append(applied, u.Documents[0].ID)
		}
	})
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Apply(snap("users", fmt.Sprintf("u%02d", i)))
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, applied, 50)
	// whatever order the writers won in, the last delivered update is the state left behind
	assert.Equal(t, applied[len(applied)-1], r.View("users")[0].ID)
}

func TestViewReturnsCopies(t *testing.T) {
	r := New()
	r.Apply(snap("users", "u1"))

	v := r.View("users")
	v[0].ID = "changed"
	assert.Equal(t, []string{"u1"}, ids(r.View("users")))
}
