// Package reconcile merges the authoritative collection snapshots with short-lived optimistic hides,
// so a committed transition disappears from the view before the store echoes it back.
package reconcile

import (
	"log/slog"
	"sort"
	"sync"

	"ecoroster/console/internal/mirror"
	"ecoroster/console/internal/store"
)

// Update is the rendered view of one collection after a state change.
type Update struct {
	Collection string
	Documents  []store.Document
}

// Reconciler holds, per collection, the latest snapshot and the ids hidden since it arrived.
// The rendered view is the snapshot minus the hidden ids. Any new snapshot clears the hides of its
// collection, so the store always has the last word.
type Reconciler struct {
	mu sync.Mutex
	// deliverMu is taken before mu is released so observers see updates in state-change order.
	deliverMu sync.Mutex
	latest    map[string][]store.Document
	hidden    map[string]map[string]struct{}
	observers map[int]func(Update)
	nextID    int
	logger    *slog.Logger
}

func New() *Reconciler {
	return &Reconciler{
		latest:    make(map[string][]store.Document),
		hidden:    make(map[string]map[string]struct{}),
		observers: make(map[int]func(Update)),
		logger:    slog.Default().With("component", "reconcile"),
	}
}

// Apply installs snap as the latest state of its collection and drops that collection's hides.
func (r *Reconciler) Apply(snap mirror.Snapshot) {
	r.mu.Lock()
	if n := len(r.hidden[snap.Collection]); n > 0 {
		r.logger.Debug("snapshot clears optimistic hides", "collection", snap.Collection, "hidden", n)
	}
	r.latest[snap.Collection] = store.CloneDocuments(snap.Documents)
	delete(r.hidden, snap.Collection)
	r.publishLocked(snap.Collection)
}

// HideOptimistic removes id from the collection's view until the next snapshot of that collection.
func (r *Reconciler) HideOptimistic(collection, id string) {
	r.mu.Lock()
	set, ok := r.hidden[collection]
	if !ok {
		set = make(map[string]struct{})
		r.hidden[collection] = set
	}
	set[id] = struct{}{}
	r.publishLocked(collection)
}

// View returns the rendered view of a collection in snapshot order.
func (r *Reconciler) View(collection string) []store.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked(collection)
}

// Hidden returns the ids currently hidden from a collection, sorted.
func (r *Reconciler) Hidden(collection string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.hidden[collection]))
	for id := range r.hidden[collection] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Watch registers fn for every rendered update until cancel is called.
func (r *Reconciler) Watch(fn func(Update)) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.observers[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.observers, id)
			r.mu.Unlock()
		})
	}
}

func (r *Reconciler) viewLocked(collection string) []store.Document {
	docs := r.latest[collection]
	hide := r.hidden[collection]
	out := make([]store.Document, 0, len(docs))
	for _, d := range docs {
		if _, ok := hide[d.ID]; ok {
			continue
		}
		out = append(out, d.Clone())
	}
	return out
}

// publishLocked renders collection and hands it to the observers. It is entered with mu held and
// returns with mu released.
func (r *Reconciler) publishLocked(collection string) {
	update := Update{Collection: collection, Documents: r.viewLocked(collection)}
	ids := make([]int, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Update), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, r.observers[id])
	}

	r.deliverMu.Lock()
	r.mu.Unlock()
	defer r.deliverMu.Unlock()

	for _, fn := range fns {
		fn(Update{Collection: update.Collection, Documents: store.CloneDocuments(update.Documents)})
	}
}
