// Package mirror keeps a local copy of one store collection. Every snapshot the store pushes
// replaces the copy wholesale; nothing is patched incrementally.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ecoroster/console/internal/store"
)

var ErrAlreadyStarted = errors.New("synchronizer already started")

// Snapshot is one replacement of the local view.
type Snapshot struct {
	Collection string
	Documents  []store.Document
	// Live is false for the bounded first-paint read and true for subscription deliveries.
	Live    bool
	Changes Changes
}

// Changes lists the ids that differ from the previous view.
type Changes struct {
	Added    []string
	Modified []string
	Removed  []string
}

func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// Status describes the health of the mirror.
type Status struct {
	Live bool
	// Stale is set until the first good snapshot and again after any fault, until the next one.
	Stale     bool
	LastError error
	UpdatedAt time.Time
	Count     int
}

type Options struct {
	// OnFault is called for every first-paint or subscription error.
	OnFault func(collection string, err error)
	Logger  *slog.Logger
}

// Synchronizer mirrors a single collection and hands every new view to its sink.
type Synchronizer struct {
	coll    store.Collection
	sink    func(Snapshot)
	onFault func(string, error)
	logger  *slog.Logger

	mu        sync.Mutex
	deliverMu sync.Mutex
	view      []store.Document
	status    Status
	started   bool
	stopped   bool
	sub       store.Subscription
}

func New(coll store.Collection, sink func(Snapshot), opts Options) *Synchronizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = func(Snapshot) {}
	}
	return &Synchronizer{
		coll:    coll,
		sink:    sink,
		onFault: opts.OnFault,
		logger:  logger.With("component", "mirror", "collection", coll.Name()),
		view:    []store.Document{},
		status:  Status{Stale: true},
	}
}

func (s *Synchronizer) Name() string { return s.coll.Name() }

// Start reads up to limit documents for a quick first paint (limit <= 0 reads all), then opens the
// live subscription, which is never bounded. A failed first paint is recorded and does not stop the
// subscription from opening; only a subscription that cannot be opened is returned as an error.
func (s *Synchronizer) Start(ctx context.Context, limit int) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	docs, err := s.coll.List(ctx, limit)
	if err != nil {
		s.fault(fmt.Errorf("first paint: %w", err))
	} else {
		s.apply(docs, false)
	}

	sub, err := s.coll.Subscribe(ctx, s.onSnapshot)
	if err != nil {
		err = fmt.Errorf("subscribe %s: %w", s.coll.Name(), err)
		s.fault(err)
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		sub.Stop()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()
	s.logger.Debug("mirror started", "first_paint_limit", limit)
	return nil
}

// Stop releases the subscription. Deliveries arriving afterwards are dropped.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
}

// View returns a copy of the current local view in store order.
func (s *Synchronizer) View() []store.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.CloneDocuments(s.view)
}

func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Synchronizer) onSnapshot(docs []store.Document, err error) {
	if err != nil {
		s.fault(err)
		return
	}
	s.apply(docs, true)
}

func (s *Synchronizer) apply(docs []store.Document, live bool) {
	docs = s.dedupe(docs)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	changes := diff(s.view, docs)
	s.view = docs
	s.status = Status{Live: live || s.status.Live, UpdatedAt: time.Now(), Count: len(docs)}
	snap := Snapshot{
		Collection: s.coll.Name(),
		Documents:  store.CloneDocuments(docs),
		Live:       live,
		Changes:    changes,
	}
	s.deliverMu.Lock()
	s.mu.Unlock()
	defer s.deliverMu.Unlock()

	s.sink(snap)
}

func (s *Synchronizer) fault(err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.status.Stale = true
	s.status.LastError = err
	s.mu.Unlock()

	s.logger.Error("mirror fault, keeping last known view", "error", err)
	if s.onFault != nil {
		s.onFault(s.coll.Name(), err)
	}
}

// dedupe keeps the first document for every id.
func (s *Synchronizer) dedupe(docs []store.Document) []store.Document {
	seen := make(map[string]struct{}, len(docs))
	out := make([]store.Document, 0, len(docs))
	for _, d := range docs {
		if _, ok := seen[d.ID]; ok {
			s.logger.Warn("duplicate document id in snapshot", "id", d.ID)
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return out
}
