package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Change notifications are delivered synchronously on the
// writer's goroutine, after the write is visible, in commit order.
type MemoryStore struct {
	mu sync.RWMutex
	// deliverMu is taken before mu is released so notifications keep commit order.
	deliverMu   sync.Mutex
	collections map[string]map[string]json.RawMessage
	subs        map[string]map[string]SnapshotFunc
	commitErr   error
	readErr     error
	closed      bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]json.RawMessage),
		subs:        make(map[string]map[string]SnapshotFunc),
	}
}

// FailCommits makes every following write fail with err until called with nil.
func (m *MemoryStore) FailCommits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitErr = err
}

// FailReads makes every following Get and List fail with err until called with nil.
func (m *MemoryStore) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// Fault pushes a subscription error to every subscriber of collection.
func (m *MemoryStore) Fault(collection string, err error) {
	m.mu.RLock()
	fns := m.subscribers(collection)
	m.deliverMu.Lock()
	m.mu.RUnlock()
	defer m.deliverMu.Unlock()

	for _, fn := range fns {
		fn(nil, err)
	}
}

// Seed writes documents without going through a batch. Subscribers are notified.
func (m *MemoryStore) Seed(collection string, docs ...Document) {
	b := m.Batch()
	for _, d := range docs {
		b.Set(collection, d.ID, d.Data)
	}
	if err := b.Commit(context.Background()); err != nil {
		panic(fmt.Sprintf("seed %s: %v", collection, err))
	}
}

func (m *MemoryStore) Collection(name string) Collection {
	return &memoryCollection{store: m, name: name}
}

func (m *MemoryStore) Batch() Batch {
	return &memoryBatch{store: m}
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[string]SnapshotFunc)
	return nil
}

// snapshotLocked returns the ordered documents of a collection. Caller holds mu.
func (m *MemoryStore) snapshotLocked(collection string, limit int) []Document {
	docs := m.collections[collection]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, Document{ID: id, Data: docs[id]}.Clone())
	}
	return out
}

// subscribers copies the callbacks of a collection. Caller holds mu.
func (m *MemoryStore) subscribers(collection string) []SnapshotFunc {
	subs := m.subs[collection]
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fns := make([]SnapshotFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, subs[id])
	}
	return fns
}

func (m *MemoryStore) commit(ops []op) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.commitErr != nil {
		err := m.commitErr
		m.mu.Unlock()
		return err
	}

	list := opList{ops: ops}
	if err := list.validate(); err != nil {
		m.mu.Unlock()
		return err
	}

	for _, o := range ops {
		docs, ok := m.collections[o.collection]
		if !ok {
			docs = make(map[string]json.RawMessage)
			m.collections[o.collection] = docs
		}
		switch o.kind {
		case opSet:
			data := make(json.RawMessage, len(o.data))
			copy(data, o.data)
			docs[o.id] = data
		case opDelete:
			delete(docs, o.id)
		}
	}

	type delivery struct {
		fns  []SnapshotFunc
		docs []Document
	}
	var deliveries []delivery
	for _, name := range list.touched() {
		fns := m.subscribers(name)
		if len(fns) == 0 {
			continue
		}
		deliveries = append(deliveries, delivery{fns: fns, docs: m.snapshotLocked(name, 0)})
	}

	m.deliverMu.Lock()
	m.mu.Unlock()
	defer m.deliverMu.Unlock()

	for _, d := range deliveries {
		for _, fn := range d.fns {
			fn(CloneDocuments(d.docs), nil)
		}
	}
	return nil
}

type memoryCollection struct {
	store *MemoryStore
	name  string
}

func (c *memoryCollection) Name() string { return c.name }

func (c *memoryCollection) Get(ctx context.Context, id string) (Document, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	if c.store.readErr != nil {
		return Document{}, c.store.readErr
	}
	data, ok := c.store.collections[c.name][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Data: data}.Clone(), nil
}

func (c *memoryCollection) List(ctx context.Context, limit int) ([]Document, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	if c.store.readErr != nil {
		return nil, c.store.readErr
	}
	return c.store.snapshotLocked(c.name, limit), nil
}

func (c *memoryCollection) Subscribe(ctx context.Context, fn SnapshotFunc) (Subscription, error) {
	m := c.store
	subID := uuid.NewString()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := m.subs[c.name]; !ok {
		m.subs[c.name] = make(map[string]SnapshotFunc)
	}
	m.subs[c.name][subID] = fn
	initial := m.snapshotLocked(c.name, 0)
	m.deliverMu.Lock()
	m.mu.Unlock()
	fn(initial, nil)
	m.deliverMu.Unlock()

	sub := &memorySubscription{store: m, collection: c.name, id: subID, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			sub.Stop()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (c *memoryCollection) Set(ctx context.Context, id string, data json.RawMessage) error {
	return c.store.commit([]op{{kind: opSet, collection: c.name, id: id, data: data}})
}

func (c *memoryCollection) Delete(ctx context.Context, id string) error {
	return c.store.commit([]op{{kind: opDelete, collection: c.name, id: id}})
}

func (c *memoryCollection) Add(ctx context.Context, data json.RawMessage) (string, error) {
	id := uuid.NewString()
	if err := c.Set(ctx, id, data); err != nil {
		return "", err
	}
	return id, nil
}

type memorySubscription struct {
	store      *MemoryStore
	collection string
	id         string
	once       sync.Once
	done       chan struct{}
}

func (s *memorySubscription) Stop() {
	s.once.Do(func() {
		s.store.mu.Lock()
		if subs, ok := s.store.subs[s.collection]; ok {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(s.store.subs, s.collection)
			}
		}
		s.store.mu.Unlock()
		close(s.done)
	})
}

type memoryBatch struct {
	opList
	store *MemoryStore
}

func (b *memoryBatch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.store.commit(b.ops)
}
