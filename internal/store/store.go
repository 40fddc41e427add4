// Package store is the document store the console mirrors: named collections of JSON documents with
// one-shot reads, push subscriptions that deliver the full collection on every change, and
// all-or-nothing write batches.
//
// Three backends share the interfaces below: MemoryStore (tests and embedding), RedisStore and
// PostgresStore. Every backend lists documents in ascending id order.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Document is one record of a collection. Data holds the JSON object body without the id.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Clone returns a deep copy so callers can't alias store-owned bytes.
func (d Document) Clone() Document {
	data := make(json.RawMessage, len(d.Data))
	copy(data, d.Data)
	return Document{ID: d.ID, Data: data}
}

// CloneDocuments deep-copies a document slice.
func CloneDocuments(docs []Document) []Document {
	if docs == nil {
		return nil
	}
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}

// SnapshotFunc receives the full, ordered document set of a collection every time it changes.
// A non-nil err reports a subscription fault; docs is nil in that case.
type SnapshotFunc func(docs []Document, err error)

// Subscription is a live change subscription. Stop is idempotent.
type Subscription interface {
	Stop()
}

// Collection is a named set of documents.
type Collection interface {
	Name() string
	Get(ctx context.Context, id string) (Document, error)
	// List returns at most limit documents; limit <= 0 means no bound.
	List(ctx context.Context, limit int) ([]Document, error)
	// Subscribe delivers the current document set once and then again after every change.
	Subscribe(ctx context.Context, fn SnapshotFunc) (Subscription, error)
	Set(ctx context.Context, id string, data json.RawMessage) error
	Delete(ctx context.Context, id string) error
	// Add stores data under a new store-assigned id.
	Add(ctx context.Context, data json.RawMessage) (string, error)
}

// Batch collects writes that are committed all-or-nothing.
type Batch interface {
	Set(collection, id string, data json.RawMessage)
	Delete(collection, id string)
	Commit(ctx context.Context) error
}

// Store is a set of collections plus atomic batches spanning them.
type Store interface {
	Collection(name string) Collection
	Batch() Batch
	Close() error
}

type opKind int

const (
	opSet opKind = iota
	opDelete
)

// op is one queued batch write.
type op struct {
	kind       opKind
	collection string
	id         string
	data       json.RawMessage
}

// opList is the shared Batch bookkeeping the backends embed.
type opList struct {
	ops []op
}

func (l *opList) Set(collection, id string, data json.RawMessage) {
	l.ops = append(l.ops, op{kind: opSet, collection: collection, id: id, data: data})
}

func (l *opList) Delete(collection, id string) {
	l.ops = append(l.ops, op{kind: opDelete, collection: collection, id: id})
}

// touched returns the distinct collections written by the batch, in first-write order.
func (l *opList) touched() []string {
	seen := make(map[string]struct{}, len(l.ops))
	var names []string
	for _, o := range l.ops {
		if _, ok := seen[o.collection]; ok {
			continue
		}
		seen[o.collection] = struct{}{}
		names = append(names, o.collection)
	}
	return names
}

func (l *opList) validate() error {
	for _, o := range l.ops {
		if o.collection == "" || o.id == "" {
			return errors.New("batch write requires collection and id")
		}
		if o.kind == opSet && !json.Valid(o.data) {
			return errors.New("batch write " + o.collection + "/" + o.id + " has invalid JSON")
		}
	}
	return nil
}
