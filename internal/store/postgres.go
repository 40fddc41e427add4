package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// notifyChannel carries the name of every collection a committed transaction touched.
const notifyChannel = "roster_document_changes"

// PostgresStore keeps documents in one JSONB table and announces commits with NOTIFY, which
// Postgres delivers only once the writing transaction commits.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: slog.Default().With("component", "store", "backend", "postgres"),
	}
}

func (s *PostgresStore) Collection(name string) Collection {
	return &postgresCollection{store: s, name: name}
}

func (s *PostgresStore) Batch() Batch {
	return &postgresBatch{store: s}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) commit(ctx context.Context, ops []op) error {
	list := opList{ops: ops}
	if err := list.validate(); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, o := range ops {
			switch o.kind {
			case opSet:
				if _, err := tx.Exec(ctx, `
					INSERT INTO documents (collection, id, data, updated_at)
					VALUES ($1, $2, $3, NOW())
					ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
				`, o.collection, o.id, []byte(o.data)); err != nil {
					return fmt.Errorf("set %s/%s: %w", o.collection, o.id, err)
				}
			case opDelete:
				if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, o.collection, o.id); err != nil {
					return fmt.Errorf("delete %s/%s: %w", o.collection, o.id, err)
				}
			}
		}
		for _, name := range list.touched() {
			if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, name); err != nil {
				return fmt.Errorf("notify %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) snapshot(ctx context.Context, q querier, collection string, limit int) ([]Document, error) {
	query := `SELECT id, data FROM documents WHERE collection = $1 ORDER BY id COLLATE "C"`
	args := []any{collection}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		docs = append(docs, Document{ID: id, Data: json.RawMessage(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}
	return docs, nil
}

// querier is satisfied by both the pool and a dedicated listening connection.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type postgresCollection struct {
	store *PostgresStore
	name  string
}

func (c *postgresCollection) Name() string { return c.name }

func (c *postgresCollection) Get(ctx context.Context, id string) (Document, error) {
	var data []byte
	err := c.store.pool.QueryRow(ctx, `SELECT data FROM documents WHERE collection = $1 AND id = $2`, c.name, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", c.name, id, err)
	}
	return Document{ID: id, Data: json.RawMessage(data)}, nil
}

func (c *postgresCollection) List(ctx context.Context, limit int) ([]Document, error) {
	return c.store.snapshot(ctx, c.store.pool, c.name, limit)
}

func (c *postgresCollection) Set(ctx context.Context, id string, data json.RawMessage) error {
	return c.store.commit(ctx, []op{{kind: opSet, collection: c.name, id: id, data: data}})
}

func (c *postgresCollection) Delete(ctx context.Context, id string) error {
	return c.store.commit(ctx, []op{{kind: opDelete, collection: c.name, id: id}})
}

func (c *postgresCollection) Add(ctx context.Context, data json.RawMessage) (string, error) {
	id := uuid.NewString()
	if err := c.Set(ctx, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Subscribe takes a connection out of the pool, LISTENs on it and re-reads the collection on every
// notification naming it. A lost connection is reported to fn once and ends the subscription;
// reconnecting is the caller's decision.
func (c *postgresCollection) Subscribe(ctx context.Context, fn SnapshotFunc) (Subscription, error) {
	pooled, err := c.store.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: acquire connection: %w", c.name, err)
	}
	conn := pooled.Hijack()
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("subscribe %s: listen: %w", c.name, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &postgresSubscription{cancel: cancel}
	go c.watch(subCtx, conn, fn)
	return sub, nil
}

func (c *postgresCollection) watch(ctx context.Context, conn *pgx.Conn, fn SnapshotFunc) {
	logger := c.store.logger.With("collection", c.name)
	defer func() {
		if err := conn.Close(context.Background()); err != nil {
			logger.Debug("closing listen connection", "error", err)
		}
	}()

	deliver := func() {
		docs, err := c.store.snapshot(ctx, conn, c.name, 0)
		if err != nil {
			if ctx.Err() == nil {
				fn(nil, err)
			}
			return
		}
		fn(docs, nil)
	}

	deliver()
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("change subscription lost", "error", err)
			fn(nil, fmt.Errorf("wait for %s changes: %w", c.name, err))
			return
		}
		if n.Payload != c.name {
			continue
		}
		deliver()
	}
}

type postgresSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *postgresSubscription) Stop() {
	s.once.Do(s.cancel)
}

type postgresBatch struct {
	opList
	store *PostgresStore
}

func (b *postgresBatch) Commit(ctx context.Context) error {
	return b.store.commit(ctx, b.ops)
}
