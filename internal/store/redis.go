package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Fault backoff bounds for a subscription that keeps failing.
const (
	minFaultBackoff = 100 * time.Millisecond
	maxFaultBackoff = 5 * time.Second
)

// RedisStore keeps each collection in three keys:
//
//	<prefix>docs:<collection>     hash id -> JSON body
//	<prefix>index:<collection>    sorted set of ids, all scored 0 so they range in id order
//	<prefix>changes:<collection>  pub/sub channel announcing committed writes
//
// Writes and their announcements go through one MULTI/EXEC, so subscribers never hear about a
// write that was not applied.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "roster:",
		logger: slog.Default().With("component", "store", "backend", "redis"),
	}
}

func (s *RedisStore) docsKey(collection string) string    { return s.prefix + "docs:" + collection }
func (s *RedisStore) indexKey(collection string) string   { return s.prefix + "index:" + collection }
func (s *RedisStore) changesKey(collection string) string { return s.prefix + "changes:" + collection }

func (s *RedisStore) Collection(name string) Collection {
	return &redisCollection{store: s, name: name}
}

func (s *RedisStore) Batch() Batch {
	return &redisBatch{store: s}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) commit(ctx context.Context, ops []op) error {
	list := opList{ops: ops}
	if err := list.validate(); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, o := range ops {
			switch o.kind {
			case opSet:
				pipe.HSet(ctx, s.docsKey(o.collection), o.id, []byte(o.data))
				pipe.ZAdd(ctx, s.indexKey(o.collection), redis.Z{Score: 0, Member: o.id})
			case opDelete:
				pipe.HDel(ctx, s.docsKey(o.collection), o.id)
				pipe.ZRem(ctx, s.indexKey(o.collection), o.id)
			}
		}
		for _, name := range list.touched() {
			pipe.Publish(ctx, s.changesKey(name), "changed")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// snapshot reads the ordered index and the bodies in one transaction so both come from the same state.
func (s *RedisStore) snapshot(ctx context.Context, collection string, limit int) ([]Document, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	var (
		idsCmd  *redis.StringSliceCmd
		bodyCmd *redis.MapStringStringCmd
	)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		idsCmd = pipe.ZRange(ctx, s.indexKey(collection), 0, stop)
		bodyCmd = pipe.HGetAll(ctx, s.docsKey(collection))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}

	bodies := bodyCmd.Val()
	ids := idsCmd.Val()
	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		body, ok := bodies[id]
		if !ok {
			// index entry without a body; only possible after manual key edits
			s.logger.Warn("index entry without document", "collection", collection, "id", id)
			continue
		}
		docs = append(docs, Document{ID: id, Data: json.RawMessage(body)})
	}
	return docs, nil
}

type redisCollection struct {
	store *RedisStore
	name  string
}

func (c *redisCollection) Name() string { return c.name }

func (c *redisCollection) Get(ctx context.Context, id string) (Document, error) {
	body, err := c.store.client.HGet(ctx, c.store.docsKey(c.name), id).Result()
	if err == redis.Nil {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get %s/%s: %w", c.name, id, err)
	}
	return Document{ID: id, Data: json.RawMessage(body)}, nil
}

func (c *redisCollection) List(ctx context.Context, limit int) ([]Document, error) {
	return c.store.snapshot(ctx, c.name, limit)
}

func (c *redisCollection) Set(ctx context.Context, id string, data json.RawMessage) error {
	return c.store.commit(ctx, []op{{kind: opSet, collection: c.name, id: id, data: data}})
}

func (c *redisCollection) Delete(ctx context.Context, id string) error {
	return c.store.commit(ctx, []op{{kind: opDelete, collection: c.name, id: id}})
}

func (c *redisCollection) Add(ctx context.Context, data json.RawMessage) (string, error) {
	id := uuid.NewString()
	if err := c.Set(ctx, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Subscribe listens on the collection's change channel and re-reads the full collection for every
// announcement. Reconnects are left to the go-redis PubSub; every failed receive or read is reported
// to fn before the loop backs off and retries.
func (c *redisCollection) Subscribe(ctx context.Context, fn SnapshotFunc) (Subscription, error) {
	ps := c.store.client.Subscribe(ctx, c.store.changesKey(c.name))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", c.name, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{pubsub: ps, cancel: cancel}

	go c.listen(subCtx, ps, fn)
	return sub, nil
}

func (c *redisCollection) listen(ctx context.Context, ps *redis.PubSub, fn SnapshotFunc) {
	logger := c.store.logger.With("collection", c.name)
	backoff := minFaultBackoff

	deliver := func() bool {
		docs, err := c.store.snapshot(ctx, c.name, 0)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			fn(nil, err)
			return false
		}
		fn(docs, nil)
		return true
	}

	// The initial state is delivered only after the channel is live, so no write can fall in between.
	if deliver() {
		backoff = minFaultBackoff
	}

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			logger.Warn("change subscription receive failed", "error", err)
			fn(nil, fmt.Errorf("receive %s changes: %w", c.name, err))
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxFaultBackoff)
			// A reconnect may have skipped announcements; re-read to catch up.
			if deliver() {
				backoff = minFaultBackoff
			}
			continue
		}
		logger.Debug("change announced", "channel", msg.Channel)
		if deliver() {
			backoff = minFaultBackoff
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

// Stop cancels the listener and closes the PubSub connection. It does not wait for an in-flight
// delivery, so it is safe to call from inside a SnapshotFunc.
func (s *redisSubscription) Stop() {
	s.once.Do(func() {
		s.cancel()
		_ = s.pubsub.Close()
	})
}

type redisBatch struct {
	opList
	store *RedisStore
}

func (b *redisBatch) Commit(ctx context.Context) error {
	return b.store.commit(ctx, b.ops)
}
