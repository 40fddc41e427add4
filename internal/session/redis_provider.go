package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ecoroster/console/internal/auth"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisProvider stores the signed-in identity of one console session under session:<id> and
// announces every change on session:<id>:changes with the new identity as payload.
type RedisProvider struct {
	client      *redis.Client
	sessionID   string
	ttl         time.Duration
	adminDomain string
	logger      *slog.Logger
}

// NewRedisProvider connects to redisURL and verifies the connection.
func NewRedisProvider(redisURL, sessionID, adminDomain string, ttl time.Duration) (*RedisProvider, error) {
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

	return NewRedisProviderWithClient(client, sessionID, adminDomain, ttl), nil
}

// NewRedisProviderWithClient creates a provider from an existing Redis client.
func NewRedisProviderWithClient(client *redis.Client, sessionID, adminDomain string, ttl time.Duration) *RedisProvider {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisProvider{
		client:      client,
		sessionID:   sessionID,
		ttl:         ttl,
		adminDomain: adminDomain,
		logger:      slog.Default().With("component", "session", "session_id", sessionID),
	}
}

func (p *RedisProvider) key() string     { return "session:" + p.sessionID }
func (p *RedisProvider) channel() string { return p.key() + ":changes" }

func (p *RedisProvider) CurrentIdentity(ctx context.Context) (*auth.Identity, error) {
	raw, err := p.client.Get(ctx, p.key()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	return decodeIdentity(raw)
}

// Login signs email in. Malformed addresses and non-admin accounts are refused without touching the session.
func (p *RedisProvider) Login(ctx context.Context, email, displayName string) (*auth.Identity, error) {
	email = strings.TrimSpace(email)
	if !auth.ValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	id := &auth.Identity{Subject: uuid.NewString(), Email: email, DisplayName: displayName}
	if !auth.IsAdmin(id, p.adminDomain) {
		return nil, ErrNotAdmin
	}

	payload, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("marshal identity: %w", err)
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, p.key(), payload, p.ttl)
		pipe.Publish(ctx, p.channel(), payload)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	p.logger.Info("operator signed in", "email", email)
	return id, nil
}

// Logout ends the session. Logging out of an empty session is not an error.
func (p *RedisProvider) Logout(ctx context.Context) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, p.key())
		pipe.Publish(ctx, p.channel(), "")
		return nil
	})
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	p.logger.Info("operator signed out")
	return nil
}

func (p *RedisProvider) OnIdentityChange(ctx context.Context, fn func(*auth.Identity)) (func(), error) {
	ps := p.client.Subscribe(ctx, p.channel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe session changes: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			msg, err := ps.ReceiveMessage(subCtx)
			if err != nil {
				if subCtx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				p.logger.Warn("session change receive failed", "error", err)
				select {
				case <-subCtx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			id, err := decodeIdentity(msg.Payload)
			if err != nil {
				p.logger.Warn("ignoring malformed session change", "error", err)
				continue
			}
			fn(id)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_ = ps.Close()
		})
	}, nil
}

// Close closes the Redis connection.
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// Ping checks if Redis is reachable.
func (p *RedisProvider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func decodeIdentity(raw string) (*auth.Identity, error) {
	if raw == "" {
		return nil, nil
	}
	var id auth.Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return nil, fmt.Errorf("unmarshal identity: %w", err)
	}
	return &id, nil
}
