package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ecoroster/console/internal/config"
	"ecoroster/console/internal/email"
	"ecoroster/console/internal/export"
	"ecoroster/console/internal/gitrepo"
	"ecoroster/console/internal/search"
	"ecoroster/console/internal/session"
	"ecoroster/console/internal/store"
	"ecoroster/console/internal/transition"
)

// Runtime owns the connections behind a Console built from configuration.
type Runtime struct {
	Console  *Console
	Store    store.Store
	Sessions *session.RedisProvider

	closers []func() error
}

// Close shuts the console down and then every connection, newest first.
func (r *Runtime) Close() error {
	var errs []error
	if r.Console != nil {
		errs = append(errs, r.Console.Close())
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenStore connects the configured document store backend. Postgres migrations are applied first.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.ApplyMigrations(ctx, pool, store.Migrations()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return store.NewPostgresStore(pool), nil
	default:
		s, err := store.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Build connects everything cfg asks for and returns an unopened Console. Optional services
// (journal, search, export, mail) that fail to come up are logged and left out.
func Build(ctx context.Context, cfg config.Config, gate transition.Gate, redirect func(reason string)) (*Runtime, error) {
	logger := slog.Default().With("component", "app")
	rt := &Runtime{}

	docs, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.Store = docs
	rt.closers = append(rt.closers, docs.Close)

	sessions, err := session.NewRedisProvider(cfg.RedisURL, cfg.SessionID, cfg.AdminDomain, cfg.SessionTTL)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open sessions: %w", err)
	}
	rt.Sessions = sessions
	rt.closers = append(rt.closers, sessions.Close)

	deps := Deps{
		Store:    docs,
		Sessions: sessions,
		Gate:     gate,
		Redirect: redirect,
	}

	if cfg.JournalDir != "" {
		journal, err := gitrepo.Open(cfg.JournalDir)
		if err != nil {
			logger.Warn("audit journal disabled", "dir", cfg.JournalDir, "error", err)
		} else {
			deps.Journal = journal
		}
	}

	if cfg.SearchEnabled() {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		deps.Meili = meili
		rt.closers = append(rt.closers, func() error { meili.Close(); return nil })
	}

	if cfg.ExportEnabled() {
		sink, err := export.NewMinioSink(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			logger.Warn("export uploads disabled", "endpoint", cfg.MinioEndpoint, "error", err)
		} else {
			if err := sink.EnsureBucket(ctx); err != nil {
				logger.Warn("export bucket check failed", "error", err)
			}
			deps.Sink = sink
		}
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		deps.Announcer = mailer
	}

	rt.Console = New(cfg, deps)
	return rt, nil
}
