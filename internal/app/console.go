// Package app wires the roster console together: a session guard in front of two live collection
// mirrors, a reconciler merging them with optimistic hides, and the transition engine. Every
// operator action comes back as a Notice; nothing here panics or leaks errors into rendering.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ecoroster/console/internal/auth"
	"ecoroster/console/internal/config"
	"ecoroster/console/internal/export"
	"ecoroster/console/internal/gitrepo"
	"ecoroster/console/internal/mirror"
	"ecoroster/console/internal/rbac"
	"ecoroster/console/internal/reconcile"
	"ecoroster/console/internal/roster"
	"ecoroster/console/internal/search"
	"ecoroster/console/internal/session"
	"ecoroster/console/internal/store"
	"ecoroster/console/internal/transition"
)

var (
	ErrAlreadyOpen    = errors.New("console already opened")
	ErrNotOpen        = errors.New("console not opened")
	ErrJournalMissing = errors.New("audit journal not configured")
)

// Deps are the collaborators a Console runs on. Store, Sessions and Gate are required.
type Deps struct {
	Store    store.Store
	Sessions session.Provider
	Gate     transition.Gate
	// Redirect is called with a reason whenever the signed-in identity stops being an admin.
	Redirect  func(reason string)
	Journal   *gitrepo.Journal
	Announcer transition.Announcer
	Meili     *search.Meili
	Sink      export.Sink
	Logger    *slog.Logger
}

// Status is a point-in-time health summary.
type Status struct {
	Authorized bool
	Identity   *auth.Identity
	Requests   mirror.Status
	Members    mirror.Status
}

type Console struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger

	guard      *session.Guard
	reconciler *reconcile.Reconciler
	requests   *mirror.Synchronizer
	members    *mirror.Synchronizer
	engine     *transition.Engine
	search     *search.Service
	export     *export.Service

	mu         sync.Mutex
	activation *session.Activation
	opened     bool
	closed     bool
}

func New(cfg config.Config, deps Deps) *Console {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Console{
		cfg:        cfg,
		deps:       deps,
		logger:     logger.With("component", "console"),
		guard:      session.NewGuard(deps.Sessions, cfg.AdminDomain, deps.Redirect),
		reconciler: reconcile.New(),
	}

	c.search = search.NewService(deps.Meili, c.reconciler.View, cfg.RequestsCollection, cfg.MembersCollection)
	c.export = export.NewService(c.exportView, deps.Sink)

	sink := func(snap mirror.Snapshot) {
		c.reconciler.Apply(snap)
		c.search.Sync(snap)
	}
	mirrorOpts := mirror.Options{
		Logger: logger,
		OnFault: func(collection string, err error) {
			c.logger.Warn("collection out of sync", "collection", collection, "error", err)
		},
	}
	c.requests = mirror.New(deps.Store.Collection(cfg.RequestsCollection), sink, mirrorOpts)
	c.members = mirror.New(deps.Store.Collection(cfg.MembersCollection), sink, mirrorOpts)

	opts := transition.Options{
		RequestsCollection: cfg.RequestsCollection,
		MembersCollection:  cfg.MembersCollection,
		ConsumeRequest:     cfg.ConsumeRequest,
		Announcer:          deps.Announcer,
		Logger:             logger,
	}
	if deps.Journal != nil {
		opts.Journal = deps.Journal
	}
	c.engine = transition.New(deps.Store, deps.Gate, c.reconciler, opts)
	return c
}

// Open activates the session guard and, for an admin, starts mirroring both collections. A
// non-admin gets ErrAuthorizationAbsent after the redirect has fired.
func (c *Console) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.opened = true
	c.mu.Unlock()

	activation := c.guard.Activate(ctx)
	if !activation.Authorized() {
		activation.Release()
		return session.ErrAuthorizationAbsent
	}

	c.mu.Lock()
	c.activation = activation
	c.mu.Unlock()

	if err := c.requests.Start(ctx, c.cfg.FirstPaintLimit); err != nil {
		c.Close()
		return fmt.Errorf("mirror requests: %w", err)
	}
	if err := c.members.Start(ctx, 0); err != nil {
		c.Close()
		return fmt.Errorf("mirror members: %w", err)
	}
	c.logger.Info("console opened", "operator", activation.Identity().Email)
	return nil
}

// Close releases the guard and both subscriptions. It is safe to call more than once.
func (c *Console) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	activation := c.activation
	c.mu.Unlock()

	c.requests.Stop()
	c.members.Stop()
	c.search.Close()
	if activation != nil {
		activation.Release()
	}
	return nil
}

// Approve asks for confirmation and promotes the request to a member.
func (c *Console) Approve(ctx context.Context, requestID string) Notice {
	ctx, err := c.authorize(ctx, rbac.ActionApprove)
	if err != nil {
		return failure(MsgApproveFailed, err)
	}
	outcome, err := c.engine.Approve(ctx, requestID)
	if err != nil {
		c.logger.Warn("approve failed", "request_id", requestID, "error", err)
		return failure(MsgApproveFailed, err)
	}
	if outcome == transition.OutcomeDeclined {
		return Notice{}
	}
	return success(MsgApproved)
}

// Remove asks for confirmation and deletes the member.
func (c *Console) Remove(ctx context.Context, memberID string) Notice {
	ctx, err := c.authorize(ctx, rbac.ActionRemove)
	if err != nil {
		return failure(MsgRemoveFailed, err)
	}
	outcome, err := c.engine.Remove(ctx, memberID)
	if err != nil {
		c.logger.Warn("remove failed", "member_id", memberID, "error", err)
		return failure(MsgRemoveFailed, err)
	}
	if outcome == transition.OutcomeDeclined {
		return Notice{}
	}
	return success(MsgRemoved)
}

func (c *Console) authorize(ctx context.Context, action rbac.Action) (context.Context, error) {
	c.mu.Lock()
	activation := c.activation
	closed := c.closed
	c.mu.Unlock()
	if activation == nil || closed {
		return ctx, session.ErrAuthorizationAbsent
	}
	if err := activation.Check(); err != nil {
		return ctx, err
	}
	id := activation.Identity()
	if !rbac.Can(rbac.RoleOf(id, c.cfg.AdminDomain), action) {
		return ctx, errNotPermitted
	}
	return auth.WithIdentity(ctx, id), nil
}

// Pending returns the rendered registration requests.
func (c *Console) Pending() []roster.Request {
	return roster.Requests(c.reconciler.View(c.cfg.RequestsCollection))
}

// Members returns the rendered member roster.
func (c *Console) Members() []roster.Member {
	return roster.Members(c.reconciler.View(c.cfg.MembersCollection))
}

// Watch calls fn after every change of either rendered view.
func (c *Console) Watch(fn func(reconcile.Update)) (cancel func()) {
	return c.reconciler.Watch(fn)
}

func (c *Console) Search(q search.Query) search.Response {
	return c.search.Search(q)
}

func (c *Console) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return c.export.Export(ctx, req)
}

// History lists the latest journal entries, newest first.
func (c *Console) History(limit int) ([]gitrepo.Entry, error) {
	if c.deps.Journal == nil {
		return nil, ErrJournalMissing
	}
	return c.deps.Journal.History(limit)
}

func (c *Console) Status() Status {
	c.mu.Lock()
	activation := c.activation
	c.mu.Unlock()

	st := Status{
		Requests: c.requests.Status(),
		Members:  c.members.Status(),
	}
	if activation != nil {
		st.Authorized = activation.Authorized()
		st.Identity = activation.Identity()
	}
	return st
}

func (c *Console) exportView(kind export.Kind) []store.Document {
	switch kind {
	case export.KindRequests:
		return c.reconciler.View(c.cfg.RequestsCollection)
	default:
		return c.reconciler.View(c.cfg.MembersCollection)
	}
}
