// Package transition runs the two operator-confirmed roster transitions: approving a registration
// request into a member and removing a member. Each is one atomic store batch, and the local view is
// only touched after the batch commits.
package transition

import (
	"context"
	"errors"
	"log/slog"

	"ecoroster/console/internal/auth"
	"ecoroster/console/internal/roster"
	"ecoroster/console/internal/store"
)

type Outcome int

const (
	OutcomeCommitted Outcome = iota + 1
	OutcomeDeclined
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// Hider drops an id from a collection's rendered view until the next authoritative snapshot.
type Hider interface {
	HideOptimistic(collection, id string)
}

// Journal records committed transitions.
type Journal interface {
	RecordApproval(ctx context.Context, requestID string, m roster.Member, by *auth.Identity) error
	RecordRemoval(ctx context.Context, m roster.Member, by *auth.Identity) error
}

// Announcer tells a newly approved member about the approval.
type Announcer interface {
	AnnounceApproval(ctx context.Context, m roster.Member) error
}

type Options struct {
	RequestsCollection string
	MembersCollection  string
	// ConsumeRequest deletes the request in the same batch that writes the member.
	ConsumeRequest bool
	Journal        Journal
	Announcer      Announcer
	Logger         *slog.Logger
}

type Engine struct {
	store  store.Store
	gate   Gate
	view   Hider
	opts   Options
	logger *slog.Logger
}

func New(s store.Store, gate Gate, view Hider, opts Options) *Engine {
	if opts.RequestsCollection == "" {
		opts.RequestsCollection = roster.RequestsCollection
	}
	if opts.MembersCollection == "" {
		opts.MembersCollection = roster.MembersCollection
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  s,
		gate:   gate,
		view:   view,
		opts:   opts,
		logger: logger.With("component", "transition"),
	}
}

// Approve promotes a registration request to a member keyed by the request's subject id. Approving
// the same subject again overwrites the member record.
func (e *Engine) Approve(ctx context.Context, requestID string) (Outcome, error) {
	const op = "approve"
	if requestID == "" {
		return 0, transitionError(KindInvalid, op, requestID, "request id is required", nil)
	}
	if !e.confirm(ctx, op, requestID, ApprovePrompt) {
		return OutcomeDeclined, nil
	}

	doc, err := e.store.Collection(e.opts.RequestsCollection).Get(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, transitionError(KindNotFound, op, requestID, "request not found", err)
	}
	if err != nil {
		return 0, transitionError(KindReadFailure, op, requestID, "read request", err)
	}
	req, err := roster.DecodeRequest(doc)
	if err != nil {
		return 0, transitionError(KindInvalid, op, requestID, "malformed request", err)
	}
	if req.SubjectID == "" {
		return 0, transitionError(KindInvalid, op, requestID, "request has no subject id", nil)
	}

	member := roster.NewMember(req)
	body, err := roster.Encode(member)
	if err != nil {
		return 0, transitionError(KindInvalid, op, requestID, "encode member", err)
	}

	batch := e.store.Batch()
	batch.Set(e.opts.MembersCollection, member.SubjectID, body)
	if e.opts.ConsumeRequest {
		batch.Delete(e.opts.RequestsCollection, requestID)
	}
	if err := batch.Commit(ctx); err != nil {
		e.logger.Error("approve commit failed", "request_id", requestID, "error", err)
		return 0, transitionError(KindCommitFailure, op, requestID, "commit", err)
	}

	e.view.HideOptimistic(e.opts.RequestsCollection, requestID)
	e.logger.Info("request approved", "request_id", requestID, "subject_id", member.SubjectID, "consumed", e.opts.ConsumeRequest)

	by := auth.FromContext(ctx)
	if e.opts.Journal != nil {
		if err := e.opts.Journal.RecordApproval(ctx, requestID, member, by); err != nil {
			e.logger.Warn("journal approval failed", "request_id", requestID, "error", err)
		}
	}
	if e.opts.Announcer != nil {
		if err := e.opts.Announcer.AnnounceApproval(ctx, member); err != nil {
			e.logger.Warn("approval notice failed", "subject_id", member.SubjectID, "error", err)
		}
	}
	return OutcomeCommitted, nil
}

// Remove deletes a member. A member that does not exist is reported as not found and nothing is written.
func (e *Engine) Remove(ctx context.Context, memberID string) (Outcome, error) {
	const op = "remove"
	if memberID == "" {
		return 0, transitionError(KindInvalid, op, memberID, "member id is required", nil)
	}
	if !e.confirm(ctx, op, memberID, RemovePrompt) {
		return OutcomeDeclined, nil
	}

	doc, err := e.store.Collection(e.opts.MembersCollection).Get(ctx, memberID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, transitionError(KindNotFound, op, memberID, "member not found", err)
	}
	if err != nil {
		return 0, transitionError(KindReadFailure, op, memberID, "read member", err)
	}
	member, err := roster.DecodeMember(doc)
	if err != nil {
		// unreadable bodies can still be removed
		member = roster.Member{SubjectID: memberID}
	}

	batch := e.store.Batch()
	batch.Delete(e.opts.MembersCollection, memberID)
	if err := batch.Commit(ctx); err != nil {
		e.logger.Error("remove commit failed", "member_id", memberID, "error", err)
		return 0, transitionError(KindCommitFailure, op, memberID, "commit", err)
	}

	e.view.HideOptimistic(e.opts.MembersCollection, memberID)
	e.logger.Info("member removed", "member_id", memberID)

	if e.opts.Journal != nil {
		if err := e.opts.Journal.RecordRemoval(ctx, member, auth.FromContext(ctx)); err != nil {
			e.logger.Warn("journal removal failed", "member_id", memberID, "error", err)
		}
	}
	return OutcomeCommitted, nil
}

func (e *Engine) confirm(ctx context.Context, op, id, prompt string) bool {
	ok, err := e.gate.Confirm(ctx, prompt)
	if err != nil {
		e.logger.Warn("confirmation failed, treating as declined", "op", op, "id", id, "error", err)
		return false
	}
	if !ok {
		e.logger.Debug("transition declined", "op", op, "id", id)
	}
	return ok
}
