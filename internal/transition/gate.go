package transition

import "context"

// Prompts shown before a transition runs.
const (
	ApprovePrompt = "Are you sure you want to approve this request?"
	RemovePrompt  = "Are you sure you want to delete this user?"
)

// Gate asks the operator to confirm a transition. Only an explicit true lets it proceed.
type Gate interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

type GateFunc func(ctx context.Context, prompt string) (bool, error)

func (f GateFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// AlwaysConfirm accepts every prompt. It backs non-interactive commands run with --yes.
var AlwaysConfirm Gate = GateFunc(func(context.Context, string) (bool, error) { return true, nil })
