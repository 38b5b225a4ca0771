package interfaces

import (
	"context"
	"time"

	"trading-assistant/internal/types"
)

// Pipeline is the decision-to-execution core exposed to the scheduler and
// the (out of scope) web layer.
type Pipeline interface {
	// RunCycle runs one generate→gate→execute pass for the account. At most
	// one cycle runs per account at a time; a busy account skips the cycle
	// and returns (nil, nil).
	RunCycle(ctx context.Context, accountID string) ([]types.CycleResult, error)

	// ConfirmExecution executes a decision previously gated to
	// NEEDS_CONFIRMATION, after explicit user approval.
	ConfirmExecution(ctx context.Context, decisionID string) (types.OrderOutcome, error)

	// SubmitFeedback records the user's judgement on a past decision.
	SubmitFeedback(ctx context.Context, decisionID string, fb types.Feedback, notes string) error

	// GetActiveContext returns the currently active learning context.
	GetActiveContext(ctx context.Context) (types.LearningContext, error)

	// SyncPortfolio refreshes the stored position snapshot from the broker.
	SyncPortfolio(ctx context.Context, accountID string) error
}

// Optimizer folds accumulated feedback into a new learning context version.
type Optimizer interface {
	Optimize(ctx context.Context, now time.Time) (*types.LearningContext, error)
}
