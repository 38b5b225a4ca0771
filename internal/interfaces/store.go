package interfaces

import (
	"context"
	"time"

	"trading-assistant/internal/types"
)

// Store is the persistence layer for decisions, learning contexts, user
// preferences, and position snapshots.
type Store interface {
	// Decisions.
	SaveDecision(ctx context.Context, d *types.Decision) error
	GetDecision(ctx context.Context, id string) (*types.Decision, error)
	// RecordOutcome sets executed_at and the embedded order outcome, but only
	// if executed_at is still null. Returns types.ErrAlreadyExecuted when the
	// decision was already terminal. The conditional update is what makes
	// the executor's idempotency guard race-free.
	RecordOutcome(ctx context.Context, id string, outcome types.OrderOutcome, executedAt time.Time) error
	// RecordExecutionFailure stores the broker's rejection reason and leaves
	// executed_at unset so a later cycle may reconsider the decision.
	RecordExecutionFailure(ctx context.Context, id string, reason string) error
	// SetFeedback records user feedback exactly once per decision.
	SetFeedback(ctx context.Context, id string, fb types.Feedback, notes string, at time.Time) error
	DecisionsWithFeedbackSince(ctx context.Context, since time.Time) ([]types.Decision, error)

	// Learning contexts.
	ActiveContext(ctx context.Context) (*types.LearningContext, error)
	// PublishContext inserts the new version and atomically repoints the
	// active-context pointer to it in the same transaction.
	PublishContext(ctx context.Context, lc *types.LearningContext) error
	ListContexts(ctx context.Context) ([]types.LearningContext, error)

	// User preferences (singleton).
	Preferences(ctx context.Context) (*types.UserPreferences, error)
	SavePreferences(ctx context.Context, p *types.UserPreferences) error

	// Portfolio snapshots.
	SavePositions(ctx context.Context, positions []types.Position) error
	PositionFor(ctx context.Context, symbol string) (*types.Position, error)

	Close() error
}
