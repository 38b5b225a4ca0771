// Package engineobs decorates the pipeline with logging and tracing.
package engineobs

import (
	"context"
	"time"

	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/logger"
	"trading-assistant/internal/trace"
	"trading-assistant/internal/types"
)

var _ interfaces.Pipeline = (*observed)(nil)

type observed struct {
	inner interfaces.Pipeline
}

// Wrap returns a Pipeline that logs and traces every call to inner.
func Wrap(inner interfaces.Pipeline) interfaces.Pipeline {
	return &observed{inner: inner}
}

func (o *observed) RunCycle(ctx context.Context, accountID string) ([]types.CycleResult, error) {
	ctx, span := trace.StartSpan(ctx, "pipeline.RunCycle")
	defer span.End()

	start := time.Now()
	results, err := o.inner.RunCycle(ctx, accountID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Execution cycle failed", err, "account", accountID)
		return nil, err
	}
	executed := 0
	for _, r := range results {
		if r.Outcome != nil {
			executed++
		}
	}
	logger.InfoSkip(ctx, 1, "Execution cycle complete",
		"account", accountID,
		"decisions", len(results),
		"executed", executed,
		"duration", time.Since(start))
	return results, nil
}

func (o *observed) ConfirmExecution(ctx context.Context, decisionID string) (types.OrderOutcome, error) {
	ctx, span := trace.StartSpan(ctx, "pipeline.ConfirmExecution")
	defer span.End()

	outcome, err := o.inner.ConfirmExecution(ctx, decisionID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Confirmation failed", err, "decision_id", decisionID)
		return outcome, err
	}
	logger.InfoSkip(ctx, 1, "Confirmed execution complete",
		"decision_id", decisionID, "order_id", outcome.OrderID)
	return outcome, nil
}

func (o *observed) SubmitFeedback(ctx context.Context, decisionID string, fb types.Feedback, notes string) error {
	ctx, span := trace.StartSpan(ctx, "pipeline.SubmitFeedback")
	defer span.End()

	if err := o.inner.SubmitFeedback(ctx, decisionID, fb, notes); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Feedback rejected", err, "decision_id", decisionID)
		return err
	}
	logger.InfoSkip(ctx, 1, "Feedback recorded", "decision_id", decisionID, "feedback", string(fb))
	return nil
}

func (o *observed) GetActiveContext(ctx context.Context) (types.LearningContext, error) {
	ctx, span := trace.StartSpan(ctx, "pipeline.GetActiveContext")
	defer span.End()
	return o.inner.GetActiveContext(ctx)
}

func (o *observed) SyncPortfolio(ctx context.Context, accountID string) error {
	ctx, span := trace.StartSpan(ctx, "pipeline.SyncPortfolio")
	defer span.End()

	start := time.Now()
	if err := o.inner.SyncPortfolio(ctx, accountID); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Portfolio sync failed", err, "account", accountID)
		return err
	}
	logger.DebugSkip(ctx, 1, "Portfolio sync complete", "account", accountID, "duration", time.Since(start))
	return nil
}
