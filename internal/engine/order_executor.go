package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-assistant/internal/auditlog"
	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/logger"
	"trading-assistant/internal/types"
)

// OrderDefaults shape the order built from a decision.
type OrderDefaults struct {
	Quantity  int
	PriceType string
	OrderTerm string
}

// DeferredError reports that the pre-placement re-check downgraded the
// verdict, so the order was not placed. The decision stays pending.
type DeferredError struct {
	Verdict types.Verdict
	Reason  string
}

func (e *DeferredError) Error() string {
	return fmt.Sprintf("placement deferred (%s): %s", e.Verdict, e.Reason)
}

// executor drives preview-then-place for one decision. Callers hold the
// account lock.
type executor struct {
	broker       interfaces.Broker
	store        interfaces.Store
	defaults     OrderDefaults
	placeTimeout time.Duration
	now          func() time.Time
}

func (e *executor) orderRequest(d *types.Decision) types.OrderRequest {
	return types.OrderRequest{
		Symbol:    d.Symbol,
		Action:    d.Type,
		Quantity:  e.defaults.Quantity,
		PriceType: e.defaults.PriceType,
		OrderTerm: e.defaults.OrderTerm,
	}
}

// Execute previews and places the order for an approved decision. recheck,
// when non-nil, re-evaluates the verdict against the preview's estimated cost
// before placement; anything but AUTO_EXECUTE aborts with *DeferredError.
// Interactive confirmation passes nil since the user has already approved.
func (e *executor) Execute(ctx context.Context, accountID string, d *types.Decision,
	recheck func(cost decimal.Decimal) (types.Verdict, string)) (types.OrderOutcome, error) {

	if d.Executed() {
		logger.Error(ctx, "Execution attempted on terminal decision", "decision_id", d.ID)
		return types.OrderOutcome{}, types.ErrAlreadyExecuted
	}
	if d.Type == types.Hold {
		return types.OrderOutcome{}, &types.BrokerRejectionError{Operation: "preview", Reason: "HOLD decisions are not orders"}
	}

	req := e.orderRequest(d)
	preview, err := e.broker.PreviewOrder(ctx, accountID, req)
	if err != nil {
		e.recordFailure(ctx, d, "preview", err)
		return types.OrderOutcome{}, err
	}

	// Price may have moved since the decision was generated, so the verdict
	// is re-derived from the broker's own cost estimate before money moves.
	if recheck != nil {
		if verdict, reason := recheck(preview.EstimatedCost); verdict != types.AutoExecute {
			logger.Safety(ctx, d.Symbol, string(verdict), "decision_id", d.ID, "reason", reason, "stage", "pre-placement")
			return types.OrderOutcome{}, &DeferredError{Verdict: verdict, Reason: reason}
		}
	}

	// A shutdown must not interrupt an in-flight placement; the call detaches
	// from the caller's cancellation but keeps a bounded timeout. No automatic
	// retry: a failed place needs a fresh preview first.
	placeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.placeTimeout)
	defer cancel()
	outcome, err := e.broker.PlaceOrder(placeCtx, accountID, req, preview.PreviewID)
	if err != nil {
		e.recordFailure(ctx, d, "place", err)
		return types.OrderOutcome{}, err
	}

	executedAt := e.now().UTC()
	if err := e.store.RecordOutcome(ctx, d.ID, outcome, executedAt); err != nil {
		// The order is live but the claim lost: a concurrent execution slipped
		// through. Surface loudly; money moved exactly once on the broker side
		// per preview id, but this is a bug to investigate.
		logger.ErrorWithErr(ctx, "Outcome claim failed after placement", err,
			"decision_id", d.ID, "order_id", outcome.OrderID)
		return types.OrderOutcome{}, err
	}
	d.ExecutedAt = &executedAt
	d.OrderID = outcome.OrderID
	d.OrderStatus = outcome.Status
	cost := outcome.EstimatedCost
	d.EstimatedCost = &cost

	if err := auditlog.AppendExecution(auditlog.ExecutionEntry{
		DecisionID: d.ID,
		Symbol:     d.Symbol,
		Type:       string(d.Type),
		OrderID:    outcome.OrderID,
		Status:     outcome.Status,
		Cost:       outcome.EstimatedCost.String(),
	}); err != nil {
		logger.Warn(ctx, "Audit log append failed", "error", err)
	}
	return outcome, nil
}

func (e *executor) recordFailure(ctx context.Context, d *types.Decision, stage string, cause error) {
	reason := cause.Error()
	var rej *types.BrokerRejectionError
	if errors.As(cause, &rej) {
		reason = rej.Reason
	}
	if err := e.store.RecordExecutionFailure(ctx, d.ID, reason); err != nil {
		logger.ErrorWithErr(ctx, "Failed to record execution failure", err, "decision_id", d.ID)
	}
	if err := auditlog.AppendExecution(auditlog.ExecutionEntry{
		DecisionID: d.ID,
		Symbol:     d.Symbol,
		Type:       string(d.Type),
		Status:     "FAILED_" + stage,
		Failure:    reason,
	}); err != nil {
		logger.Warn(ctx, "Audit log append failed", "error", err)
	}
}
