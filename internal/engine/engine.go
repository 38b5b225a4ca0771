// Package engine is the decision-to-execution core: decision generation, the
// safety gate, order execution, and the per-account serialization that keeps
// them race-free.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/logger"
	"trading-assistant/internal/types"
)

// Config carries the engine's tunables.
type Config struct {
	// AccountID is the brokerage account interactive confirmations run
	// against. Scheduled cycles receive theirs from the scheduler.
	AccountID string
	// LargeMovePct is the realized gain/loss confirmation threshold, percent.
	LargeMovePct float64
	// DefaultParams apply until the first learning context is published.
	DefaultParams types.LearningParameters
	Order         OrderDefaults
	// PlaceTimeout bounds an order placement even during shutdown.
	PlaceTimeout time.Duration
}

var _ interfaces.Pipeline = (*Engine)(nil)

// Engine implements interfaces.Pipeline.
type Engine struct {
	store    interfaces.Store
	gateway  interfaces.MarketGateway
	scorer   interfaces.Scorer
	broker   interfaces.Broker
	notifier interfaces.Notifier
	cfg      Config

	locks *lockRegistry
	gen   *generator
	exec  *executor
	now   func() time.Time
}

// New wires the engine from its collaborators.
func New(store interfaces.Store, gateway interfaces.MarketGateway, scorer interfaces.Scorer,
	broker interfaces.Broker, notifier interfaces.Notifier, cfg Config) *Engine {

	if cfg.PlaceTimeout <= 0 {
		cfg.PlaceTimeout = 30 * time.Second
	}
	if cfg.Order.Quantity <= 0 {
		cfg.Order.Quantity = 1
	}
	now := time.Now
	e := &Engine{
		store:    store,
		gateway:  gateway,
		scorer:   scorer,
		broker:   broker,
		notifier: notifier,
		cfg:      cfg,
		locks:    newLockRegistry(),
		now:      now,
	}
	e.gen = &generator{gateway: gateway, scorer: scorer, store: store, now: now, newID: newDecisionID}
	e.exec = &executor{broker: broker, store: store, defaults: cfg.Order, placeTimeout: cfg.PlaceTimeout, now: now}
	return e
}

// activeParams returns the active context's parameters, falling back to the
// configured defaults before any context exists.
func (e *Engine) activeParams(ctx context.Context) (types.LearningParameters, error) {
	lc, err := e.store.ActiveContext(ctx)
	if err != nil {
		return types.LearningParameters{}, err
	}
	if lc == nil {
		return e.cfg.DefaultParams, nil
	}
	return lc.Parameters, nil
}

// RunCycle runs one generate→gate→execute pass over the watchlist. A busy
// account skips the cycle entirely and returns (nil, nil).
func (e *Engine) RunCycle(ctx context.Context, accountID string) ([]types.CycleResult, error) {
	if !e.locks.TryAcquire(accountID) {
		logger.Info(ctx, "Cycle skipped, previous cycle still running", "account", accountID)
		return nil, nil
	}
	defer e.locks.Release(accountID)

	prefs, err := e.store.Preferences(ctx)
	if err != nil {
		return nil, err
	}
	if prefs == nil || len(prefs.Watchlist) == 0 {
		logger.Info(ctx, "Cycle skipped, empty watchlist", "account", accountID)
		return nil, nil
	}
	params, err := e.activeParams(ctx)
	if err != nil {
		return nil, err
	}

	var results []types.CycleResult
	for _, symbol := range prefs.Watchlist {
		if ctx.Err() != nil {
			// Shutdown requested: finish nothing new, report what completed.
			break
		}
		res := e.cycleSymbol(ctx, accountID, symbol, *prefs, params)
		if res != nil {
			results = append(results, *res)
		}
	}
	return results, nil
}

// cycleSymbol runs one symbol through the pipeline. Per-symbol failures are
// logged and skipped, never aborting the cycle.
func (e *Engine) cycleSymbol(ctx context.Context, accountID, symbol string,
	prefs types.UserPreferences, params types.LearningParameters) *types.CycleResult {

	d, err := e.gen.Generate(ctx, symbol, params)
	if err != nil {
		var dua *types.DataUnavailableError
		if errors.As(err, &dua) {
			logger.Warn(ctx, "Symbol skipped", "symbol", symbol, "source", dua.Source, "error", dua.Err)
			return nil
		}
		logger.ErrorWithErr(ctx, "Decision generation failed", err, "symbol", symbol)
		return nil
	}

	if d.Type == types.Hold {
		return &types.CycleResult{Decision: *d, Reason: "hold, no order"}
	}

	cost, err := e.estimateCost(ctx, *d)
	if err != nil {
		logger.Warn(ctx, "Cost estimate unavailable", "symbol", symbol, "error", err)
		return &types.CycleResult{Decision: *d, Reason: "cost estimate unavailable"}
	}
	pos, err := e.store.PositionFor(ctx, symbol)
	if err != nil {
		logger.ErrorWithErr(ctx, "Position lookup failed", err, "symbol", symbol)
		return &types.CycleResult{Decision: *d, Reason: "position lookup failed"}
	}

	gate := func(c decimal.Decimal) (types.Verdict, string) {
		return EvaluateSafety(SafetyInput{
			Decision:      *d,
			Prefs:         prefs,
			Params:        params,
			EstimatedCost: c,
			Position:      pos,
			LargeMovePct:  e.cfg.LargeMovePct,
		})
	}

	verdict, reason := gate(cost)
	switch verdict {
	case types.Reject:
		logger.Safety(ctx, symbol, string(verdict), "decision_id", d.ID, "reason", reason)
		return &types.CycleResult{Decision: *d, Verdict: verdict, Reason: reason}

	case types.NeedsConfirmation:
		logger.Safety(ctx, symbol, string(verdict), "decision_id", d.ID, "reason", reason)
		e.notify(ctx, fmt.Sprintf("Confirmation needed: %s %s (confidence %.2f, est. cost %s). %s",
			d.Type, d.Symbol, d.Confidence, cost.StringFixed(2), d.Rationale))
		return &types.CycleResult{Decision: *d, Verdict: verdict, Reason: reason}

	default: // AUTO_EXECUTE
		outcome, err := e.exec.Execute(ctx, accountID, d, gate)
		if err != nil {
			var def *DeferredError
			if errors.As(err, &def) {
				e.notify(ctx, fmt.Sprintf("Confirmation needed: %s %s deferred before placement. %s",
					d.Type, d.Symbol, def.Reason))
				return &types.CycleResult{Decision: *d, Verdict: def.Verdict, Reason: def.Reason}
			}
			return &types.CycleResult{Decision: *d, Verdict: verdict, Reason: err.Error()}
		}
		e.notify(ctx, fmt.Sprintf("Executed: %s %s, order %s, est. cost %s",
			d.Type, d.Symbol, outcome.OrderID, outcome.EstimatedCost.StringFixed(2)))
		return &types.CycleResult{Decision: *d, Verdict: verdict, Outcome: &outcome}
	}
}

// estimateCost prices the default order from the latest quote. The broker's
// preview refines this before any placement.
func (e *Engine) estimateCost(ctx context.Context, d types.Decision) (decimal.Decimal, error) {
	q, err := e.gateway.GetQuote(ctx, d.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(q.Last).Mul(decimal.NewFromInt(int64(e.cfg.Order.Quantity))), nil
}

// ConfirmExecution executes a decision the user explicitly approved. Blocks
// until the account lock is free so it never overlaps a scheduled cycle.
func (e *Engine) ConfirmExecution(ctx context.Context, decisionID string) (types.OrderOutcome, error) {
	accountID := e.cfg.AccountID
	if err := e.locks.Acquire(ctx, accountID); err != nil {
		return types.OrderOutcome{}, err
	}
	defer e.locks.Release(accountID)

	// Loaded inside the lock so the idempotency guard sees the latest state;
	// the store's conditional update remains the backstop either way.
	d, err := e.store.GetDecision(ctx, decisionID)
	if err != nil {
		return types.OrderOutcome{}, err
	}
	if d.Executed() {
		return types.OrderOutcome{}, types.ErrAlreadyExecuted
	}

	outcome, err := e.exec.Execute(ctx, accountID, d, nil)
	if err != nil {
		return types.OrderOutcome{}, err
	}
	e.notify(ctx, fmt.Sprintf("Executed on confirmation: %s %s, order %s",
		d.Type, d.Symbol, outcome.OrderID))
	return outcome, nil
}

// SubmitFeedback records the user's judgement on a decision, once.
func (e *Engine) SubmitFeedback(ctx context.Context, decisionID string, fb types.Feedback, notes string) error {
	switch fb {
	case types.FeedbackPositive, types.FeedbackNegative, types.FeedbackNeutral:
	default:
		return fmt.Errorf("invalid feedback value %q", fb)
	}
	return e.store.SetFeedback(ctx, decisionID, fb, notes, e.now().UTC())
}

// GetActiveContext returns the active learning context, or a synthetic
// version 0 carrying the default parameters before any optimization ran.
func (e *Engine) GetActiveContext(ctx context.Context) (types.LearningContext, error) {
	lc, err := e.store.ActiveContext(ctx)
	if err != nil {
		return types.LearningContext{}, err
	}
	if lc == nil {
		return types.LearningContext{
			Version:    0,
			Parameters: e.cfg.DefaultParams,
			Active:     true,
		}, nil
	}
	return *lc, nil
}

// SyncPortfolio snapshots broker positions into the store. Serialized on the
// account lock like every other signed-request path.
func (e *Engine) SyncPortfolio(ctx context.Context, accountID string) error {
	if err := e.locks.Acquire(ctx, accountID); err != nil {
		return err
	}
	defer e.locks.Release(accountID)

	positions, err := e.broker.Positions(ctx, accountID)
	if err != nil {
		return err
	}
	if err := e.store.SavePositions(ctx, positions); err != nil {
		return err
	}
	logger.Info(ctx, "Portfolio synced", "account", accountID, "positions", len(positions))
	return nil
}

// notify is fire-and-forget; a dead sink never fails a cycle.
func (e *Engine) notify(ctx context.Context, message string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, message)
}
