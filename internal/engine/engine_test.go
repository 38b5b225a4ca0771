package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-assistant/internal/types"
)

func testConfig() Config {
	return Config{
		AccountID:    "acct-1",
		LargeMovePct: 20,
		DefaultParams: types.LearningParameters{
			ConfidenceThreshold: 0.7,
			RiskAdjustment:      1.0,
		},
		Order:        OrderDefaults{Quantity: 1, PriceType: "MARKET", OrderTerm: "GOOD_FOR_DAY"},
		PlaceTimeout: 5 * time.Second,
	}
}

func defaultPrefs() *types.UserPreferences {
	return &types.UserPreferences{
		RiskTolerance:      types.Moderate,
		MaxTradeAmount:     decimal.NewFromInt(1000),
		AutoTradingEnabled: true,
		Watchlist:          []string{"AAPL"},
	}
}

type fixture struct {
	engine   *Engine
	store    *memStore
	gateway  *stubGateway
	scorer   *stubScorer
	broker   *stubBroker
	notifier *stubNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("ASSISTANT_LOG_DIR", t.TempDir())
	f := &fixture{
		store:    newMemStore(),
		gateway:  &stubGateway{price: 100},
		scorer:   &stubScorer{score: types.Score{Type: types.Buy, Confidence: 0.9, Rationale: "stub buy"}},
		broker:   &stubBroker{cost: decimal.NewFromInt(100)},
		notifier: &stubNotifier{},
	}
	require.NoError(t, f.store.SavePreferences(context.Background(), defaultPrefs()))
	f.engine = New(f.store, f.gateway, f.scorer, f.broker, f.notifier, testConfig())
	return f
}

func (f *fixture) onlyDecision(t *testing.T) *types.Decision {
	t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.Len(t, f.store.decisions, 1)
	for _, d := range f.store.decisions {
		cp := *d
		return &cp
	}
	return nil
}

func TestRunCycleAutoExecutes(t *testing.T) {
	f := newFixture(t)

	results, err := f.engine.RunCycle(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.AutoExecute, results[0].Verdict)
	require.NotNil(t, results[0].Outcome)
	assert.Equal(t, "ord-1", results[0].Outcome.OrderID)

	d := f.onlyDecision(t)
	assert.True(t, d.Executed())
	assert.Equal(t, "ord-1", d.OrderID)
	assert.Equal(t, 1, f.broker.placed())
	assert.NotEmpty(t, f.notifier.all())
}

func TestRunCycleHoldProducesNoOrder(t *testing.T) {
	f := newFixture(t)
	f.scorer.score = types.Score{Type: types.Hold, Confidence: 0.8, Rationale: "sideways"}

	results, err := f.engine.RunCycle(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Outcome)
	assert.Equal(t, 0, f.broker.placed())

	// The hold is still persisted for audit.
	d := f.onlyDecision(t)
	assert.Equal(t, types.Hold, d.Type)
	assert.False(t, d.Executed())
}

func TestRunCycleLowConfidenceRecordedButRejected(t *testing.T) {
	f := newFixture(t)
	f.scorer.score = types.Score{Type: types.Buy, Confidence: 0.65, Rationale: "weak signal"}

	results, err := f.engine.RunCycle(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.Reject, results[0].Verdict)
	assert.Equal(t, 0, f.broker.placed())

	d := f.onlyDecision(t)
	assert.False(t, d.AutoEligible)
	assert.False(t, d.Executed())
}

func TestRunCycleNeedsConfirmationNotifies(t *testing.T) {
	f := newFixture(t)
	f.gateway.price = 2000 // cost 2000 > max 1000

	results, err := f.engine.RunCycle(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.NeedsConfirmation, results[0].Verdict)
	assert.Contains(t, results[0].Reason, "max trade amount")
	assert.Equal(t, 0, f.broker.placed())

	msgs := f.notifier.all()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[0], "Confirmation needed")
	assert.Contains(t, msgs[0], "stub buy")
}

func TestRunCycleSkipsUnavailableSymbol(t *testing.T) {
	f := newFixture(t)
	f.gateway.failQuote = true

	results, err := f.engine.RunCycle(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Empty(t, results)
	f.store.mu.Lock()
	assert.Empty(t, f.store.decisions)
	f.store.mu.Unlock()
}

func TestRunCycleSkipsWhenBusy(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.engine.locks.TryAcquire("acct-1"))
	defer f.engine.locks.Release("acct-1")

	results, err := f.engine.RunCycle(context.Background(), "acct-1")
	assert.NoError(t, err)
	assert.Nil(t, results)
	assert.Equal(t, 0, f.broker.placed())
}

func TestBrokerRejectionLeavesDecisionReconsiderable(t *testing.T) {
	f := newFixture(t)
	f.broker.placeErr = &types.BrokerRejectionError{Operation: "place", Reason: "market closed"}

	results, err := f.engine.RunCycle(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Outcome)

	d := f.onlyDecision(t)
	assert.False(t, d.Executed())
	assert.Equal(t, "market closed", d.FailureReason)
}

func TestPrePlacementRecheckDefersOnPriceMove(t *testing.T) {
	f := newFixture(t)
	// Quote-based estimate passes the gate but the broker's preview comes in
	// above the max trade amount.
	f.gateway.price = 900
	f.broker.cost = decimal.NewFromInt(1500)

	results, err := f.engine.RunCycle(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.NeedsConfirmation, results[0].Verdict)
	assert.Equal(t, 0, f.broker.placed())

	d := f.onlyDecision(t)
	assert.False(t, d.Executed())
}

func TestConcurrentExecutionExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.broker.placeDelay = 10 * time.Millisecond
	ctx := context.Background()

	d := &types.Decision{
		ID: "d-1", Symbol: "AAPL", Type: types.Buy, Confidence: 0.9,
		AutoEligible: true, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveDecision(ctx, d))

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.ConfirmExecution(ctx, "d-1")
		}(i)
	}
	wg.Wait()

	success := 0
	for _, err := range errs {
		if err == nil {
			success++
		} else {
			assert.ErrorIs(t, err, types.ErrAlreadyExecuted)
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, f.broker.placed())
}

func TestConfirmExecutionUnknownDecision(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ConfirmExecution(context.Background(), "ghost")
	assert.ErrorIs(t, err, types.ErrDecisionNotFound)
}

func TestSubmitFeedbackSetOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveDecision(ctx, &types.Decision{ID: "d-1", Symbol: "AAPL", Type: types.Buy}))

	require.NoError(t, f.engine.SubmitFeedback(ctx, "d-1", types.FeedbackPositive, "nice"))
	assert.ErrorIs(t, f.engine.SubmitFeedback(ctx, "d-1", types.FeedbackNegative, ""), types.ErrFeedbackRecorded)
	assert.Error(t, f.engine.SubmitFeedback(ctx, "d-1", types.Feedback("MAYBE"), ""))
}

func TestGetActiveContextDefaultsBeforeFirstOptimize(t *testing.T) {
	f := newFixture(t)
	lc, err := f.engine.GetActiveContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, lc.Version)
	assert.InDelta(t, 0.7, lc.Parameters.ConfidenceThreshold, 1e-9)
	assert.True(t, lc.Active)
}

func TestSyncPortfolioSnapshotsPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.SyncPortfolio(ctx, "acct-1"))

	p, err := f.store.PositionFor(ctx, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, p) // stub broker holds nothing
}
