package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-assistant/internal/types"
)

// memStore is an in-memory Store with the same conditional-update semantics
// as the SQLite implementation.
type memStore struct {
	mu        sync.Mutex
	decisions map[string]*types.Decision
	contexts  []types.LearningContext
	activeID  string
	prefs     *types.UserPreferences
	positions map[string]types.Position
}

func newMemStore() *memStore {
	return &memStore{
		decisions: make(map[string]*types.Decision),
		positions: make(map[string]types.Position),
	}
}

func (m *memStore) SaveDecision(ctx context.Context, d *types.Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.decisions[d.ID] = &cp
	return nil
}

func (m *memStore) GetDecision(ctx context.Context, id string) (*types.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[id]
	if !ok {
		return nil, types.ErrDecisionNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) RecordOutcome(ctx context.Context, id string, outcome types.OrderOutcome, executedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[id]
	if !ok {
		return types.ErrDecisionNotFound
	}
	if d.ExecutedAt != nil {
		return types.ErrAlreadyExecuted
	}
	at := executedAt
	d.ExecutedAt = &at
	d.OrderID = outcome.OrderID
	d.OrderStatus = outcome.Status
	cost := outcome.EstimatedCost
	d.EstimatedCost = &cost
	d.FailureReason = ""
	return nil
}

func (m *memStore) RecordExecutionFailure(ctx context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[id]
	if !ok {
		return types.ErrDecisionNotFound
	}
	d.FailureReason = reason
	return nil
}

func (m *memStore) SetFeedback(ctx context.Context, id string, fb types.Feedback, notes string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.decisions[id]
	if !ok {
		return types.ErrDecisionNotFound
	}
	if d.Feedback != nil {
		return types.ErrFeedbackRecorded
	}
	d.Feedback = &fb
	d.FeedbackNotes = notes
	t := at
	d.FeedbackAt = &t
	return nil
}

func (m *memStore) DecisionsWithFeedbackSince(ctx context.Context, since time.Time) ([]types.Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Decision
	for _, d := range m.decisions {
		if d.FeedbackAt != nil && !d.FeedbackAt.Before(since) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memStore) ActiveContext(ctx context.Context) (*types.LearningContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.contexts {
		if m.contexts[i].ID == m.activeID {
			cp := m.contexts[i]
			cp.Active = true
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) PublishContext(ctx context.Context, lc *types.LearningContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contexts {
		if c.Version == lc.Version {
			return fmt.Errorf("duplicate version %d", lc.Version)
		}
	}
	m.contexts = append(m.contexts, *lc)
	m.activeID = lc.ID
	lc.Active = true
	return nil
}

func (m *memStore) ListContexts(ctx context.Context) ([]types.LearningContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.LearningContext, len(m.contexts))
	copy(out, m.contexts)
	for i := range out {
		out[i].Active = out[i].ID == m.activeID
	}
	return out, nil
}

func (m *memStore) Preferences(ctx context.Context) (*types.UserPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefs == nil {
		return nil, nil
	}
	cp := *m.prefs
	return &cp, nil
}

func (m *memStore) SavePreferences(ctx context.Context, p *types.UserPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.prefs = &cp
	return nil
}

func (m *memStore) SavePositions(ctx context.Context, positions []types.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]types.Position)
	for _, p := range positions {
		m.positions[p.Symbol] = p
	}
	return nil
}

func (m *memStore) PositionFor(ctx context.Context, symbol string) (*types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) Close() error { return nil }

// stubGateway serves one fixed quote per symbol.
type stubGateway struct {
	price     float64
	failQuote bool
}

func (g *stubGateway) GetQuote(ctx context.Context, symbol string) (types.Quote, error) {
	if g.failQuote {
		return types.Quote{}, &types.DataUnavailableError{Symbol: symbol, Source: "quote", Err: fmt.Errorf("stub outage")}
	}
	return types.Quote{Symbol: symbol, Last: g.price, AsOf: time.Now()}, nil
}

func (g *stubGateway) GetHistorical(ctx context.Context, symbol string, days int) (types.Indicators, error) {
	return types.Indicators{SMA: map[int]float64{20: g.price}, RSI: 55}, nil
}

func (g *stubGateway) GetNews(ctx context.Context, symbol string) (types.NewsSentiment, error) {
	return types.NewsSentiment{Symbol: symbol, Score: 0.2, Summary: "stub", Sources: 1}, nil
}

// stubScorer returns a fixed score or error.
type stubScorer struct {
	score types.Score
	err   error
}

func (s *stubScorer) Score(ctx context.Context, symbol string, data types.MarketData, params types.LearningParameters) (types.Score, error) {
	if s.err != nil {
		return types.Score{}, s.err
	}
	return s.score, nil
}

// stubBroker previews and places at a fixed cost, with optional injected
// rejections and a placement delay for concurrency tests.
type stubBroker struct {
	mu          sync.Mutex
	cost        decimal.Decimal
	previewErr  error
	placeErr    error
	placeDelay  time.Duration
	previewSeq  int
	placedCount int
}

func (b *stubBroker) Balance(ctx context.Context, accountID string) (types.Balance, error) {
	return types.Balance{AccountValue: decimal.NewFromInt(10000), Cash: decimal.NewFromInt(5000)}, nil
}

func (b *stubBroker) Positions(ctx context.Context, accountID string) ([]types.Position, error) {
	return nil, nil
}

func (b *stubBroker) PreviewOrder(ctx context.Context, accountID string, req types.OrderRequest) (types.OrderPreview, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.previewErr != nil {
		return types.OrderPreview{}, b.previewErr
	}
	b.previewSeq++
	return types.OrderPreview{PreviewID: fmt.Sprintf("pv-%d", b.previewSeq), EstimatedCost: b.cost}, nil
}

func (b *stubBroker) PlaceOrder(ctx context.Context, accountID string, req types.OrderRequest, previewID string) (types.OrderOutcome, error) {
	if b.placeDelay > 0 {
		time.Sleep(b.placeDelay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.placeErr != nil {
		return types.OrderOutcome{}, b.placeErr
	}
	b.placedCount++
	return types.OrderOutcome{OrderID: fmt.Sprintf("ord-%d", b.placedCount), Status: "EXECUTED", EstimatedCost: b.cost}, nil
}

func (b *stubBroker) ListOrders(ctx context.Context, accountID string, status string) ([]types.OrderOutcome, error) {
	return nil, nil
}

func (b *stubBroker) CancelOrder(ctx context.Context, accountID string, orderID string) error {
	return nil
}

func (b *stubBroker) placed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.placedCount
}

// stubNotifier collects messages.
type stubNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *stubNotifier) Notify(ctx context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *stubNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	copy(out, n.messages)
	return out
}
