// Package sim provides an in-memory broker for dry runs. Orders preview and
// fill instantly against the gateway-supplied quote.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/types"
)

var _ interfaces.Broker = (*Broker)(nil)

// Broker simulates order flow. Previews expire after one placement and
// balances adjust with each fill.
type Broker struct {
	gateway interfaces.MarketGateway
	now     func() time.Time

	mu        sync.Mutex
	seq       int
	cash      decimal.Decimal
	positions map[string]*types.Position
	previews  map[string]types.OrderRequest
	orders    []types.OrderOutcome
}

// New creates a simulated broker with the given starting cash.
func New(gateway interfaces.MarketGateway, startingCash decimal.Decimal) *Broker {
	return &Broker{
		gateway:   gateway,
		now:       time.Now,
		cash:      startingCash,
		positions: make(map[string]*types.Position),
		previews:  make(map[string]types.OrderRequest),
	}
}

func (b *Broker) nextID(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s-%d", prefix, b.seq)
}

// Balance reports simulated cash plus position market value.
func (b *Broker) Balance(ctx context.Context, accountID string) (types.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := b.cash
	for _, p := range b.positions {
		total = total.Add(p.MarketValue)
	}
	return types.Balance{AccountValue: total, Cash: b.cash}, nil
}

// Positions returns the simulated holdings.
func (b *Broker) Positions(ctx context.Context, accountID string) ([]types.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (b *Broker) cost(ctx context.Context, req types.OrderRequest) (decimal.Decimal, error) {
	if req.PriceType == "LIMIT" && req.LimitPrice != nil {
		return req.LimitPrice.Mul(decimal.NewFromInt(int64(req.Quantity))), nil
	}
	q, err := b.gateway.GetQuote(ctx, req.Symbol)
	if err != nil {
		return decimal.Zero, &types.BrokerRejectionError{Operation: "preview", Reason: fmt.Sprintf("no quote for %s", req.Symbol)}
	}
	return decimal.NewFromFloat(q.Last).Mul(decimal.NewFromInt(int64(req.Quantity))), nil
}

// PreviewOrder validates the order and quotes its cost.
func (b *Broker) PreviewOrder(ctx context.Context, accountID string, req types.OrderRequest) (types.OrderPreview, error) {
	if req.Quantity <= 0 {
		return types.OrderPreview{}, &types.BrokerRejectionError{Operation: "preview", Reason: "quantity must be positive"}
	}
	if req.Action != types.Buy && req.Action != types.Sell {
		return types.OrderPreview{}, &types.BrokerRejectionError{Operation: "preview", Reason: fmt.Sprintf("unsupported action %s", req.Action)}
	}
	cost, err := b.cost(ctx, req)
	if err != nil {
		return types.OrderPreview{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if req.Action == types.Buy && cost.GreaterThan(b.cash) {
		return types.OrderPreview{}, &types.BrokerRejectionError{Operation: "preview", Reason: "insufficient funds"}
	}
	if req.Action == types.Sell {
		p := b.positions[req.Symbol]
		if p == nil || p.Quantity < req.Quantity {
			return types.OrderPreview{}, &types.BrokerRejectionError{Operation: "preview", Reason: "insufficient position"}
		}
	}
	id := b.nextID("pv")
	b.previews[id] = req
	return types.OrderPreview{PreviewID: id, EstimatedCost: cost}, nil
}

// PlaceOrder fills the previewed order immediately.
func (b *Broker) PlaceOrder(ctx context.Context, accountID string, req types.OrderRequest, previewID string) (types.OrderOutcome, error) {
	cost, err := b.cost(ctx, req)
	if err != nil {
		return types.OrderOutcome{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.previews[previewID]; !ok {
		return types.OrderOutcome{}, &types.BrokerRejectionError{Operation: "place", Reason: "unknown or expired preview"}
	}
	delete(b.previews, previewID)

	now := b.now().UTC()
	switch req.Action {
	case types.Buy:
		if cost.GreaterThan(b.cash) {
			return types.OrderOutcome{}, &types.BrokerRejectionError{Operation: "place", Reason: "insufficient funds"}
		}
		b.cash = b.cash.Sub(cost)
		p := b.positions[req.Symbol]
		if p == nil {
			p = &types.Position{Symbol: req.Symbol}
			b.positions[req.Symbol] = p
		}
		p.Quantity += req.Quantity
		p.CostBasis = p.CostBasis.Add(cost)
		p.MarketValue = p.MarketValue.Add(cost)
		p.SyncedAt = now
	case types.Sell:
		p := b.positions[req.Symbol]
		if p == nil || p.Quantity < req.Quantity {
			return types.OrderOutcome{}, &types.BrokerRejectionError{Operation: "place", Reason: "insufficient position"}
		}
		b.cash = b.cash.Add(cost)
		frac := decimal.NewFromInt(int64(req.Quantity)).Div(decimal.NewFromInt(int64(p.Quantity)))
		p.CostBasis = p.CostBasis.Sub(p.CostBasis.Mul(frac))
		p.MarketValue = p.MarketValue.Sub(cost)
		p.Quantity -= req.Quantity
		p.SyncedAt = now
		if p.Quantity == 0 {
			delete(b.positions, req.Symbol)
		}
	}

	out := types.OrderOutcome{OrderID: b.nextID("ord"), Status: "EXECUTED", EstimatedCost: cost}
	b.orders = append(b.orders, out)
	return out, nil
}

// ListOrders returns filled simulated orders.
func (b *Broker) ListOrders(ctx context.Context, accountID string, status string) ([]types.OrderOutcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []types.OrderOutcome
	for _, o := range b.orders {
		if status == "" || o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

// CancelOrder is a no-op for already-filled simulated orders.
func (b *Broker) CancelOrder(ctx context.Context, accountID string, orderID string) error {
	return &types.BrokerRejectionError{Operation: "cancel", Reason: "simulated orders fill immediately"}
}
