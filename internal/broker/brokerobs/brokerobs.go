// Package brokerobs decorates a Broker with logging and tracing.
package brokerobs

import (
	"context"
	"time"

	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/logger"
	"trading-assistant/internal/trace"
	"trading-assistant/internal/types"
)

var _ interfaces.Broker = (*observed)(nil)

type observed struct {
	inner interfaces.Broker
	name  string
}

// Wrap returns a Broker that logs and traces every call to inner.
func Wrap(inner interfaces.Broker, name string) interfaces.Broker {
	return &observed{inner: inner, name: name}
}

func (o *observed) Balance(ctx context.Context, accountID string) (types.Balance, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Balance")
	defer span.End()
	b, err := o.inner.Balance(ctx, accountID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Balance fetch failed", err, "broker", o.name)
	}
	return b, err
}

func (o *observed) Positions(ctx context.Context, accountID string) ([]types.Position, error) {
	ctx, span := trace.StartSpan(ctx, "broker.Positions")
	defer span.End()
	ps, err := o.inner.Positions(ctx, accountID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Positions fetch failed", err, "broker", o.name)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Positions fetched", "broker", o.name, "count", len(ps))
	return ps, nil
}

func (o *observed) PreviewOrder(ctx context.Context, accountID string, req types.OrderRequest) (types.OrderPreview, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PreviewOrder")
	defer span.End()
	start := time.Now()
	p, err := o.inner.PreviewOrder(ctx, accountID, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Order preview failed", err,
			"broker", o.name, "symbol", req.Symbol, "action", string(req.Action))
		return p, err
	}
	logger.InfoSkip(ctx, 1, "Order previewed",
		"broker", o.name,
		"symbol", req.Symbol,
		"action", string(req.Action),
		"quantity", req.Quantity,
		"estimated_cost", p.EstimatedCost.String(),
		"duration", time.Since(start))
	return p, nil
}

func (o *observed) PlaceOrder(ctx context.Context, accountID string, req types.OrderRequest, previewID string) (types.OrderOutcome, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceOrder")
	defer span.End()
	start := time.Now()
	out, err := o.inner.PlaceOrder(ctx, accountID, req, previewID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Order placement failed", err,
			"broker", o.name, "symbol", req.Symbol, "action", string(req.Action))
		return out, err
	}
	logger.Execution(ctx, req.Symbol, string(req.Action), out.OrderID, out.Status,
		"broker", o.name, "duration", time.Since(start))
	return out, nil
}

func (o *observed) ListOrders(ctx context.Context, accountID string, status string) ([]types.OrderOutcome, error) {
	ctx, span := trace.StartSpan(ctx, "broker.ListOrders")
	defer span.End()
	return o.inner.ListOrders(ctx, accountID, status)
}

func (o *observed) CancelOrder(ctx context.Context, accountID string, orderID string) error {
	ctx, span := trace.StartSpan(ctx, "broker.CancelOrder")
	defer span.End()
	err := o.inner.CancelOrder(ctx, accountID, orderID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Order cancel failed", err, "broker", o.name, "order_id", orderID)
	}
	return err
}
