package interfaces

import (
	"context"

	"trading-assistant/internal/types"
)

// MarketGateway supplies quotes, historical indicators, and news sentiment.
// Failures are per-symbol and surface as *types.DataUnavailableError.
type MarketGateway interface {
	GetQuote(ctx context.Context, symbol string) (types.Quote, error)
	GetHistorical(ctx context.Context, symbol string, days int) (types.Indicators, error)
	GetNews(ctx context.Context, symbol string) (types.NewsSentiment, error)
}
