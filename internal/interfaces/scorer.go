package interfaces

import (
	"context"

	"trading-assistant/internal/types"
)

// Scorer is the opaque AI collaborator that turns market data plus learning
// parameters into a raw decision score. Non-deterministic and rate-limited.
type Scorer interface {
	Score(ctx context.Context, symbol string, data types.MarketData, params types.LearningParameters) (types.Score, error)
}
