// Package noop provides a scorer that always holds, for dry runs with no AI
// provider configured.
package noop

import (
	"context"

	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/types"
)

var _ interfaces.Scorer = (*Scorer)(nil)

type Scorer struct{}

func New() *Scorer { return &Scorer{} }

func (Scorer) Score(ctx context.Context, symbol string, data types.MarketData, params types.LearningParameters) (types.Score, error) {
	return types.Score{
		Type:       types.Hold,
		Confidence: 0,
		Rationale:  "no scoring provider configured",
	}, nil
}
