// Package scoringobs decorates a Scorer with logging and tracing.
package scoringobs

import (
	"context"
	"time"

	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/logger"
	"trading-assistant/internal/trace"
	"trading-assistant/internal/types"
)

var _ interfaces.Scorer = (*observed)(nil)

type observed struct {
	inner interfaces.Scorer
	name  string
}

// Wrap returns a Scorer that logs and traces every call to inner. name tags
// the provider in log output.
func Wrap(inner interfaces.Scorer, name string) interfaces.Scorer {
	return &observed{inner: inner, name: name}
}

func (o *observed) Score(ctx context.Context, symbol string, data types.MarketData, params types.LearningParameters) (types.Score, error) {
	ctx, span := trace.StartSpan(ctx, "scorer.Score")
	defer span.End()

	start := time.Now()
	score, err := o.inner.Score(ctx, symbol, data, params)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Scoring failed", err,
			"provider", o.name, "symbol", symbol, "duration", time.Since(start))
		return score, err
	}
	logger.InfoSkip(ctx, 1, "Scoring complete",
		"provider", o.name,
		"symbol", symbol,
		"decision", string(score.Type),
		"confidence", score.Confidence,
		"duration", time.Since(start))
	return score, nil
}
