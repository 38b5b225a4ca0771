package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math"
	"time"

	"trading-assistant/internal/auditlog"
	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/logger"
	"trading-assistant/internal/types"
)

const historicalDays = 90

// generator turns gateway data plus the active learning parameters into a
// persisted decision. The scorer is opaque and non-deterministic; everything
// after it (clamping, rounding, eligibility) is deterministic.
type generator struct {
	gateway interfaces.MarketGateway
	scorer  interfaces.Scorer
	store   interfaces.Store
	now     func() time.Time
	newID   func() string
}

func newDecisionID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "dec-" + time.Now().UTC().Format("20060102150405.000000000")
	}
	return "dec-" + hex.EncodeToString(b)
}

// Generate produces and persists one decision for symbol. A gateway or
// scoring failure returns *types.DataUnavailableError and no decision.
func (g *generator) Generate(ctx context.Context, symbol string, params types.LearningParameters) (*types.Decision, error) {
	quote, err := g.gateway.GetQuote(ctx, symbol)
	if err != nil {
		return nil, wrapUnavailable(symbol, "quote", err)
	}
	indicators, err := g.gateway.GetHistorical(ctx, symbol, historicalDays)
	if err != nil {
		return nil, wrapUnavailable(symbol, "historical", err)
	}
	sentiment, err := g.gateway.GetNews(ctx, symbol)
	if err != nil {
		return nil, wrapUnavailable(symbol, "news", err)
	}

	data := types.MarketData{Quote: quote, Indicators: indicators, Sentiment: sentiment}
	score, err := g.scorer.Score(ctx, symbol, data, params)
	if err != nil {
		return nil, wrapUnavailable(symbol, "scoring", err)
	}

	confidence := normalizeConfidence(score.Confidence)
	d := &types.Decision{
		ID:           g.newID(),
		Symbol:       symbol,
		Type:         score.Type,
		Confidence:   confidence,
		Rationale:    score.Rationale,
		PriceTarget:  score.PriceTarget,
		AutoEligible: confidence >= params.ConfidenceThreshold,
		CreatedAt:    g.now().UTC(),
	}
	if err := g.store.SaveDecision(ctx, d); err != nil {
		return nil, err
	}

	if err := auditlog.AppendDecision(auditlog.DecisionEntry{
		DecisionID: d.ID,
		Symbol:     d.Symbol,
		Type:       string(d.Type),
		Confidence: d.Confidence,
		Rationale:  d.Rationale,
		Eligible:   d.AutoEligible,
	}); err != nil {
		logger.Warn(ctx, "Audit log append failed", "error", err)
	}
	logger.Decision(ctx, d.Symbol, string(d.Type), d.Confidence, d.Rationale,
		"decision_id", d.ID, "auto_eligible", d.AutoEligible)
	return d, nil
}

// normalizeConfidence clamps to [0,1] and rounds to four decimal places so
// threshold comparisons are stable across serialization.
func normalizeConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return math.Round(c*10000) / 10000
}

// wrapUnavailable keeps an existing DataUnavailableError intact and wraps
// anything else, so per-symbol skip handling sees one error type.
func wrapUnavailable(symbol, source string, err error) error {
	var dua *types.DataUnavailableError
	if errors.As(err, &dua) {
		return err
	}
	return &types.DataUnavailableError{Symbol: symbol, Source: source, Err: err}
}
