package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trading-assistant/internal/types"
)

// SafetyInput is everything the gate reads. position may be nil when the
// account holds no position in the decision's symbol.
type SafetyInput struct {
	Decision      types.Decision
	Prefs         types.UserPreferences
	Params        types.LearningParameters
	EstimatedCost decimal.Decimal
	Position      *types.Position
	// LargeMovePct is the realized gain/loss magnitude, as a percent of cost
	// basis, above which a closing trade always needs a human check.
	LargeMovePct float64
}

// EvaluateSafety rules on a decision. Pure: no I/O, no clock, no randomness.
// Rules apply in order and the first match wins.
func EvaluateSafety(in SafetyInput) (types.Verdict, string) {
	if !in.Prefs.AutoTradingEnabled {
		return types.NeedsConfirmation, "auto-trading disabled"
	}
	if in.Decision.Confidence < in.Params.ConfidenceThreshold {
		return types.Reject, fmt.Sprintf("confidence %.2f below threshold %.2f",
			in.Decision.Confidence, in.Params.ConfidenceThreshold)
	}
	if in.EstimatedCost.GreaterThan(in.Prefs.MaxTradeAmount) {
		return types.NeedsConfirmation, fmt.Sprintf("estimated cost %s exceeds max trade amount %s",
			in.EstimatedCost.StringFixed(2), in.Prefs.MaxTradeAmount.StringFixed(2))
	}
	if pct, large := largeRealizedMove(in.Decision, in.Position, in.LargeMovePct); large {
		return types.NeedsConfirmation, fmt.Sprintf("closing trade realizes %.1f%% move, above %.1f%% limit",
			pct, in.LargeMovePct)
	}
	return types.AutoExecute, ""
}

// largeRealizedMove reports whether the decision closes a position whose
// unrealized gain/loss magnitude strictly exceeds the configured percent of
// cost basis. Only SELL closes a position here; short selling is not
// supported.
func largeRealizedMove(d types.Decision, pos *types.Position, limitPct float64) (float64, bool) {
	if d.Type != types.Sell || pos == nil || pos.Quantity <= 0 {
		return 0, false
	}
	if pos.CostBasis.IsZero() {
		return 0, false
	}
	move := pos.MarketValue.Sub(pos.CostBasis).Div(pos.CostBasis).Mul(decimal.NewFromInt(100))
	pct, _ := move.Abs().Float64()
	return pct, pct > limitPct
}
