package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"trading-assistant/internal/types"
)

func gateInput() SafetyInput {
	return SafetyInput{
		Decision: types.Decision{Symbol: "AAPL", Type: types.Buy, Confidence: 0.9},
		Prefs: types.UserPreferences{
			RiskTolerance:      types.Moderate,
			MaxTradeAmount:     decimal.NewFromInt(1000),
			AutoTradingEnabled: true,
		},
		Params:        types.LearningParameters{ConfidenceThreshold: 0.7, RiskAdjustment: 1.0},
		EstimatedCost: decimal.NewFromInt(500),
		LargeMovePct:  20,
	}
}

func posWithMove(costBasis, marketValue int64) *types.Position {
	return &types.Position{
		Symbol:      "AAPL",
		Quantity:    10,
		CostBasis:   decimal.NewFromInt(costBasis),
		MarketValue: decimal.NewFromInt(marketValue),
	}
}

func TestGateRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SafetyInput)
		want   types.Verdict
	}{
		{
			name:   "auto trading disabled wins over everything",
			mutate: func(in *SafetyInput) { in.Prefs.AutoTradingEnabled = false },
			want:   types.NeedsConfirmation,
		},
		{
			name: "auto trading disabled even for low confidence",
			mutate: func(in *SafetyInput) {
				in.Prefs.AutoTradingEnabled = false
				in.Decision.Confidence = 0.1
			},
			want: types.NeedsConfirmation,
		},
		{
			name:   "below threshold rejects",
			mutate: func(in *SafetyInput) { in.Decision.Confidence = 0.65 },
			want:   types.Reject,
		},
		{
			name: "below threshold rejects regardless of cost",
			mutate: func(in *SafetyInput) {
				in.Decision.Confidence = 0.65
				in.EstimatedCost = decimal.NewFromInt(1)
			},
			want: types.Reject,
		},
		{
			name:   "confidence exactly at threshold passes",
			mutate: func(in *SafetyInput) { in.Decision.Confidence = 0.7 },
			want:   types.AutoExecute,
		},
		{
			name:   "cost above max needs confirmation",
			mutate: func(in *SafetyInput) { in.EstimatedCost = decimal.NewFromInt(1001) },
			want:   types.NeedsConfirmation,
		},
		{
			name:   "cost exactly at max passes",
			mutate: func(in *SafetyInput) { in.EstimatedCost = decimal.NewFromInt(1000) },
			want:   types.AutoExecute,
		},
		{
			name: "large realized gain on close needs confirmation",
			mutate: func(in *SafetyInput) {
				in.Decision.Type = types.Sell
				in.Position = posWithMove(1000, 1300) // +30%
			},
			want: types.NeedsConfirmation,
		},
		{
			name: "large realized loss on close needs confirmation",
			mutate: func(in *SafetyInput) {
				in.Decision.Type = types.Sell
				in.Position = posWithMove(1000, 700) // -30%
			},
			want: types.NeedsConfirmation,
		},
		{
			name: "gain exactly at limit passes",
			mutate: func(in *SafetyInput) {
				in.Decision.Type = types.Sell
				in.Position = posWithMove(1000, 1200) // +20%
			},
			want: types.AutoExecute,
		},
		{
			name: "buy ignores position move",
			mutate: func(in *SafetyInput) {
				in.Decision.Type = types.Buy
				in.Position = posWithMove(1000, 1500)
			},
			want: types.AutoExecute,
		},
		{
			name: "sell without position passes rule four",
			mutate: func(in *SafetyInput) {
				in.Decision.Type = types.Sell
				in.Position = nil
			},
			want: types.AutoExecute,
		},
		{
			name: "zero cost basis skips move check",
			mutate: func(in *SafetyInput) {
				in.Decision.Type = types.Sell
				in.Position = posWithMove(0, 500)
			},
			want: types.AutoExecute,
		},
		{
			name:   "all clear auto executes",
			mutate: func(in *SafetyInput) {},
			want:   types.AutoExecute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := gateInput()
			tt.mutate(&in)
			got, reason := EvaluateSafety(in)
			assert.Equal(t, tt.want, got)
			if got == types.AutoExecute {
				assert.Empty(t, reason)
			} else {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestGateIsDeterministic(t *testing.T) {
	in := gateInput()
	in.Decision.Type = types.Sell
	in.Position = posWithMove(1000, 1250)
	v1, r1 := EvaluateSafety(in)
	v2, r2 := EvaluateSafety(in)
	assert.Equal(t, v1, v2)
	assert.Equal(t, r1, r2)
}

func TestGateConfigurableMoveLimit(t *testing.T) {
	in := gateInput()
	in.Decision.Type = types.Sell
	in.Position = posWithMove(1000, 1100) // +10%

	in.LargeMovePct = 5
	v, _ := EvaluateSafety(in)
	assert.Equal(t, types.NeedsConfirmation, v)

	in.LargeMovePct = 20
	v, _ = EvaluateSafety(in)
	assert.Equal(t, types.AutoExecute, v)
}
