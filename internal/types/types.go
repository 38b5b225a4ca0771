package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// DecisionType is the action a decision recommends.
type DecisionType string

const (
	Buy  DecisionType = "BUY"
	Sell DecisionType = "SELL"
	Hold DecisionType = "HOLD"
)

// Feedback is the user's judgement on a past decision.
type Feedback string

const (
	FeedbackPositive Feedback = "POSITIVE"
	FeedbackNegative Feedback = "NEGATIVE"
	FeedbackNeutral  Feedback = "NEUTRAL"
)

// RiskTolerance levels for user preferences.
type RiskTolerance string

const (
	Conservative RiskTolerance = "CONSERVATIVE"
	Moderate     RiskTolerance = "MODERATE"
	Aggressive   RiskTolerance = "AGGRESSIVE"
)

// Verdict is the safety gate's ruling on a decision.
type Verdict string

const (
	AutoExecute       Verdict = "AUTO_EXECUTE"
	NeedsConfirmation Verdict = "NEEDS_CONFIRMATION"
	Reject            Verdict = "REJECT"
)

// Decision is a single AI-generated trading recommendation for one symbol.
// Created by the generator; ExecutedAt and the outcome fields are set exactly
// once by the order executor, the feedback fields exactly once by the user.
type Decision struct {
	ID            string           `json:"id"`
	Symbol        string           `json:"symbol"`
	Type          DecisionType     `json:"type"`
	Confidence    float64          `json:"confidence"`
	Rationale     string           `json:"rationale"`
	PriceTarget   *decimal.Decimal `json:"price_target,omitempty"`
	AutoEligible  bool             `json:"auto_eligible"`
	CreatedAt     time.Time        `json:"created_at"`
	ExecutedAt    *time.Time       `json:"executed_at,omitempty"`
	OrderID       string           `json:"order_id,omitempty"`
	OrderStatus   string           `json:"order_status,omitempty"`
	EstimatedCost *decimal.Decimal `json:"estimated_cost,omitempty"`
	OutcomeValue  *decimal.Decimal `json:"outcome_value,omitempty"`
	FailureReason string           `json:"failure_reason,omitempty"`
	Feedback      *Feedback        `json:"feedback,omitempty"`
	FeedbackNotes string           `json:"feedback_notes,omitempty"`
	FeedbackAt    *time.Time       `json:"feedback_at,omitempty"`
}

// Executed reports whether the decision is terminal.
func (d *Decision) Executed() bool { return d.ExecutedAt != nil }

// Outcome reconstructs the embedded order outcome of an executed decision.
func (d *Decision) Outcome() *OrderOutcome {
	if !d.Executed() {
		return nil
	}
	out := &OrderOutcome{OrderID: d.OrderID, Status: d.OrderStatus}
	if d.EstimatedCost != nil {
		out.EstimatedCost = *d.EstimatedCost
	}
	return out
}

// OrderOutcome is the ephemeral result of placing an order. It is persisted
// by embedding into the decision row, never as a separate entity.
type OrderOutcome struct {
	OrderID       string          `json:"order_id"`
	Status        string          `json:"status"`
	EstimatedCost decimal.Decimal `json:"estimated_cost"`
}

// LearningParameters are the tunable knobs a learning context carries.
type LearningParameters struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	RiskAdjustment      float64 `json:"risk_adjustment"`
}

// FeedbackSummary aggregates user feedback between two context versions.
type FeedbackSummary struct {
	Total        int     `json:"total"`
	Positive     int     `json:"positive"`
	Negative     int     `json:"negative"`
	Neutral      int     `json:"neutral"`
	AccuracyRate float64 `json:"accuracy_rate"`
}

// PerformanceMetrics captures execution outcomes between two context versions.
type PerformanceMetrics struct {
	TotalDecisions int                      `json:"total_decisions"`
	Executed       int                      `json:"executed"`
	SuccessByType  map[DecisionType]float64 `json:"success_by_type,omitempty"`
	LastOptimized  time.Time                `json:"last_optimized"`
}

// LearningContext is a versioned, immutable bundle of decision parameters.
// Versions are append-only; exactly one is active at any time.
type LearningContext struct {
	ID         string             `json:"id"`
	Version    int                `json:"version"`
	Parameters LearningParameters `json:"parameters"`
	Feedback   FeedbackSummary    `json:"feedback_summary"`
	Metrics    PerformanceMetrics `json:"performance_metrics"`
	CreatedAt  time.Time          `json:"created_at"`
	Active     bool               `json:"is_active"`
}

// UserPreferences is the per-user singleton read by the safety gate.
type UserPreferences struct {
	RiskTolerance      RiskTolerance   `json:"risk_tolerance"`
	MaxTradeAmount     decimal.Decimal `json:"max_trade_amount"`
	AutoTradingEnabled bool            `json:"auto_trading_enabled"`
	Watchlist          []string        `json:"watchlist_symbols"`
}

// Quote is a point-in-time market quote.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"change_pct"`
	Volume    int64     `json:"volume"`
	AsOf      time.Time `json:"as_of"`
}

// Indicators are technical indicators derived from a historical series.
type Indicators struct {
	SMA map[int]float64 `json:"sma"`
	RSI float64         `json:"rsi"`
	BB  struct {
		Middle float64 `json:"middle"`
		Upper  float64 `json:"upper"`
		Lower  float64 `json:"lower"`
	} `json:"bb"`
	ATR float64 `json:"atr"`
}

// NewsSentiment is the aggregated sentiment for a symbol's recent headlines.
type NewsSentiment struct {
	Symbol  string  `json:"symbol"`
	Score   float64 `json:"score"` // [-1, 1]
	Summary string  `json:"summary"`
	Sources int     `json:"sources"`
}

// MarketData bundles everything the scorer sees for one symbol.
type MarketData struct {
	Quote      Quote         `json:"quote"`
	Indicators Indicators    `json:"indicators"`
	Sentiment  NewsSentiment `json:"sentiment"`
}

// Score is the raw output of the AI scoring collaborator.
type Score struct {
	Type        DecisionType     `json:"decision"`
	Confidence  float64          `json:"confidence"`
	Rationale   string           `json:"rationale"`
	PriceTarget *decimal.Decimal `json:"price_target,omitempty"`
}

// Position is a brokerage portfolio position snapshot.
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    int             `json:"quantity"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
	MarketValue decimal.Decimal `json:"market_value"`
	SyncedAt    time.Time       `json:"synced_at"`
}

// Balance is a brokerage account balance snapshot.
type Balance struct {
	AccountValue decimal.Decimal `json:"account_value"`
	Cash         decimal.Decimal `json:"cash"`
}

// OrderRequest describes an equity order to preview or place.
type OrderRequest struct {
	Symbol     string
	Action     DecisionType // BUY or SELL
	Quantity   int
	PriceType  string // MARKET or LIMIT
	OrderTerm  string // GOOD_FOR_DAY, IMMEDIATE_OR_CANCEL, FILL_OR_KILL
	LimitPrice *decimal.Decimal
}

// OrderPreview is the broker's estimate for an order before placement.
type OrderPreview struct {
	PreviewID           string          `json:"preview_id"`
	EstimatedCost       decimal.Decimal `json:"estimated_cost"`
	EstimatedCommission decimal.Decimal `json:"estimated_commission"`
}

// CycleResult is one decision's journey through a single execution cycle.
type CycleResult struct {
	Decision Decision      `json:"decision"`
	Verdict  Verdict       `json:"verdict,omitempty"`
	Outcome  *OrderOutcome `json:"outcome,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}
