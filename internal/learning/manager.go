// Package learning folds user feedback on past decisions into new immutable
// learning context versions.
package learning

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/logger"
	"trading-assistant/internal/types"
)

// Bounds the confidence threshold can drift within regardless of how skewed
// recent feedback is.
const (
	minThreshold = 0.5
	maxThreshold = 0.9

	minRiskAdjustment = 0.5
	maxRiskAdjustment = 1.5
)

var _ interfaces.Optimizer = (*Manager)(nil)

// Manager implements interfaces.Optimizer.
type Manager struct {
	store interfaces.Store
	// Defaults seed version 1 when no context exists yet.
	defaults types.LearningParameters
	newID    func() string
}

// NewManager builds the optimizer over the store.
func NewManager(store interfaces.Store, defaults types.LearningParameters) *Manager {
	return &Manager{store: store, defaults: defaults, newID: newContextID}
}

func newContextID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "lc-" + time.Now().UTC().Format("20060102150405.000000000")
	}
	return "lc-" + hex.EncodeToString(b)
}

// Optimize aggregates feedback recorded since the active context was created
// and publishes version N+1. Every run produces a new version, even with no
// feedback, so the audit trail records that optimization happened.
func (m *Manager) Optimize(ctx context.Context, now time.Time) (*types.LearningContext, error) {
	prev, err := m.store.ActiveContext(ctx)
	if err != nil {
		return nil, err
	}

	var since time.Time
	prevParams := m.defaults
	version := 1
	if prev != nil {
		since = prev.CreatedAt
		prevParams = prev.Parameters
		version = prev.Version + 1
	}

	decisions, err := m.store.DecisionsWithFeedbackSince(ctx, since)
	if err != nil {
		return nil, err
	}

	summary := summarize(decisions)
	metrics := measure(decisions, now)
	params := derive(prevParams, summary)

	next := &types.LearningContext{
		ID:         m.newID(),
		Version:    version,
		Parameters: params,
		Feedback:   summary,
		Metrics:    metrics,
		CreatedAt:  now.UTC(),
	}
	if err := m.store.PublishContext(ctx, next); err != nil {
		return nil, err
	}

	// Publishing must leave exactly one active context; anything else means
	// the pointer table is damaged and scheduled optimization has to stop.
	if err := m.verifyActive(ctx, next.ID); err != nil {
		return nil, err
	}

	logger.Info(ctx, "Learning context published",
		"version", next.Version,
		"confidence_threshold", params.ConfidenceThreshold,
		"risk_adjustment", params.RiskAdjustment,
		"feedback_total", summary.Total,
		"accuracy_rate", summary.AccuracyRate)
	return next, nil
}

func (m *Manager) verifyActive(ctx context.Context, wantID string) error {
	active, err := m.store.ActiveContext(ctx)
	if err != nil {
		return err
	}
	if active == nil {
		return &types.InvariantViolationError{
			Invariant: "single-active-context",
			Detail:    "no active context after publish",
		}
	}
	if active.ID != wantID {
		return &types.InvariantViolationError{
			Invariant: "single-active-context",
			Detail:    fmt.Sprintf("active pointer is %s, expected %s", active.ID, wantID),
		}
	}
	return nil
}

// summarize counts feedback. With no feedback the accuracy rate is 0.5, a
// neutral prior that keeps parameters from drifting.
func summarize(decisions []types.Decision) types.FeedbackSummary {
	s := types.FeedbackSummary{}
	for _, d := range decisions {
		if d.Feedback == nil {
			continue
		}
		s.Total++
		switch *d.Feedback {
		case types.FeedbackPositive:
			s.Positive++
		case types.FeedbackNegative:
			s.Negative++
		default:
			s.Neutral++
		}
	}
	judged := s.Positive + s.Negative
	if judged == 0 {
		s.AccuracyRate = 0.5
	} else {
		s.AccuracyRate = float64(s.Positive) / float64(judged)
	}
	return s
}

func measure(decisions []types.Decision, now time.Time) types.PerformanceMetrics {
	m := types.PerformanceMetrics{
		TotalDecisions: len(decisions),
		LastOptimized:  now.UTC(),
	}
	positives := map[types.DecisionType]int{}
	counts := map[types.DecisionType]int{}
	for _, d := range decisions {
		if d.Executed() {
			m.Executed++
		}
		if d.Feedback == nil || *d.Feedback == types.FeedbackNeutral {
			continue
		}
		counts[d.Type]++
		if *d.Feedback == types.FeedbackPositive {
			positives[d.Type]++
		}
	}
	if len(counts) > 0 {
		m.SuccessByType = make(map[types.DecisionType]float64, len(counts))
		for dt, n := range counts {
			m.SuccessByType[dt] = float64(positives[dt]) / float64(n)
		}
	}
	return m
}

// derive drifts the parameters with feedback accuracy: negative-heavy
// feedback raises the confidence threshold and lowers risk, positive-heavy
// does the opposite. A neutral 0.5 accuracy leaves both unchanged.
func derive(prev types.LearningParameters, s types.FeedbackSummary) types.LearningParameters {
	delta := (0.5 - s.AccuracyRate) * 0.2
	threshold := clamp(prev.ConfidenceThreshold+delta, minThreshold, maxThreshold)

	risk := clamp(1+(s.AccuracyRate-0.5)*0.4, minRiskAdjustment, maxRiskAdjustment)

	return types.LearningParameters{
		ConfidenceThreshold: round4(threshold),
		RiskAdjustment:      round4(risk),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
