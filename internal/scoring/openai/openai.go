// Package openai scores market data through an OpenAI-compatible chat
// completions endpoint.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"trading-assistant/internal/api"
	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/logger"
	"trading-assistant/internal/types"
)

var _ interfaces.Scorer = (*Scorer)(nil)

const defaultBaseURL = "https://api.openai.com/v1"

// Config for the scorer.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
	System      string
	Timeout     time.Duration
	RatePerMin  int
}

// Scorer calls the chat completions API and parses a strict JSON verdict.
type Scorer struct {
	client  *api.Client
	limiter *rate.Limiter
	cfg     Config
}

// New builds a scorer. The API key comes from OPENAI_API_KEY; the base URL
// may be overridden with OPENAI_BASE_URL for compatible providers.
func New(cfg Config) (*Scorer, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RatePerMin <= 0 {
		cfg.RatePerMin = 10
	}
	client := api.NewClient(
		api.WithBaseURL(baseURL),
		api.WithTimeout(cfg.Timeout),
		api.WithHeader("Authorization", "Bearer "+key),
		api.WithLogging(logger.IsDebugEnabled()),
	)
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMin)), 1)
	return &Scorer{client: client, limiter: limiter, cfg: cfg}, nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type verdict struct {
	Decision    string   `json:"decision"`
	Confidence  float64  `json:"confidence"`
	Rationale   string   `json:"rationale"`
	PriceTarget *float64 `json:"price_target"`
}

const defaultSystem = `You are a cautious equity trading analyst. Respond with
a single JSON object: {"decision": "BUY"|"SELL"|"HOLD", "confidence": 0..1,
"rationale": "<one sentence>", "price_target": <number or null>}. No prose.`

// Score asks the model for a verdict on one symbol. The rate limiter bounds
// outbound request rate across all symbols of a cycle.
func (s *Scorer) Score(ctx context.Context, symbol string, data types.MarketData, params types.LearningParameters) (types.Score, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return types.Score{}, &types.DataUnavailableError{Symbol: symbol, Source: "scoring", Err: err}
	}

	system := s.cfg.System
	if system == "" {
		system = defaultSystem
	}
	payload, err := json.Marshal(map[string]any{
		"symbol":               symbol,
		"quote":                data.Quote,
		"indicators":           data.Indicators,
		"sentiment":            data.Sentiment,
		"confidence_threshold": params.ConfidenceThreshold,
		"risk_adjustment":      params.RiskAdjustment,
	})
	if err != nil {
		return types.Score{}, fmt.Errorf("marshal market data: %w", err)
	}

	req := chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: string(payload)},
		},
		MaxTokens:      s.cfg.MaxTokens,
		Temperature:    s.cfg.Temperature,
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	resp, err := s.client.POST(ctx, "/chat/completions", req)
	if err != nil {
		return types.Score{}, &types.DataUnavailableError{Symbol: symbol, Source: "scoring", Err: err}
	}
	var cr chatResponse
	if err := resp.ParseJSON(&cr); err != nil {
		return types.Score{}, &types.DataUnavailableError{Symbol: symbol, Source: "scoring", Err: err}
	}
	if len(cr.Choices) == 0 {
		return types.Score{}, &types.DataUnavailableError{Symbol: symbol, Source: "scoring", Err: fmt.Errorf("empty completion")}
	}
	return parseVerdict(symbol, cr.Choices[0].Message.Content)
}

// parseVerdict validates the model output, rejecting anything that cannot be
// coerced into a well-formed score.
func parseVerdict(symbol, content string) (types.Score, error) {
	content = strings.TrimSpace(content)
	// Some models still wrap JSON in code fences despite the response format.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var v verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return types.Score{}, &types.DataUnavailableError{Symbol: symbol, Source: "scoring", Err: fmt.Errorf("malformed verdict: %w", err)}
	}

	var dt types.DecisionType
	switch strings.ToUpper(strings.TrimSpace(v.Decision)) {
	case "BUY":
		dt = types.Buy
	case "SELL":
		dt = types.Sell
	case "HOLD":
		dt = types.Hold
	default:
		return types.Score{}, &types.DataUnavailableError{Symbol: symbol, Source: "scoring", Err: fmt.Errorf("unknown decision %q", v.Decision)}
	}

	score := types.Score{Type: dt, Confidence: v.Confidence, Rationale: strings.TrimSpace(v.Rationale)}
	if v.PriceTarget != nil && *v.PriceTarget > 0 {
		pt := decimal.NewFromFloat(*v.PriceTarget)
		score.PriceTarget = &pt
	}
	return score, nil
}
