package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode      string `yaml:"mode"`       // DRY_RUN or LIVE
	AccountID string `yaml:"account_id"` // brokerage accountIdKey

	Schedule struct {
		SyncSeconds    int `yaml:"sync_seconds"`
		ExecuteSeconds int `yaml:"execute_seconds"`
		OptimizeHour   int `yaml:"optimize_hour"` // local hour for nightly optimization
	} `yaml:"schedule"`

	Broker struct {
		Sandbox        bool `yaml:"sandbox"`
		TimeoutSeconds int  `yaml:"timeout_seconds"`
	} `yaml:"broker"`

	Safety struct {
		// Realized gain/loss magnitude (percent of cost basis) above which a
		// closing trade always requires human confirmation.
		LargeMovePct               float64 `yaml:"large_move_pct"`
		DefaultConfidenceThreshold float64 `yaml:"default_confidence_threshold"`
		DefaultRiskAdjustment      float64 `yaml:"default_risk_adjustment"`
	} `yaml:"safety"`

	Order struct {
		DefaultQuantity int    `yaml:"default_quantity"`
		PriceType       string `yaml:"price_type"`
		OrderTerm       string `yaml:"order_term"`
	} `yaml:"order"`

	Scoring struct {
		Provider       string  `yaml:"provider"` // OPENAI or NOOP
		Model          string  `yaml:"model"`
		MaxTokens      int     `yaml:"max_tokens"`
		Temperature    float32 `yaml:"temperature"`
		System         string  `yaml:"system"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		RatePerMinute  float64 `yaml:"rate_per_minute"`
	} `yaml:"scoring"`

	Gateway struct {
		Source string `yaml:"source"` // SIM (live retrieval is an external collaborator)
		Seed   int64  `yaml:"seed"`
	} `yaml:"gateway"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Notify struct {
		Enabled bool   `yaml:"enabled"`
		Channel string `yaml:"channel"`
	} `yaml:"notify"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Mode == "LIVE" && c.AccountID == "" {
		return fmt.Errorf("account_id is required in LIVE mode")
	}
	if c.Safety.LargeMovePct <= 0 || c.Safety.LargeMovePct > 100 {
		return fmt.Errorf("safety.large_move_pct must be between 0-100, got %.2f", c.Safety.LargeMovePct)
	}
	if c.Safety.DefaultConfidenceThreshold < 0 || c.Safety.DefaultConfidenceThreshold > 1 {
		return fmt.Errorf("safety.default_confidence_threshold must be in [0,1], got %.2f", c.Safety.DefaultConfidenceThreshold)
	}
	if c.Schedule.OptimizeHour < 0 || c.Schedule.OptimizeHour > 23 {
		return fmt.Errorf("schedule.optimize_hour must be 0-23, got %d", c.Schedule.OptimizeHour)
	}
	if c.Order.PriceType != "MARKET" && c.Order.PriceType != "LIMIT" {
		return fmt.Errorf("order.price_type must be 'MARKET' or 'LIMIT', got '%s'", c.Order.PriceType)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Schedule.SyncSeconds == 0 {
		c.Schedule.SyncSeconds = 300
	}
	if c.Schedule.ExecuteSeconds == 0 {
		c.Schedule.ExecuteSeconds = 900
	}
	if c.Schedule.OptimizeHour == 0 {
		c.Schedule.OptimizeHour = 2
	}
	if c.Broker.TimeoutSeconds == 0 {
		c.Broker.TimeoutSeconds = 30
	}
	if c.Safety.LargeMovePct == 0 {
		c.Safety.LargeMovePct = 20
	}
	if c.Safety.DefaultConfidenceThreshold == 0 {
		c.Safety.DefaultConfidenceThreshold = 0.7
	}
	if c.Safety.DefaultRiskAdjustment == 0 {
		c.Safety.DefaultRiskAdjustment = 1.0
	}
	if c.Order.DefaultQuantity == 0 {
		c.Order.DefaultQuantity = 1
	}
	if c.Order.PriceType == "" {
		c.Order.PriceType = "MARKET"
	}
	if c.Order.OrderTerm == "" {
		c.Order.OrderTerm = "GOOD_FOR_DAY"
	}
	if c.Scoring.TimeoutSeconds == 0 {
		c.Scoring.TimeoutSeconds = 20
	}
	if c.Scoring.RatePerMinute == 0 {
		c.Scoring.RatePerMinute = 10
	}
	if c.Gateway.Source == "" {
		c.Gateway.Source = "SIM"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/assistant.db"
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
