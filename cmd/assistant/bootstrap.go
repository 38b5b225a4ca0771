package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trading-assistant/internal/broker/brokerobs"
	"trading-assistant/internal/broker/etrade"
	brokersim "trading-assistant/internal/broker/sim"
	"trading-assistant/internal/engine"
	"trading-assistant/internal/engine/engineobs"
	"trading-assistant/internal/gateway"
	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/learning"
	"trading-assistant/internal/logger"
	"trading-assistant/internal/notify"
	"trading-assistant/internal/scoring/noop"
	"trading-assistant/internal/scoring/openai"
	"trading-assistant/internal/scoring/scoringobs"
	"trading-assistant/internal/storage/sqlite"
	"trading-assistant/internal/store"
	"trading-assistant/internal/types"
)

// app bundles the wired pipeline.
type app struct {
	Pipeline  interfaces.Pipeline
	Optimizer interfaces.Optimizer
	store     *sqlite.Store
}

func (a *app) Close() {
	_ = a.store.Close()
}

func bootstrap(ctx context.Context, cfg *store.Config) (*app, error) {
	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	if err := seedPreferences(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	gw := gateway.NewSim(cfg.Gateway.Seed)

	brk, err := buildBroker(ctx, cfg, gw)
	if err != nil {
		db.Close()
		return nil, err
	}
	brk = brokerobs.Wrap(brk, brokerName(cfg))

	scorer := buildScorer(cfg)

	var notifier interfaces.Notifier = notify.Noop{}
	if cfg.Notify.Enabled {
		notifier = notify.NewWebhook(cfg.Notify.Channel)
	}

	defaults := types.LearningParameters{
		ConfidenceThreshold: cfg.Safety.DefaultConfidenceThreshold,
		RiskAdjustment:      cfg.Safety.DefaultRiskAdjustment,
	}
	eng := engine.New(db, gw, scorer, brk, notifier, engine.Config{
		AccountID:     cfg.AccountID,
		LargeMovePct:  cfg.Safety.LargeMovePct,
		DefaultParams: defaults,
		Order: engine.OrderDefaults{
			Quantity:  cfg.Order.DefaultQuantity,
			PriceType: cfg.Order.PriceType,
			OrderTerm: cfg.Order.OrderTerm,
		},
		PlaceTimeout: time.Duration(cfg.Broker.TimeoutSeconds) * time.Second,
	})

	return &app{
		Pipeline:  engineobs.Wrap(eng),
		Optimizer: learning.NewManager(db, defaults),
		store:     db,
	}, nil
}

// seedPreferences writes a conservative default singleton on first run so a
// fresh database produces no surprise orders.
func seedPreferences(ctx context.Context, db *sqlite.Store) error {
	p, err := db.Preferences(ctx)
	if err != nil {
		return err
	}
	if p != nil {
		return nil
	}
	return db.SavePreferences(ctx, &types.UserPreferences{
		RiskTolerance:      types.Conservative,
		MaxTradeAmount:     decimal.NewFromInt(1000),
		AutoTradingEnabled: false,
		Watchlist:          []string{"AAPL", "MSFT", "GOOG"},
	})
}

func brokerName(cfg *store.Config) string {
	if cfg.Mode == "LIVE" {
		if cfg.Broker.Sandbox {
			return "etrade-sandbox"
		}
		return "etrade"
	}
	return "sim"
}

func buildBroker(ctx context.Context, cfg *store.Config, gw interfaces.MarketGateway) (interfaces.Broker, error) {
	if cfg.Mode != "LIVE" {
		return brokersim.New(gw, decimal.NewFromInt(100_000)), nil
	}

	key := os.Getenv("ETRADE_CONSUMER_KEY")
	secret := os.Getenv("ETRADE_CONSUMER_SECRET")
	if key == "" || secret == "" {
		return nil, fmt.Errorf("LIVE mode needs ETRADE_CONSUMER_KEY and ETRADE_CONSUMER_SECRET")
	}

	endpoints := etrade.ProductionEndpoints()
	if cfg.Broker.Sandbox {
		endpoints = etrade.SandboxEndpoints()
	}
	httpClient := &http.Client{Timeout: time.Duration(cfg.Broker.TimeoutSeconds) * time.Second}
	session := etrade.NewSession(key, secret, endpoints, etrade.WithHTTPClient(httpClient))

	if err := authorizeInteractively(ctx, session); err != nil {
		return nil, err
	}
	return etrade.NewClient(session, endpoints, httpClient), nil
}

// authorizeInteractively walks the operator through the three-legged OAuth
// flow on stdin/stdout.
func authorizeInteractively(ctx context.Context, session *etrade.Session) error {
	authURL, err := session.Initiate(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Authorize this application in your browser:")
	fmt.Println("  " + authURL)
	fmt.Print("Verification code: ")

	reader := bufio.NewReader(os.Stdin)
	code, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read verification code: %w", err)
	}
	if err := session.Complete(ctx, strings.TrimSpace(code)); err != nil {
		return err
	}
	logger.Info(ctx, "Broker session authenticated")
	return nil
}

func buildScorer(cfg *store.Config) interfaces.Scorer {
	if cfg.Scoring.Provider == "OPENAI" {
		s, err := openai.New(openai.Config{
			Model:       cfg.Scoring.Model,
			MaxTokens:   cfg.Scoring.MaxTokens,
			Temperature: float64(cfg.Scoring.Temperature),
			System:      cfg.Scoring.System,
			Timeout:     time.Duration(cfg.Scoring.TimeoutSeconds) * time.Second,
			RatePerMin:  int(cfg.Scoring.RatePerMinute),
		})
		if err == nil {
			return scoringobs.Wrap(s, "openai")
		}
		logger.Warn(context.Background(), "OpenAI scorer unavailable, falling back to noop", "error", err)
	}
	return scoringobs.Wrap(noop.New(), "noop")
}
