package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-assistant/internal/auditlog"
	"trading-assistant/internal/logger"
	"trading-assistant/internal/sched"
	"trading-assistant/internal/store"
	"trading-assistant/internal/trace"

	"github.com/joho/godotenv"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	_ = godotenv.Load()
	cfg, err := store.LoadConfig(configPath())
	must(err)

	must(logger.Init())
	must(trace.Init())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if v := os.Getenv("ASSISTANT_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		_ = auditlog.CompressOlder(n)
	}

	app, err := bootstrap(ctx, cfg)
	must(err)
	defer app.Close()

	if cfg.Mode == "DRY_RUN" {
		logger.Info(ctx, "DRY_RUN mode, orders fill against the simulated broker")
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info(context.Background(), "Shutdown requested, draining in-flight work")
		cancel()
	}()

	scheduler := sched.New(app.Pipeline, app.Optimizer, sched.Config{
		AccountID:       cfg.AccountID,
		SyncInterval:    time.Duration(cfg.Schedule.SyncSeconds) * time.Second,
		ExecuteInterval: time.Duration(cfg.Schedule.ExecuteSeconds) * time.Second,
		OptimizeHour:    cfg.Schedule.OptimizeHour,
	})
	scheduler.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = trace.Shutdown(shutdownCtx)
}

func configPath() string {
	if p := os.Getenv("ASSISTANT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
