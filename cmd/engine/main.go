package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jcortes/mirrorbot/config"
	"github.com/jcortes/mirrorbot/internal/adapters/storage"
	"github.com/jcortes/mirrorbot/internal/adapters/venue"
	"github.com/jcortes/mirrorbot/internal/application/breaker"
	"github.com/jcortes/mirrorbot/internal/application/engine"
	"github.com/jcortes/mirrorbot/internal/application/execution"
	"github.com/jcortes/mirrorbot/internal/application/ledger"
	"github.com/jcortes/mirrorbot/internal/application/riskgate"
	"github.com/jcortes/mirrorbot/internal/application/settlement"
	"github.com/jcortes/mirrorbot/internal/domain"
	"github.com/jcortes/mirrorbot/internal/infra"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one tick of each pipeline and exit")
	report := flag.Bool("report", false, "print strategy and redemption report and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		runReport(ctx, store)
		return
	}

	if cfg.Engine.TrustToken == "" {
		slog.Error("no scheduler trust token configured: set SCHEDULER_TRUST_TOKEN")
		os.Exit(1)
	}

	venueClient := venue.NewClient(cfg.Venue.BaseURL, cfg.Venue.APIKey)

	led := ledger.New(store, ledger.Config{
		CASRetries:     cfg.Ledger.CASRetries,
		CooldownPeriod: cfg.CooldownPeriod(),
	})
	gate := riskgate.New()
	exec := execution.New(store, venueClient, led, gate, execution.Config{
		MinSyncAge: cfg.MinSyncAge(),
	})

	eval := breaker.New(led, domain.BreakerPolicy{
		MaxConsecutiveLosses: cfg.Breaker.MaxConsecutiveLosses,
		MaxDrawdownPct:       cfg.Breaker.MaxDrawdownPct,
	})
	settler := settlement.New(store, venueClient, led, eval.OnRealizedPnL)

	eng := engine.New(store, exec, settler, led, engine.Config{
		TrustToken: cfg.Engine.TrustToken,
		BatchLimit: cfg.Engine.BatchLimit,
		Workers:    cfg.Engine.Workers,
	})

	slog.Info("mirrorbot starting",
		"config", *configPath,
		"dsn", cfg.Storage.DSN,
		"sync_interval", cfg.SyncInterval(),
		"execute_interval", cfg.ExecuteInterval(),
		"once", *once,
	)

	if *once {
		runOnce(ctx, eng, cfg.Engine.TrustToken)
		return
	}

	sched := infra.NewScheduler(eng, cfg.Engine.TrustToken, infra.Intervals{
		Sync:    cfg.SyncInterval(),
		Execute: cfg.ExecuteInterval(),
		Resolve: cfg.ResolveInterval(),
		Redeem:  cfg.RedeemInterval(),
	})
	if err := sched.Start(ctx); err != nil {
		slog.Error("scheduler failed to start", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
	sched.Stop()
	slog.Info("mirrorbot stopped cleanly")
}

// runOnce drives one tick of every pipeline in dependency order: sync fills
// first, resolve markets, redeem, then execute fresh signals.
func runOnce(ctx context.Context, eng *engine.Engine, token string) {
	ticks := []struct {
		name string
		run  func(context.Context, string) (int, error)
	}{
		{"sync", eng.SyncTick},
		{"resolve", eng.ResolveTick},
		{"redeem", eng.RedeemTick},
		{"execute", eng.ExecuteTick},
	}
	for _, t := range ticks {
		n, err := t.run(ctx, token)
		if err != nil {
			slog.Error("tick failed", "job", t.name, "err", err)
			os.Exit(1)
		}
		slog.Info("tick complete", "job", t.name, "items", n)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
