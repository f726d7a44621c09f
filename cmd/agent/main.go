package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/scalpline/mt4-scalper/internal/broker"
	"github.com/scalpline/mt4-scalper/internal/cache"
	"github.com/scalpline/mt4-scalper/internal/config"
	"github.com/scalpline/mt4-scalper/internal/dashboard"
	"github.com/scalpline/mt4-scalper/internal/monitor"
	"github.com/scalpline/mt4-scalper/internal/notify"
	"github.com/scalpline/mt4-scalper/internal/poller"
	"github.com/scalpline/mt4-scalper/internal/scheduler"
	exitsignal "github.com/scalpline/mt4-scalper/internal/signal"
	"github.com/scalpline/mt4-scalper/internal/storage"
	"github.com/scalpline/mt4-scalper/internal/symbols"
)

// bridgeRPS bounds outbound bridge calls; the bridge serializes into a
// single MT4 terminal anyway.
const bridgeRPS = 10

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Fatal().Err(err).Msg("failed to load config")
	}

	// Run id ties one process lifetime together across log aggregation.
	log := newLogger(cfg.Environment.LogLevel).With().
		Str("run_id", uuid.NewString()).Logger()
	log.Info().
		Str("user_id", cfg.Environment.UserID).
		Str("bridge_url", cfg.Bridge.URL).
		Msg("starting MT4 scalping agent")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if cerr := rdb.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("redis close failed")
		}
	}()

	orderCache := cache.New(rdb, cache.DefaultMaxOrders, log)

	store, err := storage.NewStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open position storage")
	}

	mapper := symbols.NewMapper("")
	api := broker.NewAPI(cfg.Bridge.URL, cfg.Bridge.Username, cfg.Bridge.Password, bridgeRPS, log)
	client := broker.NewClient(api, mapper, orderCache, broker.DefaultRetryPolicy, broker.LotSizing{
		Default: cfg.Lots.Default,
		Min:     cfg.Lots.Min,
		Max:     cfg.Lots.Max,
	}, log)

	orderPoller := poller.New(client, orderCache, log)
	client.SetWatcher(orderPoller)

	var b broker.Broker = broker.NewCircuitBreakerBroker(client, log)

	registry := monitor.NewRegistry()
	posMonitor := monitor.New(registry, b, store, holdGenerator{}, notify.NewLogNotifier(log), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	status := b.PingBridge(ctx)
	if !status.Connected {
		log.Warn().Str("error", status.Error).Msg("bridge not reachable at startup, continuing")
	} else {
		log.Info().Msg("bridge connected")
	}

	if err := posMonitor.LoadExistingPositions(ctx); err != nil {
		log.Warn().Err(err).Msg("registry rehydration failed")
	}

	sched := scheduler.New(log)
	mustAddJob(log, sched, "@every 60s", scheduler.JobFunc{
		JobName: "position_monitor_tick",
		Fn: func(ctx context.Context) error {
			posMonitor.MonitorAll(ctx)
			return nil
		},
	})
	mustAddJob(log, sched, "@hourly", scheduler.JobFunc{
		JobName: "position_reconcile",
		Fn:      posMonitor.ReconcileOpenDocuments,
	})
	sched.Start()

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(dashboard.Config{Addr: cfg.Dashboard.Addr}, b, store, log)
		go func() {
			if derr := dash.Start(); derr != nil {
				log.Error().Err(derr).Msg("dashboard server failed")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("shutdown signal received")

	cancel()
	sched.Stop()
	orderPoller.Stop()
	if dash != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if derr := dash.Shutdown(shutdownCtx); derr != nil {
			log.Warn().Err(derr).Msg("dashboard shutdown failed")
		}
		shutdownCancel()
	}
	log.Info().Msg("agent stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func mustAddJob(log zerolog.Logger, sched *scheduler.Scheduler, schedule string, job scheduler.Job) {
	if err := sched.AddJob(schedule, job); err != nil {
		log.Fatal().Err(err).Str("job", job.Name()).Msg("failed to register job")
	}
}

// holdGenerator is the placeholder exit-signal panel used until the LLM
// collaborator endpoint is wired in. It always votes to hold, so exits come
// only from the stagnant-loser rule and server-side stops.
type holdGenerator struct{}

func (holdGenerator) GenerateExitSignal(context.Context, exitsignal.ExitContext) (*exitsignal.ExitSignal, error) {
	return &exitsignal.ExitSignal{ShouldExit: false}, nil
}

var _ exitsignal.Generator = holdGenerator{}
