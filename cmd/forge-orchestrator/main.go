package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/forge-labs/forge/internal/api"
	"github.com/forge-labs/forge/internal/chain"
	"github.com/forge-labs/forge/internal/config"
	"github.com/forge-labs/forge/internal/events"
	"github.com/forge-labs/forge/internal/observability"
	"github.com/forge-labs/forge/internal/pipeline/launchpipe"
	"github.com/forge-labs/forge/internal/pipeline/liquiditypipe"
	"github.com/forge-labs/forge/internal/pipeline/riskpipe"
	"github.com/forge-labs/forge/internal/queue"
	"github.com/forge-labs/forge/internal/recommend"
	"github.com/forge-labs/forge/internal/riskscore"
	"github.com/forge-labs/forge/internal/store"
	"github.com/forge-labs/forge/internal/store/memory"
	"github.com/forge-labs/forge/internal/store/postgres"
	"github.com/forge-labs/forge/internal/worker"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", true, "Use the stub chain executor (no real Solana connection)")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("FORGE Launch Orchestrator - Starting")
	log.Info().Msg("SUBMIT -> JOURNAL -> EXECUTE -> ASSESS")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Bool("stub_mode", *stubMode).
		Str("storage", cfg.Storage.Mode).
		Str("api_addr", cfg.API.Addr).
		Int("launch_workers", cfg.Queues.Launch.Concurrency).
		Int("liquidity_workers", cfg.Queues.Liquidity.Concurrency).
		Int("risk_workers", cfg.Queues.Risk.Concurrency).
		Msg("Configuration loaded")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Open storage.
	var (
		stores store.Stores
		pgPool *postgres.Pool
	)
	switch cfg.Storage.Mode {
	case "postgres":
		connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
		pgPool, err = postgres.Connect(connectCtx, cfg.Storage.DSN)
		connectCancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Postgres connection failed")
		}
		defer pgPool.Close()
		stores = pgPool.Stores()
	default:
		stores = memory.New().Stores()
		log.Info().Msg("Storage: in-memory (jobs do not survive restarts)")
	}

	// 5. Chain executor. The live client path lands with the settlement
	// integration; every environment runs the stub until then.
	exec := chain.NewStubClient()
	if !*stubMode {
		log.Warn().Msg("Live chain executor not configured, falling back to stub")
	}
	log.Info().Msg("Chain executor: STUB mode")

	// 6. Metrics registry (optional).
	var metrics *observability.Registry
	if cfg.Metrics.Enabled {
		metrics = observability.ForgeMetrics()
		log.Info().Msg("Metrics registry initialized")
	}

	// 7. Event hub.
	hub := events.NewHub(cfg.Events.Buffer, log.Logger).WithMetrics(metrics)

	// 8. Queues. Recover replays the journal so jobs survive restarts;
	// jobs that were mid-flight at crash time go back to waiting.
	launchQ := queue.New(queue.QueueLaunch, cfg.Queues.Launch, stores.Jobs, log.Logger)
	liquidityQ := queue.New(queue.QueueLiquidity, cfg.Queues.Liquidity, stores.Jobs, log.Logger)
	riskQ := queue.New(queue.QueueRisk, cfg.Queues.Risk, stores.Jobs, log.Logger)
	for _, q := range []*queue.Queue{launchQ, liquidityQ, riskQ} {
		if err := q.Recover(ctx); err != nil {
			log.Fatal().Err(err).Str("queue", q.Name()).Msg("Journal recovery failed")
		}
	}

	// 9. Pipelines.
	launchPipe := launchpipe.New(stores, exec, launchQ, hub, log.Logger).WithMetrics(metrics)
	liquidityPipe := liquiditypipe.New(stores, exec, hub, log.Logger)
	riskPipe := riskpipe.New(stores, exec, riskscore.New(riskscore.DefaultWeights()), hub, log.Logger).
		WithMetrics(metrics)

	// 10. Worker pools under one supervisor.
	supervisor := worker.NewSupervisor(log.Logger)
	supervisor.Add(worker.NewPool(launchQ, launchPipe, cfg.Queues.Launch.Concurrency, log.Logger).WithMetrics(metrics))
	supervisor.Add(worker.NewPool(liquidityQ, liquidityPipe, cfg.Queues.Liquidity.Concurrency, log.Logger).WithMetrics(metrics))
	supervisor.Add(worker.NewPool(riskQ, riskPipe, cfg.Queues.Risk.Concurrency, log.Logger).WithMetrics(metrics))
	supervisor.Start()

	// 11. Health monitor.
	health := observability.NewHealthMonitor(15 * time.Second)
	health.Register("storage", storageCheck(cfg.Storage.Mode, pgPool))
	health.Register("queues", queueCheck(launchQ, liquidityQ, riskQ))
	health.Register("event_hub", hubCheck(hub))
	health.Start(ctx)

	// 12. HTTP front door.
	server := api.NewServer(api.Options{
		Addr:         cfg.API.Addr,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		Stores:       stores,
		Launch:       launchQ,
		Liquidity:    liquidityQ,
		Risk:         riskQ,
		Supervisor:   supervisor,
		Hub:          hub,
		Advisor:      recommend.RuleAdvisor{},
		Gate:         liquiditypipe.NewAdvisor(cfg.Advisor),
		Health:       health,
		Metrics:      metrics,
		Logger:       log.Logger,
	})
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("API server error")
			cancel()
		}
	}()

	// Surface health alerts in the log stream.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case alert := <-health.Alerts():
				evt := log.Warn()
				if alert.Level == "critical" {
					evt = log.Error()
				}
				evt.Str("component", alert.Component).Str("msg", alert.Message).Msg("[HEALTH]")
			}
		}
	}()

	// Periodic stats logging.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ls, qs, rs := launchQ.Stats(), liquidityQ.Stats(), riskQ.Stats()
				hs := hub.Stats()
				log.Info().
					Int("launch_waiting", ls.Waiting+ls.Delayed).
					Int("launch_done", ls.Completed).
					Int("liquidity_waiting", qs.Waiting+qs.Delayed).
					Int("liquidity_done", qs.Completed).
					Int("risk_waiting", rs.Waiting+rs.Delayed).
					Int("risk_done", rs.Completed).
					Int64("events_published", hs.Published).
					Int64("events_dropped", hs.Dropped).
					Msg("[STATS]")
			}
		}
	}()

	log.Info().Str("addr", cfg.API.Addr).Msg("FORGE Launch Orchestrator - Running")

	// 13. Block until shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
	}

	// 14. Graceful shutdown: stop intake first, then drain in-flight jobs.
	// Jobs still running past the drain timeout are abandoned to the
	// journal and resume on the next start.
	log.Info().Msg("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.General.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API shutdown error")
	}
	if err := supervisor.Shutdown(cfg.General.ShutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("Drain timeout, in-flight jobs abandoned to the journal")
	}
	health.Stop()
	cancel()

	ls, qs, rs := launchQ.Stats(), liquidityQ.Stats(), riskQ.Stats()
	log.Info().
		Int("launch_completed", ls.Completed).
		Int("launch_failed", ls.Failed).
		Int("liquidity_completed", qs.Completed).
		Int("liquidity_failed", qs.Failed).
		Int("risk_completed", rs.Completed).
		Int("risk_failed", rs.Failed).
		Msg("FORGE Launch Orchestrator - Final Statistics")

	log.Info().Msg("FORGE Launch Orchestrator - Shutdown complete")
}

// storageCheck pings postgres when configured; the memory store has nothing
// to probe and always reports healthy.
func storageCheck(mode string, pool *postgres.Pool) observability.HealthCheck {
	return func(ctx context.Context) observability.ComponentHealth {
		h := observability.ComponentHealth{Name: "storage", Status: observability.StatusHealthy}
		if mode != "postgres" {
			h.Message = "in-memory"
			return h
		}
		if err := pool.Ping(ctx); err != nil {
			h.Status = observability.StatusUnhealthy
			h.Message = err.Error()
		}
		return h
	}
}

// queueCheck degrades when any queue's backlog grows past a high-water mark.
func queueCheck(queues ...*queue.Queue) observability.HealthCheck {
	return func(_ context.Context) observability.ComponentHealth {
		h := observability.ComponentHealth{
			Name:    "queues",
			Status:  observability.StatusHealthy,
			Details: map[string]any{},
		}
		for _, q := range queues {
			st := q.Stats()
			backlog := st.Waiting + st.Delayed
			h.Details[q.Name()] = backlog
			if backlog > 1000 {
				h.Status = observability.StatusDegraded
				h.Message = fmt.Sprintf("queue %s backlog at %d", q.Name(), backlog)
			}
		}
		return h
	}
}

// hubCheck degrades when subscribers are dropping events. The closure runs
// from both the monitor ticker and /health requests, so the high-water mark
// is atomic.
func hubCheck(hub *events.Hub) observability.HealthCheck {
	var lastDropped atomic.Int64
	return func(_ context.Context) observability.ComponentHealth {
		h := observability.ComponentHealth{Name: "event_hub", Status: observability.StatusHealthy}
		dropped := hub.Stats().Dropped
		if prev := lastDropped.Swap(dropped); dropped > prev {
			h.Status = observability.StatusDegraded
			h.Message = fmt.Sprintf("%d events dropped since last check", dropped-prev)
		}
		return h
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "forge-orchestrator").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "forge-orchestrator").
			Str("instance", general.InstanceID).Logger()
	}
}
