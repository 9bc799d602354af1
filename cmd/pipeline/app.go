package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/DICKY1987/pipeline-core/adapter"
	"github.com/DICKY1987/pipeline-core/breaker"
	"github.com/DICKY1987/pipeline-core/config"
	"github.com/DICKY1987/pipeline-core/job"
	"github.com/DICKY1987/pipeline-core/metrics"
	"github.com/DICKY1987/pipeline-core/orchestrator"
	"github.com/DICKY1987/pipeline-core/statemachine"
	"github.com/DICKY1987/pipeline-core/store"
	"github.com/DICKY1987/pipeline-core/watch"
)

// App wires together the engine's components: NATS-backed state store,
// circuit breakers, tool adapters, metrics, and the orchestrator.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	// Engine
	store    store.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	breakers *breaker.Registry
	orch     *orchestrator.Orchestrator
	watcher  *watch.SpoolWatcher
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
}

// Start initializes and starts all components.
func (a *App) Start(ctx context.Context) error {
	// Start NATS (embedded or connect to external)
	if err := a.startNATS(ctx); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	// Initialize storage
	kv, err := store.NewKV(ctx, a.js)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	a.store = kv

	a.metrics = metrics.New(a.registry)

	// Transitions fan out to the event stream and the transition counter.
	sink := statemachine.MultiSink{
		store.NewEventRecorder(a.store, a.logger),
		metrics.NewTransitionSink(a.metrics),
	}

	a.breakers = breaker.NewRegistry(breaker.Config{
		FailureThreshold: a.cfg.Breaker.FailureThreshold,
		Cooldown:         a.cfg.Breaker.Cooldown,
		SuccessThreshold: a.cfg.Breaker.SuccessThreshold,
	}, sink, a.logger)

	adapters := make(map[string]adapter.Adapter, len(a.cfg.Tools.Registered))
	for _, tool := range a.cfg.Tools.Registered {
		adapters[tool] = adapter.NewExec(tool, a.cfg.Tools.Allowlist, a.logger)
	}

	a.orch = orchestrator.New(adapters, a.store, a.breakers, a.metrics, a.logger)

	if a.cfg.Watch.Enabled {
		w, err := watch.NewSpoolWatcher(a.cfg.Watch.SpoolDir, a.cfg.Watch.DebounceDelay, a.submitJob, a.logger)
		if err != nil {
			return fmt.Errorf("create spool watcher: %w", err)
		}
		a.watcher = w
	}

	a.logger.Info("Components initialized",
		"tools", a.cfg.Tools.Registered,
		"watch_enabled", a.cfg.Watch.Enabled)
	return nil
}

func (a *App) startNATS(ctx context.Context) error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
	} else {
		a.logger.Info("Starting embedded NATS server")
		opts := &server.Options{
			Port:      -1, // Random available port
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()

		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}

		a.embeddedServer = ns

		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	return nil
}

// submitJob routes spool-watcher jobs through the orchestrator. A job
// whose result carries a negative exit code never reached its tool, so
// the descriptor is filed under failed/ for operator attention.
func (a *App) submitJob(ctx context.Context, j *job.Job) error {
	result := a.orch.RunJob(ctx, j)
	if result.ExitCode < 0 {
		return fmt.Errorf("job %s rejected with exit code %d", j.ID, result.ExitCode)
	}
	return nil
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() {
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("Error stopping spool watcher", "error", err)
		}
	}

	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.logger.Warn("Error draining NATS connection", "error", err)
		}
		a.natsConn.Close()
	}

	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}
}
