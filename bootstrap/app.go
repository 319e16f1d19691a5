package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"argus/action"
	"argus/anomaly"
	"argus/config"
	"argus/core"
	"argus/incident"
	"argus/notify"
	"argus/policy"
	"argus/storage"
	"argus/util/goroutine"
)

// App represents the Argus service with all its components wired.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Storage  *storage.SQLite
	Cache    *core.RedisCache
	Counters core.CounterStore
	Events   *storage.MemoryEventSource
	Profiles *core.ProfileCache
	Pool     *core.WorkerPool

	Executor  *action.Executor
	Notifier  *notify.Notifier
	Engine    *policy.Engine
	Detection *anomaly.Manager
	Incidents *incident.Manager

	httpServer *http.Server

	instanceID   string
	serviceWg    *sync.WaitGroup
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	cancel       context.CancelFunc
}

// NewApp creates the application and initializes every component. The app is
// not running until Start.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{
		instanceID: uuid.NewString(),
		serviceWg:  &sync.WaitGroup{},
		shutdownCh: make(chan struct{}),
	}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Argus security decision engine starting...")

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.Config = cfg

	sqlite, err := storage.NewSQLite(cfg.Storage.SQLitePath, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.Storage = sqlite

	// Counter store: Redis when configured, process-local otherwise.
	if cfg.Redis.Enabled {
		cache := core.NewRedisCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, 10, sugar)
		if err := cache.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Address, err)
		}
		app.Cache = cache
		app.Counters = core.NewRedisCounterStore(cache.Client(), sugar)
		sugar.Infow("Using Redis counter store", "address", cfg.Redis.Address)
	} else {
		app.Counters = core.NewLocalCounterStore()
		sugar.Warn("Redis disabled, using process-local counters")
	}

	// The event buffer and profile store are fed by the surrounding
	// platform's ingestion; this core only reads them.
	app.Events = storage.NewMemoryEventSource()

	// With Redis, baselines are shared across instances; the LRU in front
	// keeps hot actors out of Redis during sweeps.
	var profileSource core.ProfileStore = storage.NewMemoryProfileStore()
	if app.Cache != nil {
		profileSource, err = core.NewSharedProfileStore(profileSource, app.Cache, cfg.Profiles.CacheTTL, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to create shared profile store: %w", err)
		}
	}

	profiles, err := core.NewProfileCache(
		profileSource,
		cfg.Profiles.CacheSize,
		cfg.Profiles.CacheTTL,
		sugar,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile cache: %w", err)
	}
	app.Profiles = profiles

	app.Pool = core.NewWorkerPool(ctx, cfg.Workers.Count, cfg.Workers.QueueSize, "sweep", sugar)

	app.Notifier = notify.NewNotifier(
		channelsFromConfig(cfg),
		notify.NewLogSender(sugar),
		core.NewConditionEvaluator(sugar),
		sugar,
	)

	app.Executor = buildExecutor(cfg, app.Notifier, sugar)

	evaluator := policy.NewEvaluator(
		core.NewConditionEvaluator(sugar),
		app.Counters,
		app.Profiles,
		app.Events,
		core.SystemClock{},
		sugar,
	)

	app.Engine = policy.NewEngine(policy.EngineConfig{
		Store:       sqlite,
		Violations:  sqlite,
		Evaluator:   evaluator,
		Executor:    app.Executor,
		Events:      app.Events,
		Pool:        app.Pool,
		Logger:      sugar,
		UnitTimeout: cfg.Policies.UnitTimeout,
	})

	app.Detection = anomaly.NewManager(anomaly.ManagerConfig{
		Threats:     sqlite,
		Executor:    app.Executor,
		Events:      app.Events,
		Profiles:    app.Profiles,
		Pool:        app.Pool,
		Logger:      sugar,
		UnitTimeout: cfg.Anomaly.UnitTimeout,
	})

	app.Incidents = incident.NewManager(incident.ManagerConfig{
		Incidents:   sqlite,
		Plans:       sqlite,
		Escalations: sqlite,
		Executor:    app.Executor,
		Logger:      sugar,
	})

	// Close the loops: violations and threats open incidents, and the
	// escalate action lands back on the incident manager.
	app.Engine.SetViolationHandler(app.Incidents)
	app.Detection.SetThreatHandler(app.Incidents)
	app.Executor.Register(action.NewEscalateAction(app.Incidents, sugar))

	if cfg.Policies.BundleDir != "" {
		loader := policy.NewLoader(sqlite, sqlite, sqlite, core.SystemClock{}, sugar)
		loaded, err := loader.LoadDir(cfg.Policies.BundleDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy bundles: %w", err)
		}
		sugar.Infow("Policy bundles loaded", "dir", cfg.Policies.BundleDir, "entities", loaded)
	}

	if err := app.Engine.Load(); err != nil {
		return nil, err
	}
	if err := app.Detection.Reload(cfg.Anomaly.Detectors); err != nil {
		return nil, err
	}

	return app, nil
}

// Start brings up the worker pool, the sweep loops and the metrics endpoint.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.Pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	a.startSweepLoops(ctx)
	a.startHTTPServer()

	a.Sugar.Infow("Argus started",
		"policies", len(a.Engine.Policies()),
		"detectors", len(a.Detection.Configs()),
		"workers", a.Config.Workers.Count)
	return nil
}

// startSweepLoops runs the periodic enforcement and detection sweeps until
// shutdown. Sweeps cancel between units; an in-flight unit finishes.
func (a *App) startSweepLoops(ctx context.Context) {
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer goroutine.Recover("enforcement-sweep", a.Sugar)

		ticker := time.NewTicker(a.Config.Policies.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !a.holdsSweepLease(ctx, "enforce", a.Config.Policies.SweepInterval) {
					continue
				}
				if err := a.Engine.EnforceAll(ctx, a.Config.Policies.SweepLookback); err != nil {
					a.Sugar.Errorw("Enforcement sweep failed", "error", err)
				}
			}
		}
	}()

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer goroutine.Recover("detection-sweep", a.Sugar)

		ticker := time.NewTicker(a.Config.Anomaly.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !a.holdsSweepLease(ctx, "detect", a.Config.Anomaly.SweepInterval) {
					continue
				}
				if err := a.Detection.DetectAllThreats(ctx); err != nil {
					a.Sugar.Errorw("Detection sweep failed", "error", err)
				}
			}
		}
	}()
}

// holdsSweepLease reports whether this instance runs the named sweep this
// tick. With Redis the lease elects one instance per interval; without it
// every instance sweeps alone and always holds. A Redis error does not stop
// the sweep.
func (a *App) holdsSweepLease(ctx context.Context, name string, interval time.Duration) bool {
	if a.Cache == nil {
		return true
	}
	// The lease expires just inside the interval so clock skew between
	// instances cannot leave a tick uncovered.
	held, err := a.Cache.AcquireLease(ctx, name, a.instanceID, interval-interval/10)
	if err != nil {
		a.Sugar.Warnw("Sweep lease check failed, sweeping anyway", "lease", name, "error", err)
		return true
	}
	if !held {
		a.Sugar.Debugw("Sweep lease held by another instance", "lease", name)
	}
	return held
}

// startHTTPServer exposes /metrics and /healthz. The decision API itself is
// served by the surrounding platform; this process only publishes telemetry.
func (a *App) startHTTPServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.Config.API.Host, a.Config.API.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		defer goroutine.Recover("http-server", a.Sugar)

		a.Sugar.Infow("Metrics endpoint listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Sugar.Errorw("HTTP server failed", "error", err)
		}
	}()
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then shuts down.
func (a *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	a.Sugar.Infow("Shutdown signal received", "signal", sig)
	a.Shutdown()
}

// Shutdown stops the sweep loops, drains the worker pool and closes storage.
// Safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.Sugar.Info("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.Sugar.Warnw("HTTP server shutdown failed", "error", err)
		}
	}

	a.serviceWg.Wait()
	a.Pool.Stop()

	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Sugar.Warnw("Failed to close redis", "error", err)
		}
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Sugar.Warnw("Failed to close storage", "error", err)
		}
	}

	close(a.shutdownCh)
	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
