// Package mieru is the public API for embedding the Mieru observability server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := mieru.New(
//	    mieru.WithVersion(version),
//	    mieru.WithLogger(logger),
//	    mieru.WithTraceHook(myAlertingHook{}),
//	    mieru.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: mieru (root) imports
// internal/*, but internal/* never imports mieru (root). Public types
// (Trace) are standalone structs with no internal imports; conversion
// helpers (toPublicTrace) live here because this is the only file that
// sees both sides of the boundary.
package mieru

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/mieru/api"
	"github.com/ashita-ai/mieru/internal/aggcache"
	"github.com/ashita-ai/mieru/internal/config"
	"github.com/ashita-ai/mieru/internal/mcp"
	"github.com/ashita-ai/mieru/internal/model"
	"github.com/ashita-ai/mieru/internal/ratelimit"
	"github.com/ashita-ai/mieru/internal/server"
	"github.com/ashita-ai/mieru/internal/service/aggregate"
	"github.com/ashita-ai/mieru/internal/service/tasks"
	"github.com/ashita-ai/mieru/internal/storage"
	"github.com/ashita-ai/mieru/internal/telemetry"
	"github.com/ashita-ai/mieru/migrations"
	"github.com/ashita-ai/mieru/ui"
)

const shutdownPhaseTimeout = 10 * time.Second

// App is the Mieru server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	store        storage.Store
	srv          *server.Server
	runner       *tasks.Runner
	aggregator   *aggregate.Service
	limiter      ratelimit.Limiter
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Mieru server. It opens the trace store, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.dbDriver != "" {
		cfg.DBDriver = o.dbDriver
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("mieru starting", "version", version, "port", cfg.Port, "db_driver", cfg.DBDriver)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Open the trace store.
	store, err := openStore(context.Background(), cfg, o.extraMigrations, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	// Aggregation service with the snapshot cache.
	var cache *aggcache.Cache
	if cfg.CacheTTL > 0 {
		cache = aggcache.New(cfg.CacheTTL)
	}
	aggregator := aggregate.New(store, cache, logger)

	// Adapt trace hooks from public mieru.TraceHook to internal server.TraceHook.
	var traceHooks []server.TraceHook
	for _, h := range o.traceHooks {
		traceHooks = append(traceHooks, &traceHookAdapter{hook: h})
	}

	// Task runner; every recorded step trace invalidates aggregates
	// and fires the registered hooks.
	runner := tasks.NewRunner(store, logger, tasks.Options{
		QueueSize:     cfg.TaskQueueSize,
		Workers:       cfg.TaskWorkers,
		SweepInterval: cfg.PendingSweep,
	}, func(trace model.Trace) {
		aggregator.InvalidateCache()
		fireTraceHooks(logger, traceHooks, trace)
	})

	// MCP server, mounted at /mcp by the HTTP server.
	mcpSrv := mcp.New(aggregator, logger)

	// Dashboard assets, present only in builds with the ui tag.
	uiFS, err := ui.DistFS()
	if err != nil {
		return nil, fmt.Errorf("mieru: load embedded ui: %w", err)
	}
	if uiFS != nil {
		logger.Info("ui: embedded dashboard loaded")
	}

	// Rate limiter for query endpoints.
	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// Adapt route registrars and middlewares to the internal server types.
	var extraRoutes []func(*http.ServeMux)
	for _, fn := range o.routeRegistrars {
		extraRoutes = append(extraRoutes, fn)
	}
	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		mw := mw // capture
		middlewares = append(middlewares, func(h http.Handler) http.Handler { return mw(h) })
	}

	srv := server.New(server.Config{
		Store:               store,
		Aggregator:          aggregator,
		Runner:              runner,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		OpenAPISpec:         api.OpenAPISpec,
		UIFS:                uiFS,
		TraceHooks:          traceHooks,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		DefaultWindowHours:  cfg.DefaultWindowH,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		srv:          srv,
		runner:       runner,
		aggregator:   aggregator,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the task runner and the HTTP server, then blocks until ctx
// is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically; callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	a.runner.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Handler returns the root HTTP handler, for embedding the server into
// an existing listener or for tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Shutdown performs a two-phase graceful shutdown: stop accepting HTTP
// requests and drain in-flight, then drain the task runner. In-flight
// requests may still create tasks, which is why the runner goes second.
// It then closes the rate limiter, trace store, and OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("mieru shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownPhaseTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	runnerCtx, runnerCancel := context.WithTimeout(ctx, shutdownPhaseTimeout)
	a.runner.Drain(runnerCtx)
	runnerCancel()

	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	a.store.Close()

	a.logger.Info("mieru stopped")
	return nil
}

// openStore opens the configured storage backend. Postgres runs the
// embedded migrations plus any extra migration filesystems; the SQLite
// backend applies its schema on open.
func openStore(ctx context.Context, cfg config.Config, extraMigrations []fs.FS, logger *slog.Logger) (storage.Store, error) {
	switch cfg.DBDriver {
	case "sqlite":
		store, err := storage.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		return store, nil
	default:
		db, err := storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: migrations: %w", err)
		}
		for i, extraFS := range extraMigrations {
			if err := db.RunMigrations(ctx, extraFS); err != nil {
				db.Close()
				return nil, fmt.Errorf("storage: extra migrations[%d]: %w", i, err)
			}
		}
		return db, nil
	}
}

// fireTraceHooks notifies registered hooks without blocking the caller.
func fireTraceHooks(logger *slog.Logger, hooks []server.TraceHook, trace model.Trace) {
	if len(hooks) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, h := range hooks {
			if err := h.OnTraceRecorded(ctx, trace); err != nil {
				logger.Warn("trace hook failed", "trace_id", trace.ID, "error", err)
			}
		}
	}()
}

// traceHookAdapter wraps a mieru.TraceHook to satisfy server.TraceHook.
// It converts internal model types to public mieru types at the boundary.
type traceHookAdapter struct {
	hook TraceHook
}

func (a *traceHookAdapter) OnTraceRecorded(ctx context.Context, trace model.Trace) error {
	return a.hook.OnTraceRecorded(ctx, toPublicTrace(trace))
}

// toPublicTrace converts an internal model.Trace to the public mieru.Trace.
// Lives here because this is the only file that imports both sides of
// the boundary.
func toPublicTrace(t model.Trace) Trace {
	errClass := ""
	if t.Status == model.TraceStatusError {
		errClass = t.ErrorClass()
	}
	return Trace{
		ID:           t.ID,
		TaskID:       t.TaskID,
		AgentName:    t.AgentName,
		Operation:    t.Operation,
		Status:       string(t.Status),
		DurationMs:   t.DurationMs,
		QualityScore: t.QualityScore,
		CreatedAt:    t.CreatedAt,
		ErrorClass:   errClass,
	}
}
