package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/infergate/infergate/config"
	"github.com/infergate/infergate/handlers"
	"github.com/infergate/infergate/internal/observability"
	"github.com/infergate/infergate/jwtauth"
	"github.com/infergate/infergate/middleware"
	"github.com/infergate/infergate/models"
	"github.com/infergate/infergate/services/audit"
	"github.com/infergate/infergate/services/dispatch"
	"github.com/infergate/infergate/services/guard"
	"github.com/infergate/infergate/services/mcpproxy"
	"github.com/infergate/infergate/services/providers"
	"github.com/infergate/infergate/services/providers/openai"
	"github.com/infergate/infergate/services/ratelimit"
	"github.com/infergate/infergate/services/snapshot"
	"github.com/infergate/infergate/services/usage"
)

// Background worker cadence. Both loops only reclaim state, so the intervals
// trade memory for wakeups and nothing else.
const (
	janitorInterval   = 5 * time.Minute
	retentionInterval = time.Hour
)

// Dependencies holds all application dependencies. This is the central wiring
// point: everything the router and handlers touch is constructed here once.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Observability
	Metrics *observability.Metrics
	Auditor *audit.Logger

	// Gateway table
	Snapshots *snapshot.Store

	// Services
	Adapters   *providers.Registry
	Dispatcher *dispatch.Dispatcher
	Limiter    *ratelimit.Limiter
	Inspector  *guard.Service
	Estimator  *usage.Estimator
	Validators *jwtauth.Registry
	Usage      *usage.Service
	MCPPool    *mcpproxy.ClientPool
	MCPProxy   *mcpproxy.Service

	// Middleware
	RoutingMiddleware   *middleware.RoutingMiddleware
	TelemetryMiddleware *middleware.TelemetryMiddleware
	AuthMiddleware      *middleware.AuthMiddleware
	PolicyMiddleware    *middleware.PolicyMiddleware
	GatewayAuth         *middleware.GatewayAuthMiddleware

	// Handlers
	InferenceHandler *handlers.InferenceHandler
	MCPHandler       *handlers.MCPHandler
	HealthHandler    *handlers.HealthHandler
	UsageHandler     *handlers.UsageHandler

	tracingShutdown func(context.Context) error

	// Background workers (config watcher, limiter janitor, usage retention)
	// run against workersCtx and stop when Close cancels it.
	workersCtx    context.Context
	workersCancel context.CancelFunc
	workers       sync.WaitGroup
}

// NewDependencies creates and wires up all application dependencies. The
// returned value is ready to serve; on error nothing needs to be closed, the
// caller is expected to exit.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}
	deps.workersCtx, deps.workersCancel = context.WithCancel(context.Background())

	if err := deps.initObservability(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if err := deps.initGatewayTable(); err != nil {
		return nil, fmt.Errorf("failed to initialize gateway table: %w", err)
	}

	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := deps.initUsage(); err != nil {
		return nil, fmt.Errorf("failed to initialize usage accounting: %w", err)
	}

	deps.initMiddleware()
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initObservability initializes metrics, the audit trail, and tracing
func (d *Dependencies) initObservability(ctx context.Context) error {
	d.Metrics = observability.NewMetrics()
	d.Auditor = audit.NewLogger(d.Logger)

	shutdown, err := observability.Init(ctx, d.Config.Observability)
	if err != nil {
		return fmt.Errorf("tracing setup: %w", err)
	}
	d.tracingShutdown = shutdown
	return nil
}

// initGatewayTable loads the gateway table and, when configured, starts the
// file watcher that reloads it on change.
func (d *Dependencies) initGatewayTable() error {
	d.Snapshots = snapshot.NewStore(d.Logger)

	snap, err := d.loadGatewayTable()
	if err != nil {
		return err
	}
	d.Logger.Info("gateway table loaded",
		zap.String("path", d.Config.Gateway.Path),
		zap.Uint64("version", snap.Version))

	if d.Config.Gateway.Watch {
		watcher := config.NewWatcher(d.Config.Gateway.Path, d.Config.Gateway.ReloadDebounce, d.Logger, d.reloadGatewayTable)
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			if err := watcher.Run(d.workersCtx); err != nil {
				d.Logger.Error("config watcher stopped", zap.Error(err))
			}
		}()
	}

	return nil
}

// loadGatewayTable reads, validates and installs the table file.
func (d *Dependencies) loadGatewayTable() (*snapshot.Snapshot, error) {
	cfg, err := config.LoadGatewayFile(d.Config.Gateway.Path)
	if err != nil {
		return nil, err
	}
	return d.Snapshots.Replace(cfg)
}

// reloadGatewayTable swaps in a freshly loaded table. A table that fails to
// load or build is rejected and the previous snapshot keeps serving.
func (d *Dependencies) reloadGatewayTable() {
	snap, err := d.loadGatewayTable()
	if err != nil {
		d.Logger.Error("gateway config reload rejected", zap.Error(err))
		d.Metrics.RecordConfigReload(false)
		d.Auditor.Log(audit.NewDecision(audit.ActionConfigReloaded).
			WithStage("reload", err.Error()))
		return
	}

	d.Metrics.RecordConfigReload(true)
	d.Auditor.Log(audit.NewDecision(audit.ActionConfigReloaded).
		WithStage("reload", fmt.Sprintf("version %d applied", snap.Version)))
}

// initServices initializes the protocol adapters and the shared request-path
// services.
func (d *Dependencies) initServices() error {
	d.Adapters = providers.NewRegistry()
	if err := d.Adapters.Register(models.ProtocolOpenAI, openai.New()); err != nil {
		return err
	}
	if err := d.Adapters.Register(models.ProtocolPassthrough, providers.NewPassthrough()); err != nil {
		return err
	}

	d.Dispatcher = dispatch.NewDispatcher(d.Logger)
	d.Limiter = ratelimit.NewLimiter(d.Logger)
	d.Inspector = guard.NewService(d.Logger)
	d.Estimator = usage.NewEstimator(d.Logger)
	d.Validators = jwtauth.NewRegistry(d.Config.Auth.JWKSCacheTTL, d.Config.Auth.JWKSTimeout, d.Config.Auth.ClockSkew)

	d.MCPPool = mcpproxy.NewClientPool(d.Logger, nil)
	d.MCPProxy = mcpproxy.NewService(d.Logger, d.MCPPool)

	d.workers.Add(1)
	go func() {
		defer d.workers.Done()
		d.Limiter.StartJanitor(d.workersCtx, janitorInterval)
	}()

	return nil
}

// initUsage opens the usage store and starts the async writer. With
// accounting disabled the same wiring runs against an in-memory database, so
// handlers never branch on whether usage exists.
func (d *Dependencies) initUsage() error {
	path := d.Config.Usage.DatabasePath
	if !d.Config.Usage.Enabled {
		path = ":memory:"
	}

	store, err := usage.Open(path, d.Logger)
	if err != nil {
		return err
	}

	d.Usage = usage.NewService(store, d.Logger, d.Config.Usage.BufferSize)
	if err := d.Usage.Start(); err != nil {
		return err
	}

	if d.Config.Usage.Enabled && d.Config.Usage.Retention > 0 {
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			d.Usage.StartRetentionWorker(d.workersCtx, retentionInterval, d.Config.Usage.Retention)
		}()
	}

	return nil
}

// initMiddleware initializes the admission chain
func (d *Dependencies) initMiddleware() {
	d.RoutingMiddleware = middleware.NewRoutingMiddleware(d.Snapshots, d.Logger)
	d.TelemetryMiddleware = middleware.NewTelemetryMiddleware(d.Metrics, d.Logger)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Validators, d.Auditor, d.Logger)
	d.PolicyMiddleware = middleware.NewPolicyMiddleware(
		d.Adapters,
		d.Limiter,
		d.Inspector,
		d.Estimator,
		d.Auditor,
		d.Metrics,
		d.Config.Gateway.MaxBodyBytes,
		d.Logger,
	)
	d.GatewayAuth = middleware.NewGatewayAuthMiddleware(d.Snapshots, d.Validators, d.Auditor, d.Logger)
}

// initHandlers initializes the HTTP handlers
func (d *Dependencies) initHandlers() {
	d.InferenceHandler = handlers.NewInferenceHandler(d.Dispatcher, d.Adapters, d.Usage, d.Auditor, d.Metrics, d.Logger)
	d.MCPHandler = handlers.NewMCPHandler(d.MCPProxy, d.Auditor, d.Metrics, d.Config.Gateway.MaxBodyBytes, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.Snapshots, d.Usage, d.Logger)
	d.UsageHandler = handlers.NewUsageHandler(d.Usage, d.Logger)
}

// Close gracefully shuts down all dependencies. Workers stop first so nothing
// writes into stores being torn down.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	d.workersCancel()
	d.workers.Wait()

	if d.Usage != nil {
		if err := d.Usage.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close usage service: %w", err))
		}
	}

	if d.MCPPool != nil {
		d.MCPPool.Close()
	}

	if d.tracingShutdown != nil {
		if err := d.tracingShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shut down tracing: %w", err))
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
