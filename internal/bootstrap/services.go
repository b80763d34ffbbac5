package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/target/canvas-bridge/config"
	"github.com/target/canvas-bridge/internal/adapters/authclient"
	"github.com/target/canvas-bridge/internal/core"
	"github.com/target/canvas-bridge/internal/domain/redirect"
	"github.com/target/canvas-bridge/internal/observability/metrics"
	"github.com/target/canvas-bridge/internal/observability/statsd"
	"github.com/target/canvas-bridge/internal/ports"
	"github.com/target/canvas-bridge/internal/service"
)

// ServiceContainer holds the process-wide services. Screens are created per use with
// NewCanvasScreen and share the session store.
type ServiceContainer struct {
	Config        config.AppConfig
	Store         ports.CredentialStore
	IdP           ports.IdentityProvider
	AuthClient    *authclient.Client
	Sessions      *service.SessionStore
	Handoff       *service.HandoffExchanger
	Auth          *service.AuthService
	Startup       *service.StartupGate
	Observability ObservabilityContainer

	clock  core.Clock
	logger *slog.Logger
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
	Metrics       *metrics.Recorder
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	RedisClient redis.UniversalClient // required when STORAGE_BACKEND=redis
	HTTPClient  *http.Client          // optional; used for the IdP and the handoff exchange
	Clock       core.Clock
	Logger      *slog.Logger
}

// buildObservability configures metrics adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	out := ObservabilityContainer{MetricsConfig: cfg.Metrics, Metrics: metrics.New(nil)}
	if !cfg.Metrics.IsEnabled() {
		return out
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  cfg.Metrics.Prefix,
		Logger:  obsLogger,
	})
	if err != nil {
		obsLogger.Error("failed to initialise statsd client", "error", err)
		return out
	}
	out.MetricsSink = client
	out.Metrics = metrics.New(client)
	return out
}

// NewServices builds the auth stack and the session store. It does not start the restore;
// call Startup.Wait for that.
func NewServices(ctx context.Context, deps ServiceDeps) (*ServiceContainer, error) {
	if deps.Config == nil {
		return nil, errors.New("service deps missing AppConfig")
	}
	cfg := *deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = core.RealClock{}
	}

	obs := buildObservability(logger, cfg.Observability)

	store, err := BuildCredentialStore(CredentialStoreConfig{
		Storage:     cfg.Storage,
		RedisClient: deps.RedisClient,
		Clock:       clock,
	})
	if err != nil {
		return nil, err
	}
	idp, err := BuildIdentityProvider(ctx, IdentityProviderConfig{
		Auth:       cfg.Auth,
		HTTPClient: deps.HTTPClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	client, err := BuildAuthClient(AuthClientConfig{
		Auth:   cfg.Auth,
		IdP:    idp,
		Store:  store,
		Clock:  clock,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	sessions, err := service.NewSessionStore(service.SessionStoreOptions{
		Provider: client,
		Logger:   logger.With("component", "session_store"),
	})
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}
	handoff, err := service.NewHandoffExchanger(service.HandoffExchangerOptions{
		Provider:    client,
		WebOrigin:   cfg.Auth.WebOrigin,
		Path:        cfg.Auth.HandoffExchangePath,
		HTTPClient:  deps.HTTPClient,
		Timeout:     cfg.Auth.RemoteTimeout,
		DedupWindow: cfg.Auth.DedupWindow,
		Clock:       clock,
		Logger:      logger.With("component", "handoff"),
		Metrics:     obs.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create handoff exchanger: %w", err)
	}
	auth, err := service.NewAuthService(service.AuthServiceOptions{
		Provider:    client,
		Handoff:     handoff,
		Parser:      redirect.NewParser(cfg.Auth.Scheme, cfg.Auth.CallbackHost),
		DedupWindow: cfg.Auth.DedupWindow,
		Clock:       clock,
		Logger:      logger.With("component", "auth"),
		Metrics:     obs.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create auth service: %w", err)
	}
	startup, err := service.NewStartupGate(service.StartupGateOptions{
		Store:    sessions,
		Watchdog: cfg.Auth.StartupWatchdog,
		Clock:    clock,
		Logger:   logger.With("component", "startup"),
		OnLateReady: func() {
			logger.Info("session restore finished after the startup watchdog")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create startup gate: %w", err)
	}

	return &ServiceContainer{
		Config:        cfg,
		Store:         store,
		IdP:           idp,
		AuthClient:    client,
		Sessions:      sessions,
		Handoff:       handoff,
		Auth:          auth,
		Startup:       startup,
		Observability: obs,
		clock:         clock,
		logger:        logger,
	}, nil
}

// ScreenOptions are the per-screen inputs for NewCanvasScreen.
type ScreenOptions struct {
	Surface     ports.Surface
	ProjectID   string
	OnSignedOut func()
	OnChange    func(service.LifecycleState)
}

// NewCanvasScreen creates a canvas screen bound to the shared session store, tuned from
// the bridge configuration.
func (c *ServiceContainer) NewCanvasScreen(opts ScreenOptions) (*service.CanvasScreen, error) {
	return service.NewCanvasScreen(c.canvasScreenOptions(opts))
}

func (c *ServiceContainer) canvasScreenOptions(opts ScreenOptions) service.CanvasScreenOptions {
	b := c.Config.Bridge
	return service.CanvasScreenOptions{
		Session:               c.Sessions,
		Surface:               opts.Surface,
		Clock:                 c.clock,
		Logger:                c.logger,
		Metrics:               c.Observability.Metrics,
		WebOrigin:             c.Config.Auth.WebOrigin,
		BridgePath:            b.BridgePath,
		ProjectPath:           b.ProjectPath,
		ProjectID:             opts.ProjectID,
		Debug:                 c.Config.IsDev,
		BootstrapRequestDelay: b.BootstrapRequestDelay,
		MaxAttempts:           b.MaxAttempts,
		RetryBase:             b.RetryBase,
		CoalesceWindow:        b.CoalesceWindow,
		EarlyClearDelay:       b.EarlyClearDelay,
		LoadEndResendDelay:    b.LoadEndResendDelay,
		StaggeredResends:      b.StaggeredResends,
		LoadTimeout:           b.LoadTimeout,
		DeliveryTimeout:       c.Config.Auth.RemoteTimeout,
		OnSignedOut:           opts.OnSignedOut,
		OnChange:              opts.OnChange,
	}
}

// Close releases resources owned by the container. The Redis client belongs to the caller.
func (c *ServiceContainer) Close() error {
	if c.Observability.MetricsSink != nil {
		if err := c.Observability.MetricsSink.Close(); err != nil {
			return fmt.Errorf("close statsd client: %w", err)
		}
	}
	return nil
}
