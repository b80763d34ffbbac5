package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/canvas-bridge/internal/core"
	domainauth "github.com/target/canvas-bridge/internal/domain/auth"
	"github.com/target/canvas-bridge/internal/domain/bridge"
	"github.com/target/canvas-bridge/internal/observability/metrics"
	"github.com/target/canvas-bridge/internal/ports"
)

// DefaultBootstrapRequestDelay is how long the bootstrap script waits before asking for a session.
const DefaultBootstrapRequestDelay = 300 * time.Millisecond

// MsgBridgeAuthFailed is shown when the session could not be delivered to the canvas.
const MsgBridgeAuthFailed = "Failed to authenticate with the canvas"

// SessionFeed is what a screen needs from the session store: credentials to deliver and
// the identity stream. SessionStore implements it.
type SessionFeed interface {
	SessionSource
	Subscribe(fn func(*domainauth.Session)) (unsubscribe func())
}

// CanvasScreenOptions groups dependencies and tunables for CanvasScreen.
type CanvasScreenOptions struct {
	Session SessionFeed
	Surface ports.Surface
	Clock   core.Clock
	Logger  *slog.Logger
	Metrics *metrics.Recorder

	WebOrigin   string
	BridgePath  string
	ProjectPath string
	ProjectID   string
	Debug       bool

	BootstrapRequestDelay time.Duration

	MaxAttempts     int
	RetryBase       time.Duration
	CoalesceWindow  time.Duration
	DeliveryTimeout time.Duration

	EarlyClearDelay    time.Duration
	LoadEndResendDelay time.Duration
	StaggeredResends   []time.Duration
	LoadTimeout        time.Duration

	// OnSignedOut runs when the identity goes away while the screen is open.
	OnSignedOut func()
	// OnChange receives lifecycle state changes.
	OnChange func(LifecycleState)
}

// CanvasScreen is one open canvas: a surface plus the messenger, lifecycle controller and
// router bound to it.
type CanvasScreen struct {
	id        string
	session   SessionFeed
	surface   ports.Surface
	logger    *slog.Logger
	messenger *BridgeMessenger
	lifecycle *LifecycleController
	router    *Router

	webOrigin    string
	bridgePath   string
	projectPath  string
	debug        bool
	requestDelay time.Duration
	onSignedOut  func()

	mu          sync.Mutex
	projectID   string
	unsubscribe func()
	closeOnce   sync.Once
}

// NewCanvasScreen wires a screen. Nothing is loaded until Mount.
func NewCanvasScreen(opts CanvasScreenOptions) (*CanvasScreen, error) {
	if opts.Session == nil {
		return nil, errors.New("canvas screen: session feed is required")
	}
	if opts.Surface == nil {
		return nil, errors.New("canvas screen: surface is required")
	}
	if opts.WebOrigin == "" {
		return nil, errors.New("canvas screen: web origin is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	base := logger.With("screen_id", id)
	logger = base.With("component", "canvas_screen")

	s := &CanvasScreen{
		id:           id,
		session:      opts.Session,
		surface:      opts.Surface,
		logger:       logger,
		webOrigin:    opts.WebOrigin,
		bridgePath:   firstNonEmpty(opts.BridgePath, bridge.DefaultBridgePath),
		projectPath:  firstNonEmpty(opts.ProjectPath, bridge.DefaultProjectPath),
		debug:        opts.Debug,
		requestDelay: durationOr(opts.BootstrapRequestDelay, DefaultBootstrapRequestDelay),
		onSignedOut:  opts.OnSignedOut,
		projectID:    opts.ProjectID,
	}

	messenger, err := NewBridgeMessenger(BridgeMessengerOptions{
		Source:          opts.Session,
		Surface:         opts.Surface,
		Clock:           opts.Clock,
		Logger:          base.With("component", "bridge_messenger"),
		Metrics:         opts.Metrics,
		MaxAttempts:     opts.MaxAttempts,
		RetryBase:       opts.RetryBase,
		CoalesceWindow:  opts.CoalesceWindow,
		DeliveryTimeout: opts.DeliveryTimeout,
		OnGiveUp:        s.onGiveUp,
	})
	if err != nil {
		return nil, err
	}
	lifecycle, err := NewLifecycleController(LifecycleOptions{
		Surface:            opts.Surface,
		Messenger:          messenger,
		Clock:              opts.Clock,
		Logger:             base.With("component", "lifecycle"),
		Metrics:            opts.Metrics,
		BridgePath:         s.bridgePath,
		ProjectPath:        opts.ProjectPath,
		EarlyClearDelay:    opts.EarlyClearDelay,
		LoadEndResendDelay: opts.LoadEndResendDelay,
		StaggeredResends:   opts.StaggeredResends,
		LoadTimeout:        opts.LoadTimeout,
		OnChange:           opts.OnChange,
	})
	if err != nil {
		messenger.Close()
		return nil, err
	}
	router, err := NewRouter(RouterOptions{
		Messenger: messenger,
		Lifecycle: lifecycle,
		Debug:     opts.Debug,
		Logger:    base.With("component", "router"),
		Metrics:   opts.Metrics,
	})
	if err != nil {
		messenger.Close()
		lifecycle.Close()
		return nil, err
	}

	s.messenger = messenger
	s.lifecycle = lifecycle
	s.router = router
	return s, nil
}

// ID identifies the screen in logs.
func (s *CanvasScreen) ID() string { return s.id }

// Mount subscribes to the session store and loads the bridge page for the current project.
func (s *CanvasScreen) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.unsubscribe == nil {
		s.unsubscribe = s.session.Subscribe(s.onSession)
	}
	projectID := s.projectID
	s.mu.Unlock()

	return s.load(ctx, projectID)
}

// SetProject switches the screen to another project. The handshake starts over.
func (s *CanvasScreen) SetProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	if projectID == s.projectID {
		s.mu.Unlock()
		return nil
	}
	s.projectID = projectID
	s.mu.Unlock()

	s.messenger.Reset()
	return s.load(ctx, projectID)
}

func (s *CanvasScreen) load(ctx context.Context, projectID string) error {
	target, err := bridge.ImportSessionURL(s.webOrigin, s.bridgePath, s.projectPath, projectID)
	if err != nil {
		s.lifecycle.SetError(MsgLoadFailed)
		return fmt.Errorf("build bridge url: %w", err)
	}
	script, err := bridge.BootstrapScript(bridge.BootstrapOptions{
		ProjectID:    projectID,
		Debug:        s.debug,
		RequestDelay: s.requestDelay,
	})
	if err != nil {
		return fmt.Errorf("render bootstrap: %w", err)
	}

	s.lifecycle.BeginNavigation(target)
	if err := s.surface.Load(ctx, target, script); err != nil {
		s.lifecycle.OnError(err.Error())
		return fmt.Errorf("load canvas: %w", err)
	}
	s.logger.Info("canvas mounted", "project_id", projectID, "url", redactURL(target))
	return nil
}

// Route forwards a raw message posted by the document.
func (s *CanvasScreen) Route(raw string) { s.router.Route(raw) }

// OnLoadStart forwards a surface navigation start.
func (s *CanvasScreen) OnLoadStart(rawURL string) { s.lifecycle.OnLoadStart(rawURL) }

// OnLoadEnd forwards a surface navigation end.
func (s *CanvasScreen) OnLoadEnd(rawURL string) { s.lifecycle.OnLoadEnd(rawURL) }

// OnNavigationStateChange forwards an in-document navigation.
func (s *CanvasScreen) OnNavigationStateChange(rawURL string, loading bool) {
	s.lifecycle.OnNavigationStateChange(rawURL, loading)
}

// OnError forwards a navigation failure.
func (s *CanvasScreen) OnError(description string) { s.lifecycle.OnError(description) }

// OnHTTPError forwards an HTTP error for the main document.
func (s *CanvasScreen) OnHTTPError(status int, rawURL string) {
	s.lifecycle.OnHTTPError(status, rawURL)
}

// Retry is the user-facing retry action.
func (s *CanvasScreen) Retry(ctx context.Context) error { return s.lifecycle.Retry(ctx) }

// State returns what the UI should render.
func (s *CanvasScreen) State() LifecycleState { return s.lifecycle.State() }

// Handshake returns the bridge handshake view.
func (s *CanvasScreen) Handshake() BridgeSnapshot { return s.messenger.Snapshot() }

// Close unsubscribes from the session store and cancels every timer.
func (s *CanvasScreen) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		unsub := s.unsubscribe
		s.unsubscribe = nil
		s.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		s.messenger.Close()
		s.lifecycle.Close()
		s.logger.Debug("canvas screen closed")
	})
}

func (s *CanvasScreen) onSession(sess *domainauth.Session) {
	if sess == nil {
		s.logger.Info("identity signed out; leaving canvas")
		s.messenger.Reset()
		if s.onSignedOut != nil {
			s.onSignedOut()
		}
		return
	}
	snap := s.messenger.Snapshot()
	if snap.WebReady || snap.SessionDelivered {
		s.messenger.RequestSession(bridge.ReasonForced, true)
	}
}

func (s *CanvasScreen) onGiveUp(err error) {
	s.logger.Error("session delivery gave up", "error", err)
	// nil only while NewCanvasScreen is still wiring.
	if s.lifecycle != nil {
		s.lifecycle.SetError(MsgBridgeAuthFailed)
	}
}
