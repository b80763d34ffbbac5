package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/target/canvas-bridge/internal/core"
	"github.com/target/canvas-bridge/internal/domain/bridge"
	"github.com/target/canvas-bridge/internal/observability/metrics"
	"github.com/target/canvas-bridge/internal/ports"
)

// Lifecycle timing defaults.
const (
	DefaultEarlyClearDelay    = 200 * time.Millisecond
	DefaultLoadEndResendDelay = 250 * time.Millisecond
	DefaultLoadTimeout        = 30 * time.Second
)

// DefaultStaggeredResends are the forced resends scheduled on arrival at the bridge page.
var DefaultStaggeredResends = []time.Duration{
	700 * time.Millisecond,
	1700 * time.Millisecond,
	3200 * time.Millisecond,
}

// User-facing error texts.
const (
	MsgLoadFailed  = "The canvas failed to load"
	MsgLoadTimeout = "The canvas took too long to load"
)

// SessionRequester is the part of BridgeMessenger the lifecycle controller drives.
type SessionRequester interface {
	RequestSession(reason bridge.Reason, force bool) bool
	Reset()
}

// LifecycleState is what the hosting UI renders: a loading overlay, an error overlay, or the canvas.
type LifecycleState struct {
	Loading bool
	Error   string
	URL     string
}

// LifecycleOptions groups dependencies for LifecycleController.
type LifecycleOptions struct {
	Surface   ports.Surface
	Messenger SessionRequester
	Clock     core.Clock
	Logger    *slog.Logger
	Metrics   *metrics.Recorder

	BridgePath         string
	ProjectPath        string
	EarlyClearDelay    time.Duration
	LoadEndResendDelay time.Duration
	StaggeredResends   []time.Duration
	LoadTimeout        time.Duration // negative disables

	// OnChange receives every state change, outside any lock.
	OnChange func(LifecycleState)
}

// LifecycleController tracks navigation of the embedded surface and decides when the loading
// overlay goes away, when an error is shown, and when to push the session proactively.
type LifecycleController struct {
	surface   ports.Surface
	messenger SessionRequester
	clock     core.Clock
	timers    *core.TimerSet
	logger    *slog.Logger
	metrics   *metrics.Recorder
	onChange  func(LifecycleState)

	bridgePath   string
	projectPath  string
	earlyClear   time.Duration
	loadEndDelay time.Duration
	staggered    []time.Duration
	loadTimeout  time.Duration

	mu               sync.Mutex
	state            LifecycleState
	staggerArmed     bool
	cancelEarlyClear func()
	cancelTimeout    func()
	closed           bool
}

// NewLifecycleController constructs a controller that starts in the loading state.
func NewLifecycleController(opts LifecycleOptions) (*LifecycleController, error) {
	if opts.Surface == nil {
		return nil, errors.New("lifecycle: surface is required")
	}
	if opts.Messenger == nil {
		return nil, errors.New("lifecycle: messenger is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = core.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "lifecycle")
	}

	c := &LifecycleController{
		surface:      opts.Surface,
		messenger:    opts.Messenger,
		clock:        clock,
		timers:       core.NewTimerSet(clock),
		logger:       logger,
		metrics:      opts.Metrics,
		onChange:     opts.OnChange,
		bridgePath:   firstNonEmpty(opts.BridgePath, bridge.DefaultBridgePath),
		projectPath:  firstNonEmpty(opts.ProjectPath, bridge.DefaultProjectPath),
		earlyClear:   durationOr(opts.EarlyClearDelay, DefaultEarlyClearDelay),
		loadEndDelay: durationOr(opts.LoadEndResendDelay, DefaultLoadEndResendDelay),
		staggered:    opts.StaggeredResends,
		loadTimeout:  opts.LoadTimeout,
		state:        LifecycleState{Loading: true},
	}
	if c.staggered == nil {
		c.staggered = DefaultStaggeredResends
	}
	if c.loadTimeout == 0 {
		c.loadTimeout = DefaultLoadTimeout
	}
	return c, nil
}

// State returns the current state.
func (c *LifecycleController) State() LifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnLoadStart handles a navigation start.
func (c *LifecycleController) OnLoadStart(rawURL string) {
	c.update(func() {
		c.state.URL = rawURL
		c.state.Loading = true
		c.armTimeoutLocked()
		c.observePathLocked(rawURL)
	})
}

// BeginNavigation is called when the host itself points the surface at rawURL. Any error
// from a previous document is cleared.
func (c *LifecycleController) BeginNavigation(rawURL string) {
	c.update(func() {
		c.state = LifecycleState{Loading: true, URL: rawURL}
		c.staggerArmed = false
		c.armTimeoutLocked()
		c.observePathLocked(rawURL)
	})
}

// OnNavigationStateChange handles an in-document navigation, including client-side routing.
func (c *LifecycleController) OnNavigationStateChange(rawURL string, loading bool) {
	c.update(func() {
		c.state.URL = rawURL
		if loading && !c.state.Loading && c.state.Error == "" {
			c.state.Loading = true
			c.armTimeoutLocked()
		}
		c.observePathLocked(rawURL)
	})
}

// OnLoadEnd handles a navigation end. The session is pushed again shortly after every load
// end. Pages outside the bridge and project paths have no readiness signal of their own,
// so their loading overlay is cleared here.
func (c *LifecycleController) OnLoadEnd(rawURL string) {
	c.update(func() {
		c.state.URL = rawURL
		bridgePage, projectPage := c.matchLocked(rawURL)
		c.observePathLocked(rawURL)
		if !bridgePage && !projectPage {
			c.clearLoadingLocked()
		}
		c.timers.After(c.loadEndDelay, func() { c.resend(bridge.ReasonLoadEnd, "load_end") })
	})
}

// OnError handles a navigation failure.
func (c *LifecycleController) OnError(description string) {
	msg := MsgLoadFailed
	if d := strings.TrimSpace(description); d != "" {
		msg = MsgLoadFailed + ": " + d
	}
	c.SetError(msg)
}

// OnHTTPError handles an HTTP error status for the main document.
func (c *LifecycleController) OnHTTPError(status int, rawURL string) {
	c.logger.Warn("canvas http error", "status", status, "url", redactURL(rawURL))
	c.SetError(fmt.Sprintf("%s (HTTP %d)", MsgLoadFailed, status))
}

// SetError shows msg and clears loading.
func (c *LifecycleController) SetError(msg string) {
	c.update(func() {
		c.state.Error = msg
		c.clearLoadingLocked()
	})
}

// SetReady clears both loading and error: the document reported it is usable.
func (c *LifecycleController) SetReady() {
	c.update(func() {
		c.state.Error = ""
		c.clearLoadingLocked()
	})
}

// Retry reloads the document, clears the error, shows loading and resets the handshake.
func (c *LifecycleController) Retry(ctx context.Context) error {
	c.update(func() {
		c.state.Error = ""
		c.state.Loading = true
		c.staggerArmed = false
		c.armTimeoutLocked()
	})
	c.messenger.Reset()

	if err := c.surface.Reload(ctx); err != nil {
		c.OnError(err.Error())
		return fmt.Errorf("reload canvas: %w", err)
	}
	return nil
}

// Close cancels every timer.
func (c *LifecycleController) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.timers.Close()
}

// update applies fn under the lock and reports a change to OnChange.
func (c *LifecycleController) update(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	before := c.state
	fn()
	after := c.state
	c.mu.Unlock()

	if before != after && c.onChange != nil {
		c.onChange(after)
	}
}

func (c *LifecycleController) matchLocked(rawURL string) (bridgePage, projectPage bool) {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	return strings.Contains(path, c.bridgePath), strings.Contains(path, c.projectPath)
}

// observePathLocked applies the path heuristics: bridge and project pages clear loading after
// a short delay, and the first arrival on the bridge page schedules staggered resends.
func (c *LifecycleController) observePathLocked(rawURL string) {
	bridgePage, projectPage := c.matchLocked(rawURL)

	if bridgePage || projectPage {
		if c.cancelEarlyClear != nil {
			c.cancelEarlyClear()
		}
		c.cancelEarlyClear = c.timers.After(c.earlyClear, func() {
			c.update(func() {
				c.cancelEarlyClear = nil
				c.clearLoadingLocked()
			})
		})
	}

	if !bridgePage {
		c.staggerArmed = false
		return
	}
	if c.staggerArmed {
		return
	}
	c.staggerArmed = true
	for _, d := range c.staggered {
		c.timers.After(d, func() { c.resend(bridge.ReasonForced, "stagger") })
	}
	c.logger.Debug("bridge page reached; staggered resends armed", "count", len(c.staggered))
}

func (c *LifecycleController) clearLoadingLocked() {
	c.state.Loading = false
	if c.cancelTimeout != nil {
		c.cancelTimeout()
		c.cancelTimeout = nil
	}
}

func (c *LifecycleController) armTimeoutLocked() {
	if c.cancelTimeout != nil {
		c.cancelTimeout()
		c.cancelTimeout = nil
	}
	if c.loadTimeout < 0 {
		return
	}
	c.cancelTimeout = c.timers.After(c.loadTimeout, func() {
		c.update(func() {
			c.cancelTimeout = nil
			if c.state.Loading {
				c.logger.Warn("canvas load timed out", "after", c.loadTimeout)
				c.state.Error = MsgLoadTimeout
				c.state.Loading = false
			}
		})
	})
}

func (c *LifecycleController) resend(reason bridge.Reason, trigger string) {
	c.metrics.Resend(trigger)
	c.messenger.RequestSession(reason, true)
}

// redactURL drops the query and fragment before logging.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func firstNonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
