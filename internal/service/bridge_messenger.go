package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/canvas-bridge/internal/core"
	domainauth "github.com/target/canvas-bridge/internal/domain/auth"
	"github.com/target/canvas-bridge/internal/domain/bridge"
	apperrors "github.com/target/canvas-bridge/internal/errors"
	"github.com/target/canvas-bridge/internal/observability/metrics"
	"github.com/target/canvas-bridge/internal/ports"
)

const (
	// DefaultRetryBase is multiplied by the attempt number to get the retry delay.
	DefaultRetryBase = time.Second
	// DefaultCoalesceWindow absorbs forced requests that arrive right after a delivery.
	DefaultCoalesceWindow = 500 * time.Millisecond
)

// SessionSource supplies the credential pair to deliver. SessionStore implements it.
type SessionSource interface {
	Credentials(ctx context.Context) (domainauth.Credentials, error)
}

// BridgeMessengerOptions groups dependencies for BridgeMessenger.
type BridgeMessengerOptions struct {
	Source  SessionSource
	Surface ports.Surface
	Clock   core.Clock
	Logger  *slog.Logger
	Metrics *metrics.Recorder

	MaxAttempts     int           // defaults to bridge.DefaultMaxAttempts
	RetryBase       time.Duration // defaults to DefaultRetryBase
	CoalesceWindow  time.Duration // defaults to DefaultCoalesceWindow; negative disables
	DeliveryTimeout time.Duration // bounds one attempt; defaults to DefaultRemoteTimeout

	// OnGiveUp is called, outside any lock, when the attempt ceiling is reached.
	OnGiveUp func(err error)
}

// BridgeSnapshot is a read-only view of the handshake.
type BridgeSnapshot struct {
	State            bridge.State
	Attempts         int
	Reason           string
	WebReady         bool
	SessionDelivered bool
	DeliveryQueued   bool
}

// BridgeMessenger delivers the current session into the embedded document. It drives a
// bridge.Handshake, performs the credential fetch and script injection outside its lock,
// and owns the retry timer.
//
// RequestSession runs the attempt on the calling goroutine; retries run on timer goroutines.
type BridgeMessenger struct {
	source   SessionSource
	surface  ports.Surface
	clock    core.Clock
	timers   *core.TimerSet
	logger   *slog.Logger
	metrics  *metrics.Recorder
	onGiveUp func(error)

	retryBase       time.Duration
	coalesce        time.Duration
	deliveryTimeout time.Duration

	mu          sync.Mutex
	hs          bridge.Handshake
	generation  uint64
	cancelRetry func()
	closed      bool
}

// NewBridgeMessenger constructs a messenger in the idle state.
func NewBridgeMessenger(opts BridgeMessengerOptions) (*BridgeMessenger, error) {
	if opts.Source == nil {
		return nil, errors.New("bridge messenger: session source is required")
	}
	if opts.Surface == nil {
		return nil, errors.New("bridge messenger: surface is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = core.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "bridge_messenger")
	}
	retryBase := opts.RetryBase
	if retryBase <= 0 {
		retryBase = DefaultRetryBase
	}
	coalesce := opts.CoalesceWindow
	if coalesce == 0 {
		coalesce = DefaultCoalesceWindow
	}
	timeout := opts.DeliveryTimeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}

	return &BridgeMessenger{
		source:          opts.Source,
		surface:         opts.Surface,
		clock:           clock,
		timers:          core.NewTimerSet(clock),
		logger:          logger,
		metrics:         opts.Metrics,
		onGiveUp:        opts.OnGiveUp,
		retryBase:       retryBase,
		coalesce:        coalesce,
		deliveryTimeout: timeout,
		hs:              bridge.NewHandshake(opts.MaxAttempts),
	}, nil
}

// RequestSession asks for a delivery. Without force, a request after delivery is ignored.
// It reports whether an attempt was started.
func (m *BridgeMessenger) RequestSession(reason bridge.Reason, force bool) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	started := m.hs.Request(bridge.RequestInput{
		Reason:         reason,
		Force:          force,
		Now:            m.clock.Now(),
		CoalesceWindow: m.coalesce,
	})
	if !started {
		state := m.hs.State()
		m.mu.Unlock()
		m.logger.Debug("session request absorbed", "reason", string(reason), "force", force, "state", state)
		return false
	}
	gen := m.generation
	m.logTransitionLocked("request")
	m.mu.Unlock()

	m.deliver(gen)
	return true
}

// MarkWebReady records that the document asked for a session on its own.
func (m *BridgeMessenger) MarkWebReady() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hs.MarkWebReady()
}

// Acknowledge records the document's confirmation. It wins over any state and cancels a pending retry.
func (m *BridgeMessenger) Acknowledge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.stopRetryLocked()
	m.hs.Acknowledge(m.clock.Now())
	// An attempt still in flight must not overwrite the acknowledgment.
	m.generation++
	m.logTransitionLocked("acknowledged")
}

// Reset returns the handshake to idle and cancels a pending retry. Used when the user
// retries after a terminal error or the screen switches projects.
func (m *BridgeMessenger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRetryLocked()
	m.hs.Reset()
	m.generation++
	m.logTransitionLocked("reset")
}

// Snapshot returns the current handshake view.
func (m *BridgeMessenger) Snapshot() BridgeSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return BridgeSnapshot{
		State:            m.hs.State(),
		Attempts:         m.hs.Attempts(),
		Reason:           m.hs.ReasonTag(),
		WebReady:         m.hs.WebReady(),
		SessionDelivered: m.hs.SessionDelivered(),
		DeliveryQueued:   m.hs.DeliveryQueued(),
	}
}

// Close cancels every timer. Later requests are ignored.
func (m *BridgeMessenger) Close() {
	m.mu.Lock()
	m.closed = true
	m.cancelRetry = nil
	m.mu.Unlock()
	m.timers.Close()
}

func (m *BridgeMessenger) deliver(gen uint64) {
	deliveryID := uuid.NewString()
	start := m.clock.Now()

	m.mu.Lock()
	attempt := m.hs.Attempts() + 1
	m.mu.Unlock()

	err := m.inject(deliveryID)
	m.metrics.BridgeDelivery(attempt, m.clock.Now().Sub(start), err)

	m.mu.Lock()
	if m.closed || gen != m.generation || m.hs.State() != bridge.StateQueued {
		m.mu.Unlock()
		m.logger.Debug("discarding stale delivery result", "delivery_id", deliveryID)
		return
	}

	if err == nil {
		m.hs.Succeed(m.clock.Now())
		m.logTransitionLocked("delivered", "delivery_id", deliveryID)
		m.mu.Unlock()
		return
	}

	res, _ := m.hs.Fail(m.retryBase)
	failure := apperrors.BridgeDeliveryFailed(res.Attempt, err)
	if res.GaveUp {
		m.logTransitionLocked("gave_up", "delivery_id", deliveryID, "error", err)
		onGiveUp := m.onGiveUp
		m.mu.Unlock()
		if onGiveUp != nil {
			onGiveUp(failure)
		}
		return
	}

	m.logTransitionLocked("failed", "delivery_id", deliveryID, "error", err, "retry_in", res.RetryAfter)
	m.cancelRetry = m.timers.After(res.RetryAfter, func() { m.retry(gen) })
	m.mu.Unlock()
}

func (m *BridgeMessenger) inject(deliveryID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.deliveryTimeout)
	defer cancel()

	creds, err := m.source.Credentials(ctx)
	if err != nil {
		return err
	}
	script, err := bridge.DeliveryScript(creds)
	if err != nil {
		return err
	}
	m.logger.Debug("injecting session", "delivery_id", deliveryID)
	return m.surface.InjectJavaScript(ctx, script)
}

func (m *BridgeMessenger) retry(gen uint64) {
	m.mu.Lock()
	m.cancelRetry = nil
	if m.closed || gen != m.generation || !m.hs.Retry() {
		m.mu.Unlock()
		return
	}
	m.logTransitionLocked("retry")
	m.mu.Unlock()

	m.deliver(gen)
}

func (m *BridgeMessenger) stopRetryLocked() {
	if m.cancelRetry != nil {
		m.cancelRetry()
		m.cancelRetry = nil
	}
}

func (m *BridgeMessenger) logTransitionLocked(transition string, attrs ...any) {
	reason := m.hs.ReasonTag()
	m.metrics.BridgeTransition(string(m.hs.State()), reason)
	base := []any{
		"transition", transition,
		"reason", reason,
		"attempt", m.hs.Attempts(),
		"state", string(m.hs.State()),
	}
	m.logger.Info("bridge transition", append(base, attrs...)...)
}
