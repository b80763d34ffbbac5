package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/target/canvas-bridge/internal/core"
	apperrors "github.com/target/canvas-bridge/internal/errors"
)

// DefaultStartupWatchdog is how long startup waits for the session restore before
// moving past the splash screen anyway.
const DefaultStartupWatchdog = 12 * time.Second

// StartupStatus is the outcome of StartupGate.Wait.
type StartupStatus string

const (
	// StartupReady means the session restore finished in time.
	StartupReady StartupStatus = "ready"
	// StartupSlow means the watchdog fired first; the app shows a recoverable
	// "taking longer than expected" state while the restore keeps running.
	StartupSlow StartupStatus = "slow"
)

// Initializer is satisfied by SessionStore.
type Initializer interface {
	EnsureInitialized(ctx context.Context) error
}

// StartupGateOptions groups dependencies for StartupGate.
type StartupGateOptions struct {
	Store    Initializer
	Watchdog time.Duration
	Clock    core.Clock
	Logger   *slog.Logger
	// OnLateReady runs once if the restore completes after the watchdog fired.
	OnLateReady func()
}

// StartupGate bounds how long app startup waits for the session store.
type StartupGate struct {
	store       Initializer
	watchdog    time.Duration
	clock       core.Clock
	logger      *slog.Logger
	onLateReady func()

	once sync.Once
	done chan struct{}
}

// NewStartupGate constructs a StartupGate.
func NewStartupGate(opts StartupGateOptions) (*StartupGate, error) {
	if opts.Store == nil {
		return nil, errors.New("startup gate: store is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = core.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "startup")
	}
	return &StartupGate{
		store:       opts.Store,
		watchdog:    durationOr(opts.Watchdog, DefaultStartupWatchdog),
		clock:       clock,
		logger:      logger,
		onLateReady: opts.OnLateReady,
		done:        make(chan struct{}),
	}, nil
}

// Wait blocks until the store is initialized or the watchdog fires, whichever comes first.
// A restore failure is not an error: the store then reports signed out.
func (g *StartupGate) Wait(ctx context.Context) (StartupStatus, error) {
	g.once.Do(func() {
		go func() {
			if err := g.store.EnsureInitialized(context.Background()); err != nil {
				g.logger.Warn("session store initialization ended with error", "error", err)
			}
			close(g.done)
		}()
	})

	fired := make(chan struct{})
	timer := g.clock.AfterFunc(g.watchdog, func() { close(fired) })
	defer timer.Stop()

	select {
	case <-g.done:
		return StartupReady, nil
	case <-fired:
		g.logger.Warn("session restore is taking longer than expected", "watchdog", g.watchdog)
		if g.onLateReady != nil {
			go func() {
				<-g.done
				g.onLateReady()
			}()
		}
		return StartupSlow, nil
	case <-ctx.Done():
		return "", apperrors.FromContext(ctx.Err(), apperrors.ErrCodeTimeout, "wait for startup")
	}
}

// Done is closed once the store is initialized.
func (g *StartupGate) Done() <-chan struct{} { return g.done }
