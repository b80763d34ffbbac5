package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/target/canvas-bridge/internal/core"
	domainauth "github.com/target/canvas-bridge/internal/domain/auth"
	apperrors "github.com/target/canvas-bridge/internal/errors"
	"github.com/target/canvas-bridge/internal/ports"
)

// SessionStoreOptions groups dependencies for SessionStore.
type SessionStoreOptions struct {
	Provider ports.AuthProvider
	Logger   *slog.Logger
}

// SessionStore is the process-wide cache of the current identity session.
//
// It is constructed once at bootstrap and shared by reference. It listens to the
// provider's change stream for the lifetime of the process and re-publishes every
// transition to local subscribers, in a single total order.
type SessionStore struct {
	provider ports.AuthProvider
	logger   *slog.Logger

	initOnce sync.Once
	initDone chan struct{}

	mu           sync.Mutex
	current      *domainauth.Session
	lastSubject  string
	hasPublished bool
	ready        bool
	publishing   bool
	// restoring holds publishes while the provider restore runs; the provider emits
	// INITIAL_SESSION from inside RestoreSession, before initDone is closed.
	restoring bool
	pending      []*domainauth.Session

	changes   core.Subject[*domainauth.Session]
	readySubs core.Subject[struct{}]
}

var errProviderRequired = errors.New("session store: provider is required")

// NewSessionStore constructs the store and attaches it to the provider's change stream.
func NewSessionStore(opts SessionStoreOptions) (*SessionStore, error) {
	if opts.Provider == nil {
		return nil, errProviderRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "session_store")
	}

	s := &SessionStore{
		provider: opts.Provider,
		logger:   logger,
		initDone: make(chan struct{}),
	}
	// Never unsubscribed: the store lives as long as the process.
	opts.Provider.OnAuthStateChange(s.onProviderEvent)
	return s, nil
}

// EnsureInitialized performs the one restore attempt of the process lifetime. Concurrent and
// later callers all wait on that same attempt. A failed restore leaves the store signed out
// and is not reported as an error. The only error is ctx expiring first.
func (s *SessionStore) EnsureInitialized(ctx context.Context) error {
	s.initOnce.Do(func() {
		go s.restore()
	})
	select {
	case <-s.initDone:
		return nil
	case <-ctx.Done():
		return apperrors.FromContext(ctx.Err(), apperrors.ErrCodeTimeout, "wait for session restore")
	}
}

func (s *SessionStore) restore() {
	s.mu.Lock()
	s.restoring = true
	s.mu.Unlock()

	sess, err := s.provider.RestoreSession(context.Background())
	if err != nil {
		s.logger.Warn("session restore failed, continuing signed out",
			"error", apperrors.SessionRestoreFailed(err))
		sess = nil
	}
	if sess != nil && !sess.Valid() {
		s.logger.Warn("restored session is incomplete, continuing signed out")
		sess = nil
	}

	// Closed before notifying so that subscribers calling EnsureInitialized return immediately.
	close(s.initDone)

	s.mu.Lock()
	s.restoring = false
	s.mu.Unlock()

	s.applyRestored(sess)
	// Transitions held during the restore, including a superseding one.
	s.drain()
	s.markReady()
}

// applyRestored publishes the restore result unless a transition was already published while
// the restore was running; that transition is newer and wins.
func (s *SessionStore) applyRestored(sess *domainauth.Session) {
	s.mu.Lock()
	if s.hasPublished {
		if sess != nil && s.current != nil && s.current.UserID == sess.UserID {
			s.current = cloneSession(sess)
		}
		s.mu.Unlock()
		s.logger.Debug("restore result superseded by provider event")
		return
	}
	s.setLocked(sess)
	s.enqueueLocked(sess)
	s.mu.Unlock()

	s.logger.Debug("initial session", "origin", "restore", "user_id", subjectOf(sess))
	s.drain()
}

// Initialized reports whether the restore attempt has completed.
func (s *SessionStore) Initialized() bool {
	select {
	case <-s.initDone:
		return true
	default:
		return false
	}
}

// Ready reports whether readiness has been published.
func (s *SessionStore) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *SessionStore) markReady() {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return
	}
	s.ready = true
	s.mu.Unlock()
	s.logger.Debug("session store ready")
	s.readySubs.Publish(struct{}{})
}

// Current returns a snapshot of the current session, or nil when signed out.
func (s *SessionStore) Current() *domainauth.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSession(s.current)
}

// Subscribe registers fn for every published identity transition.
// The returned func must be called when the subscriber goes away.
func (s *SessionStore) Subscribe(fn func(*domainauth.Session)) (unsubscribe func()) {
	return s.changes.Subscribe(fn)
}

// SubscribeReady registers fn to run once when the store becomes ready.
// If it already is, fn runs immediately.
func (s *SessionStore) SubscribeReady(fn func()) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		fn()
		return func() {}
	}
	unsub := s.readySubs.Subscribe(func(struct{}) { fn() })
	s.mu.Unlock()
	return unsub
}

// SignOut clears the local identity and notifies subscribers before contacting the provider.
// A remote failure is returned, but the local state stays cleared.
func (s *SessionStore) SignOut(ctx context.Context) error {
	s.mu.Lock()
	s.setLocked(nil)
	s.enqueueLocked(nil)
	s.mu.Unlock()
	s.drain()

	if err := s.provider.SignOut(ctx); err != nil {
		s.logger.WarnContext(ctx, "remote sign out failed; local session already cleared", "error", err)
		return fmt.Errorf("remote sign out: %w", err)
	}
	return nil
}

// Credentials returns a usable credential pair for the current session.
func (s *SessionStore) Credentials(ctx context.Context) (domainauth.Credentials, error) {
	if err := s.EnsureInitialized(ctx); err != nil {
		return domainauth.Credentials{}, err
	}
	if s.Current() == nil {
		return domainauth.Credentials{}, apperrors.NotFound("no current session")
	}
	creds, err := s.provider.CurrentCredentials(ctx)
	if err != nil {
		return domainauth.Credentials{}, fmt.Errorf("current credentials: %w", err)
	}
	if !creds.Complete() {
		return domainauth.Credentials{}, apperrors.NotFound("current session has no credentials")
	}
	return creds, nil
}

func (s *SessionStore) onProviderEvent(ev domainauth.ChangeEvent) {
	if ev.Session != nil && !ev.Session.Valid() {
		s.logger.Warn("dropping incomplete session from provider", "event", ev.Kind)
		return
	}

	switch ev.Kind {
	case domainauth.EventInitialSession:
		s.applyInitial(ev.Session, "provider")
		return
	case domainauth.EventSignedOut:
		s.mu.Lock()
		if s.hasPublished && s.current == nil {
			s.mu.Unlock()
			s.logger.Debug("suppressing sign out; already signed out")
			return
		}
		s.setLocked(nil)
		s.enqueueLocked(nil)
		s.mu.Unlock()
	case domainauth.EventSignedIn, domainauth.EventTokenRefreshed:
		s.mu.Lock()
		s.setLocked(ev.Session)
		s.enqueueLocked(ev.Session)
		s.mu.Unlock()
	default:
		s.logger.Warn("ignoring unknown auth event", "event", ev.Kind)
		return
	}
	s.logger.Debug("identity transition", "event", ev.Kind, "user_id", ev.SubjectID())
	s.drain()
}

// applyInitial publishes an initial-session transition unless the same subject was the last
// one published: the restore result and the provider's own INITIAL_SESSION event describe the
// same transition and must notify once.
func (s *SessionStore) applyInitial(sess *domainauth.Session, origin string) {
	subject := subjectOf(sess)

	s.mu.Lock()
	if s.hasPublished && s.lastSubject == subject {
		if sess != nil {
			// Same principal, possibly fresher credentials.
			s.current = cloneSession(sess)
		}
		s.mu.Unlock()
		s.logger.Debug("suppressing duplicate initial session", "origin", origin, "user_id", subject)
		return
	}
	s.setLocked(sess)
	s.enqueueLocked(sess)
	s.mu.Unlock()

	s.logger.Debug("initial session", "origin", origin, "user_id", subject)
	s.drain()
}

func (s *SessionStore) setLocked(sess *domainauth.Session) {
	s.current = cloneSession(sess)
	s.hasPublished = true
	s.lastSubject = subjectOf(sess)
}

func subjectOf(sess *domainauth.Session) string {
	if sess == nil {
		return ""
	}
	return sess.UserID
}

func (s *SessionStore) enqueueLocked(sess *domainauth.Session) {
	s.pending = append(s.pending, cloneSession(sess))
}

// drain notifies subscribers of queued transitions. Nothing is delivered while the restore
// runs; restore drains once initDone is closed. Only one goroutine drains at a time,
// so subscribers observe transitions in the order they were applied; a publish triggered
// from inside a callback is delivered after the current one completes.
func (s *SessionStore) drain() {
	s.mu.Lock()
	if s.publishing || s.restoring {
		s.mu.Unlock()
		return
	}
	s.publishing = true
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		s.changes.Publish(next)
		s.mu.Lock()
	}
	s.publishing = false
	s.mu.Unlock()
}

func cloneSession(sess *domainauth.Session) *domainauth.Session {
	if sess == nil {
		return nil
	}
	cp := *sess
	return &cp
}
