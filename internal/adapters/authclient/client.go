package authclient

// Package authclient implements ports.AuthProvider on top of an IdentityProvider and a
// device-local CredentialStore. It owns the persisted session and emits every identity
// transition on its change stream.

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/target/canvas-bridge/internal/core"
	domainauth "github.com/target/canvas-bridge/internal/domain/auth"
	apperrors "github.com/target/canvas-bridge/internal/errors"
	"github.com/target/canvas-bridge/internal/ports"
)

var _ ports.AuthProvider = (*Client)(nil)

// Defaults for Options.
const (
	DefaultRemoteTimeout = 15 * time.Second
	DefaultRefreshMargin = 60 * time.Second
	DefaultPendingTTL    = 10 * time.Minute
	DefaultSessionKey    = "session"
	DefaultPendingKey    = "pending_login"
)

// Options configures Client.
type Options struct {
	IdP    ports.IdentityProvider
	Store  ports.CredentialStore
	Clock  core.Clock
	Logger *slog.Logger

	RemoteTimeout time.Duration
	RefreshMargin time.Duration
	// PendingTTL bounds how long a started sign-in may take before its verifier is discarded.
	PendingTTL time.Duration
	SessionKey string
	PendingKey string
}

// pendingLogin is what must survive between BeginSignIn and the redirect.
type pendingLogin struct {
	State       string    `json:"state"`
	Nonce       string    `json:"nonce"`
	Verifier    string    `json:"verifier"`
	RedirectURL string    `json:"redirect_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Client is the remote auth backend as seen by the session layer.
type Client struct {
	idp        ports.IdentityProvider
	store      ports.CredentialStore
	clock      core.Clock
	logger     *slog.Logger
	timeout    time.Duration
	margin     time.Duration
	pendingTTL time.Duration
	sessionKey string
	pendingKey string

	refreshes singleflight.Group
	events    core.Subject[domainauth.ChangeEvent]

	mu      sync.Mutex
	current *domainauth.Session
	gen     uint64 // bumped whenever the session is replaced or cleared
}

// New constructs a Client. It starts signed out until RestoreSession runs.
func New(opts Options) (*Client, error) {
	if opts.IdP == nil {
		return nil, errors.New("auth client: identity provider is required")
	}
	if opts.Store == nil {
		return nil, errors.New("auth client: credential store is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = core.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "auth_client")
	}
	return &Client{
		idp:        opts.IdP,
		store:      opts.Store,
		clock:      clock,
		logger:     logger,
		timeout:    positiveOr(opts.RemoteTimeout, DefaultRemoteTimeout),
		margin:     positiveOr(opts.RefreshMargin, DefaultRefreshMargin),
		pendingTTL: positiveOr(opts.PendingTTL, DefaultPendingTTL),
		sessionKey: stringOr(opts.SessionKey, DefaultSessionKey),
		pendingKey: stringOr(opts.PendingKey, DefaultPendingKey),
	}, nil
}

// OnAuthStateChange registers fn for every change event.
func (c *Client) OnAuthStateChange(fn func(domainauth.ChangeEvent)) (unsubscribe func()) {
	return c.events.Subscribe(fn)
}

// BeginSignIn starts a PKCE sign-in and persists the verifier until the redirect returns.
func (c *Client) BeginSignIn(ctx context.Context, redirectURL string) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.idp.Begin(rctx, ports.BeginInput{RedirectURL: redirectURL})
	if err != nil {
		return "", apperrors.FromContext(err, apperrors.ErrCodeInternal, "begin sign in")
	}
	pending := pendingLogin{
		State:       res.State,
		Nonce:       res.Nonce,
		Verifier:    res.Verifier,
		RedirectURL: redirectURL,
		CreatedAt:   c.clock.Now(),
	}
	if err := c.putJSON(ctx, c.pendingKey, pending); err != nil {
		return "", fmt.Errorf("persist pending sign in: %w", err)
	}
	return res.AuthURL, nil
}

// RestoreSession loads the persisted session, refreshing it if it is about to expire, and
// emits INITIAL_SESSION with the result. A refresh failure keeps the persisted copy so a
// later launch can try again.
func (c *Client) RestoreSession(ctx context.Context) (*domainauth.Session, error) {
	c.mu.Lock()
	startGen := c.gen
	c.mu.Unlock()

	var stored domainauth.Session
	found, err := c.getJSON(ctx, c.sessionKey, &stored)
	switch {
	case errors.Is(err, errUndecodable):
		c.logger.WarnContext(ctx, "discarding unreadable persisted session", "error", err)
		_ = c.store.Delete(ctx, c.sessionKey)
		return c.finishRestore(startGen, nil, apperrors.SessionRestoreFailed(err))
	case err != nil:
		// The backend may recover; the persisted copy stays for the next launch.
		c.logger.WarnContext(ctx, "credential store unavailable during restore", "error", err)
		return c.finishRestore(startGen, nil, apperrors.SessionRestoreFailed(err))
	case !found || !stored.Valid():
		return c.finishRestore(startGen, nil, nil)
	}

	sess := &stored
	if stored.Credentials.ExpiresWithin(c.clock.Now(), c.margin) {
		refreshed, err := c.refresh(ctx, stored, true)
		if err != nil {
			return c.finishRestore(startGen, nil, apperrors.SessionRestoreFailed(err))
		}
		sess = refreshed
	}
	return c.finishRestore(startGen, sess, nil)
}

// finishRestore installs the restored session and emits INITIAL_SESSION, unless a sign-in
// or sign-out happened while restoring; then the newer state stands.
func (c *Client) finishRestore(startGen uint64, sess *domainauth.Session, restoreErr error) (*domainauth.Session, error) {
	c.mu.Lock()
	if c.gen != startGen {
		cur := cloneSession(c.current)
		c.mu.Unlock()
		return cur, nil
	}
	c.current = cloneSession(sess)
	c.mu.Unlock()

	c.emitInitial(sess)
	return cloneSession(sess), restoreErr
}

// ExchangeCode completes the pending sign-in with an authorization code. A redirect whose
// state does not match is rejected without consuming the pending sign-in.
func (c *Client) ExchangeCode(ctx context.Context, code, state string) (*domainauth.Session, error) {
	if code == "" {
		return nil, apperrors.ValidationField("code", "authorization code is required")
	}
	var pending pendingLogin
	found, err := c.getJSON(ctx, c.pendingKey, &pending)
	if err != nil {
		return nil, fmt.Errorf("load pending sign in: %w", err)
	}
	if !found {
		return nil, apperrors.Validation("no sign in is pending")
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(pending.State)) != 1 {
		c.logger.WarnContext(ctx, "redirect state does not match pending sign in")
		return nil, apperrors.ValidationField("state", "redirect state does not match the pending sign in")
	}
	// The verifier is single-use whatever the outcome.
	if err := c.store.Delete(ctx, c.pendingKey); err != nil {
		c.logger.WarnContext(ctx, "failed to clear pending sign in", "error", err)
	}
	if c.clock.Now().Sub(pending.CreatedAt) > c.pendingTTL {
		return nil, apperrors.Validation("pending sign in expired")
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	grant, err := c.idp.Exchange(rctx, ports.ExchangeInput{
		Code:        code,
		Nonce:       pending.Nonce,
		Verifier:    pending.Verifier,
		RedirectURL: pending.RedirectURL,
	})
	if err != nil {
		return nil, apperrors.FromContext(err, apperrors.ErrCodeInternal, "exchange authorization code")
	}
	return c.install(ctx, domainauth.NewSession(grant.Identity, grant.Credentials), domainauth.EventSignedIn)
}

// SetSession installs an externally obtained pair after resolving who owns it.
func (c *Client) SetSession(ctx context.Context, creds domainauth.Credentials) (*domainauth.Session, error) {
	if !creds.Complete() {
		return nil, apperrors.Validation("credentials must include access and refresh tokens")
	}
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	id, err := c.idp.UserInfo(rctx, creds.AccessToken)
	if err != nil {
		return nil, apperrors.FromContext(err, apperrors.ErrCodeInternal, "resolve identity")
	}
	return c.install(ctx, domainauth.NewSession(id, creds), domainauth.EventSignedIn)
}

// CurrentCredentials returns the current pair, refreshing first if it is about to expire.
func (c *Client) CurrentCredentials(ctx context.Context) (domainauth.Credentials, error) {
	c.mu.Lock()
	cur := cloneSession(c.current)
	c.mu.Unlock()
	if cur == nil {
		return domainauth.Credentials{}, apperrors.NotFound("no current session")
	}
	if !cur.Credentials.ExpiresWithin(c.clock.Now(), c.margin) {
		return cur.Credentials, nil
	}
	refreshed, err := c.refresh(ctx, *cur, false)
	if err != nil {
		return domainauth.Credentials{}, err
	}
	return refreshed.Credentials, nil
}

// SignOut forgets the session locally and emits SIGNED_OUT. There is no remote revocation;
// a failure to clear the persisted copy is returned.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.current = nil
	c.gen++
	c.mu.Unlock()
	c.events.Publish(domainauth.ChangeEvent{Kind: domainauth.EventSignedOut})

	if err := c.store.Delete(ctx, c.sessionKey); err != nil {
		return fmt.Errorf("delete persisted session: %w", err)
	}
	return nil
}

// refresh trades the refresh token of sess for a new pair. Concurrent callers share one
// remote call. The result is dropped if the session changed meanwhile.
func (c *Client) refresh(ctx context.Context, sess domainauth.Session, restoring bool) (*domainauth.Session, error) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	ch := c.refreshes.DoChan(sess.Credentials.RefreshToken, func() (any, error) {
		// Shared by every waiter, so not bound to one caller's context.
		rctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		grant, err := c.idp.Refresh(rctx, sess.Credentials.RefreshToken)
		if err != nil {
			return nil, apperrors.FromContext(err, apperrors.ErrCodeInternal, "refresh session")
		}
		next := domainauth.NewSession(sess.Identity(), grant.Credentials)
		if grant.Identity.UserID != "" {
			next = domainauth.NewSession(grant.Identity, grant.Credentials)
		}
		if !next.Valid() {
			return nil, apperrors.Internal("refresh returned incomplete credentials")
		}
		return c.installRefreshed(gen, next, restoring)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneSession(res.Val.(*domainauth.Session)), nil
	case <-ctx.Done():
		return nil, apperrors.FromContext(ctx.Err(), apperrors.ErrCodeTimeout, "refresh session")
	}
}

func (c *Client) installRefreshed(gen uint64, next domainauth.Session, restoring bool) (*domainauth.Session, error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil, apperrors.Internal("session changed during refresh")
	}
	c.current = cloneSession(&next)
	c.mu.Unlock()

	c.persist(context.Background(), next)
	// During restore the caller announces the session as INITIAL_SESSION.
	if !restoring {
		c.events.Publish(domainauth.ChangeEvent{Kind: domainauth.EventTokenRefreshed, Session: cloneSession(&next)})
	}
	return &next, nil
}

func (c *Client) install(ctx context.Context, sess domainauth.Session, kind domainauth.EventKind) (*domainauth.Session, error) {
	if !sess.Valid() {
		return nil, apperrors.Internal("provider returned an incomplete session")
	}
	c.mu.Lock()
	c.current = cloneSession(&sess)
	c.gen++
	c.mu.Unlock()

	c.persist(ctx, sess)
	c.events.Publish(domainauth.ChangeEvent{Kind: kind, Session: cloneSession(&sess)})
	return cloneSession(&sess), nil
}

// persist writes sess to the store. A write failure leaves the session usable for this
// process only.
func (c *Client) persist(ctx context.Context, sess domainauth.Session) {
	if err := c.putJSON(ctx, c.sessionKey, sess); err != nil {
		c.logger.WarnContext(ctx, "session not persisted; it will not survive a restart", "error", err)
	}
}

func (c *Client) emitInitial(sess *domainauth.Session) {
	c.events.Publish(domainauth.ChangeEvent{Kind: domainauth.EventInitialSession, Session: cloneSession(sess)})
}

func (c *Client) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return c.store.Set(ctx, key, data)
}

// errUndecodable marks a stored value that exists but cannot be decoded.
var errUndecodable = errors.New("undecodable stored value")

func (c *Client) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.store.Get(ctx, key)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w: %w", key, errUndecodable, err)
	}
	return true, nil
}

func cloneSession(s *domainauth.Session) *domainauth.Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func positiveOr(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func stringOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
