package ports

// Package ports defines interfaces (hexagonal ports) for auth and bridge behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"

	domainauth "github.com/target/canvas-bridge/internal/domain/auth"
)

// ErrValueTooLarge is returned by CredentialStore.Set when a value exceeds the store's size ceiling.
var ErrValueTooLarge = errors.New("value exceeds storage size ceiling")

// ErrKeyNotFound is returned by CredentialStore.Get for missing keys.
var ErrKeyNotFound = errors.New("key not found")

// BeginInput carries inputs for initiating an auth flow.
type BeginInput struct {
	RedirectURL string
}

// BeginResult is the provider auth URL plus the secrets that must survive until the redirect returns.
type BeginResult struct {
	AuthURL  string
	State    string
	Nonce    string
	Verifier string // PKCE code verifier
}

// ExchangeInput groups parameters for the code/token exchange.
type ExchangeInput struct {
	Code        string
	Nonce       string
	Verifier    string
	RedirectURL string // must match the one passed to Begin
}

// IdentityProvider starts and completes authentication against an IdP and maintains tokens.
type IdentityProvider interface {
	// Begin starts the login flow and returns the provider auth URL with state, nonce and PKCE verifier.
	Begin(ctx context.Context, in BeginInput) (BeginResult, error)

	// Exchange completes the login flow and returns the authenticated identity with its credentials.
	Exchange(ctx context.Context, in ExchangeInput) (domainauth.Grant, error)

	// Refresh trades a refresh credential for a new pair.
	Refresh(ctx context.Context, refreshToken string) (domainauth.Grant, error)

	// UserInfo resolves the identity that owns an access credential.
	UserInfo(ctx context.Context, accessToken string) (domainauth.Identity, error)
}

// CredentialStore is the device-local key-value store that persists credentials.
// Values larger than the store's ceiling are rejected with ErrValueTooLarge.
type CredentialStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// AuthProvider is the remote auth backend as seen by the session layer: it owns the
// persisted credentials and emits every identity transition on its change stream.
type AuthProvider interface {
	// BeginSignIn starts an interactive sign-in and returns the URL to open.
	BeginSignIn(ctx context.Context, redirectURL string) (string, error)

	// RestoreSession loads the persisted session, refreshing it when needed.
	// It returns (nil, nil) when nothing is persisted.
	RestoreSession(ctx context.Context) (*domainauth.Session, error)

	// ExchangeCode completes an authorization-code redirect and installs the resulting session.
	// state is the value the redirect echoed back; it must match the pending sign-in.
	ExchangeCode(ctx context.Context, code, state string) (*domainauth.Session, error)

	// SetSession installs an externally obtained credential pair.
	SetSession(ctx context.Context, creds domainauth.Credentials) (*domainauth.Session, error)

	// CurrentCredentials returns a usable credential pair, refreshing if it is about to expire.
	CurrentCredentials(ctx context.Context) (domainauth.Credentials, error)

	// SignOut discards the persisted session.
	SignOut(ctx context.Context) error

	// OnAuthStateChange registers fn for every change event; the returned func unregisters it.
	OnAuthStateChange(fn func(domainauth.ChangeEvent)) (unsubscribe func())
}
