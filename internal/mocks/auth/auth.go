package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/target/canvas-bridge/internal/core"
	domainauth "github.com/target/canvas-bridge/internal/domain/auth"
	"github.com/target/canvas-bridge/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthProvider     = (*MockAuthProvider)(nil)
	_ ports.IdentityProvider = (*MockIdentityProvider)(nil)
	_ ports.CredentialStore  = (*MemoryCredentialStore)(nil)
)

// DefaultUser is the identity returned by the doubles unless overridden.
var DefaultUser = domainauth.Identity{UserID: "mock-user-1", Email: "mock.user@example.com"}

// MockIdentityProvider simulates an IdP with deterministic state, nonce and verifier values.
type MockIdentityProvider struct {
	BeginFunc    func(ctx context.Context, in ports.BeginInput) (ports.BeginResult, error)
	ExchangeFunc func(ctx context.Context, in ports.ExchangeInput) (domainauth.Grant, error)
	RefreshFunc  func(ctx context.Context, refreshToken string) (domainauth.Grant, error)
	UserInfoFunc func(ctx context.Context, accessToken string) (domainauth.Identity, error)

	AuthURL     string
	DefaultUser domainauth.Identity

	mu        sync.Mutex
	callCount int
}

// NewMockIdentityProvider creates a MockIdentityProvider with sensible defaults.
func NewMockIdentityProvider() *MockIdentityProvider {
	return &MockIdentityProvider{AuthURL: "https://mock-idp/auth", DefaultUser: DefaultUser}
}

func (m *MockIdentityProvider) Begin(ctx context.Context, in ports.BeginInput) (ports.BeginResult, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, in)
	}
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	m.mu.Unlock()

	authURL := m.AuthURL
	if authURL == "" {
		authURL = "https://mock-idp/auth"
	}
	return ports.BeginResult{
		AuthURL:  authURL,
		State:    fmt.Sprintf("state-%d", n),
		Nonce:    fmt.Sprintf("nonce-%d", n),
		Verifier: fmt.Sprintf("verifier-%d", n),
	}, nil
}

func (m *MockIdentityProvider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Grant, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, in)
	}
	if in.Code == "" {
		return domainauth.Grant{}, errors.New("code is required")
	}
	return m.grant("access-"+in.Code, "refresh-"+in.Code), nil
}

func (m *MockIdentityProvider) Refresh(ctx context.Context, refreshToken string) (domainauth.Grant, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return m.grant("access-refreshed", refreshToken+"-next"), nil
}

func (m *MockIdentityProvider) UserInfo(ctx context.Context, accessToken string) (domainauth.Identity, error) {
	if m.UserInfoFunc != nil {
		return m.UserInfoFunc(ctx, accessToken)
	}
	if accessToken == "" {
		return domainauth.Identity{}, errors.New("access token is required")
	}
	return m.user(), nil
}

func (m *MockIdentityProvider) user() domainauth.Identity {
	if m.DefaultUser.UserID == "" {
		return DefaultUser
	}
	return m.DefaultUser
}

func (m *MockIdentityProvider) grant(access, refresh string) domainauth.Grant {
	return domainauth.Grant{
		Identity: m.user(),
		Credentials: domainauth.Credentials{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}
}

// MockAuthProvider is an in-memory remote auth backend. Every mutating call emits the
// change event the real provider would, so session-store subscribers see realistic traffic.
type MockAuthProvider struct {
	BeginSignInFunc        func(ctx context.Context, redirectURL string) (string, error)
	RestoreSessionFunc     func(ctx context.Context) (*domainauth.Session, error)
	ExchangeCodeFunc       func(ctx context.Context, code, state string) (*domainauth.Session, error)
	SetSessionFunc         func(ctx context.Context, creds domainauth.Credentials) (*domainauth.Session, error)
	CurrentCredentialsFunc func(ctx context.Context) (domainauth.Credentials, error)
	SignOutFunc            func(ctx context.Context) error

	// RestoreGate, when set, blocks RestoreSession until it is closed.
	RestoreGate chan struct{}
	// Persisted is what RestoreSession returns by default.
	Persisted   *domainauth.Session
	DefaultUser domainauth.Identity
	// EmitInitial makes RestoreSession publish INITIAL_SESSION like the real client does.
	EmitInitial bool

	mu      sync.Mutex
	session *domainauth.Session
	calls   map[string]int
	events  core.Subject[domainauth.ChangeEvent]
}

// NewMockAuthProvider creates a MockAuthProvider that starts signed out.
func NewMockAuthProvider() *MockAuthProvider {
	return &MockAuthProvider{DefaultUser: DefaultUser}
}

// Calls returns how many times method was invoked.
func (m *MockAuthProvider) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockAuthProvider) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// Emit publishes ev to subscribers, updating the provider's own session first.
func (m *MockAuthProvider) Emit(ev domainauth.ChangeEvent) {
	m.mu.Lock()
	if ev.Kind == domainauth.EventSignedOut {
		m.session = nil
	} else if ev.Session != nil {
		cp := *ev.Session
		m.session = &cp
	}
	m.mu.Unlock()
	m.events.Publish(ev)
}

func (m *MockAuthProvider) BeginSignIn(ctx context.Context, redirectURL string) (string, error) {
	m.record("BeginSignIn")
	if m.BeginSignInFunc != nil {
		return m.BeginSignInFunc(ctx, redirectURL)
	}
	return "https://mock-idp/auth?redirect_uri=" + redirectURL, nil
}

func (m *MockAuthProvider) RestoreSession(ctx context.Context) (*domainauth.Session, error) {
	m.record("RestoreSession")
	if m.RestoreGate != nil {
		select {
		case <-m.RestoreGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.RestoreSessionFunc != nil {
		return m.RestoreSessionFunc(ctx)
	}
	m.mu.Lock()
	var restored *domainauth.Session
	if m.Persisted != nil {
		cp := *m.Persisted
		restored = &cp
	}
	m.mu.Unlock()

	if m.EmitInitial {
		m.Emit(domainauth.ChangeEvent{Kind: domainauth.EventInitialSession, Session: restored})
	} else if restored != nil {
		m.mu.Lock()
		cp := *restored
		m.session = &cp
		m.mu.Unlock()
	}
	return restored, nil
}

func (m *MockAuthProvider) ExchangeCode(ctx context.Context, code, state string) (*domainauth.Session, error) {
	m.record("ExchangeCode")
	if m.ExchangeCodeFunc != nil {
		return m.ExchangeCodeFunc(ctx, code, state)
	}
	return m.install(domainauth.Credentials{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		ExpiresAt:    time.Now().Add(time.Hour),
	}), nil
}

func (m *MockAuthProvider) SetSession(ctx context.Context, creds domainauth.Credentials) (*domainauth.Session, error) {
	m.record("SetSession")
	if m.SetSessionFunc != nil {
		return m.SetSessionFunc(ctx, creds)
	}
	if !creds.Complete() {
		return nil, errors.New("incomplete credentials")
	}
	return m.install(creds), nil
}

func (m *MockAuthProvider) install(creds domainauth.Credentials) *domainauth.Session {
	user := m.DefaultUser
	if user.UserID == "" {
		user = DefaultUser
	}
	sess := domainauth.NewSession(user, creds)
	m.Emit(domainauth.ChangeEvent{Kind: domainauth.EventSignedIn, Session: &sess})
	return &sess
}

func (m *MockAuthProvider) CurrentCredentials(ctx context.Context) (domainauth.Credentials, error) {
	m.record("CurrentCredentials")
	if m.CurrentCredentialsFunc != nil {
		return m.CurrentCredentialsFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domainauth.Credentials{}, ErrNotFound
	}
	return m.session.Credentials, nil
}

func (m *MockAuthProvider) SignOut(ctx context.Context) error {
	m.record("SignOut")
	m.Emit(domainauth.ChangeEvent{Kind: domainauth.EventSignedOut})
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx)
	}
	return nil
}

func (m *MockAuthProvider) OnAuthStateChange(fn func(domainauth.ChangeEvent)) func() {
	return m.events.Subscribe(fn)
}

// MemoryCredentialStore is an in-memory key-value store with an optional size ceiling.
type MemoryCredentialStore struct {
	MaxValueBytes int

	mu     sync.Mutex
	values map[string][]byte
}

// NewMemoryCredentialStore creates an empty store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{values: make(map[string][]byte)}
}

func (m *MemoryCredentialStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ports.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryCredentialStore) Set(_ context.Context, key string, value []byte) error {
	if m.MaxValueBytes > 0 && len(value) > m.MaxValueBytes {
		return ports.ErrValueTooLarge
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string][]byte)
	}
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryCredentialStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryCredentialStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

// ErrNotFound is returned by mocks when an entity is not present.
type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

var ErrNotFound error = notFoundError{}
