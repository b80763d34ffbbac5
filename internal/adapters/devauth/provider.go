package devauth

// Package devauth provides a simple, config-driven IdentityProvider for local development.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	domainauth "github.com/target/canvas-bridge/internal/domain/auth"
	"github.com/target/canvas-bridge/internal/ports"
)

var _ ports.IdentityProvider = (*Provider)(nil)

const tokenPrefix = "dev-"

// Config controls the dev identity provider.
type Config struct {
	UserID          string
	Email           string
	SessionDuration time.Duration // default 8h when zero
}

// Provider implements ports.IdentityProvider for local development.
// Begin short-circuits the login by pointing straight back at the app callback with a
// locally generated code; Exchange accepts only codes it issued.
type Provider struct {
	identity        domainauth.Identity
	sessionDuration time.Duration
	now             func() time.Time

	mu    sync.Mutex
	codes map[string]struct{}
}

// NewProvider constructs a dev identity provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	dur := cfg.SessionDuration
	if dur == 0 {
		dur = 8 * time.Hour
	}
	return &Provider{
		identity:        domainauth.Identity{UserID: cfg.UserID, Email: cfg.Email},
		sessionDuration: dur,
		now:             time.Now,
		codes:           make(map[string]struct{}),
	}, nil
}

// Begin returns the app callback URL carrying a fresh code, plus state, nonce and verifier.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (ports.BeginResult, error) {
	if in.RedirectURL == "" {
		return ports.BeginResult{}, errors.New("redirect URL is required")
	}
	callback, err := url.Parse(in.RedirectURL)
	if err != nil {
		return ports.BeginResult{}, fmt.Errorf("parse redirect URL: %w", err)
	}

	var vals [4]string
	for i := range vals {
		if vals[i], err = randomString(24); err != nil {
			return ports.BeginResult{}, fmt.Errorf("generate dev auth values: %w", err)
		}
	}
	code, state, nonce, verifier := tokenPrefix+vals[0], vals[1], vals[2], vals[3]

	p.mu.Lock()
	p.codes[code] = struct{}{}
	p.mu.Unlock()

	q := callback.Query()
	q.Set("code", code)
	q.Set("state", state)
	callback.RawQuery = q.Encode()
	return ports.BeginResult{AuthURL: callback.String(), State: state, Nonce: nonce, Verifier: verifier}, nil
}

// Exchange redeems a code issued by Begin. Each code is single-use.
func (p *Provider) Exchange(_ context.Context, in ports.ExchangeInput) (domainauth.Grant, error) {
	p.mu.Lock()
	_, ok := p.codes[in.Code]
	delete(p.codes, in.Code)
	p.mu.Unlock()
	if !ok {
		return domainauth.Grant{}, errors.New("dev auth: unknown or used code")
	}
	return p.grant("")
}

// Refresh issues a new access token; the refresh token is kept.
func (p *Provider) Refresh(_ context.Context, refreshToken string) (domainauth.Grant, error) {
	if !strings.HasPrefix(refreshToken, tokenPrefix) {
		return domainauth.Grant{}, errors.New("dev auth: invalid refresh token")
	}
	return p.grant(refreshToken)
}

// UserInfo returns the configured identity for any token this provider issued.
func (p *Provider) UserInfo(_ context.Context, accessToken string) (domainauth.Identity, error) {
	if !strings.HasPrefix(accessToken, tokenPrefix) {
		return domainauth.Identity{}, errors.New("dev auth: invalid access token")
	}
	return p.identity, nil
}

func (p *Provider) grant(refreshToken string) (domainauth.Grant, error) {
	access, err := randomString(32)
	if err != nil {
		return domainauth.Grant{}, err
	}
	if refreshToken == "" {
		r, err := randomString(32)
		if err != nil {
			return domainauth.Grant{}, err
		}
		refreshToken = tokenPrefix + r
	}
	return domainauth.Grant{
		Identity: p.identity,
		Credentials: domainauth.Credentials{
			AccessToken:  tokenPrefix + access,
			RefreshToken: refreshToken,
			ExpiresAt:    p.now().Add(p.sessionDuration),
		},
	}, nil
}

func randomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	b := make([]byte, (n*3+3)/4+1)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}
