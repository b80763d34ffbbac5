package oidc

// Package oidc provides the OIDC/OAuth2 identity provider used by the auth client.
// Login uses the authorization-code flow with PKCE, since the app is a public client.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainauth "github.com/target/canvas-bridge/internal/domain/auth"
	"github.com/target/canvas-bridge/internal/ports"
)

var _ ports.IdentityProvider = (*Provider)(nil)

// Provider implements ports.IdentityProvider using OIDC discovery and OAuth2.
type Provider struct {
	config     oauth2.Config
	httpClient *http.Client

	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
}

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string // optional; public clients rely on PKCE
	RedirectURL  string // default redirect when a call does not supply one
	Scope        string
	DiscoveryURL string
	HTTPClient   *http.Client // Optional, defaults to a client with a 30s timeout
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// NewProvider creates a new OIDC provider. It performs discovery once.
func NewProvider(ctx context.Context, config ProviderConfig) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(gooidc.ClientContext(ctx, httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}

	scope := config.Scope
	if strings.TrimSpace(scope) == "" {
		scope = "openid email offline_access"
	}

	return &Provider{
		config: oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       strings.Fields(scope),
			Endpoint:     op.Endpoint(),
		},
		httpClient:   httpClient,
		oidcProvider: op,
		verifier:     op.Verifier(&gooidc.Config{ClientID: config.ClientID}),
	}, nil
}

// Begin builds the authorization URL with state, nonce and an S256 PKCE challenge.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (ports.BeginResult, error) {
	cfg := p.configFor(in.RedirectURL)
	if cfg.RedirectURL == "" {
		return ports.BeginResult{}, errors.New("redirect URL is required")
	}

	state, err := generateRandomString(32)
	if err != nil {
		return ports.BeginResult{}, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := generateRandomString(32)
	if err != nil {
		return ports.BeginResult{}, fmt.Errorf("generate nonce: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	authURL := cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.S256ChallengeOption(verifier),
	)
	return ports.BeginResult{AuthURL: authURL, State: state, Nonce: nonce, Verifier: verifier}, nil
}

// Exchange trades an authorization code (plus its PKCE verifier) for a credential pair
// and resolves the identity from the ID token, falling back to userinfo.
func (p *Provider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Grant, error) {
	if in.Code == "" {
		return domainauth.Grant{}, errors.New("authorization code is required")
	}
	if in.Verifier == "" {
		return domainauth.Grant{}, errors.New("code verifier is required")
	}

	ctx = p.clientContext(ctx)
	cfg := p.configFor(in.RedirectURL)
	token, err := cfg.Exchange(ctx, in.Code, oauth2.VerifierOption(in.Verifier))
	if err != nil {
		return domainauth.Grant{}, fmt.Errorf("exchange code for token: %w", err)
	}

	fields, err := p.extractFromIDToken(ctx, token, in.Nonce)
	if err != nil {
		return domainauth.Grant{}, fmt.Errorf("extract id_token: %w", err)
	}
	if err := p.fillIdentity(ctx, token.AccessToken, &fields); err != nil {
		return domainauth.Grant{}, err
	}
	return grantFrom(token, fields, ""), nil
}

// Refresh trades a refresh token for a new pair. Providers that do not rotate refresh
// tokens keep the old one.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (domainauth.Grant, error) {
	if refreshToken == "" {
		return domainauth.Grant{}, errors.New("refresh token is required")
	}
	ctx = p.clientContext(ctx)
	expired := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	token, err := p.config.TokenSource(ctx, expired).Token()
	if err != nil {
		return domainauth.Grant{}, fmt.Errorf("refresh token: %w", err)
	}

	var fields idFields
	if _, ok := token.Extra("id_token").(string); ok {
		// Refreshed ID tokens carry no nonce.
		if fields, err = p.extractFromIDToken(ctx, token, ""); err != nil {
			return domainauth.Grant{}, fmt.Errorf("extract id_token: %w", err)
		}
	}
	if err := p.fillIdentity(ctx, token.AccessToken, &fields); err != nil {
		return domainauth.Grant{}, err
	}
	return grantFrom(token, fields, refreshToken), nil
}

// UserInfo resolves the identity that owns accessToken.
func (p *Provider) UserInfo(ctx context.Context, accessToken string) (domainauth.Identity, error) {
	if accessToken == "" {
		return domainauth.Identity{}, errors.New("access token is required")
	}
	var f idFields
	if err := p.fillFromUserInfo(p.clientContext(ctx), accessToken, &f); err != nil {
		return domainauth.Identity{}, fmt.Errorf("get user info: %w", err)
	}
	if f.userID == "" {
		return domainauth.Identity{}, errors.New("user info has no subject")
	}
	return domainauth.Identity{UserID: f.userID, Email: f.email}, nil
}

func (p *Provider) configFor(redirectURL string) oauth2.Config {
	cfg := p.config
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return cfg
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *Provider) fillIdentity(ctx context.Context, accessToken string, f *idFields) error {
	if f.userID != "" && f.email != "" {
		return nil
	}
	if err := p.fillFromUserInfo(ctx, accessToken, f); err != nil {
		return fmt.Errorf("get user info: %w", err)
	}
	if f.userID == "" {
		return errors.New("identity has no subject")
	}
	return nil
}

func grantFrom(token *oauth2.Token, f idFields, previousRefresh string) domainauth.Grant {
	refresh := token.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return domainauth.Grant{
		Identity: domainauth.Identity{UserID: f.userID, Email: f.email},
		Credentials: domainauth.Credentials{
			AccessToken:  token.AccessToken,
			RefreshToken: refresh,
			ExpiresAt:    token.Expiry,
		},
	}
}

// UserInfo represents the claims read from the OIDC userinfo endpoint.
type UserInfo struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
}

func (p *Provider) fillFromUserInfo(ctx context.Context, accessToken string, f *idFields) error {
	ui, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return fmt.Errorf("fetch user info: %w", err)
	}
	var claims UserInfo
	if err := ui.Claims(&claims); err != nil {
		return fmt.Errorf("decode user info: %w", err)
	}
	fillFromUserInfoClaims(f, claims)
	return nil
}

type idFields struct {
	userID string
	email  string
}

type idTokenClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Nonce string `json:"nonce"`
}

func (p *Provider) extractFromIDToken(ctx context.Context, tok *oauth2.Token, expectedNonce string) (idFields, error) {
	var f idFields
	if !p.hasOpenIDScope() {
		return f, nil
	}
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		return f, err
	}
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return f, fmt.Errorf("verify id_token: %w", err)
	}
	var claims idTokenClaims
	if err := idTok.Claims(&claims); err != nil {
		return f, fmt.Errorf("parse id_token claims: %w", err)
	}
	if expectedNonce != "" && claims.Nonce != expectedNonce {
		return f, errors.New("invalid nonce")
	}
	return mapIDTokenClaims(claims), nil
}

func mapIDTokenClaims(c idTokenClaims) idFields {
	return idFields{userID: c.Sub, email: c.Email}
}

// fillFromUserInfoClaims fills missing fields only.
func fillFromUserInfoClaims(f *idFields, ui UserInfo) {
	if f.userID == "" {
		f.userID = ui.Subject
	}
	if f.email == "" {
		f.email = firstNonEmpty(ui.Email, ui.PreferredUsername)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// generateRandomString generates a cryptographically secure URL-safe random string of exact length.
func generateRandomString(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	b := make([]byte, (length*3+3)/4+1)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}

func (p *Provider) hasOpenIDScope() bool {
	for _, sc := range p.config.Scopes {
		if sc == "openid" {
			return true
		}
	}
	return false
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	s, ok := tok.Extra("id_token").(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
