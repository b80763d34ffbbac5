package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/target/canvas-bridge/internal/ports"
)

// fakeIdP serves discovery, token and userinfo endpoints.
type fakeIdP struct {
	srv          *httptest.Server
	mu           sync.Mutex
	form         url.Values
	userInfoHits atomic.Int32
}

func (f *fakeIdP) lastForm() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.form
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	f := &fakeIdP{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, DiscoveryDocument{
			Issuer:                f.srv.URL,
			AuthorizationEndpoint: f.srv.URL + "/authorize",
			TokenEndpoint:         f.srv.URL + "/token",
			UserinfoEndpoint:      f.srv.URL + "/userinfo",
			JwksURI:               f.srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.form = r.PostForm
		f.mu.Unlock()
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			if r.PostForm.Get("code") != "good" || r.PostForm.Get("code_verifier") == "" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "at-1",
				"refresh_token": "rt-1",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		case "refresh_token":
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "at-2",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		}
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		f.userInfoHits.Add(1)
		if r.Header.Get("Authorization") == "Bearer revoked" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"sub": "u-1", "email": "u1@example.com"})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func createTestProvider(t *testing.T, idp *fakeIdP) *Provider {
	t.Helper()
	provider, err := NewProvider(context.Background(), ProviderConfig{
		ClientID:     "canvas-app",
		Scope:        "email offline_access",
		DiscoveryURL: idp.srv.URL + "/.well-known/openid-configuration",
		HTTPClient:   idp.srv.Client(),
	})
	require.NoError(t, err)
	return provider
}

func TestNewProvider_DiscoversEndpoints(t *testing.T) {
	idp := newFakeIdP(t)
	provider := createTestProvider(t, idp)

	assert.Equal(t, idp.srv.URL+"/authorize", provider.config.Endpoint.AuthURL)
	assert.Equal(t, idp.srv.URL+"/token", provider.config.Endpoint.TokenURL)
	assert.Empty(t, provider.config.ClientSecret)
}

func TestNewProvider_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		config ProviderConfig
		errMsg string
	}{
		{name: "missing client ID", config: ProviderConfig{DiscoveryURL: "http://example.com"}, errMsg: "client ID is required"},
		{name: "missing discovery URL", config: ProviderConfig{ClientID: "client"}, errMsg: "discovery URL is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(context.Background(), tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestProvider_BeginUsesPKCE(t *testing.T) {
	provider := createTestProvider(t, newFakeIdP(t))

	res, err := provider.Begin(context.Background(), ports.BeginInput{RedirectURL: "textilearchive://auth"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.State)
	assert.NotEmpty(t, res.Nonce)
	assert.NotEmpty(t, res.Verifier)

	u, err := url.Parse(res.AuthURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "canvas-app", q.Get("client_id"))
	assert.Equal(t, res.State, q.Get("state"))
	assert.Equal(t, res.Nonce, q.Get("nonce"))
	assert.Equal(t, "textilearchive://auth", q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(res.Verifier), q.Get("code_challenge"))
}

func TestProvider_Begin_EmptyRedirectURL(t *testing.T) {
	provider := createTestProvider(t, newFakeIdP(t))

	_, err := provider.Begin(context.Background(), ports.BeginInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirect URL is required")
}

func TestProvider_Exchange(t *testing.T) {
	idp := newFakeIdP(t)
	provider := createTestProvider(t, idp)

	grant, err := provider.Exchange(context.Background(), ports.ExchangeInput{
		Code:        "good",
		Verifier:    "verifier-1",
		RedirectURL: "textilearchive://auth",
	})
	require.NoError(t, err)
	assert.Equal(t, "u-1", grant.Identity.UserID)
	assert.Equal(t, "u1@example.com", grant.Identity.Email)
	assert.Equal(t, "at-1", grant.Credentials.AccessToken)
	assert.Equal(t, "rt-1", grant.Credentials.RefreshToken)
	assert.False(t, grant.Credentials.ExpiresAt.IsZero())
	assert.Equal(t, "verifier-1", idp.lastForm().Get("code_verifier"))
	assert.Equal(t, "textilearchive://auth", idp.lastForm().Get("redirect_uri"))
}

func TestProvider_Exchange_Errors(t *testing.T) {
	provider := createTestProvider(t, newFakeIdP(t))
	ctx := context.Background()

	tests := []struct {
		name   string
		input  ports.ExchangeInput
		errMsg string
	}{
		{name: "missing code", input: ports.ExchangeInput{Verifier: "v"}, errMsg: "authorization code is required"},
		{name: "missing verifier", input: ports.ExchangeInput{Code: "good"}, errMsg: "code verifier is required"},
		{name: "rejected code", input: ports.ExchangeInput{Code: "bad", Verifier: "v"}, errMsg: "exchange code for token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := provider.Exchange(ctx, tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestProvider_RefreshKeepsUnrotatedRefreshToken(t *testing.T) {
	idp := newFakeIdP(t)
	provider := createTestProvider(t, idp)

	grant, err := provider.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", grant.Credentials.AccessToken)
	assert.Equal(t, "rt-1", grant.Credentials.RefreshToken)
	assert.Equal(t, "u-1", grant.Identity.UserID)
	assert.Equal(t, "rt-1", idp.lastForm().Get("refresh_token"))

	_, err = provider.Refresh(context.Background(), "")
	require.Error(t, err)
}

func TestProvider_UserInfo(t *testing.T) {
	idp := newFakeIdP(t)
	provider := createTestProvider(t, idp)

	id, err := provider.UserInfo(context.Background(), "at-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)

	_, err = provider.UserInfo(context.Background(), "revoked")
	require.Error(t, err)
	_, err = provider.UserInfo(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, int32(2), idp.userInfoHits.Load())
}

func TestGenerateRandomString(t *testing.T) {
	str1, err := generateRandomString(16)
	require.NoError(t, err)
	assert.Len(t, str1, 16)

	str2, err := generateRandomString(32)
	require.NoError(t, err)
	assert.Len(t, str2, 32)

	str3, err := generateRandomString(16)
	require.NoError(t, err)
	assert.NotEqual(t, str1, str3)
}

func TestGetIDTokenFromToken(t *testing.T) {
	tok := (&oauth2.Token{}).WithExtra(map[string]any{"id_token": "abc.def.ghi"})
	idTok, err := getIDTokenFromToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", idTok)

	_, err = getIDTokenFromToken((&oauth2.Token{}).WithExtra(map[string]any{"not_id": "x"}))
	require.ErrorContains(t, err, "missing id_token")

	_, err = getIDTokenFromToken(nil)
	require.ErrorContains(t, err, "nil token")
}

func Test_fillFromUserInfoClaims(t *testing.T) {
	var f idFields
	fillFromUserInfoClaims(&f, UserInfo{Subject: "sub-abc", PreferredUsername: "sammy"})
	assert.Equal(t, "sub-abc", f.userID)
	assert.Equal(t, "sammy", f.email)

	keep := mapIDTokenClaims(idTokenClaims{Sub: "keep", Email: "keep@example.com"})
	fillFromUserInfoClaims(&keep, UserInfo{Subject: "other", Email: "other@example.com"})
	assert.Equal(t, "keep", keep.userID)
	assert.Equal(t, "keep@example.com", keep.email)
}
