package config

import (
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppConfig_Defaults(t *testing.T) {
	t.Setenv("NODE_ENV", "")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()

	assert.False(t, cfg.IsDev)
	assert.Equal(t, AuthModeOAuth, cfg.Auth.Mode)
	assert.Equal(t, "textilearchive", cfg.Auth.Scheme)
	assert.Equal(t, "auth", cfg.Auth.CallbackHost)
	assert.Equal(t, "/api/auth/handoff/exchange", cfg.Auth.HandoffExchangePath)
	assert.Equal(t, 15*time.Second, cfg.Auth.RemoteTimeout)
	assert.Equal(t, 5*time.Second, cfg.Auth.DedupWindow)
	assert.Equal(t, 60*time.Second, cfg.Auth.TokenRefreshMargin)
	assert.Equal(t, 12*time.Second, cfg.Auth.StartupWatchdog)
	assert.Equal(t, "textilearchive://auth", cfg.Auth.OAuth.RedirectURL)

	assert.Equal(t, 3, cfg.Bridge.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Bridge.RetryBase)
	assert.Equal(t, 500*time.Millisecond, cfg.Bridge.CoalesceWindow)
	assert.Equal(t, 200*time.Millisecond, cfg.Bridge.EarlyClearDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.Bridge.LoadEndResendDelay)
	assert.Equal(t, []time.Duration{700 * time.Millisecond, 1700 * time.Millisecond, 3200 * time.Millisecond}, cfg.Bridge.StaggeredResends)
	assert.Equal(t, 30*time.Second, cfg.Bridge.LoadTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.Bridge.BootstrapRequestDelay)
	assert.Equal(t, "/auth/import-session", cfg.Bridge.BridgePath)
	assert.Equal(t, "/project/", cfg.Bridge.ProjectPath)

	assert.Equal(t, StorageBackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 2048, cfg.Storage.MaxValueBytes)
	assert.Equal(t, "localhost:6379", cfg.Redis.URI)
	assert.False(t, cfg.Observability.Metrics.IsEnabled())
}

func TestAppConfig_ParseAuthEnv(t *testing.T) {
	t.Setenv("AUTH_MODE", "mock")
	t.Setenv("APP_SCHEME", "Canvas://")
	t.Setenv("APP_CALLBACK_HOST", "login")
	t.Setenv("WEB_ORIGIN", "https://web.example.com/")
	t.Setenv("OAUTH_CLIENT_ID", "app-client")
	t.Setenv("OAUTH_DISCOVERY_URL", "https://login.example.com/.well-known/openid-configuration")
	t.Setenv("DEV_AUTH_USER_ID", "dev-2")
	t.Setenv("DEV_AUTH_SESSION_TTL", "1h")

	var cfg AppConfig
	require.NoError(t, env.Parse(&cfg))
	cfg.Sanitize()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, AuthModeMock, cfg.Auth.Mode)
	assert.Equal(t, "canvas", cfg.Auth.Scheme)
	assert.Equal(t, "https://web.example.com", cfg.Auth.WebOrigin)
	assert.Equal(t, "canvas://login", cfg.Auth.CallbackURL())
	assert.Equal(t, "canvas://login", cfg.Auth.OAuth.RedirectURL)
	assert.Equal(t, "app-client", cfg.Auth.OAuth.ClientID)
	assert.Equal(t, DevAuthConfig{UserID: "dev-2", Email: "dev@example.com", SessionTTL: time.Hour}, cfg.Auth.DevAuth)
}

func TestAppConfig_InvalidEnums(t *testing.T) {
	t.Setenv("AUTH_MODE", "saml")
	var cfg AppConfig
	require.Error(t, env.Parse(&cfg))

	t.Setenv("AUTH_MODE", "oauth")
	t.Setenv("STORAGE_BACKEND", "sqlite")
	require.Error(t, env.Parse(&cfg))

	t.Setenv("STORAGE_BACKEND", "Redis")
	require.NoError(t, env.Parse(&cfg))
	assert.Equal(t, StorageBackendRedis, cfg.Storage.Backend)
}

func TestAuthConfig_Validate(t *testing.T) {
	base := func() AuthConfig {
		a := AuthConfig{
			Mode:         AuthModeOAuth,
			Scheme:       "textilearchive",
			CallbackHost: "auth",
			WebOrigin:    "https://web.example.com",
			OAuth:        OAuthConfig{DiscoveryURL: "https://idp.example.com"},
		}
		a.Sanitize()
		return a
	}

	a := base()
	require.NoError(t, a.Validate())

	a = base()
	a.WebOrigin = ""
	require.Error(t, a.Validate())

	a = base()
	a.WebOrigin = "web.example.com"
	require.Error(t, a.Validate())

	a = base()
	a.OAuth.DiscoveryURL = ""
	require.Error(t, a.Validate())
	a.Mode = AuthModeMock
	require.NoError(t, a.Validate())

	a = base()
	a.CallbackHost = ""
	require.Error(t, a.Validate())
}

func TestAuthConfig_Sanitize(t *testing.T) {
	a := AuthConfig{
		Scheme:              " textilearchive:// ",
		CallbackHost:        "auth",
		HandoffExchangePath: "api/exchange",
		RemoteTimeout:       -1,
		DedupWindow:         0,
		TokenRefreshMargin:  -time.Second,
		OAuth:               OAuthConfig{RedirectURL: " https://app.example.com/cb "},
	}
	a.Sanitize()

	assert.Equal(t, "textilearchive", a.Scheme)
	assert.Equal(t, "/api/exchange", a.HandoffExchangePath)
	assert.Equal(t, 15*time.Second, a.RemoteTimeout)
	assert.Equal(t, 5*time.Second, a.DedupWindow)
	assert.Equal(t, 60*time.Second, a.TokenRefreshMargin)
	assert.Equal(t, "https://app.example.com/cb", a.OAuth.RedirectURL)
}

func TestBridgeConfig_Sanitize(t *testing.T) {
	b := BridgeConfig{
		MaxAttempts:      0,
		RetryBase:        time.Millisecond,
		CoalesceWindow:   -time.Second,
		StaggeredResends: []time.Duration{0, 700 * time.Millisecond, -time.Second},
		BridgePath:       "auth/import-session",
	}
	b.Sanitize()

	assert.Equal(t, 1, b.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, b.RetryBase)
	assert.Zero(t, b.CoalesceWindow)
	assert.Equal(t, []time.Duration{700 * time.Millisecond}, b.StaggeredResends)
	assert.Equal(t, "/auth/import-session", b.BridgePath)
	assert.Equal(t, "/project/", b.ProjectPath)

	b = BridgeConfig{MaxAttempts: 50}
	b.Sanitize()
	assert.Equal(t, 10, b.MaxAttempts)
}

func TestStorageConfig_Sanitize(t *testing.T) {
	s := StorageConfig{MaxValueBytes: 10, TTL: -time.Hour}
	s.Sanitize()
	assert.Equal(t, StorageBackendMemory, s.Backend)
	assert.Equal(t, 256, s.MaxValueBytes)
	assert.Zero(t, s.TTL)
	assert.Equal(t, 1, s.MemoryCapacity)
}

func TestAppConfig_DetectDevModeFromNodeEnv(t *testing.T) {
	t.Setenv("NODE_ENV", "Development")
	cfg := AppConfig{}
	cfg.Sanitize()
	assert.True(t, cfg.IsDev)
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}
	cfg.Sanitize()
	assert.False(t, cfg.Enabled, "metrics disabled when address is empty")

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}
	cfg.Sanitize()
	assert.True(t, cfg.IsEnabled())
	assert.Equal(t, "statsd:1234", cfg.StatsdAddress)
	assert.Equal(t, "canvas_bridge", cfg.Prefix)
}
