package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// AuthMode represents the authentication mode for the application.
type AuthMode string

const (
	// AuthModeOAuth uses OAuth/OIDC for authentication.
	AuthModeOAuth AuthMode = "oauth"
	// AuthModeMock uses mock/dev authentication (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	switch v {
	case "oauth", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: oauth, mock)", v)
	}
}

// OAuthConfig contains OAuth/OIDC configuration.
// An empty RedirectURL uses the app callback URL (APP_SCHEME://APP_CALLBACK_HOST).
type OAuthConfig struct {
	ClientID     string `env:"CLIENT_ID"     envDefault:"canvas-bridge"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
	Scope        string `env:"SCOPE"         envDefault:"openid email offline_access"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
}

// DevAuthConfig controls mock/dev authentication identity.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	UserID     string        `env:"USER_ID"     envDefault:"dev-user"`
	Email      string        `env:"EMAIL"       envDefault:"dev@example.com"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"8h"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which identity provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"oauth"`

	// Scheme and CallbackHost identify redirects meant for this app.
	Scheme       string `env:"APP_SCHEME"        envDefault:"textilearchive"`
	CallbackHost string `env:"APP_CALLBACK_HOST" envDefault:"auth"`

	// WebOrigin is the origin of the companion web application that hosts the canvas
	// and the handoff exchange endpoint.
	WebOrigin           string `env:"WEB_ORIGIN"`
	HandoffExchangePath string `env:"HANDOFF_EXCHANGE_PATH" envDefault:"/api/auth/handoff/exchange"`

	RemoteTimeout      time.Duration `env:"REMOTE_TIMEOUT"       envDefault:"15s"`
	DedupWindow        time.Duration `env:"HANDOFF_DEDUP_WINDOW" envDefault:"5s"`
	TokenRefreshMargin time.Duration `env:"TOKEN_REFRESH_MARGIN" envDefault:"60s"`
	StartupWatchdog    time.Duration `env:"STARTUP_WATCHDOG"     envDefault:"12s"`

	// OAuth configuration (used when Mode=oauth).
	OAuth OAuthConfig `envPrefix:"OAUTH_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`
}

// Sanitize trims values and restores defaults for non-positive durations.
func (a *AuthConfig) Sanitize() {
	a.Scheme = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(a.Scheme), "://"))
	a.CallbackHost = strings.TrimSpace(a.CallbackHost)
	a.WebOrigin = strings.TrimRight(strings.TrimSpace(a.WebOrigin), "/")
	if a.HandoffExchangePath = strings.TrimSpace(a.HandoffExchangePath); a.HandoffExchangePath == "" {
		a.HandoffExchangePath = "/api/auth/handoff/exchange"
	}
	if !strings.HasPrefix(a.HandoffExchangePath, "/") {
		a.HandoffExchangePath = "/" + a.HandoffExchangePath
	}
	if a.RemoteTimeout <= 0 {
		a.RemoteTimeout = 15 * time.Second
	}
	if a.DedupWindow <= 0 {
		a.DedupWindow = 5 * time.Second
	}
	if a.TokenRefreshMargin < 0 {
		a.TokenRefreshMargin = 60 * time.Second
	}
	if a.StartupWatchdog <= 0 {
		a.StartupWatchdog = 12 * time.Second
	}
	a.OAuth.DiscoveryURL = strings.TrimSpace(a.OAuth.DiscoveryURL)
	if a.OAuth.RedirectURL = strings.TrimSpace(a.OAuth.RedirectURL); a.OAuth.RedirectURL == "" {
		a.OAuth.RedirectURL = a.CallbackURL()
	}
	if a.DevAuth.SessionTTL <= 0 {
		a.DevAuth.SessionTTL = 8 * time.Hour
	}
}

// CallbackURL is the app redirect target, e.g. textilearchive://auth.
func (a *AuthConfig) CallbackURL() string {
	return a.Scheme + "://" + a.CallbackHost
}

// Validate reports settings the app cannot start without.
func (a *AuthConfig) Validate() error {
	if a.Scheme == "" || a.CallbackHost == "" {
		return errors.New("APP_SCHEME and APP_CALLBACK_HOST are required")
	}
	if a.WebOrigin == "" {
		return errors.New("WEB_ORIGIN is required")
	}
	u, err := url.Parse(a.WebOrigin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("WEB_ORIGIN must be an absolute origin, got %q", a.WebOrigin)
	}
	if a.Mode == AuthModeOAuth && a.OAuth.DiscoveryURL == "" {
		return errors.New("OAUTH_DISCOVERY_URL is required when AUTH_MODE=oauth")
	}
	return nil
}
