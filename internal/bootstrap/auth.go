package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/target/canvas-bridge/config"
	"github.com/target/canvas-bridge/internal/adapters/authclient"
	"github.com/target/canvas-bridge/internal/adapters/devauth"
	"github.com/target/canvas-bridge/internal/adapters/memory"
	"github.com/target/canvas-bridge/internal/adapters/oidc"
	redisadapter "github.com/target/canvas-bridge/internal/adapters/redis"
	"github.com/target/canvas-bridge/internal/core"
	"github.com/target/canvas-bridge/internal/ports"
)

// IdentityProviderConfig contains configuration for the identity provider.
type IdentityProviderConfig struct {
	Auth       config.AuthConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// BuildIdentityProvider creates the identity provider for the configured auth mode.
//
//nolint:ireturn // the concrete provider depends on AUTH_MODE.
func BuildIdentityProvider(ctx context.Context, cfg IdentityProviderConfig) (ports.IdentityProvider, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeMock:
		if cfg.Logger != nil {
			cfg.Logger.Warn("using development identity provider; do not use in production",
				"user_id", cfg.Auth.DevAuth.UserID)
		}
		prov, err := devauth.NewProvider(devauth.Config{
			UserID:          cfg.Auth.DevAuth.UserID,
			Email:           cfg.Auth.DevAuth.Email,
			SessionDuration: cfg.Auth.DevAuth.SessionTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("create dev auth provider: %w", err)
		}
		return prov, nil

	case config.AuthModeOAuth:
		oauth := cfg.Auth.OAuth
		if oauth.DiscoveryURL == "" || oauth.ClientID == "" {
			return nil, errors.New("oauth mode requires OAUTH_DISCOVERY_URL and OAUTH_CLIENT_ID")
		}
		prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
			ClientID:     oauth.ClientID,
			ClientSecret: oauth.ClientSecret,
			RedirectURL:  oauth.RedirectURL,
			Scope:        oauth.Scope,
			DiscoveryURL: oauth.DiscoveryURL,
			HTTPClient:   cfg.HTTPClient,
		})
		if err != nil {
			return nil, fmt.Errorf("create oidc provider: %w", err)
		}
		return prov, nil

	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}

// CredentialStoreConfig contains configuration for the credential store.
type CredentialStoreConfig struct {
	Storage     config.StorageConfig
	RedisClient redis.UniversalClient // required for the redis backend
	Clock       core.Clock
}

// BuildCredentialStore creates the credential store for the configured backend.
//
//nolint:ireturn // the concrete store depends on STORAGE_BACKEND.
func BuildCredentialStore(cfg CredentialStoreConfig) (ports.CredentialStore, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendRedis:
		store, err := redisadapter.NewCredentialStore(cfg.RedisClient, redisadapter.CredentialStoreOptions{
			Prefix:        cfg.Storage.KeyPrefix,
			MaxValueBytes: cfg.Storage.MaxValueBytes,
			TTL:           cfg.Storage.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis credential store: %w", err)
		}
		return store, nil

	case config.StorageBackendMemory, "":
		store, err := memory.NewCredentialStore(memory.CredentialStoreConfig{
			Capacity:      cfg.Storage.MemoryCapacity,
			MaxValueBytes: cfg.Storage.MaxValueBytes,
			TTL:           cfg.Storage.TTL,
			Clock:         cfg.Clock,
		})
		if err != nil {
			return nil, fmt.Errorf("create memory credential store: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
}

// AuthClientConfig contains configuration for the remote auth client.
type AuthClientConfig struct {
	Auth   config.AuthConfig
	IdP    ports.IdentityProvider
	Store  ports.CredentialStore
	Clock  core.Clock
	Logger *slog.Logger
}

// BuildAuthClient creates the auth client that owns the persisted session.
func BuildAuthClient(cfg AuthClientConfig) (*authclient.Client, error) {
	var logger *slog.Logger
	if cfg.Logger != nil {
		logger = cfg.Logger.With("component", "auth_client")
	}
	return authclient.New(authclient.Options{
		IdP:           cfg.IdP,
		Store:         cfg.Store,
		Clock:         cfg.Clock,
		Logger:        logger,
		RemoteTimeout: cfg.Auth.RemoteTimeout,
		RefreshMargin: cfg.Auth.TokenRefreshMargin,
	})
}
