package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/target/canvas-bridge/internal/core"
	"github.com/target/canvas-bridge/internal/domain/redirect"
	apperrors "github.com/target/canvas-bridge/internal/errors"
	"github.com/target/canvas-bridge/internal/observability/metrics"
	"github.com/target/canvas-bridge/internal/ports"
)

// CodeExchanger trades a one-time handoff code for a session. HandoffExchanger implements it.
type CodeExchanger interface {
	Exchange(ctx context.Context, code string) error
}

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Provider    ports.AuthProvider
	Handoff     CodeExchanger
	Parser      redirect.Parser
	DedupWindow time.Duration // defaults to DefaultDedupWindow
	Clock       core.Clock
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

// AuthService orchestrates sign-in: it starts the interactive flow and routes every
// inbound redirect to the matching exchange exactly once.
type AuthService struct {
	provider ports.AuthProvider
	handoff  CodeExchanger
	parser   redirect.Parser
	codes    *recentSet
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) (*AuthService, error) {
	if opts.Provider == nil {
		return nil, errors.New("auth service: provider is required")
	}
	if opts.Handoff == nil {
		return nil, errors.New("auth service: handoff exchanger is required")
	}
	if opts.Parser.Scheme == "" || opts.Parser.Host == "" {
		return nil, apperrors.ValidationField("parser", "callback scheme and host are required")
	}
	window := opts.DedupWindow
	if window <= 0 {
		window = DefaultDedupWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "auth_service")
	}
	return &AuthService{
		provider: opts.Provider,
		handoff:  opts.Handoff,
		parser:   opts.Parser,
		codes:    newRecentSet(window, opts.Clock),
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// BeginLogin starts an interactive sign-in and returns the URL to open in the system browser.
// The provider redirects back to the app's callback URL.
func (s *AuthService) BeginLogin(ctx context.Context) (string, error) {
	authURL, err := s.provider.BeginSignIn(ctx, s.parser.CallbackURL())
	if err != nil {
		return "", fmt.Errorf("begin sign in: %w", err)
	}
	return authURL, nil
}

// HandleRedirect processes a deep link delivered while the app is running.
// Non-callback URLs are ignored. A provider error is returned as a redirect_auth_error
// without attempting any exchange; a one-time code seen recently is ignored.
func (s *AuthService) HandleRedirect(ctx context.Context, raw string) (redirect.Intent, error) {
	intent := s.parser.Parse(raw)
	if intent.Anomaly != "" {
		s.logger.WarnContext(ctx, "redirect anomaly", "anomaly", intent.Anomaly)
	}

	switch intent.Kind {
	case redirect.KindIgnored:
		s.metrics.Redirect(string(intent.Kind), false)
		return intent, nil
	case redirect.KindAuthError:
		s.metrics.Redirect(string(intent.Kind), false)
		s.logger.WarnContext(ctx, "provider reported sign-in error", "description", intent.Description)
		return intent, apperrors.RedirectAuth(intent.Description)
	case redirect.KindAuthorizationCode:
		if !s.codes.Claim("code:" + intent.Code) {
			s.metrics.Redirect(string(intent.Kind), true)
			s.logger.DebugContext(ctx, "duplicate authorization code ignored")
			return intent, nil
		}
		s.metrics.Redirect(string(intent.Kind), false)
		if _, err := s.provider.ExchangeCode(ctx, intent.Code, intent.State); err != nil {
			return intent, apperrors.Reclassify(err, apperrors.ErrCodeRedirectAuth, "exchange authorization code")
		}
		s.logger.InfoContext(ctx, "authorization code exchanged")
		return intent, nil
	case redirect.KindHandoffCode:
		// The exchanger keeps its own dedup window.
		s.metrics.Redirect(string(intent.Kind), false)
		return intent, s.handoff.Exchange(ctx, intent.Code)
	default:
		return intent, nil
	}
}

// HandleInitialURL processes the URL the app was launched with. An empty URL is a normal cold start.
func (s *AuthService) HandleInitialURL(ctx context.Context, raw string) (redirect.Intent, error) {
	if strings.TrimSpace(raw) == "" {
		return redirect.Intent{Kind: redirect.KindIgnored}, nil
	}
	return s.HandleRedirect(ctx, raw)
}
