package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/target/canvas-bridge/internal/core"
	domainauth "github.com/target/canvas-bridge/internal/domain/auth"
	apperrors "github.com/target/canvas-bridge/internal/errors"
	"github.com/target/canvas-bridge/internal/observability/metrics"
	"github.com/target/canvas-bridge/internal/ports"
)

const (
	// DefaultHandoffPath is the exchange endpoint relative to the web origin.
	DefaultHandoffPath = "/api/auth/handoff/exchange"
	// DefaultRemoteTimeout bounds every remote call.
	DefaultRemoteTimeout = 15 * time.Second
	// DefaultDedupWindow is how long a one-time code is remembered.
	DefaultDedupWindow = 5 * time.Second

	maxExchangeResponseBytes = 64 << 10
	maxDiagnosticChars       = 512
)

// HandoffExchangerOptions groups dependencies for HandoffExchanger.
type HandoffExchangerOptions struct {
	Provider    ports.AuthProvider
	WebOrigin   string
	Path        string        // defaults to DefaultHandoffPath
	HTTPClient  *http.Client  // defaults to a client without its own timeout
	Timeout     time.Duration // defaults to DefaultRemoteTimeout
	DedupWindow time.Duration // defaults to DefaultDedupWindow
	Clock       core.Clock
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

// HandoffExchanger trades a one-time handoff code issued by the web app for a credential pair
// and installs it into the auth provider. The session store learns about the new identity
// through the provider's change stream.
type HandoffExchanger struct {
	provider ports.AuthProvider
	endpoint string
	client   *http.Client
	timeout  time.Duration
	clock    core.Clock
	seen     *recentSet
	logger   *slog.Logger
	metrics  *metrics.Recorder
}

type exchangeRequest struct {
	Code string `json:"code"`
}

type exchangeResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// NewHandoffExchanger validates options and constructs the exchanger.
func NewHandoffExchanger(opts HandoffExchangerOptions) (*HandoffExchanger, error) {
	if opts.Provider == nil {
		return nil, errors.New("handoff exchanger: provider is required")
	}
	endpoint, err := exchangeEndpoint(opts.WebOrigin, opts.Path)
	if err != nil {
		return nil, err
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	window := opts.DedupWindow
	if window <= 0 {
		window = DefaultDedupWindow
	}
	clock := opts.Clock
	if clock == nil {
		clock = core.RealClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "handoff_exchanger")
	}

	return &HandoffExchanger{
		provider: opts.Provider,
		endpoint: endpoint,
		client:   client,
		timeout:  timeout,
		clock:    clock,
		seen:     newRecentSet(window, clock),
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

func exchangeEndpoint(origin, path string) (string, error) {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", apperrors.ValidationField("web_origin", "web origin must be an absolute http(s) URL")
	}
	if strings.TrimSpace(path) == "" {
		path = DefaultHandoffPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return origin + path, nil
}

// Endpoint returns the resolved exchange URL.
func (e *HandoffExchanger) Endpoint() string { return e.endpoint }

// Exchange performs the exchange for code. A code already claimed within the dedup window
// returns nil without side effects. Failures are terminal for the code and never retried.
func (e *HandoffExchanger) Exchange(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return apperrors.ValidationField("handoff", "handoff code is required")
	}
	if !e.seen.Claim(code) {
		e.logger.DebugContext(ctx, "duplicate handoff code ignored")
		return nil
	}

	start := e.clock.Now()
	err := e.exchange(ctx, code)
	e.metrics.HandoffExchange(e.clock.Now().Sub(start), err)
	if err != nil {
		e.logger.WarnContext(ctx, "handoff exchange failed", "error", err, "code", apperrors.GetCode(err))
		return err
	}
	e.logger.InfoContext(ctx, "handoff exchange succeeded")
	return nil
}

func (e *HandoffExchanger) exchange(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	creds, err := e.post(ctx, code)
	if err != nil {
		return err
	}
	if _, err := e.provider.SetSession(ctx, creds); err != nil {
		return apperrors.Reclassify(err, apperrors.ErrCodeHandoffExchangeFailed, "install exchanged session")
	}
	return nil
}

func (e *HandoffExchanger) post(ctx context.Context, code string) (domainauth.Credentials, error) {
	body, err := json.Marshal(exchangeRequest{Code: code})
	if err != nil {
		return domainauth.Credentials{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode exchange request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return domainauth.Credentials{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "build exchange request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return domainauth.Credentials{}, apperrors.FromContext(err, apperrors.ErrCodeHandoffExchangeFailed, "handoff exchange request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxExchangeResponseBytes))
	if err != nil {
		return domainauth.Credentials{}, apperrors.FromContext(err, apperrors.ErrCodeHandoffExchangeFailed, "read exchange response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domainauth.Credentials{}, apperrors.HandoffExchangeFailed(resp.StatusCode, diagnostic(raw))
	}

	var out exchangeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domainauth.Credentials{}, apperrors.InvalidExchangeResponse("", fmt.Errorf("decode: %w", err))
	}
	creds := domainauth.Credentials{
		AccessToken:  strings.TrimSpace(out.AccessToken),
		RefreshToken: strings.TrimSpace(out.RefreshToken),
	}
	switch {
	case creds.AccessToken == "":
		return domainauth.Credentials{}, apperrors.InvalidExchangeResponse("access_token", nil)
	case creds.RefreshToken == "":
		return domainauth.Credentials{}, apperrors.InvalidExchangeResponse("refresh_token", nil)
	}
	if out.ExpiresIn > 0 {
		creds.ExpiresAt = e.clock.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	return creds, nil
}

func diagnostic(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if r := []rune(s); len(r) > maxDiagnosticChars {
		s = string(r[:maxDiagnosticChars]) + "..."
	}
	return s
}
