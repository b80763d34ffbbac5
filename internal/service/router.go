package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/target/canvas-bridge/internal/domain/bridge"
	apperrors "github.com/target/canvas-bridge/internal/errors"
	"github.com/target/canvas-bridge/internal/observability/metrics"
)

// HandshakeDriver is the part of BridgeMessenger driven by inbound messages.
type HandshakeDriver interface {
	MarkWebReady()
	RequestSession(reason bridge.Reason, force bool) bool
	Acknowledge()
}

// SurfaceStatus is the part of LifecycleController driven by inbound messages.
type SurfaceStatus interface {
	SetReady()
	SetError(msg string)
}

// RouterOptions groups dependencies for Router.
type RouterOptions struct {
	Messenger HandshakeDriver
	Lifecycle SurfaceStatus
	// Debug mirrors console output from the document into the host log.
	Debug   bool
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Router dispatches messages posted by the embedded document.
type Router struct {
	messenger HandshakeDriver
	lifecycle SurfaceStatus
	debug     bool
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// NewRouter constructs a Router.
func NewRouter(opts RouterOptions) (*Router, error) {
	if opts.Messenger == nil {
		return nil, errors.New("router: messenger is required")
	}
	if opts.Lifecycle == nil {
		return nil, errors.New("router: lifecycle is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "router")
	}
	return &Router{
		messenger: opts.Messenger,
		lifecycle: opts.Lifecycle,
		debug:     opts.Debug,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// Route handles one raw message. It never panics and never fails: malformed input is logged
// and dropped.
func (r *Router) Route(raw string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("inbound message handler panicked", "panic", fmt.Sprint(rec))
		}
	}()

	env, err := bridge.DecodeEnvelope([]byte(raw))
	if err != nil {
		dropped := apperrors.MalformedInboundMessage(err)
		r.metrics.Inbound("malformed", dropped)
		r.logger.Debug("dropping inbound message", "error", dropped, "size", len(raw))
		return
	}
	r.metrics.Inbound(string(env.Type), nil)

	switch env.Type {
	case bridge.TypeConsole:
		r.mirrorConsole(env.Console)
	case bridge.TypeAuthRequest:
		r.logger.Debug("document requested session", "wire_type", env.WireType)
		r.messenger.MarkWebReady()
		r.messenger.RequestSession(bridge.ReasonWebRequest, true)
	case bridge.TypeHandoffAck:
		r.logger.Info("document acknowledged session import")
		r.messenger.Acknowledge()
	case bridge.TypeReady:
		r.lifecycle.SetReady()
	case bridge.TypeErrorReport:
		r.logger.Warn("document reported error", "message", env.Error.Message)
		r.lifecycle.SetError(env.Error.Message)
	case bridge.TypeSavedAck:
		r.logger.Info("document saved", "fields", fieldNames(env.Fields))
	case bridge.TypeStateUpdate:
		r.logger.Debug("document state update", "fields", fieldNames(env.Fields))
	case bridge.TypeCollaboratorEvent:
		r.logger.Info("collaborator event", "event", env.Collaborator.Event, "user_id", env.Collaborator.UserID)
	default:
		r.logger.Warn("unknown inbound message type", "wire_type", env.WireType)
	}
}

func (r *Router) mirrorConsole(c *bridge.ConsolePayload) {
	if !r.debug || c == nil {
		return
	}
	level := slog.LevelInfo
	switch c.Level {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "debug":
		level = slog.LevelDebug
	}
	r.logger.Log(context.Background(), level, "canvas console", "level", c.Level, "args", c.Args)
}

// fieldNames lists payload keys without logging values, which may hold user content.
func fieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
