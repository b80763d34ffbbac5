package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/target/canvas-bridge/internal/ports"
)

var _ ports.Surface = (*logSurface)(nil)

// logSurface stands in for the embedded browser view. It records what the screen asks of
// it and can be told to reject script injection, like a view between documents.
type logSurface struct {
	logger *slog.Logger

	mu        sync.Mutex
	url       string
	injected  int
	rejecting bool
}

func newLogSurface(logger *slog.Logger) *logSurface {
	return &logSurface{logger: logger.With("component", "surface")}
}

func (s *logSurface) Load(ctx context.Context, url, bootstrap string) error {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "load", "url", url, "bootstrap_bytes", len(bootstrap))
	return nil
}

func (s *logSurface) Reload(ctx context.Context) error {
	s.mu.Lock()
	url := s.url
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "reload", "url", url)
	return nil
}

func (s *logSurface) InjectJavaScript(ctx context.Context, script string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejecting {
		s.logger.WarnContext(ctx, "inject rejected")
		return errors.New("document not ready for scripts")
	}
	s.injected++
	// Scripts carry credentials; only their size is logged.
	s.logger.DebugContext(ctx, "inject", "script_bytes", len(script), "count", s.injected)
	return nil
}

func (s *logSurface) setRejecting(v bool) {
	s.mu.Lock()
	s.rejecting = v
	s.mu.Unlock()
}

func (s *logSurface) stats() (url string, injected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, s.injected
}
