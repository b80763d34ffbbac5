package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/canvas-bridge/config"
	"github.com/target/canvas-bridge/internal/bootstrap"
	"github.com/target/canvas-bridge/internal/service"
)

type options struct {
	initialURL string
	project    string
}

func main() {
	ctx := context.Background()
	cfg, cfgErr := bootstrap.LoadConfig()
	logger := bootstrap.InitLogger(cfg.IsDev)
	if cfgErr != nil {
		logger.ErrorContext(ctx, "load config", "error", cfgErr)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}

	var opts options
	flag.StringVar(&opts.initialURL, "url", "", "deep link the app was launched with")
	flag.StringVar(&opts.project, "project", "", "open the canvas for this project once startup finishes")
	flag.Parse()

	if err := run(ctx, logger, &cfg, opts, os.Stdin, os.Stdout); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig, opts options, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "starting canvas bridge harness",
		"auth_mode", cfg.Auth.Mode,
		"storage", cfg.Storage.Backend,
		"web_origin", cfg.Auth.WebOrigin,
		"dev", cfg.IsDev)

	redisClient, err := initInfrastructure(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() {
			if cerr := redisClient.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close redis failed", "error", cerr)
			}
		}()
	}

	svc, err := bootstrap.NewServices(ctx, bootstrap.ServiceDeps{
		Config:      cfg,
		RedisClient: redisClient,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close services failed", "error", cerr)
		}
	}()

	h := newHarness(svc, out, logger)
	defer h.close()

	lines := make(chan string)
	go scanLines(in, lines)

	g, gctx := errgroup.WithContext(ctx)
	ready := make(chan struct{})
	g.Go(func() error {
		defer close(ready)
		return startup(gctx, h, opts)
	})
	g.Go(func() error {
		select {
		case <-ready:
		case <-gctx.Done():
			return nil
		}
		if gctx.Err() != nil {
			return nil
		}
		return commandLoop(gctx, h, lines)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startup mirrors app launch: wait for the restore (bounded by the watchdog), then handle
// the launch deep link.
func startup(ctx context.Context, h *harness, opts options) error {
	status, err := h.svc.Startup.Wait(ctx)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	if status == service.StartupSlow {
		h.printf("startup: taking longer than expected; still restoring\n")
	}
	if opts.initialURL != "" {
		intent, err := h.svc.Auth.HandleInitialURL(ctx, opts.initialURL)
		h.printf("launch url: %s\n", intent.Kind)
		if err != nil {
			h.printf("error: %v\n", err)
		}
	}
	_ = cmdSession(ctx, h, nil)
	if opts.project != "" {
		return h.exec(ctx, "open "+opts.project)
	}
	return nil
}

func commandLoop(ctx context.Context, h *harness, lines <-chan string) error {
	h.printf("> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := h.exec(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
			h.printf("> ")
		}
	}
}

// scanLines feeds lines until in is exhausted. It is not tied to a context because a
// blocked read on stdin cannot be interrupted.
func scanLines(in io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		lines <- sc.Text()
	}
}

// initInfrastructure connects Redis when the credential store needs it.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func initInfrastructure(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	if cfg.Storage.Backend != config.StorageBackendRedis {
		return nil, nil
	}
	client, err := bootstrap.ConnectRedis(ctx, bootstrap.RedisOptions{Config: cfg.Redis, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}
