package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/target/canvas-bridge/internal/bootstrap"
	"github.com/target/canvas-bridge/internal/service"
)

// errQuit ends the command loop without an error.
var errQuit = errors.New("quit")

type commandFn func(ctx context.Context, h *harness, args []string) error

type command struct {
	name        string
	usage       string
	description string
	run         commandFn
}

// harness drives the services the way a host app would: deep links, a canvas screen and
// the messages its document posts.
type harness struct {
	svc     *bootstrap.ServiceContainer
	surface *logSurface
	out     io.Writer
	logger  *slog.Logger

	screen *service.CanvasScreen
}

func newHarness(svc *bootstrap.ServiceContainer, out io.Writer, logger *slog.Logger) *harness {
	return &harness{svc: svc, surface: newLogSurface(logger), out: out, logger: logger}
}

func commands() map[string]command {
	list := []command{
		{"login", "login", "start an interactive sign-in and print the URL to open", cmdLogin},
		{"redirect", "redirect <url>", "deliver a deep link to the app", cmdRedirect},
		{"handoff", "handoff <code>", "deliver a web handoff code via the callback URL", cmdHandoff},
		{"session", "session", "show who is signed in", cmdSession},
		{"signout", "signout", "sign out locally", cmdSignOut},
		{"open", "open <project>", "open the canvas for a project (or switch project)", cmdOpen},
		{"loadstart", "loadstart <url>", "report a navigation start in the canvas", cmdLoadStart},
		{"loadend", "loadend <url>", "report a navigation end in the canvas", cmdLoadEnd},
		{"message", "message <json>", "post a raw message from the canvas document", cmdMessage},
		{"error", "error <description>", "report a load error", cmdError},
		{"http", "http <status> <url>", "report an HTTP error status", cmdHTTPError},
		{"reject", "reject on|off", "make script injection fail", cmdReject},
		{"retry", "retry", "reload after an error", cmdRetry},
		{"state", "state", "show canvas and handshake state", cmdState},
		{"close", "close", "close the canvas screen", cmdClose},
		{"help", "help", "list commands", cmdHelp},
		{"quit", "quit", "exit", func(context.Context, *harness, []string) error { return errQuit }},
	}
	out := make(map[string]command, len(list))
	for _, c := range list {
		out[c.name] = c
	}
	return out
}

// exec runs one input line. Unknown commands and usage errors are reported, not returned.
func (h *harness) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := commands()[fields[0]]
	if !ok {
		h.printf("unknown command %q (try help)\n", fields[0])
		return nil
	}
	// message bodies may contain spaces
	args := fields[1:]
	if cmd.name == "message" || cmd.name == "error" {
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		args = nil
		if rest != "" {
			args = []string{rest}
		}
	}
	err := cmd.run(ctx, h, args)
	if errors.Is(err, errQuit) {
		return err
	}
	if err != nil {
		h.printf("error: %v\n", err)
	}
	return nil
}

func (h *harness) close() {
	if h.screen != nil {
		h.screen.Close()
		h.screen = nil
	}
}

func (h *harness) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(h.out, format, args...)
}

func needArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

func (h *harness) requireScreen() error {
	if h.screen == nil {
		return errors.New("no canvas open (use open <project>)")
	}
	return nil
}

func cmdLogin(ctx context.Context, h *harness, _ []string) error {
	authURL, err := h.svc.Auth.BeginLogin(ctx)
	if err != nil {
		return err
	}
	h.printf("open: %s\n", authURL)
	return nil
}

func cmdRedirect(ctx context.Context, h *harness, args []string) error {
	if err := needArgs(args, 1, "redirect <url>"); err != nil {
		return err
	}
	intent, err := h.svc.Auth.HandleRedirect(ctx, args[0])
	h.printf("redirect: %s\n", intent.Kind)
	if err != nil {
		return err
	}
	return cmdSession(ctx, h, nil)
}

func cmdHandoff(ctx context.Context, h *harness, args []string) error {
	if err := needArgs(args, 1, "handoff <code>"); err != nil {
		return err
	}
	q := url.Values{"handoff": {args[0]}}
	return cmdRedirect(ctx, h, []string{h.svc.Config.Auth.CallbackURL() + "?" + q.Encode()})
}

func cmdSession(_ context.Context, h *harness, _ []string) error {
	sess := h.svc.Sessions.Current()
	if sess == nil {
		h.printf("session: signed out\n")
		return nil
	}
	h.printf("session: signed in as %s\n", sess.UserID)
	return nil
}

func cmdSignOut(ctx context.Context, h *harness, _ []string) error {
	if err := h.svc.Sessions.SignOut(ctx); err != nil {
		return err
	}
	h.printf("session: signed out\n")
	return nil
}

func cmdOpen(ctx context.Context, h *harness, args []string) error {
	if err := needArgs(args, 1, "open <project>"); err != nil {
		return err
	}
	if h.screen != nil {
		return h.screen.SetProject(ctx, args[0])
	}
	screen, err := h.svc.NewCanvasScreen(bootstrap.ScreenOptions{
		Surface:   h.surface,
		ProjectID: args[0],
		OnSignedOut: func() {
			h.printf("canvas: identity signed out, leaving\n")
		},
		OnChange: func(st service.LifecycleState) {
			if st.Error != "" {
				h.printf("canvas: %s\n", st.Error)
			}
		},
	})
	if err != nil {
		return err
	}
	h.screen = screen
	if err := screen.Mount(ctx); err != nil {
		return err
	}
	loaded, _ := h.surface.stats()
	h.printf("canvas: loading %s\n", loaded)
	return nil
}

func cmdLoadStart(_ context.Context, h *harness, args []string) error {
	if err := h.requireScreen(); err != nil {
		return err
	}
	if err := needArgs(args, 1, "loadstart <url>"); err != nil {
		return err
	}
	h.screen.OnLoadStart(args[0])
	return nil
}

func cmdLoadEnd(_ context.Context, h *harness, args []string) error {
	if err := h.requireScreen(); err != nil {
		return err
	}
	if err := needArgs(args, 1, "loadend <url>"); err != nil {
		return err
	}
	h.screen.OnLoadEnd(args[0])
	return nil
}

func cmdMessage(_ context.Context, h *harness, args []string) error {
	if err := h.requireScreen(); err != nil {
		return err
	}
	if err := needArgs(args, 1, "message <json>"); err != nil {
		return err
	}
	h.screen.Route(args[0])
	return nil
}

func cmdError(_ context.Context, h *harness, args []string) error {
	if err := h.requireScreen(); err != nil {
		return err
	}
	desc := ""
	if len(args) > 0 {
		desc = args[0]
	}
	h.screen.OnError(desc)
	return nil
}

func cmdHTTPError(_ context.Context, h *harness, args []string) error {
	if err := h.requireScreen(); err != nil {
		return err
	}
	if err := needArgs(args, 2, "http <status> <url>"); err != nil {
		return err
	}
	status, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid status %q", args[0])
	}
	h.screen.OnHTTPError(status, args[1])
	return nil
}

func cmdReject(_ context.Context, h *harness, args []string) error {
	if err := needArgs(args, 1, "reject on|off"); err != nil {
		return err
	}
	switch args[0] {
	case "on":
		h.surface.setRejecting(true)
	case "off":
		h.surface.setRejecting(false)
	default:
		return errors.New("usage: reject on|off")
	}
	return nil
}

func cmdRetry(ctx context.Context, h *harness, _ []string) error {
	if err := h.requireScreen(); err != nil {
		return err
	}
	return h.screen.Retry(ctx)
}

func cmdState(_ context.Context, h *harness, _ []string) error {
	if err := h.requireScreen(); err != nil {
		return err
	}
	st := h.screen.State()
	snap := h.screen.Handshake()
	_, injected := h.surface.stats()

	tw := tabwriter.NewWriter(h.out, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"loading", strconv.FormatBool(st.Loading)},
		{"error", st.Error},
		{"url", st.URL},
		{"handshake", string(snap.State)},
		{"attempts", strconv.Itoa(snap.Attempts)},
		{"web_ready", strconv.FormatBool(snap.WebReady)},
		{"delivered", strconv.FormatBool(snap.SessionDelivered)},
		{"injected", strconv.Itoa(injected)},
	}
	for _, r := range rows {
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", r[0], r[1])
	}
	return tw.Flush()
}

func cmdClose(_ context.Context, h *harness, _ []string) error {
	if err := h.requireScreen(); err != nil {
		return err
	}
	h.close()
	h.printf("canvas: closed\n")
	return nil
}

func cmdHelp(_ context.Context, h *harness, _ []string) error {
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(h.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		_, _ = fmt.Fprintf(tw, "  %s\t%s\n", cmds[name].usage, cmds[name].description)
	}
	return tw.Flush()
}
