package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/canvas-bridge/config"
	"github.com/target/canvas-bridge/internal/bootstrap"
	"github.com/target/canvas-bridge/internal/testutil"
)

func devConfig() config.AppConfig {
	cfg := config.AppConfig{
		Auth: config.AuthConfig{
			Mode:      config.AuthModeMock,
			WebOrigin: "https://web.example.com",
			DevAuth:   config.DevAuthConfig{UserID: "dev-user", Email: "dev@example.com"},
		},
		Storage: config.StorageConfig{Backend: config.StorageBackendMemory, MaxValueBytes: 2048, MemoryCapacity: 8},
	}
	cfg.Sanitize()
	return cfg
}

func newTestHarness(t *testing.T) (*harness, *testutil.SyncBuffer) {
	t.Helper()
	cfg := devConfig()
	svc, err := bootstrap.NewServices(context.Background(), bootstrap.ServiceDeps{
		Config: &cfg,
		Clock:  testutil.NewFakeClock(time.Time{}),
		Logger: testutil.DiscardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	out := &testutil.SyncBuffer{}
	h := newHarness(svc, out, testutil.DiscardLogger())
	t.Cleanup(h.close)
	return h, out
}

func lineAfter(output, prefix string) string {
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix)
		}
	}
	return ""
}

func TestHarness_HelpListsCommands(t *testing.T) {
	h, out := newTestHarness(t)
	require.NoError(t, h.exec(context.Background(), "help"))
	for _, want := range []string{"login", "redirect <url>", "open <project>", "http <status> <url>"} {
		assert.Contains(t, out.String(), want)
	}
}

func TestHarness_ReportsBadInput(t *testing.T) {
	h, out := newTestHarness(t)
	ctx := context.Background()

	require.NoError(t, h.exec(ctx, ""))
	require.NoError(t, h.exec(ctx, "bogus"))
	require.NoError(t, h.exec(ctx, "redirect"))
	require.NoError(t, h.exec(ctx, "state"))
	require.NoError(t, h.exec(ctx, "reject maybe"))

	s := out.String()
	assert.Contains(t, s, `unknown command "bogus"`)
	assert.Contains(t, s, "usage: redirect <url>")
	assert.Contains(t, s, "no canvas open")
	assert.Contains(t, s, "usage: reject on|off")

	assert.ErrorIs(t, h.exec(ctx, "quit"), errQuit)
}

func TestHarness_SignInOpenCanvasAndSignOut(t *testing.T) {
	h, out := newTestHarness(t)
	ctx := context.Background()

	require.NoError(t, startup(ctx, h, options{}))
	assert.Contains(t, out.String(), "session: signed out")

	require.NoError(t, h.exec(ctx, "login"))
	authURL := lineAfter(out.String(), "open: ")
	require.True(t, strings.HasPrefix(authURL, "textilearchive://auth?"), authURL)

	require.NoError(t, h.exec(ctx, "redirect "+authURL))
	assert.Contains(t, out.String(), "redirect: authorization_code")
	require.Eventually(t, func() bool { return h.svc.Sessions.Current() != nil }, time.Second, time.Millisecond)

	require.NoError(t, h.exec(ctx, "session"))
	assert.Contains(t, out.String(), "session: signed in as dev-user")

	require.NoError(t, h.exec(ctx, "open p1"))
	assert.Contains(t, out.String(), "canvas: loading https://web.example.com/auth/import-session")
	loaded, _ := h.surface.stats()
	assert.Contains(t, loaded, "p1")

	require.NoError(t, h.exec(ctx, "state"))
	assert.Contains(t, out.String(), "handshake")

	require.NoError(t, h.exec(ctx, `message {"type":"console","level":"log","args":["hi there"]}`))
	require.NoError(t, h.exec(ctx, "http 503 https://web.example.com/project/p1"))

	require.NoError(t, h.exec(ctx, "signout"))
	assert.Contains(t, out.String(), "canvas: identity signed out, leaving")
	assert.Nil(t, h.svc.Sessions.Current())

	require.NoError(t, h.exec(ctx, "close"))
	assert.Contains(t, out.String(), "canvas: closed")
	assert.Nil(t, h.screen)
}

func TestHarness_LaunchURLIsHandledAfterStartup(t *testing.T) {
	h, out := newTestHarness(t)
	ctx := context.Background()

	require.NoError(t, startup(ctx, h, options{initialURL: "https://example.com/unrelated"}))
	assert.Contains(t, out.String(), "launch url: ignored")
}

func TestCommandLoop_StopsOnQuit(t *testing.T) {
	h, out := newTestHarness(t)
	lines := make(chan string, 3)
	lines <- "session"
	lines <- "quit"
	lines <- "session"
	close(lines)

	require.NoError(t, commandLoop(context.Background(), h, lines))
	assert.Equal(t, 1, strings.Count(out.String(), "session: signed out"))
}

func TestRun_ReadsCommandsUntilEOF(t *testing.T) {
	cfg := devConfig()
	out := &testutil.SyncBuffer{}
	in := strings.NewReader("session\nhelp\n")

	err := run(context.Background(), testutil.DiscardLogger(), &cfg, options{}, in, out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "session: signed out")
	assert.Contains(t, out.String(), "list commands")
}
