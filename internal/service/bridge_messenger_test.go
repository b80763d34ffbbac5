package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainauth "github.com/target/canvas-bridge/internal/domain/auth"
	"github.com/target/canvas-bridge/internal/domain/bridge"
	apperrors "github.com/target/canvas-bridge/internal/errors"
	"github.com/target/canvas-bridge/internal/mocks"
	"github.com/target/canvas-bridge/internal/observability/metrics"
	"github.com/target/canvas-bridge/internal/observability/statsd"
	"github.com/target/canvas-bridge/internal/testutil"
)

// fakeSource returns creds or err and counts calls.
type fakeSource struct {
	mu    sync.Mutex
	creds domainauth.Credentials
	err   error
	calls int
}

func (f *fakeSource) Credentials(context.Context) (domainauth.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domainauth.Credentials{}, f.err
	}
	return f.creds, nil
}

func (f *fakeSource) set(creds domainauth.Credentials, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds, f.err = creds, err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var testCreds = domainauth.Credentials{AccessToken: "access-1", RefreshToken: "refresh-1"}

type messengerFixture struct {
	messenger *BridgeMessenger
	source    *fakeSource
	surface   *mocks.MockSurface
	clock     *testutil.FakeClock
	capture   *statsd.Capture
	gaveUp    []error
}

func newMessengerFixture(t *testing.T) *messengerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &messengerFixture{
		source:  &fakeSource{creds: testCreds},
		surface: mocks.NewMockSurface(ctrl),
		clock:   testutil.NewFakeClock(time.Time{}),
		capture: &statsd.Capture{},
	}
	m, err := NewBridgeMessenger(BridgeMessengerOptions{
		Source:   f.source,
		Surface:  f.surface,
		Clock:    f.clock,
		Logger:   testutil.DiscardLogger(),
		Metrics:  metrics.New(f.capture),
		OnGiveUp: func(err error) { f.gaveUp = append(f.gaveUp, err) },
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	f.messenger = m
	return f
}

func TestNewBridgeMessenger_RequiredDependencies(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, err := NewBridgeMessenger(BridgeMessengerOptions{Surface: mocks.NewMockSurface(ctrl)})
	require.Error(t, err)
	_, err = NewBridgeMessenger(BridgeMessengerOptions{Source: &fakeSource{}})
	require.Error(t, err)
}

func TestBridgeMessenger_DeliversViaMessageEvent(t *testing.T) {
	f := newMessengerFixture(t)

	var script string
	f.surface.EXPECT().InjectJavaScript(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, s string) error {
			script = s
			return nil
		})

	require.True(t, f.messenger.RequestSession(bridge.ReasonWebRequest, false))

	snap := f.messenger.Snapshot()
	assert.Equal(t, bridge.StateDelivered, snap.State)
	assert.True(t, snap.SessionDelivered)
	assert.False(t, snap.DeliveryQueued)
	assert.Contains(t, script, "MessageEvent")
	assert.Contains(t, script, `"supabase-session"`)
	assert.Contains(t, script, "access-1")
	assert.NotContains(t, script, "location")
}

func TestBridgeMessenger_NonForcedRequestAfterDeliveryIgnored(t *testing.T) {
	f := newMessengerFixture(t)
	f.surface.EXPECT().InjectJavaScript(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	require.True(t, f.messenger.RequestSession(bridge.ReasonInitial, false))
	f.clock.Advance(time.Second)

	assert.False(t, f.messenger.RequestSession(bridge.ReasonWebRequest, false))
	assert.True(t, f.messenger.RequestSession(bridge.ReasonForced, true))
	assert.Equal(t, 2, f.source.Calls())
}

func TestBridgeMessenger_AliasedRequestsDeliverOnce(t *testing.T) {
	f := newMessengerFixture(t)
	f.surface.EXPECT().InjectJavaScript(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	f.messenger.MarkWebReady()
	assert.True(t, f.messenger.RequestSession(bridge.ReasonWebRequest, true))
	f.messenger.MarkWebReady()
	assert.False(t, f.messenger.RequestSession(bridge.ReasonWebRequest, true))

	assert.True(t, f.messenger.Snapshot().WebReady)
}

func TestBridgeMessenger_DocumentRequestAfterHostPushIsDelivered(t *testing.T) {
	f := newMessengerFixture(t)
	f.surface.EXPECT().InjectJavaScript(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	require.True(t, f.messenger.RequestSession(bridge.ReasonLoadEnd, true))
	f.clock.Advance(50 * time.Millisecond)

	f.messenger.MarkWebReady()
	assert.True(t, f.messenger.RequestSession(bridge.ReasonWebRequest, true))
	f.messenger.MarkWebReady()
	assert.False(t, f.messenger.RequestSession(bridge.ReasonWebRequest, true), "alias of the same request")
	assert.Equal(t, 2, f.source.Calls())
}

func TestBridgeMessenger_GivesUpAfterExactlyThreeAttempts(t *testing.T) {
	f := newMessengerFixture(t)
	f.source.set(domainauth.Credentials{}, apperrors.NotFound("no current session"))

	require.True(t, f.messenger.RequestSession(bridge.ReasonWebRequest, true))
	snap := f.messenger.Snapshot()
	assert.Equal(t, bridge.StateFailed, snap.State)
	assert.Equal(t, 1, snap.Attempts)
	assert.Equal(t, 1, f.source.Calls())

	// First retry after 1s.
	f.clock.Advance(999 * time.Millisecond)
	assert.Equal(t, 1, f.source.Calls())
	f.clock.Advance(time.Millisecond)
	assert.Equal(t, 2, f.source.Calls())
	assert.Equal(t, "bridgeRetry-1", f.messenger.Snapshot().Reason)

	// Second retry after 2s more.
	f.clock.Advance(1999 * time.Millisecond)
	assert.Equal(t, 2, f.source.Calls())
	f.clock.Advance(time.Millisecond)
	assert.Equal(t, 3, f.source.Calls())

	snap = f.messenger.Snapshot()
	assert.Equal(t, bridge.StateGaveUp, snap.State)
	assert.Equal(t, 3, snap.Attempts)
	require.Len(t, f.gaveUp, 1)
	assert.True(t, apperrors.IsBridgeDeliveryFailed(f.gaveUp[0]))
	var appErr *apperrors.AppError
	require.ErrorAs(t, f.gaveUp[0], &appErr)
	assert.Equal(t, 3, appErr.Attempt)

	// Never a fourth attempt, even when asked again.
	f.clock.Advance(time.Minute)
	assert.False(t, f.messenger.RequestSession(bridge.ReasonLoadEnd, true))
	assert.Equal(t, 3, f.source.Calls())
	assert.Equal(t, 0, f.clock.Pending())
}

func TestBridgeMessenger_InjectionFailureSharesRetryPath(t *testing.T) {
	f := newMessengerFixture(t)
	gomock.InOrder(
		f.surface.EXPECT().InjectJavaScript(gomock.Any(), gomock.Any()).Return(errors.New("document not ready")),
		f.surface.EXPECT().InjectJavaScript(gomock.Any(), gomock.Any()).Return(nil),
	)

	require.True(t, f.messenger.RequestSession(bridge.ReasonLoadEnd, true))
	assert.Equal(t, bridge.StateFailed, f.messenger.Snapshot().State)

	f.clock.Advance(DefaultRetryBase)
	snap := f.messenger.Snapshot()
	assert.Equal(t, bridge.StateDelivered, snap.State)
	assert.Equal(t, 0, snap.Attempts)
	assert.Equal(t, 1, f.capture.CountWhere("bridge.delivery", map[string]string{"result": "error", "attempt": "1"}))
	assert.Equal(t, 1, f.capture.CountWhere("bridge.delivery", map[string]string{"result": "success", "attempt": "2"}))
}

func TestBridgeMessenger_AcknowledgePreemptsPendingRetry(t *testing.T) {
	f := newMessengerFixture(t)
	f.source.set(domainauth.Credentials{}, errors.New("refresh in flight"))

	require.True(t, f.messenger.RequestSession(bridge.ReasonWebRequest, true))
	f.clock.Advance(DefaultRetryBase)
	snap := f.messenger.Snapshot()
	require.Equal(t, bridge.StateFailed, snap.State)
	require.Equal(t, 2, snap.Attempts)

	f.messenger.Acknowledge()
	snap = f.messenger.Snapshot()
	assert.Equal(t, bridge.StateDelivered, snap.State)
	assert.Equal(t, 0, snap.Attempts)
	assert.Equal(t, 0, f.clock.Pending(), "retry timer must be cancelled")

	f.clock.Advance(time.Minute)
	assert.Equal(t, 2, f.source.Calls())
	assert.Empty(t, f.gaveUp)
}

func TestBridgeMessenger_AcknowledgeDuringInFlightDelivery(t *testing.T) {
	f := newMessengerFixture(t)
	f.surface.EXPECT().InjectJavaScript(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string) error {
			f.messenger.Acknowledge()
			return errors.New("evaluation aborted")
		})

	require.True(t, f.messenger.RequestSession(bridge.ReasonWebRequest, true))
	assert.Equal(t, bridge.StateDelivered, f.messenger.Snapshot().State)
	assert.Equal(t, 0, f.clock.Pending())
}

func TestBridgeMessenger_ResetAfterGiveUp(t *testing.T) {
	f := newMessengerFixture(t)
	f.source.set(domainauth.Credentials{}, errors.New("expired"))

	require.True(t, f.messenger.RequestSession(bridge.ReasonWebRequest, true))
	f.clock.Advance(10 * time.Second)
	require.Equal(t, bridge.StateGaveUp, f.messenger.Snapshot().State)

	f.messenger.Reset()
	assert.Equal(t, bridge.StateIdle, f.messenger.Snapshot().State)

	f.source.set(testCreds, nil)
	f.surface.EXPECT().InjectJavaScript(gomock.Any(), gomock.Any()).Return(nil)
	assert.True(t, f.messenger.RequestSession(bridge.ReasonForced, true))
	assert.Equal(t, bridge.StateDelivered, f.messenger.Snapshot().State)
}

func TestBridgeMessenger_CloseStopsRetries(t *testing.T) {
	f := newMessengerFixture(t)
	f.source.set(domainauth.Credentials{}, errors.New("expired"))

	require.True(t, f.messenger.RequestSession(bridge.ReasonWebRequest, true))
	f.messenger.Close()
	f.clock.Advance(time.Minute)

	assert.Equal(t, 1, f.source.Calls())
	assert.False(t, f.messenger.RequestSession(bridge.ReasonForced, true))
}

func TestBridgeMessenger_TransitionMetrics(t *testing.T) {
	f := newMessengerFixture(t)
	f.surface.EXPECT().InjectJavaScript(gomock.Any(), gomock.Any()).Return(nil)

	f.messenger.RequestSession(bridge.ReasonInitial, false)

	assert.Equal(t, 1, f.capture.CountWhere("bridge.transition", map[string]string{"state": "queued", "reason": "initial"}))
	assert.Equal(t, 1, f.capture.CountWhere("bridge.transition", map[string]string{"state": "delivered", "reason": "initial"}))
}

func TestBridgeMessenger_ScriptNeverCarriesTokensInURL(t *testing.T) {
	f := newMessengerFixture(t)
	f.surface.EXPECT().InjectJavaScript(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, s string) error {
			assert.False(t, strings.Contains(s, "?access_token="))
			return nil
		})

	f.messenger.RequestSession(bridge.ReasonInitial, false)
}
