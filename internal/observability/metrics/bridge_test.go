package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/target/canvas-bridge/internal/errors"
	"github.com/target/canvas-bridge/internal/observability/statsd"
)

func TestRecorderNilSafe(t *testing.T) {
	t.Parallel()

	var r *Recorder
	r.BridgeTransition("queued", "bridgeLoad")
	r.BridgeDelivery(1, time.Millisecond, nil)
	r.HandoffExchange(time.Millisecond, errors.New("boom"))
	r.Redirect("handoff_code", false)
	r.Resend("stagger")
	r.Inbound("ready", nil)

	New(nil).BridgeTransition("queued", "bridgeLoad")
}

func TestRecorderTags(t *testing.T) {
	t.Parallel()

	capture := &statsd.Capture{}
	r := New(capture)

	r.BridgeTransition("delivered", "bridgeLoad")
	r.BridgeDelivery(2, 3*time.Millisecond, apperrors.BridgeDeliveryFailed(2, errors.New("not ready")))
	r.HandoffExchange(10*time.Millisecond, nil)

	assert.Equal(t, 1, capture.CountWhere("bridge.transition", map[string]string{"state": "delivered", "reason": "bridgeLoad"}))
	assert.Equal(t, 1, capture.CountWhere("bridge.delivery", map[string]string{
		"result": "error", "error_class": "bridge_delivery_failed", "attempt": "2",
	}))
	assert.Equal(t, 1, capture.CountWhere("handoff.exchange", map[string]string{"result": "success"}))

	var timings int
	for _, s := range capture.Samples() {
		if s.Name == "handoff.exchange.latency" {
			timings++
			assert.InDelta(t, 10.0, s.Value, 0.001)
		}
	}
	assert.Equal(t, 1, timings)
}
