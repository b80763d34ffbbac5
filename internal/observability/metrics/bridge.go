// Package metrics emits the counters and timings for session handoff and bridge delivery.
package metrics

import (
	"strconv"
	"time"

	obserrors "github.com/target/canvas-bridge/internal/observability/errors"
	"github.com/target/canvas-bridge/internal/observability/statsd"
)

const (
	metricBridgeTransition = "bridge.transition"
	metricBridgeDelivery   = "bridge.delivery"
	metricHandoffExchange  = "handoff.exchange"
	metricHandoffLatency   = "handoff.exchange.latency"
	metricRedirect         = "auth.redirect"
	metricLifecycleResend  = "bridge.resend"
	metricRouterMessage    = "bridge.inbound"
)

// Recorder wraps a statsd.Sink. The zero value and a nil *Recorder drop everything.
type Recorder struct {
	sink statsd.Sink
}

// New returns a Recorder emitting to sink. A nil sink disables emission.
func New(sink statsd.Sink) *Recorder {
	return &Recorder{sink: sink}
}

func (r *Recorder) enabled() bool {
	return r != nil && r.sink != nil
}

// BridgeTransition counts a handshake state change, tagged with the target state and reason.
func (r *Recorder) BridgeTransition(to, reason string) {
	if !r.enabled() {
		return
	}
	r.sink.Count(metricBridgeTransition, 1, map[string]string{"state": to, "reason": reason})
}

// BridgeDelivery records the outcome of one delivery attempt.
func (r *Recorder) BridgeDelivery(attempt int, took time.Duration, err error) {
	if !r.enabled() {
		return
	}
	tags := resultTags(err)
	tags["attempt"] = strconv.Itoa(attempt)
	r.sink.Count(metricBridgeDelivery, 1, tags)
	r.sink.Timing(metricBridgeDelivery, took, tags)
}

// HandoffExchange records one handoff exchange outcome and its latency.
func (r *Recorder) HandoffExchange(took time.Duration, err error) {
	if !r.enabled() {
		return
	}
	tags := resultTags(err)
	r.sink.Count(metricHandoffExchange, 1, tags)
	r.sink.Timing(metricHandoffLatency, took, tags)
}

// Redirect counts a classified incoming redirect.
func (r *Recorder) Redirect(kind string, duplicate bool) {
	if !r.enabled() {
		return
	}
	r.sink.Count(metricRedirect, 1, map[string]string{"kind": kind, "duplicate": strconv.FormatBool(duplicate)})
}

// Resend counts a lifecycle-triggered session resend.
func (r *Recorder) Resend(trigger string) {
	if !r.enabled() {
		return
	}
	r.sink.Count(metricLifecycleResend, 1, map[string]string{"trigger": trigger})
}

// Inbound counts a message received from the embedded document.
func (r *Recorder) Inbound(messageType string, err error) {
	if !r.enabled() {
		return
	}
	tags := resultTags(err)
	tags["type"] = messageType
	r.sink.Count(metricRouterMessage, 1, tags)
}

func resultTags(err error) map[string]string {
	if err == nil {
		return map[string]string{"result": "success"}
	}
	return map[string]string{"result": "error", "error_class": obserrors.Classify(err)}
}
