// Package bridge models the session handshake between the host and the embedded canvas document:
// the delivery state machine, the inbound message envelope and the scripts injected into the document.
package bridge

import (
	"strconv"
	"time"
)

// DefaultMaxAttempts is the ceiling on failed delivery attempts before giving up.
const DefaultMaxAttempts = 3

// State is the delivery state of a Handshake.
type State string

const (
	StateIdle      State = "idle"
	StateQueued    State = "queued"
	StateDelivered State = "delivered"
	StateFailed    State = "failed"
	StateGaveUp    State = "gave_up"
)

// Reason records why a delivery was attempted.
type Reason string

const (
	ReasonInitial     Reason = "initial"
	ReasonWebRequest  Reason = "webRequest"
	ReasonLoadEnd     Reason = "loadEnd"
	ReasonBridgeRetry Reason = "bridgeRetry"
	ReasonForced      Reason = "forced"
)

// Tag renders the reason for logs; retries carry their attempt number (bridgeRetry-2).
func (r Reason) Tag(attempt int) string {
	if r == ReasonBridgeRetry {
		return string(r) + "-" + strconv.Itoa(attempt)
	}
	return string(r)
}

// Handshake is the per-screen delivery state machine. It is a value object:
// methods mutate the receiver but perform no I/O and never touch timers.
type Handshake struct {
	state         State
	attempts      int // failed attempts since the last success
	maxAttempts   int
	reason        Reason
	webReady      bool
	lastDelivered time.Time
	// deliveredFor is the reason of the delivery that produced lastDelivered.
	deliveredFor Reason
}

// NewHandshake returns an idle handshake with the given attempt ceiling.
func NewHandshake(maxAttempts int) Handshake {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return Handshake{state: StateIdle, maxAttempts: maxAttempts}
}

// State returns the current state.
func (h Handshake) State() State { return h.state }

// Attempts returns the failed attempt count (retryCount).
func (h Handshake) Attempts() int { return h.attempts }

// MaxAttempts returns the attempt ceiling.
func (h Handshake) MaxAttempts() int { return h.maxAttempts }

// LastReason returns the reason of the most recent delivery attempt.
func (h Handshake) LastReason() Reason { return h.reason }

// SessionDelivered reports whether the document has the session.
func (h Handshake) SessionDelivered() bool { return h.state == StateDelivered }

// DeliveryQueued reports whether a delivery is in flight or waiting for a retry.
func (h Handshake) DeliveryQueued() bool {
	return h.state == StateQueued || h.state == StateFailed
}

// WebReady reports whether the document has asked for a session.
func (h Handshake) WebReady() bool { return h.webReady }

// LastDelivered returns when the session was last delivered.
func (h Handshake) LastDelivered() time.Time { return h.lastDelivered }

// MarkWebReady records that the document volunteered a session request.
func (h *Handshake) MarkWebReady() { h.webReady = true }

// RequestInput describes a delivery request.
type RequestInput struct {
	Reason Reason
	Force  bool
	Now    time.Time
	// CoalesceWindow suppresses forced requests arriving this soon after a delivery that
	// answered a document request, so that aliased requests posted together yield a single
	// delivery. Host-initiated pushes never open the window: the document may have missed them.
	CoalesceWindow time.Duration
}

// Request decides whether a delivery should start. When it returns true the handshake
// is queued and the caller must follow up with Succeed or Fail.
func (h *Handshake) Request(in RequestInput) bool {
	switch h.state {
	case StateQueued, StateFailed, StateGaveUp:
		// A delivery or retry is already pending, or the caller must Reset first.
		return false
	case StateDelivered:
		if !in.Force {
			return false
		}
		if h.deliveredFor == ReasonWebRequest &&
			in.CoalesceWindow > 0 && in.Now.Sub(h.lastDelivered) < in.CoalesceWindow {
			return false
		}
	}
	h.state = StateQueued
	h.reason = in.Reason
	return true
}

// Succeed moves a queued handshake to delivered and clears the failure count.
func (h *Handshake) Succeed(now time.Time) bool {
	if h.state != StateQueued {
		return false
	}
	h.state = StateDelivered
	h.attempts = 0
	h.lastDelivered = now
	h.deliveredFor = h.reason
	return true
}

// FailResult tells the caller what to do after a failed attempt.
type FailResult struct {
	Attempt    int           // 1-based number of the attempt that failed
	RetryAfter time.Duration // zero when GaveUp
	GaveUp     bool
}

// Fail records a failed attempt. Below the ceiling the handshake waits in StateFailed
// for RetryAfter (base * attempt); at the ceiling it terminates in StateGaveUp.
func (h *Handshake) Fail(base time.Duration) (FailResult, bool) {
	if h.state != StateQueued {
		return FailResult{}, false
	}
	h.attempts++
	if h.attempts >= h.maxAttempts {
		h.state = StateGaveUp
		return FailResult{Attempt: h.attempts, GaveUp: true}, true
	}
	h.state = StateFailed
	return FailResult{Attempt: h.attempts, RetryAfter: base * time.Duration(h.attempts)}, true
}

// Retry moves a failed handshake back to queued for the next attempt.
func (h *Handshake) Retry() bool {
	if h.state != StateFailed {
		return false
	}
	h.state = StateQueued
	h.reason = ReasonBridgeRetry
	return true
}

// Acknowledge records the document's confirmation that it imported the session.
// It wins over every other state; the caller cancels any pending retry.
func (h *Handshake) Acknowledge(now time.Time) {
	h.state = StateDelivered
	h.attempts = 0
	h.lastDelivered = now
	h.deliveredFor = ""
}

// Reset returns to idle, e.g. when the document is reloaded by the user.
func (h *Handshake) Reset() {
	*h = NewHandshake(h.maxAttempts)
}

// ReasonTag renders the current reason; retries are numbered by the failures preceding them.
func (h Handshake) ReasonTag() string {
	return h.reason.Tag(h.attempts)
}
