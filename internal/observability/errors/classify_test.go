package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/target/canvas-bridge/internal/errors"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "app error code", err: apperrors.HandoffExchangeFailed(400, "bad"), want: "handoff_exchange_failed"},
		{name: "wrapped app error", err: fmt.Errorf("outer: %w", apperrors.BridgeDeliveryFailed(2, nil)), want: "bridge_delivery_failed"},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: "timeout"},
		{name: "canceled", err: context.Canceled, want: "canceled"},
		{name: "concrete type", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, want: "errors_errorstring"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
