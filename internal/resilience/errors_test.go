package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("server overloaded"), 503), true},
		{"wrapped", fmt.Errorf("api call failed: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"eris wrapped", eris.Wrap(NewTransientError(errors.New("slow"), 0), "tool: dispatch"), true},
		{"deadline", fmt.Errorf("provider: %w", context.DeadlineExceeded), true},
		{"regular", errors.New("invalid input: missing field"), false},
		{"connection reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"string pattern", errors.New("read: i/o timeout"), true},
		{"quota is not transient", NewQuotaError(errors.New("budget"), time.Minute), false},
		{"validation is not transient", NewValidationError("tool_id", "empty"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, KindValidation, Kind(NewValidationError("field", "must not be empty")))
	assert.Equal(t, KindTransient, Kind(NewTransientError(errors.New("x"), 503)))
	assert.Equal(t, KindQuota, Kind(fmt.Errorf("wrap: %w", NewQuotaError(errors.New("x"), 0))))
	assert.Equal(t, KindInconsistency, Kind(NewInconsistencyError("sum %.1f", 99.0)))
	assert.Equal(t, KindPermanent, Kind(errors.New("boom")))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "validation: field: must not be empty", NewValidationError("field", "must not be empty").Error())
	assert.Equal(t, "validation: bad", NewValidationError("", "bad").Error())
	assert.Equal(t, "quota exhausted: monthly budget", NewQuotaError(errors.New("monthly budget"), 0).Error())
	assert.Equal(t, "internal inconsistency: weights sum to 99.0", NewInconsistencyError("weights sum to %.1f", 99.0).Error())
}

func TestQuotaError_Unwrap(t *testing.T) {
	inner := errors.New("402 payment required")
	err := NewQuotaError(inner, 30*time.Second)
	assert.ErrorIs(t, err, inner)

	var qe *QuotaError
	assert.True(t, errors.As(fmt.Errorf("outer: %w", err), &qe))
	assert.Equal(t, 30*time.Second, qe.RetryAfter)
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
	for _, code := range []int{200, 400, 401, 402, 403, 404} {
		assert.False(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
}
