// Package resilience provides the error taxonomy, retry with backoff, and
// per-tool circuit breakers used around capability provider calls.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// Error kinds reported on tool results and API responses.
const (
	KindValidation    = "validation"
	KindTransient     = "transient"
	KindQuota         = "quota"
	KindInconsistency = "inconsistency"
	KindPermanent     = "permanent"
)

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx,
// timeouts, rate-limit rejections).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// QuotaError reports an exhausted provider budget. RetryAfter is the
// earliest point the budget is expected back; zero means unknown.
type QuotaError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return "quota exhausted: " + e.Err.Error()
}

func (e *QuotaError) Unwrap() error {
	return e.Err
}

// NewQuotaError wraps err as a quota exhaustion.
func NewQuotaError(err error, retryAfter time.Duration) *QuotaError {
	return &QuotaError{Err: err, RetryAfter: retryAfter}
}

// InconsistencyError reports broken internal invariants, such as a weight
// vector that does not sum to 100. Callers must halt rather than continue.
type InconsistencyError struct {
	Reason string
}

func (e *InconsistencyError) Error() string {
	return "internal inconsistency: " + e.Reason
}

// NewInconsistencyError formats an InconsistencyError.
func NewInconsistencyError(format string, args ...any) *InconsistencyError {
	return &InconsistencyError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsQuota reports whether err carries a QuotaError.
func IsQuota(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}

// IsInconsistency reports whether err carries an InconsistencyError.
func IsInconsistency(err error) bool {
	var ie *InconsistencyError
	return errors.As(err, &ie)
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, a deadline expiry, or matches common transient network
// patterns (timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if IsQuota(err) || IsValidation(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Kind classifies err into one of the taxonomy kinds. Nil maps to "".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return KindValidation
	case IsQuota(err):
		return KindQuota
	case IsInconsistency(err):
		return KindInconsistency
	case IsTransient(err):
		return KindTransient
	default:
		return KindPermanent
	}
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
