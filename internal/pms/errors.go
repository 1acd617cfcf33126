package pms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind buckets adapter failures for the propagation policy.
type ErrorKind string

const (
	// KindConnection covers network failures, timeouts and 5xx
	// responses. Retryable.
	KindConnection ErrorKind = "connection"

	// KindAuth covers 401/403 responses. Non-retryable, surfaced
	// verbatim to the caller.
	KindAuth ErrorKind = "auth"

	// KindMalformedResponse covers undecodable payloads. Non-retryable.
	KindMalformedResponse ErrorKind = "malformed_response"

	// KindCredentialFormat covers keys rejected before any network
	// call. Fails fast, user-correctable.
	KindCredentialFormat ErrorKind = "credential_format"
)

// ErrBulkUnsupported is returned by GetPatientsWithAppointments on
// adapters that only support per-patient appointment fetches.
var ErrBulkUnsupported = errors.New("pms: combined patient+appointment fetch not supported")

// Error is the structured failure every adapter call returns.
type Error struct {
	PMS        Type
	Op         string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s: %s (status %d): %v", e.PMS, e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s: %v", e.PMS, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a repeat of the call can reasonably
// succeed.
func (e *Error) Retryable() bool { return e.Kind == KindConnection }

// NewError wraps err as a structured adapter failure.
func NewError(pmsType Type, op string, kind ErrorKind, statusCode int, err error) *Error {
	return &Error{PMS: pmsType, Op: op, Kind: kind, StatusCode: statusCode, Err: err}
}

// WrapTransport classifies a transport-level error from an HTTP round
// trip. Context cancellation passes through untouched so callers can
// distinguish a client disconnect from a PMS outage.
func WrapTransport(pmsType Type, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NewError(pmsType, op, KindConnection, 0, err)
}

// FromStatus classifies a non-2xx HTTP response.
func FromStatus(pmsType Type, op string, statusCode int, body string) *Error {
	kind := KindConnection
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		kind = KindAuth
	case statusCode >= 400 && statusCode < 500:
		kind = KindMalformedResponse
	}
	return NewError(pmsType, op, kind, statusCode, fmt.Errorf("pms api error: %s", body))
}

// IsRetryable reports whether err is a retryable adapter failure.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// IsAuth reports whether err is a credential rejection from the PMS.
func IsAuth(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindAuth
}

// IsCredentialFormat reports whether err is a locally rejected key.
func IsCredentialFormat(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindCredentialFormat
}
