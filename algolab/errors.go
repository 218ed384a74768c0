package algolab

import (
	"errors"
	"fmt"
	"time"
)

// Kind partitions every failure surfaced by this package into the
// classes callers are expected to branch on.
type Kind uint8

const (
	// KindAuth means authentication failed in a way that requires a new
	// interactive login (bad credentials, rejected SMS code, refresh
	// rejected twice).
	KindAuth Kind = iota + 1
	// KindUnauthenticated means the session hash was missing or rejected.
	// The client refreshes and retries once before escalating to KindAuth.
	KindUnauthenticated
	// KindRateLimited means the server throttled the request.
	KindRateLimited
	// KindTransient covers timeouts, connection resets and 5xx responses.
	KindTransient
	// KindBusiness is a vendor-level rejection carried in a well-formed
	// response envelope (insufficient balance, unknown symbol, ...).
	KindBusiness
	// KindProtocol means the server response violated the documented
	// contract: unexpected schema, malformed frame, state regression.
	KindProtocol
	// KindFatal is a non-retryable configuration or programmer error.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindBusiness:
		return "business"
	case KindProtocol:
		return "protocol_violation"
	case KindFatal:
		return "fatal"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is the error type returned by every operation in this package.
type Error struct {
	Kind    Kind
	Message string
	// Code is the vendor business code when the server supplied one.
	Code string
	// StatusCode is the HTTP status of the failing response, zero when
	// the failure never produced one.
	StatusCode int
	// RetryAfter is the server-suggested wait for KindRateLimited.
	RetryAfter time.Duration
	// Body holds the raw response payload for diagnostics.
	Body string

	wrapped error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.wrapped != nil {
		msg = e.wrapped.Error()
	}
	switch {
	case e.StatusCode != 0 && e.Code != "":
		return fmt.Sprintf("algolab: %s: %s (HTTP %d, code %s)", e.Kind, msg, e.StatusCode, e.Code)
	case e.StatusCode != 0:
		return fmt.Sprintf("algolab: %s: %s (HTTP %d)", e.Kind, msg, e.StatusCode)
	case e.Code != "":
		return fmt.Sprintf("algolab: %s: %s (code %s)", e.Kind, msg, e.Code)
	}
	return fmt.Sprintf("algolab: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Temporary reports whether retrying the same request later may succeed
// without operator intervention.
func (e *Error) Temporary() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, wrapped: err}
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsAuth reports whether err requires a fresh interactive login.
func IsAuth(err error) bool { return kindOf(err) == KindAuth }

// IsUnauthenticated reports whether err means the session hash was
// rejected or absent.
func IsUnauthenticated(err error) bool { return kindOf(err) == KindUnauthenticated }

// IsRateLimited reports whether err is a throttling response.
func IsRateLimited(err error) bool { return kindOf(err) == KindRateLimited }

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool { return kindOf(err) == KindTransient }

// IsBusiness reports whether err is a vendor business rejection.
func IsBusiness(err error) bool { return kindOf(err) == KindBusiness }

// IsProtocolViolation reports whether the server broke the documented
// contract.
func IsProtocolViolation(err error) bool { return kindOf(err) == KindProtocol }

// IsFatal reports whether err is a configuration or programmer error
// that no retry can fix.
func IsFatal(err error) bool { return kindOf(err) == KindFatal }

// RetryAfter extracts the server-suggested wait from a rate limit
// error, or zero when err is not one.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRateLimited {
		return e.RetryAfter
	}
	return 0
}
