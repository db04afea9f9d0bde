package portfolio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrorKind classifies a failure for retry and reporting.
type ErrorKind string

const (
	KindRateLimited        ErrorKind = "rate_limited"
	KindTransientNetwork   ErrorKind = "transient_network"
	KindTimeout            ErrorKind = "timeout"
	KindInsufficientFunds  ErrorKind = "insufficient_funds"
	KindMetadataLookupMiss ErrorKind = "metadata_lookup_miss"
	KindRejected           ErrorKind = "rejected"
	KindFatal              ErrorKind = "fatal"
)

// Retryable reports whether another attempt may succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTransientNetwork, KindTimeout:
		return true
	}
	return false
}

// Error carries a kind alongside the failed operation.
type Error struct {
	Kind     ErrorKind
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %s after %d attempts: %v", e.Op, e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with an explicit kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Fatalf builds a non-retryable configuration error.
func Fatalf(format string, args ...any) *Error {
	return &Error{Kind: KindFatal, Op: "config", Err: fmt.Errorf(format, args...)}
}

type httpStatusError interface {
	HTTPStatus() int
}

// Classify maps an error to its kind. Errors already carrying a kind keep it.
// Malformed numbers are rejected. Anything unrecognised is assumed to be a
// network failure.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var kinded *Error
	if errors.As(err, &kinded) {
		return kinded.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatus()
		switch {
		case code == 429:
			return KindRateLimited
		case code >= 400 && code < 500:
			return KindRejected
		default:
			return KindTransientNetwork
		}
	}
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return KindRejected
	}
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, "Too Many Requests") {
		return KindRateLimited
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransientNetwork
}
