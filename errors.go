package qanat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies failures for routing and observability. Tool-level
// failures never carry a kind; they re-enter the conversation as plain
// strings and the loop continues.
type ErrorKind string

const (
	KindInvalidInput     ErrorKind = "INVALID_INPUT"
	KindUnauthenticated  ErrorKind = "UNAUTHENTICATED"
	KindPathEscape       ErrorKind = "PATH_ESCAPE"
	KindProviderTimeout  ErrorKind = "PROVIDER_TIMEOUT"
	KindProviderRejected ErrorKind = "PROVIDER_REJECTED"
	KindVectorBackend    ErrorKind = "VECTOR_BACKEND_ERROR"
	KindStepCapExceeded  ErrorKind = "STEP_CAP_EXCEEDED"
	KindStore            ErrorKind = "STORE_ERROR"
)

// ErrLLM is a provider-level failure that is not an HTTP status error
// (marshalling, connection setup, malformed response body).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-2xx response from a provider or backend.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration // parsed Retry-After header, 0 if absent
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrStore wraps a conversation-store failure with the operation name.
type ErrStore struct {
	Op  string
	Err error
}

func (e *ErrStore) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *ErrStore) Unwrap() error { return e.Err }

// ErrVector wraps a vector-backend failure.
type ErrVector struct {
	Op  string
	Err error
}

func (e *ErrVector) Error() string { return fmt.Sprintf("vector %s: %v", e.Op, e.Err) }
func (e *ErrVector) Unwrap() error { return e.Err }

// ErrKind attaches an explicit kind to an error. Used for failures that
// have no structural type of their own (step cap, malformed tool args).
type ErrKind struct {
	Kind ErrorKind
	Msg  string
}

func (e *ErrKind) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

// KindOf classifies err into an ErrorKind. Unrecognised errors classify
// as PROVIDER_REJECTED when they came from a provider call and STORE_ERROR
// is only reported for ErrStore; callers that need a default should treat
// the empty string as "unclassified".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ek *ErrKind
	if errors.As(err, &ek) {
		return ek.Kind
	}
	var ea *ErrToolArgs
	if errors.As(err, &ea) {
		return KindInvalidInput
	}
	var es *ErrStore
	if errors.As(err, &es) {
		return KindStore
	}
	var ev *ErrVector
	if errors.As(err, &ev) {
		return KindVectorBackend
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindProviderTimeout
	}
	var eh *ErrHTTP
	if errors.As(err, &eh) {
		switch {
		case eh.Status == http.StatusRequestTimeout || eh.Status == http.StatusGatewayTimeout:
			return KindProviderTimeout
		default:
			return KindProviderRejected
		}
	}
	var el *ErrLLM
	if errors.As(err, &el) {
		return KindProviderRejected
	}
	return ""
}

// Retryable reports whether err is transient: a provider timeout, a 429,
// or a 5xx. The turn pipeline never retries; the classification is exposed
// for callers that want a retry policy, and WithRetry layers one onto a
// Provider for callers that opt in.
func Retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var e *ErrHTTP
	if errors.As(err, &e) {
		return e.Status == http.StatusTooManyRequests || e.Status >= 500
	}
	return false
}

// ParseRetryAfter parses an HTTP Retry-After header value, either as
// delay-seconds or an HTTP date. Returns 0 when absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
