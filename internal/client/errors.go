package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a broker API failure. Classification happens once,
// at the HTTP boundary; retry policies switch on the kind and never inspect
// error strings.
type ErrorKind int

const (
	// KindValidation marks malformed input surfaced before any request.
	KindValidation ErrorKind = iota
	// KindAuth marks a 401: the token is stale and must be regenerated.
	KindAuth
	// KindRateLimit marks a 429: retry with exponential backoff.
	KindRateLimit
	// KindTransientServer marks a 5xx: retry with backoff.
	KindTransientServer
	// KindPermanentClient marks any other 4xx: never retried.
	KindPermanentClient
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindTransientServer:
		return "transient_server"
	default:
		return "permanent_client"
	}
}

// APIError is a classified broker API failure.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("broker API error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("broker API error (%s): %s", e.Kind, e.Message)
}

// ErrMissingCredentials is returned when the broker API key or secret is
// not configured. It is fatal; no retry can help.
var ErrMissingCredentials = errors.New("broker API key and secret are required")

// classifyStatus maps an HTTP status code to an APIError.
func classifyStatus(statusCode int, message string) *APIError {
	var kind ErrorKind
	switch {
	case statusCode == http.StatusUnauthorized:
		kind = KindAuth
	case statusCode == http.StatusTooManyRequests:
		kind = KindRateLimit
	case statusCode >= 500:
		kind = KindTransientServer
	default:
		kind = KindPermanentClient
	}
	return &APIError{Kind: kind, StatusCode: statusCode, Message: message}
}

// IsRetryable reports whether an error may succeed on retry. Auth errors
// are retryable exactly once, which the retry wrapper tracks itself.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Transport-level failures (timeouts, resets) are worth retrying.
		return true
	}
	switch apiErr.Kind {
	case KindRateLimit, KindTransientServer, KindAuth:
		return true
	default:
		return false
	}
}
