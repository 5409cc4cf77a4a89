// Package rdaperr defines the error taxonomy shared by every stage of the
// query pipeline. Each error exposes a machine readable code, a remediation
// hint and the HTTP status an API surface should answer with.
package rdaperr

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"
)

const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeRateLimit     = "RATE_LIMIT_EXCEEDED"
	CodeNoServer      = "NO_SERVER_FOUND"
	CodeSSRF          = "SSRF_PROTECTION"
	CodeNetwork       = "NETWORK_ERROR"
	CodeTimeout       = "TIMEOUT"
	CodeServer        = "RDAP_SERVER_ERROR"
	CodeParse         = "PARSE_ERROR"
	CodeNormalization = "NORMALIZATION_ERROR"
	CodeCache         = "CACHE_ERROR"
	CodeQueueCleared  = "QUEUE_CLEARED"
)

// Coded is implemented by all errors of this package.
type Coded interface {
	error
	Code() string
	Hint() string
	HTTPStatus() int
}

var (
	_ Coded = (*ValidationError)(nil)
	_ Coded = (*RateLimitError)(nil)
	_ Coded = (*NoServerFoundError)(nil)
	_ Coded = (*SSRFProtectionError)(nil)
	_ Coded = (*NetworkError)(nil)
	_ Coded = (*TimeoutError)(nil)
	_ Coded = (*ServerError)(nil)
	_ Coded = (*ParseError)(nil)
	_ Coded = (*NormalizationError)(nil)
	_ Coded = (*CacheError)(nil)
	_ Coded = (*queueClearedError)(nil)
)

// ValidationError reports a malformed query input. It is raised before any
// cache or network access.
type ValidationError struct {
	Field  string
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Input, e.Reason)
}
func (e *ValidationError) Code() string    { return CodeValidation }
func (e *ValidationError) HTTPStatus() int { return http.StatusBadRequest }
func (e *ValidationError) Hint() string {
	switch e.Field {
	case "domain":
		return "use a fully qualified domain name such as example.com"
	case "ip":
		return "use a literal IPv4 or IPv6 address such as 192.0.2.1 or 2001:db8::1"
	case "asn":
		return "use an AS number such as 15169 or AS15169"
	}
	return "check the query input"
}

// RateLimitError is returned when the caller exceeded its request window.
type RateLimitError struct {
	Key        string
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per %s exceeded for %q, retry after %s", e.Limit, e.Window, e.Key, e.RetryAfter)
}
func (e *RateLimitError) Code() string    { return CodeRateLimit }
func (e *RateLimitError) HTTPStatus() int { return http.StatusTooManyRequests }
func (e *RateLimitError) Hint() string {
	return fmt.Sprintf("wait %s before sending another request", e.RetryAfter.Round(time.Millisecond))
}

// NoServerFoundError is returned when no bootstrap entry covers the query.
type NoServerFoundError struct {
	Registry string
	Query    string
}

func (e *NoServerFoundError) Error() string {
	return fmt.Sprintf("no rdap server found in %s bootstrap registry for %q", e.Registry, e.Query)
}
func (e *NoServerFoundError) Code() string    { return CodeNoServer }
func (e *NoServerFoundError) HTTPStatus() int { return http.StatusNotFound }
func (e *NoServerFoundError) Hint() string {
	return "the registry for this resource does not publish an RDAP service"
}

// SSRFProtectionError is returned when a URL targets a blocked network.
type SSRFProtectionError struct {
	URL    string
	Reason string
}

func (e *SSRFProtectionError) Error() string {
	return fmt.Sprintf("request to %q blocked: %s", e.URL, e.Reason)
}
func (e *SSRFProtectionError) Code() string    { return CodeSSRF }
func (e *SSRFProtectionError) HTTPStatus() int { return http.StatusForbidden }
func (e *SSRFProtectionError) Hint() string {
	return "only https URLs on public hosts can be queried"
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string   { return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err) }
func (e *NetworkError) Unwrap() error   { return e.Err }
func (e *NetworkError) Code() string    { return CodeNetwork }
func (e *NetworkError) HTTPStatus() int { return http.StatusBadGateway }
func (e *NetworkError) Hint() string    { return "check connectivity to the registry and try again" }

// TimeoutError is returned when a request attempt ran out of time.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Timeout)
}
func (e *TimeoutError) Unwrap() error   { return e.Err }
func (e *TimeoutError) Code() string    { return CodeTimeout }
func (e *TimeoutError) HTTPStatus() int { return http.StatusGatewayTimeout }
func (e *TimeoutError) Hint() string    { return "the registry is slow, retry later or raise the request timeout" }

// ServerError is an unexpected HTTP status from an RDAP server.
type ServerError struct {
	URL    string
	Status int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("rdap server %s answered %d %s", e.URL, e.Status, http.StatusText(e.Status))
}
func (e *ServerError) Code() string { return CodeServer }
func (e *ServerError) HTTPStatus() int {
	if e.Status == http.StatusNotFound {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}
func (e *ServerError) Hint() string {
	if e.Status == http.StatusNotFound {
		return "the registry has no record for this object"
	}
	return "the registry returned an error, retry later"
}

// ParseError reports a malformed upstream payload.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string   { return fmt.Sprintf("parse response from %s: %v", e.Source, e.Err) }
func (e *ParseError) Unwrap() error   { return e.Err }
func (e *ParseError) Code() string    { return CodeParse }
func (e *ParseError) HTTPStatus() int { return http.StatusInternalServerError }
func (e *ParseError) Hint() string    { return "the registry returned a payload that is not valid RDAP JSON" }

// NormalizationError is returned when a parsed payload cannot be mapped to
// the canonical schema.
type NormalizationError struct {
	Source string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize response from %s: %s", e.Source, e.Reason)
}
func (e *NormalizationError) Code() string    { return CodeNormalization }
func (e *NormalizationError) HTTPStatus() int { return http.StatusInternalServerError }
func (e *NormalizationError) Hint() string    { return "the registry response does not match the queried object type" }

// CacheError reports a cache backend failure. Callers log it and treat the
// operation as a miss.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string   { return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err) }
func (e *CacheError) Unwrap() error   { return e.Err }
func (e *CacheError) Code() string    { return CodeCache }
func (e *CacheError) HTTPStatus() int { return http.StatusInternalServerError }
func (e *CacheError) Hint() string    { return "the cache backend is unavailable, results are fetched live" }

type queueClearedError struct{}

func (queueClearedError) Error() string   { return "queue cleared before the item was processed" }
func (queueClearedError) Code() string    { return CodeQueueCleared }
func (queueClearedError) HTTPStatus() int { return http.StatusServiceUnavailable }
func (queueClearedError) Hint() string    { return "resubmit the query" }

// ErrQueueCleared rejects items still waiting in a priority queue lane when
// the queue is cleared.
var ErrQueueCleared error = queueClearedError{}

// IsRetryable reports whether err belongs to the retryable class. Network
// and timeout errors always are; server errors only when their status is
// listed in retryableStatus. Everything else is terminal.
func IsRetryable(err error, retryableStatus []int) bool {
	if err == nil {
		return false
	}
	var se *ServerError
	if errors.As(err, &se) {
		return slices.Contains(retryableStatus, se.Status)
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var te *TimeoutError
	return errors.As(err, &te)
}

// CodeOf returns the code of err, or "INTERNAL_ERROR" when err carries none.
func CodeOf(err error) string {
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return "INTERNAL_ERROR"
}

// HintOf returns the remediation hint of err, if any.
func HintOf(err error) string {
	var c Coded
	if errors.As(err, &c) {
		return c.Hint()
	}
	return ""
}

// StatusOf maps err to an HTTP status code.
func StatusOf(err error) int {
	var c Coded
	if errors.As(err, &c) {
		return c.HTTPStatus()
	}
	return http.StatusInternalServerError
}
