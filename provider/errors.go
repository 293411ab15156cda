package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind string

const (
	KindNetwork      ErrorKind = "network"
	KindTimeout      ErrorKind = "timeout"
	KindAPI          ErrorKind = "api"
	KindRateLimit    ErrorKind = "rate_limit"
	KindParse        ErrorKind = "parse"
	KindAuth         ErrorKind = "auth"
	KindBadRequest   ErrorKind = "bad_request"
	KindUnknownModel ErrorKind = "unknown_model"
	KindTokenBudget  ErrorKind = "token_budget"
	KindConfig       ErrorKind = "config"
)

// Error is the typed failure returned by every backend.
type Error struct {
	Kind       ErrorKind
	Provider   string
	Status     int           // HTTP status, 0 when no response was received
	Message    string
	RetryAfter time.Duration // backend hint, zero when absent
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: timeouts, network
// failures, 5xx responses and rate limiting.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindRateLimit:
		return true
	case KindAPI:
		return e.Status == 0 || e.Status >= 500
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable provider error.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// RetryAfter returns the backend's backoff hint carried by err, if any.
func RetryAfter(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// KindOf returns the error kind, or "" for non-provider errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// ConfigError builds a permanent configuration error.
func ConfigError(providerName, format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Provider: providerName, Message: fmt.Sprintf(format, args...)}
}

// tokenBudgetMarkers identify 400 responses caused by oversized prompts.
var tokenBudgetMarkers = []string{
	"prompt is too long",
	"context length",
	"context_length_exceeded",
	"maximum context",
	"too many tokens",
}

// statusError classifies a non-200 HTTP response.
func statusError(providerName string, resp *http.Response, body []byte) *Error {
	msg := truncate(strings.TrimSpace(string(body)), 500)
	e := &Error{Provider: providerName, Status: resp.StatusCode, Message: msg}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = KindRateLimit
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e.Kind = KindAuth
	case resp.StatusCode == http.StatusNotFound:
		e.Kind = KindUnknownModel
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		e.Kind = KindTimeout
	case resp.StatusCode >= 500:
		e.Kind = KindAPI
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusRequestEntityTooLarge:
		e.Kind = KindBadRequest
		lower := strings.ToLower(msg)
		for _, m := range tokenBudgetMarkers {
			if strings.Contains(lower, m) {
				e.Kind = KindTokenBudget
				break
			}
		}
	default:
		e.Kind = KindAPI
	}
	return e
}

// transportError classifies a failure to obtain a response at all.
// Context cancellation is returned unwrapped so callers see ctx.Err().
func transportError(ctx context.Context, providerName string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Provider: providerName, Err: err}
	}
	return &Error{Kind: KindNetwork, Provider: providerName, Err: err}
}

func parseError(providerName, what string, err error) *Error {
	return &Error{Kind: KindParse, Provider: providerName, Message: what, Err: err}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
