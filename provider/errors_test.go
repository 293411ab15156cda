package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestErrorRetryable(t *testing.T) {
	tests := []struct {
		err  *Error
		want bool
	}{
		{&Error{Kind: KindNetwork}, true},
		{&Error{Kind: KindTimeout}, true},
		{&Error{Kind: KindRateLimit, Status: 429}, true},
		{&Error{Kind: KindAPI, Status: 503}, true},
		{&Error{Kind: KindAPI}, true},
		{&Error{Kind: KindAPI, Status: 418}, false},
		{&Error{Kind: KindAuth, Status: 401}, false},
		{&Error{Kind: KindParse}, false},
		{&Error{Kind: KindConfig}, false},
		{&Error{Kind: KindTokenBudget, Status: 400}, false},
	}
	for _, tt := range tests {
		if got := tt.err.Retryable(); got != tt.want {
			t.Errorf("%s/%d: Retryable() = %v, want %v", tt.err.Kind, tt.err.Status, got, tt.want)
		}
	}
}

func TestErrorHelpersUnwrapChains(t *testing.T) {
	base := &Error{Kind: KindRateLimit, Provider: "anthropic", Status: 429, RetryAfter: 3 * time.Second}
	wrapped := fmt.Errorf("step 4: %w", base)

	if !IsRetryable(wrapped) {
		t.Error("expected wrapped rate limit to be retryable")
	}
	if RetryAfter(wrapped) != 3*time.Second {
		t.Errorf("RetryAfter = %v", RetryAfter(wrapped))
	}
	if KindOf(wrapped) != KindRateLimit {
		t.Errorf("KindOf = %s", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != "" || IsRetryable(errors.New("plain")) {
		t.Error("plain errors carry no provider classification")
	}
	if msg := base.Error(); !contains(msg, "status 429") || !contains(msg, "anthropic") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"1.5", 1500 * time.Millisecond},
		{"-1", 0},
		{"soon", 0},
		{now.Add(20 * time.Second).Format(http.TimeFormat), 20 * time.Second},
		{now.Add(-20 * time.Second).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTransportErrorPreservesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := transportError(ctx, "openai", fmt.Errorf("dial: %w", context.Canceled))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if KindOf(err) != "" {
		t.Errorf("cancellation should not be classified, got %s", KindOf(err))
	}

	err = transportError(context.Background(), "openai", errors.New("connection refused"))
	if KindOf(err) != KindNetwork {
		t.Errorf("expected network error, got %v", err)
	}
}
