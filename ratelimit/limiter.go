// Package ratelimit provides fixed-window admission control for calls to a
// model backend.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultWindow is the window length used when Limits.Window is zero.
const DefaultWindow = 60 * time.Second

// ErrExceedsLimit is returned by Acquire when a single estimate is larger
// than a configured maximum and so could never be admitted.
var ErrExceedsLimit = errors.New("estimate exceeds rate limit maximum")

// Limits are the per-window maxima of one backend. A zero maximum means
// unlimited.
type Limits struct {
	Window          time.Duration `json:"window" yaml:"window" mapstructure:"window"`
	MaxRequests     int           `json:"max_requests" yaml:"max_requests" mapstructure:"max_requests"`
	MaxInputTokens  int           `json:"max_input_tokens" yaml:"max_input_tokens" mapstructure:"max_input_tokens"`
	MaxOutputTokens int           `json:"max_output_tokens" yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
}

// Unlimited reports whether no maximum is configured.
func (l Limits) Unlimited() bool {
	return l.MaxRequests <= 0 && l.MaxInputTokens <= 0 && l.MaxOutputTokens <= 0
}

// Limiter is a fixed-window limiter shared by every caller of one provider.
// All counter mutations happen under mu.
type Limiter struct {
	limits Limits
	now    func() time.Time
	logger *slog.Logger

	mu          sync.Mutex
	windowStart time.Time
	requests    int
	inputTok    int
	outputTok   int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for wait diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a limiter whose first window starts now.
func New(limits Limits, opts ...Option) *Limiter {
	if limits.Window <= 0 {
		limits.Window = DefaultWindow
	}
	l := &Limiter{limits: limits, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(l)
	}
	l.windowStart = l.now()
	return l
}

// Limits returns the configured limits.
func (l *Limiter) Limits() Limits { return l.limits }

// Acquire blocks until one request carrying the estimated token counts can
// be admitted within the current window, then reserves that capacity. Only
// the calling goroutine waits. It returns ctx.Err() if ctx is done first.
func (l *Limiter) Acquire(ctx context.Context, estInput, estOutput int) error {
	estInput, estOutput = max(estInput, 0), max(estOutput, 0)
	if err := l.checkFits(estInput, estOutput); err != nil {
		return err
	}

	for {
		wait, ok := l.tryReserve(estInput, estOutput)
		if ok {
			return nil
		}

		l.logger.Debug("rate limit reached, waiting for window reset",
			"wait", wait, "est_input", estInput, "est_output", estOutput)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *Limiter) checkFits(estInput, estOutput int) error {
	switch {
	case l.limits.MaxInputTokens > 0 && estInput > l.limits.MaxInputTokens:
		return fmt.Errorf("%w: %d input tokens > %d", ErrExceedsLimit, estInput, l.limits.MaxInputTokens)
	case l.limits.MaxOutputTokens > 0 && estOutput > l.limits.MaxOutputTokens:
		return fmt.Errorf("%w: %d output tokens > %d", ErrExceedsLimit, estOutput, l.limits.MaxOutputTokens)
	}
	return nil
}

// tryReserve admits and reserves, or reports how long until the window resets.
func (l *Limiter) tryReserve(estInput, estOutput int) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollLocked(now)

	if l.fitsLocked(estInput, estOutput) {
		l.requests++
		l.inputTok += estInput
		l.outputTok += estOutput
		return 0, true
	}

	wait := l.limits.Window - now.Sub(l.windowStart)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

func (l *Limiter) fitsLocked(estInput, estOutput int) bool {
	if l.limits.MaxRequests > 0 && l.requests+1 > l.limits.MaxRequests {
		return false
	}
	if l.limits.MaxInputTokens > 0 && l.inputTok+estInput > l.limits.MaxInputTokens {
		return false
	}
	if l.limits.MaxOutputTokens > 0 && l.outputTok+estOutput > l.limits.MaxOutputTokens {
		return false
	}
	return true
}

// rollLocked starts a fresh window once the current one has elapsed.
func (l *Limiter) rollLocked(now time.Time) {
	if now.Sub(l.windowStart) >= l.limits.Window {
		l.windowStart = now
		l.requests = 0
		l.inputTok = 0
		l.outputTok = 0
	}
}

// RecordActualUsage reconciles the reservation with the usage the backend
// reported. Counters are only ever raised, and never past their maximum.
func (l *Limiter) RecordActualUsage(input, output int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollLocked(l.now())
	l.inputTok = raise(l.inputTok, input, l.limits.MaxInputTokens)
	l.outputTok = raise(l.outputTok, output, l.limits.MaxOutputTokens)
}

func raise(cur, observed, limit int) int {
	if limit > 0 {
		observed = min(observed, limit)
	}
	return max(cur, observed)
}

// Snapshot is a point-in-time view of window usage. Percentages are zero
// for unlimited dimensions.
type Snapshot struct {
	Requests        int           `json:"requests"`
	InputTokens     int           `json:"input_tokens"`
	OutputTokens    int           `json:"output_tokens"`
	RequestsPct     float64       `json:"requests_pct"`
	InputPct        float64       `json:"input_pct"`
	OutputPct       float64       `json:"output_pct"`
	WindowRemaining time.Duration `json:"window_remaining"`
}

// Status returns current window usage.
func (l *Limiter) Status() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollLocked(now)
	return Snapshot{
		Requests:        l.requests,
		InputTokens:     l.inputTok,
		OutputTokens:    l.outputTok,
		RequestsPct:     pct(l.requests, l.limits.MaxRequests),
		InputPct:        pct(l.inputTok, l.limits.MaxInputTokens),
		OutputPct:       pct(l.outputTok, l.limits.MaxOutputTokens),
		WindowRemaining: max(l.limits.Window-now.Sub(l.windowStart), 0),
	}
}

func pct(used, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}
