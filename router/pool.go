package router

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/gauntlet/provider"
	"github.com/GoCodeAlone/gauntlet/ratelimit"
)

// Pool hands out one rate-limited provider per tier, built on first use, so
// every task routed to a tier shares that tier's limiter.
type Pool struct {
	build  func(provider.Config) (provider.Provider, error)
	logger *slog.Logger

	mu        sync.Mutex
	providers map[string]*ratelimit.Provider
}

// NewPool returns a pool that constructs backends with build, or
// provider.New when build is nil.
func NewPool(build func(provider.Config) (provider.Provider, error), logger *slog.Logger) *Pool {
	if build == nil {
		build = provider.New
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{build: build, logger: logger, providers: make(map[string]*ratelimit.Provider)}
}

// Get returns the tier's provider, constructing it once.
func (p *Pool) Get(t Tier) (*ratelimit.Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rp, ok := p.providers[t.Name]; ok {
		return rp, nil
	}
	inner, err := p.build(t.Provider)
	if err != nil {
		return nil, fmt.Errorf("tier %s: %w", t.Name, err)
	}
	limiter := ratelimit.New(t.Limits, ratelimit.WithLogger(p.logger.With("tier", t.Name)))
	rp := ratelimit.Wrap(inner, limiter, outputReserve(t.Provider.MaxTokens))
	p.providers[t.Name] = rp
	p.logger.Debug("provider ready", "tier", t.Name, "backend", inner.Name(), "model", inner.ModelName())
	return rp, nil
}

// outputReserve is the output estimate admitted per call. Actual usage is
// recorded afterwards, so reserving the full max_tokens would only starve
// the window.
func outputReserve(maxTokens int) int {
	if maxTokens <= 0 || maxTokens > ratelimit.DefaultOutputReserve {
		return ratelimit.DefaultOutputReserve
	}
	return maxTokens
}

// Status returns the limiter snapshot of every constructed tier.
func (p *Pool) Status() map[string]ratelimit.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]ratelimit.Snapshot, len(p.providers))
	for name, rp := range p.providers {
		out[name] = rp.Limiter().Status()
	}
	return out
}
