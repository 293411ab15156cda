package ratelimit

import (
	"context"
	"errors"

	"github.com/GoCodeAlone/gauntlet/provider"
)

// DefaultOutputReserve is the output token estimate reserved per call when
// the caller has nothing better.
const DefaultOutputReserve = 1024

// Provider gates every call to an inner provider through a Limiter.
type Provider struct {
	inner     provider.Provider
	limiter   *Limiter
	maxOutput int
}

// Wrap returns p gated by limiter. maxOutput is the output token estimate
// reserved per call; the backend's reported usage replaces it afterwards.
func Wrap(p provider.Provider, limiter *Limiter, maxOutput int) *Provider {
	return &Provider{inner: p, limiter: limiter, maxOutput: maxOutput}
}

func (p *Provider) Name() string      { return p.inner.Name() }
func (p *Provider) ModelName() string { return p.inner.ModelName() }

// Limiter returns the shared limiter.
func (p *Provider) Limiter() *Limiter { return p.limiter }

// Unwrap returns the gated provider.
func (p *Provider) Unwrap() provider.Provider { return p.inner }

func (p *Provider) Chat(ctx context.Context, messages []provider.Message, tools []provider.ToolDef) (*provider.Response, error) {
	if err := p.acquire(ctx, messages, tools); err != nil {
		return nil, err
	}
	resp, err := p.inner.Chat(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	p.record(resp.Usage)
	return resp, nil
}

// Stream acquires before opening the stream and records usage when the
// final message_stop arrives.
func (p *Provider) Stream(ctx context.Context, messages []provider.Message, tools []provider.ToolDef) (<-chan provider.StreamEvent, error) {
	if err := p.acquire(ctx, messages, tools); err != nil {
		return nil, err
	}
	in, err := p.inner.Stream(ctx, messages, tools)
	if err != nil {
		return nil, err
	}

	out := make(chan provider.StreamEvent, cap(in))
	go func() {
		defer close(out)
		var usage provider.Usage
		for ev := range in {
			if ev.Usage != nil {
				usage = provider.Usage{
					InputTokens:      max(usage.InputTokens, ev.Usage.InputTokens),
					OutputTokens:     max(usage.OutputTokens, ev.Usage.OutputTokens),
					CacheWriteTokens: max(usage.CacheWriteTokens, ev.Usage.CacheWriteTokens),
					CacheReadTokens:  max(usage.CacheReadTokens, ev.Usage.CacheReadTokens),
				}
			}
			if ev.Type == provider.EventMessageStop {
				p.record(usage)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) acquire(ctx context.Context, messages []provider.Message, tools []provider.ToolDef) error {
	est := provider.EstimateTokens(messages)
	for _, t := range tools {
		est += (len(t.Name) + len(t.Description)) / 4
	}
	err := p.limiter.Acquire(ctx, est, p.maxOutput)
	if errors.Is(err, ErrExceedsLimit) {
		return &provider.Error{Kind: provider.KindTokenBudget, Provider: p.inner.Name(), Err: err}
	}
	return err
}

func (p *Provider) record(u provider.Usage) {
	p.limiter.RecordActualUsage(u.InputTokens+u.CacheWriteTokens+u.CacheReadTokens, u.OutputTokens)
}
