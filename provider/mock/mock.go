// Package mock provides a scripted AI provider for testing and dry runs.
package mock

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/gauntlet/provider"
)

const defaultResponse = "Task acknowledged. Working on it."

// Step is one scripted provider turn: either a response or an error.
type Step struct {
	Response *provider.Response
	Err      error
}

// Text returns a step that ends the turn with content.
func Text(content string) Step {
	return Step{Response: &provider.Response{Content: content, StopReason: provider.StopEndTurn}}
}

// ToolUse returns a step that requests the given tool calls.
func ToolUse(calls ...provider.ToolCall) Step {
	return Step{Response: &provider.Response{ToolCalls: calls, StopReason: provider.StopToolUse}}
}

// Call is shorthand for a ToolCall with no id; the provider assigns one.
func Call(name string, args map[string]any) provider.ToolCall {
	return provider.ToolCall{Name: name, Arguments: args}
}

// Fail returns a step that fails the call with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Provider implements provider.Provider for testing. It replays its script,
// cycling back to the start when exhausted, and is safe for concurrent use.
type Provider struct {
	model string
	delay time.Duration

	mu    sync.Mutex
	steps []Step
	idx   int
	calls int
	last  []provider.Message
}

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the model name reported by ModelName.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithDelay makes every call wait d (or until ctx is done) before answering.
func WithDelay(d time.Duration) Option {
	return func(p *Provider) { p.delay = d }
}

// New creates a Provider that cycles through plain text responses.
func New(responses ...string) *Provider {
	steps := make([]Step, 0, len(responses))
	for _, r := range responses {
		steps = append(steps, Text(r))
	}
	return NewScripted(steps)
}

// NewScripted creates a Provider that replays steps in order.
func NewScripted(steps []Step, opts ...Option) *Provider {
	p := &Provider{model: "mock-default", steps: steps}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Factory builds a mock provider for the "mock" backend type. With a
// scenario file it replays that script; otherwise it answers every call
// with the default acknowledgement.
func Factory(cfg provider.Config, _ string) (provider.Provider, error) {
	var opts []Option
	if cfg.Model != "" {
		opts = append(opts, WithModel(cfg.Model))
	}
	if cfg.Scenario != "" {
		return scenarioProvider(cfg, opts)
	}
	return NewScripted(nil, opts...), nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "mock" }

// ModelName returns the configured model name.
func (p *Provider) ModelName() string { return p.model }

// Calls returns how many Chat or Stream calls have been made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// LastMessages returns the conversation passed to the most recent call.
func (p *Provider) LastMessages() []provider.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Message(nil), p.last...)
}

// Chat returns the next scripted response, cycling through the queue.
func (p *Provider) Chat(ctx context.Context, messages []provider.Message, _ []provider.ToolDef) (*provider.Response, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	return p.next(messages)
}

// Stream replays the next scripted response as a stream of events.
func (p *Provider) Stream(ctx context.Context, messages []provider.Message, _ []provider.ToolDef) (<-chan provider.StreamEvent, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := p.next(messages)
	if err != nil {
		return nil, err
	}

	ch := make(chan provider.StreamEvent, 4)
	go func() {
		defer close(ch)
		emit := func(ev provider.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit(provider.StreamEvent{Type: provider.EventMessageStart, Usage: &provider.Usage{InputTokens: resp.Usage.InputTokens}}) {
			return
		}
		if resp.Content != "" {
			if !emit(provider.StreamEvent{Type: provider.EventContentDelta, Text: resp.Content}) {
				return
			}
		}
		for i, tc := range resp.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			if !emit(provider.StreamEvent{Type: provider.EventContentDelta, Index: i + 1, ToolID: tc.ID, ToolName: tc.Name}) {
				return
			}
			if !emit(provider.StreamEvent{Type: provider.EventContentDelta, Index: i + 1, ToolInput: string(args)}) {
				return
			}
		}
		usage := resp.Usage
		if !emit(provider.StreamEvent{Type: provider.EventMessageDelta, Usage: &usage, StopReason: resp.StopReason}) {
			return
		}
		emit(provider.StreamEvent{Type: provider.EventMessageStop})
	}()
	return ch, nil
}

func (p *Provider) wait(ctx context.Context) error {
	if p.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) next(messages []provider.Message) (*provider.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.last = append([]provider.Message(nil), messages...)

	if len(p.steps) == 0 {
		return p.finish(&provider.Response{Content: defaultResponse, StopReason: provider.StopEndTurn}, messages), nil
	}
	step := p.steps[p.idx%len(p.steps)]
	p.idx++
	if step.Err != nil {
		return nil, step.Err
	}

	// Copy so callers never share the script's slices.
	resp := *step.Response
	resp.ToolCalls = make([]provider.ToolCall, len(step.Response.ToolCalls))
	for i, tc := range step.Response.ToolCalls {
		if tc.ID == "" {
			tc.ID = "toolu_" + uuid.NewString()
		}
		resp.ToolCalls[i] = tc
	}
	if len(resp.ToolCalls) == 0 {
		resp.ToolCalls = nil
	}
	return p.finish(&resp, messages), nil
}

// finish fills in usage when the script left it empty.
func (p *Provider) finish(resp *provider.Response, messages []provider.Message) *provider.Response {
	if resp.Usage == (provider.Usage{}) {
		resp.Usage = provider.Usage{
			InputTokens:  provider.EstimateTokens(messages),
			OutputTokens: len(resp.Content)/4 + 1,
		}
	}
	if resp.StopReason == "" {
		resp.StopReason = provider.StopEndTurn
		if len(resp.ToolCalls) > 0 {
			resp.StopReason = provider.StopToolUse
		}
	}
	return resp
}
