package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/GoCodeAlone/gauntlet/provider"
	"github.com/GoCodeAlone/gauntlet/task"
	"github.com/GoCodeAlone/gauntlet/tools"
)

// Agent drives one provider and one tool registry. It keeps no per-task
// state, so one Agent may run several tasks concurrently.
type Agent struct {
	provider provider.Provider
	tools    *tools.Registry
	cfg      Config
	logger   *slog.Logger
	observer StepObserver
	sleep    func(context.Context, time.Duration) error
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// WithObserver registers a per-step callback.
func WithObserver(fn StepObserver) Option {
	return func(a *Agent) { a.observer = fn }
}

// withSleep replaces the backoff wait, for tests.
func withSleep(fn func(context.Context, time.Duration) error) Option {
	return func(a *Agent) { a.sleep = fn }
}

// New creates an agent.
func New(p provider.Provider, reg *tools.Registry, cfg Config, opts ...Option) *Agent {
	a := &Agent{
		provider: p,
		tools:    reg,
		cfg:      cfg.withDefaults(),
		logger:   slog.Default(),
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(a)
	}
	if a.tools == nil {
		a.tools = tools.NewRegistry()
	}
	return a
}

// Run works t to completion. It never panics on provider or tool failures:
// those end in StateFailed with Err set, or are fed back to the model.
func (a *Agent) Run(ctx context.Context, t task.Task) *Outcome {
	start := time.Now()
	pricing := provider.LookupPricing(a.provider.ModelName())
	if a.cfg.Pricing != nil {
		pricing = *a.cfg.Pricing
	}

	out := &Outcome{State: StateAwaitingModel}
	out.Metrics.TaskID = t.ID
	out.Metrics.Model = a.provider.ModelName()
	defer func() {
		out.Metrics.DurationMS = time.Since(start).Milliseconds()
		out.Metrics.Truncated = out.Truncated
		if out.Err != nil {
			out.Metrics.Error = out.Err.Error()
		}
	}()

	log := a.logger.With("task_id", t.ID, "model", a.provider.ModelName())
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: a.cfg.SystemPrompt},
		{Role: provider.RoleUser, Content: a.taskPrompt(t)},
	}
	defs := a.tools.Defs()
	window := a.cfg.ContextWindow
	if window <= 0 {
		window = contextWindow(a.provider.ModelName())
	}
	if b := a.cfg.InputBudget; b > 0 && b < window {
		window = b
	}
	var guard *loopGuard
	if a.cfg.LoopThreshold > 0 {
		guard = newLoopGuard(a.cfg.LoopThreshold)
	}

	for step := 1; step <= a.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return a.fail(out, messages, fmt.Errorf("step %d: %w", step, err))
		}

		if n := compact(messages, window); n > 0 {
			out.Elided += n
			log.Info("elided old tool output", "outputs", n, "token_limit", window)
		}
		resp, err := a.callWithRetry(ctx, log, messages, defs)
		if provider.KindOf(err) == provider.KindTokenBudget {
			// The estimate still overran the budget: elide deeper and retry once.
			if n := compact(messages, window/2); n > 0 {
				out.Elided += n
				log.Warn("request over input budget, elided further", "outputs", n)
				resp, err = a.callWithRetry(ctx, log, messages, defs)
			}
		}
		if err != nil {
			return a.fail(out, messages, fmt.Errorf("step %d: %w", step, err))
		}
		out.Metrics.Steps++
		out.Metrics.AddUsage(resp.Usage, pricing)

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		obs := Step{TaskID: t.ID, Index: step, StopReason: resp.StopReason, Usage: resp.Usage}
		if len(resp.ToolCalls) == 0 {
			a.observe(obs)
			out.State = StateDone
			out.Final = resp.Content
			out.Messages = messages
			log.Info("task finished", "steps", step, "stop_reason", string(resp.StopReason))
			return out
		}

		out.State = StateExecutingTools
		for _, tc := range resp.ToolCalls {
			res := a.tools.Execute(ctx, tc.Name, tc.Arguments)
			out.Metrics.ToolCalls++
			obs.ToolCalls = append(obs.ToolCalls, tc.Name)
			if !res.Success {
				obs.Failures++
				log.Debug("tool failed", "tool", tc.Name, "error", res.Error)
			}
			content := a.cfg.Redactor.Redact(res.Content())
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
				IsError:    !res.Success,
			})
			if guard != nil {
				guard.record(tc.Name, tc.Arguments, content, !res.Success)
			}
		}
		a.observe(obs)

		if guard != nil {
			switch verdict, why := guard.check(); verdict {
			case loopBreak:
				log.Warn("stopping repetitive run", "steps", step, "loop", why)
				out.State = StateDone
				out.Truncated = true
				out.Loop = why
				out.Messages = messages
				return out
			case loopWarn:
				last := &messages[len(messages)-1]
				last.Content += "\n\n[note: " + why + "; try a different approach]"
			}
		}
		out.State = StateAwaitingModel
	}

	log.Warn("step budget exhausted", "max_steps", a.cfg.MaxSteps)
	out.State = StateDone
	out.Truncated = true
	out.Messages = messages
	return out
}

func (a *Agent) fail(out *Outcome, messages []provider.Message, err error) *Outcome {
	out.State = StateFailed
	out.Err = err
	out.Messages = messages
	a.logger.Warn("task failed", "task_id", out.Metrics.TaskID, "error", err)
	return out
}

func (a *Agent) observe(s Step) {
	if a.observer != nil {
		a.observer(s)
	}
}

// callWithRetry performs one model turn. Retryable errors wait
// max(retry-after, base*2^attempt), capped, before the next attempt.
func (a *Agent) callWithRetry(ctx context.Context, log *slog.Logger, messages []provider.Message, defs []provider.ToolDef) (*provider.Response, error) {
	var lastErr error
	for attempt := 0; attempt < a.cfg.MaxAttempts; attempt++ {
		resp, err := a.call(ctx, messages, defs)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !provider.IsRetryable(err) || attempt == a.cfg.MaxAttempts-1 {
			break
		}
		delay := min(max(provider.RetryAfter(err), a.cfg.BaseBackoff<<attempt), a.cfg.MaxBackoff)
		log.Info("retrying model call", "attempt", attempt+1, "delay", delay, "error", err)
		if err := a.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	if provider.IsRetryable(lastErr) {
		return nil, fmt.Errorf("giving up after %d attempts: %w", a.cfg.MaxAttempts, lastErr)
	}
	return nil, lastErr
}

func (a *Agent) call(ctx context.Context, messages []provider.Message, defs []provider.ToolDef) (*provider.Response, error) {
	if !a.cfg.Streaming {
		return a.provider.Chat(ctx, messages, defs)
	}
	events, err := a.provider.Stream(ctx, messages, defs)
	if err != nil {
		return nil, err
	}
	return provider.Collect(ctx, events)
}

func (a *Agent) taskPrompt(t task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Resolve the following issue in the repository")
	if t.Repository != "" {
		fmt.Fprintf(&b, " %s", t.Repository)
	}
	b.WriteString(".\n\n<issue>\n")
	b.WriteString(strings.TrimSpace(t.ProblemStatement))
	b.WriteString("\n</issue>\n")
	if h := strings.TrimSpace(t.Hints); h != "" {
		b.WriteString("\n<hints>\n")
		b.WriteString(h)
		b.WriteString("\n</hints>\n")
	}
	if len(t.FilesToModify) > 0 {
		b.WriteString("\nFiles likely to need changes:\n")
		for _, f := range t.FilesToModify {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		if outlines := a.outlines(t.FilesToModify); outlines != "" {
			b.WriteString("\nOutlines:\n")
			b.WriteString(outlines)
		}
	}
	return b.String()
}

func (a *Agent) outlines(files []string) string {
	if a.cfg.Cache == nil || a.cfg.Workspace == "" {
		return ""
	}
	var b strings.Builder
	for _, f := range files {
		fc, err := a.cfg.Cache.Load(filepath.Join(a.cfg.Workspace, filepath.FromSlash(f)))
		if err != nil {
			continue
		}
		outline := *fc
		outline.Path = f
		b.WriteString(outline.Outline())
	}
	return b.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
