// Package harness wires routing, the provider pool, the tool catalog and
// the agent loop into the task solver benchmarks call.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GoCodeAlone/gauntlet/agent"
	"github.com/GoCodeAlone/gauntlet/config"
	"github.com/GoCodeAlone/gauntlet/provider"
	"github.com/GoCodeAlone/gauntlet/ratelimit"
	"github.com/GoCodeAlone/gauntlet/router"
	"github.com/GoCodeAlone/gauntlet/sandbox"
	"github.com/GoCodeAlone/gauntlet/srccache"
	"github.com/GoCodeAlone/gauntlet/task"
	"github.com/GoCodeAlone/gauntlet/tools"
)

// Harness solves tasks with the configured milestone features. It is safe
// for concurrent use.
type Harness struct {
	features    config.Features
	router      *router.Router
	pool        *router.Pool
	defaultTier router.Tier
	agentCfg    agent.Config
	toolOpts    tools.Options
	cache       *srccache.Cache
	sandbox     *sandbox.Manager
	logger      *slog.Logger
}

// Option configures a Harness.
type Option func(*options)

type options struct {
	build   func(provider.Config) (provider.Provider, error)
	sandbox *sandbox.Manager
	getenv  func(string) string
	logger  *slog.Logger
}

// WithProviderBuilder replaces provider.New, e.g. with scripted providers.
func WithProviderBuilder(build func(provider.Config) (provider.Provider, error)) Option {
	return func(o *options) { o.build = build }
}

// WithSandbox runs shell and test tools inside containers from m.
func WithSandbox(m *sandbox.Manager) Option {
	return func(o *options) { o.sandbox = m }
}

// WithGetenv sets the credential lookup used by the router.
func WithGetenv(getenv func(string) string) Option {
	return func(o *options) { o.getenv = getenv }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New builds a harness from cfg.
func New(cfg *config.Config, opts ...Option) (*Harness, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	defaultTier, err := cfg.Tier(cfg.DefaultTier)
	if err != nil {
		return nil, err
	}
	features := cfg.EnabledFeatures()

	h := &Harness{
		features:    features,
		pool:        router.NewPool(o.build, o.logger),
		defaultTier: defaultTier,
		agentCfg: agent.Config{
			SystemPrompt:  cfg.Agent.SystemPrompt,
			MaxSteps:      cfg.Agent.MaxSteps,
			MaxAttempts:   cfg.Agent.MaxAttempts,
			BaseBackoff:   cfg.Agent.BaseBackoff,
			MaxBackoff:    cfg.Agent.MaxBackoff,
			Streaming:     features.Streaming,
			LoopThreshold: cfg.Agent.LoopThreshold,
			ContextWindow: cfg.Agent.ContextWindow,
			Redactor:      agent.NewRedactor(credentials(cfg.Tiers, o.getenv)),
		},
		toolOpts: tools.Options{
			ShellTimeout: cfg.Tools.ShellTimeout,
			TestTimeout:  cfg.Tools.TestTimeout,
			SelectTests:  features.TestSelection,
		},
		sandbox: o.sandbox,
		logger:  o.logger,
	}
	if features.Routing {
		ropts := []router.Option{router.WithLogger(o.logger)}
		if o.getenv != nil {
			ropts = append(ropts, router.WithGetenv(o.getenv))
		}
		h.router, err = router.New(cfg.Policy, cfg.Tiers, ropts...)
		if err != nil {
			return nil, fmt.Errorf("build router: %w", err)
		}
	}
	if features.ContextCache {
		h.cache = srccache.New(cfg.Cache.Capacity)
	}
	return h, nil
}

// credentials collects the API key of every configured tier, named after
// the variable it came from.
func credentials(tiers []router.Tier, getenv func(string) string) map[string]string {
	out := make(map[string]string)
	for _, t := range tiers {
		key := t.Provider.ResolveAPIKey(getenv)
		if key == "" {
			continue
		}
		name := t.Provider.APIKeyEnv
		if name == "" {
			name = strings.ToUpper(t.Provider.Type) + "_API_KEY"
		}
		out[name] = key
	}
	return out
}

// Features reports the enabled features.
func (h *Harness) Features() config.Features { return h.features }

// Solve runs the agent on t inside workspace, an already prepared checkout.
// The error is non-nil only when no agent could be started; agent failures
// are reported in the outcome.
func (h *Harness) Solve(ctx context.Context, t task.Task, workspace string) (*agent.Outcome, error) {
	tier, difficulty, err := h.selectTier(t)
	if err != nil {
		return nil, err
	}
	p, err := h.pool.Get(tier)
	if err != nil {
		return nil, err
	}

	ex, err := h.Executor(ctx, workspace)
	if err != nil {
		return nil, err
	}
	topts := h.toolOpts
	topts.Executor = ex
	reg := tools.Catalog(workspace, topts)

	acfg := h.agentCfg
	acfg.Workspace = workspace
	acfg.Cache = h.cache
	acfg.InputBudget = tier.Limits.MaxInputTokens
	if tier.Provider.Pricing != nil {
		acfg.Pricing = tier.Provider.Pricing
	}

	log := h.logger.With("task_id", t.ID, "tier", tier.Name)
	a := agent.New(p, reg, acfg,
		agent.WithLogger(h.logger),
		agent.WithObserver(func(s agent.Step) {
			log.Debug("agent step",
				"step", s.Index,
				"stop_reason", string(s.StopReason),
				"tools", s.ToolCalls,
				"tool_failures", s.Failures,
				"input_tokens", s.Usage.InputTokens,
				"output_tokens", s.Usage.OutputTokens,
			)
		}),
	)
	out := a.Run(ctx, t)
	out.Metrics.Tier = tier.Name
	out.Metrics.Difficulty = difficulty.String()
	return out, nil
}

func (h *Harness) selectTier(t task.Task) (router.Tier, router.Difficulty, error) {
	if h.router == nil {
		return h.defaultTier, router.Classify(t), nil
	}
	d, err := h.router.Route(t)
	if err != nil {
		return router.Tier{}, d.Difficulty, err
	}
	return d.Tier, d.Difficulty, nil
}

// Executor returns where commands for workspace run: a sandbox container
// when configured, the host otherwise.
func (h *Harness) Executor(ctx context.Context, workspace string) (tools.Executor, error) {
	if h.sandbox == nil {
		return tools.HostExecutor{}, nil
	}
	ex, err := h.sandbox.Executor(ctx, workspace)
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	return ex, nil
}

// Release frees per-workspace resources.
func (h *Harness) Release(ctx context.Context, workspace string) {
	if h.sandbox == nil {
		return
	}
	if err := h.sandbox.Release(ctx, workspace); err != nil {
		h.logger.Warn("release sandbox", "workspace", workspace, "error", err)
	}
}

// LimiterStatus reports the window usage of every tier in use.
func (h *Harness) LimiterStatus() map[string]ratelimit.Snapshot { return h.pool.Status() }

// CacheStats reports source cache usage; zero when the cache is disabled.
func (h *Harness) CacheStats() srccache.Stats {
	if h.cache == nil {
		return srccache.Stats{}
	}
	return h.cache.Stats()
}

// Close releases the sandbox, if any.
func (h *Harness) Close() error {
	if h.sandbox == nil {
		return nil
	}
	return h.sandbox.Close()
}
