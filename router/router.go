package router

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/GoCodeAlone/gauntlet/provider"
	"github.com/GoCodeAlone/gauntlet/ratelimit"
	"github.com/GoCodeAlone/gauntlet/task"
)

// Tier names used by the routing policies.
const (
	TierLocalSmall = "local-small"
	TierLocalLarge = "local-large"
	TierCloudMid   = "cloud-mid"
	TierCloudTop   = "cloud-top"
)

// Tier is one reachable backend + model + limits combination.
type Tier struct {
	Name     string           `json:"name" yaml:"name" mapstructure:"name"`
	Provider provider.Config  `json:"provider" yaml:"provider" mapstructure:"provider"`
	Limits   ratelimit.Limits `json:"limits" yaml:"limits" mapstructure:"limits"`
}

// DefaultTiers returns the stock tier set: two Ollama models and two
// Anthropic models.
func DefaultTiers() []Tier {
	return []Tier{
		{
			Name:     TierLocalSmall,
			Provider: provider.Config{Type: "ollama", Model: "qwen2.5-coder:7b", MaxTokens: 4096},
		},
		{
			Name:     TierLocalLarge,
			Provider: provider.Config{Type: "ollama", Model: "qwen2.5-coder:32b", MaxTokens: 4096},
		},
		{
			Name:     TierCloudMid,
			Provider: provider.Config{Type: "anthropic", Model: "claude-sonnet-4-20250514", MaxTokens: 8192},
			Limits:   ratelimit.Limits{MaxRequests: 50, MaxInputTokens: 40000, MaxOutputTokens: 16000},
		},
		{
			Name:     TierCloudTop,
			Provider: provider.Config{Type: "anthropic", Model: "claude-opus-4-20250514", MaxTokens: 8192},
			Limits:   ratelimit.Limits{MaxRequests: 50, MaxInputTokens: 30000, MaxOutputTokens: 16000},
		},
	}
}

// Policy selects how difficulties map to tiers.
type Policy string

const (
	// LocalFirst keeps work on local models and escalates Hard tasks to
	// the cloud only when credentials exist.
	LocalFirst Policy = "local_first"
	// CloudOnly sends every task to a cloud tier.
	CloudOnly Policy = "cloud_only"
)

// Decision is the outcome of routing one task.
type Decision struct {
	Difficulty Difficulty `json:"difficulty"`
	Tier       Tier       `json:"tier"`
}

// Router maps tasks to tiers. It holds no mutable state.
type Router struct {
	policy Policy
	tiers  map[string]Tier
	getenv func(string) string
	logger *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the decision logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithGetenv overrides credential lookup, mainly for tests.
func WithGetenv(getenv func(string) string) Option {
	return func(r *Router) { r.getenv = getenv }
}

// New builds a router. Every tier the policy can select must be present.
func New(policy Policy, tiers []Tier, opts ...Option) (*Router, error) {
	r := &Router{
		policy: policy,
		tiers:  make(map[string]Tier, len(tiers)),
		getenv: os.Getenv,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	for _, t := range tiers {
		r.tiers[t.Name] = t
	}

	var required []string
	switch policy {
	case LocalFirst:
		required = []string{TierLocalSmall, TierLocalLarge, TierCloudTop}
	case CloudOnly:
		required = []string{TierCloudMid, TierCloudTop}
	default:
		return nil, fmt.Errorf("unknown routing policy %q", policy)
	}
	for _, name := range required {
		if _, ok := r.tiers[name]; !ok {
			return nil, fmt.Errorf("routing policy %s needs tier %q", policy, name)
		}
	}
	return r, nil
}

// Policy returns the active policy.
func (r *Router) Policy() Policy { return r.policy }

// Tier looks up a tier by name.
func (r *Router) Tier(name string) (Tier, bool) {
	t, ok := r.tiers[name]
	return t, ok
}

// TierNames returns the configured tier names, sorted.
func (r *Router) TierNames() []string {
	names := make([]string, 0, len(r.tiers))
	for n := range r.tiers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Route classifies t and selects its tier. Selecting a cloud tier without
// credentials fails with a provider.KindConfig error.
func (r *Router) Route(t task.Task) (Decision, error) {
	d := Classify(t)

	var name string
	switch r.policy {
	case LocalFirst:
		switch d {
		case Easy:
			name = TierLocalSmall
		case Medium:
			name = TierLocalLarge
		default:
			name = TierCloudTop
			if !r.tiers[TierCloudTop].Provider.HasCredentials(r.getenv) {
				name = TierLocalLarge
			}
		}
	case CloudOnly:
		name = TierCloudMid
		if d == Hard {
			name = TierCloudTop
		}
	}

	tier := r.tiers[name]
	if !tier.Provider.HasCredentials(r.getenv) {
		return Decision{Difficulty: d}, provider.ConfigError(tier.Provider.Type,
			"tier %s (%s) has no credentials", tier.Name, tier.Provider.Model)
	}

	r.logger.Info("routed task",
		"task_id", t.ID,
		"difficulty", d.String(),
		"policy", string(r.policy),
		"tier", tier.Name,
		"model", tier.Provider.Model,
	)
	return Decision{Difficulty: d, Tier: tier}, nil
}
