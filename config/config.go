// Package config defines the gauntlet configuration and the milestone
// feature sets.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/GoCodeAlone/gauntlet/agent"
	"github.com/GoCodeAlone/gauntlet/router"
	"github.com/GoCodeAlone/gauntlet/sandbox"
	"github.com/GoCodeAlone/gauntlet/srccache"
	"github.com/GoCodeAlone/gauntlet/tools"
)

// EnvPrefix prefixes environment overrides, e.g. GAUNTLET_LOG_LEVEL.
const EnvPrefix = "GAUNTLET"

// Config is the top-level gauntlet configuration.
type Config struct {
	LogLevel  string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	DataDir   string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`       // task workspaces
	OutputDir string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"` // result artifacts
	// Database is the SQLite run history; empty disables it.
	Database string `json:"database,omitempty" yaml:"database" mapstructure:"database"`

	Milestone string `json:"milestone" yaml:"milestone" mapstructure:"milestone"`
	// Features overrides individual flags of the milestone.
	Features map[string]bool `json:"features,omitempty" yaml:"features" mapstructure:"features"`

	Policy      router.Policy `json:"policy" yaml:"policy" mapstructure:"policy"`
	DefaultTier string        `json:"default_tier" yaml:"default_tier" mapstructure:"default_tier"` // used when routing is off
	Tiers       []router.Tier `json:"tiers" yaml:"tiers" mapstructure:"tiers"`

	Agent      AgentConfig       `json:"agent" yaml:"agent" mapstructure:"agent"`
	Eval       EvalConfig        `json:"eval" yaml:"eval" mapstructure:"eval"`
	Tools      ToolsConfig       `json:"tools" yaml:"tools" mapstructure:"tools"`
	Sandbox    SandboxConfig     `json:"sandbox" yaml:"sandbox" mapstructure:"sandbox"`
	Cache      CacheConfig       `json:"cache" yaml:"cache" mapstructure:"cache"`
	Benchmarks []BenchmarkConfig `json:"benchmarks" yaml:"benchmarks" mapstructure:"benchmarks"`
}

// AgentConfig tunes the per-task loop.
type AgentConfig struct {
	SystemPrompt string        `json:"system_prompt,omitempty" yaml:"system_prompt" mapstructure:"system_prompt"`
	MaxSteps     int           `json:"max_steps" yaml:"max_steps" mapstructure:"max_steps"`
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoff  time.Duration `json:"base_backoff" yaml:"base_backoff" mapstructure:"base_backoff"`
	MaxBackoff   time.Duration `json:"max_backoff" yaml:"max_backoff" mapstructure:"max_backoff"`
	// LoopThreshold ends a run after this many repeated tool calls; negative disables.
	LoopThreshold int `json:"loop_threshold" yaml:"loop_threshold" mapstructure:"loop_threshold"`
	// ContextWindow overrides the per-model context size in tokens.
	ContextWindow int `json:"context_window,omitempty" yaml:"context_window" mapstructure:"context_window"`
}

// EvalConfig controls the orchestrator.
type EvalConfig struct {
	Concurrency     int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`
	TaskParallelism int `json:"task_parallelism" yaml:"task_parallelism" mapstructure:"task_parallelism"`
	MaxTasks        int `json:"max_tasks" yaml:"max_tasks" mapstructure:"max_tasks"`
}

// ToolsConfig bounds tool execution.
type ToolsConfig struct {
	ShellTimeout time.Duration `json:"shell_timeout" yaml:"shell_timeout" mapstructure:"shell_timeout"`
	TestTimeout  time.Duration `json:"test_timeout" yaml:"test_timeout" mapstructure:"test_timeout"`
}

// SandboxConfig runs tool commands in a container when enabled.
type SandboxConfig struct {
	Enabled      bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	sandbox.Spec `mapstructure:",squash" yaml:",inline"`
}

// CacheConfig sizes the source context cache.
type CacheConfig struct {
	Capacity int `json:"capacity" yaml:"capacity" mapstructure:"capacity"`
}

// BenchmarkConfig names one benchmark and where its tasks come from.
type BenchmarkConfig struct {
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Dataset     string `json:"dataset" yaml:"dataset" mapstructure:"dataset"` // dataset name or local file
	Description string `json:"description,omitempty" yaml:"description" mapstructure:"description"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:    "info",
		DataDir:     "./data/workspaces",
		OutputDir:   "./results",
		Milestone:   "m1",
		Policy:      router.LocalFirst,
		DefaultTier: router.TierCloudMid,
		Tiers:       router.DefaultTiers(),
		Agent: AgentConfig{
			MaxSteps:      agent.DefaultMaxSteps,
			MaxAttempts:   agent.DefaultMaxAttempts,
			BaseBackoff:   agent.DefaultBaseBackoff,
			MaxBackoff:    agent.DefaultMaxBackoff,
			LoopThreshold: agent.DefaultLoopThreshold,
		},
		Eval: EvalConfig{Concurrency: 2, TaskParallelism: 1},
		Tools: ToolsConfig{
			ShellTimeout: tools.DefaultTimeout,
			TestTimeout:  tools.DefaultTestTimeout,
		},
		Sandbox: SandboxConfig{Spec: sandbox.Spec{Image: "python:3.11-slim", NetworkMode: "none"}},
		Cache:   CacheConfig{Capacity: srccache.DefaultCapacity},
		Benchmarks: []BenchmarkConfig{
			{Name: "swe-bench-lite", Dataset: "swe-bench-lite", Description: "SWE-bench Lite test split"},
			{Name: "swe-bench-verified", Dataset: "swe-bench-verified", Description: "SWE-bench Verified test split"},
		},
	}
}

// Load reads an optional YAML config file and applies GAUNTLET_ environment
// overrides on top of DefaultConfig. An empty path reads no file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		defer f.Close()
		if err := v.ReadConfig(f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	// Lists from the file replace the defaults instead of merging into them.
	if v.IsSet("tiers") {
		cfg.Tiers = nil
	}
	if v.IsSet("benchmarks") {
		cfg.Benchmarks = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it;
// viper only consults the environment for keys it knows.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("database", d.Database)
	v.SetDefault("milestone", d.Milestone)
	v.SetDefault("policy", string(d.Policy))
	v.SetDefault("default_tier", d.DefaultTier)
	v.SetDefault("agent.system_prompt", d.Agent.SystemPrompt)
	v.SetDefault("agent.max_steps", d.Agent.MaxSteps)
	v.SetDefault("agent.max_attempts", d.Agent.MaxAttempts)
	v.SetDefault("agent.base_backoff", d.Agent.BaseBackoff)
	v.SetDefault("agent.max_backoff", d.Agent.MaxBackoff)
	v.SetDefault("agent.loop_threshold", d.Agent.LoopThreshold)
	v.SetDefault("agent.context_window", d.Agent.ContextWindow)
	v.SetDefault("eval.concurrency", d.Eval.Concurrency)
	v.SetDefault("eval.task_parallelism", d.Eval.TaskParallelism)
	v.SetDefault("eval.max_tasks", d.Eval.MaxTasks)
	v.SetDefault("tools.shell_timeout", d.Tools.ShellTimeout)
	v.SetDefault("tools.test_timeout", d.Tools.TestTimeout)
	v.SetDefault("sandbox.enabled", d.Sandbox.Enabled)
	v.SetDefault("sandbox.image", d.Sandbox.Image)
	v.SetDefault("sandbox.network_mode", d.Sandbox.NetworkMode)
	v.SetDefault("cache.capacity", d.Cache.Capacity)
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if _, ok := milestones[c.Milestone]; !ok {
		return fmt.Errorf("unknown milestone %q (want one of %s)", c.Milestone, strings.Join(Milestones(), ", "))
	}
	for name := range c.Features {
		if !knownFeature(name) {
			return fmt.Errorf("unknown feature %q", name)
		}
	}
	switch c.Policy {
	case router.LocalFirst, router.CloudOnly:
	default:
		return fmt.Errorf("unknown routing policy %q", c.Policy)
	}
	if _, err := c.Tier(c.DefaultTier); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, b := range c.Benchmarks {
		if b.Name == "" || b.Dataset == "" {
			return fmt.Errorf("benchmark entries need a name and a dataset")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate benchmark %q", b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}

// Tier returns the configured tier by name.
func (c *Config) Tier(name string) (router.Tier, error) {
	for _, t := range c.Tiers {
		if t.Name == name {
			return t, nil
		}
	}
	return router.Tier{}, fmt.Errorf("tier %q is not configured", name)
}

// Benchmark returns the configured benchmark by name.
func (c *Config) Benchmark(name string) (BenchmarkConfig, bool) {
	for _, b := range c.Benchmarks {
		if b.Name == name {
			return b, true
		}
	}
	return BenchmarkConfig{}, false
}

// EnabledFeatures resolves the milestone's feature set with overrides.
func (c *Config) EnabledFeatures() Features {
	f := milestones[c.Milestone]
	for name, on := range c.Features {
		f = f.with(name, on)
	}
	return f
}

// Milestones lists the known milestone names in order.
func Milestones() []string {
	names := make([]string, 0, len(milestones))
	for m := range milestones {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}
