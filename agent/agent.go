// Package agent runs the per-task control loop: ask the model, execute the
// tools it requests, feed the results back, until it finishes or the step
// budget runs out.
package agent

import (
	"time"

	"github.com/GoCodeAlone/gauntlet/metrics"
	"github.com/GoCodeAlone/gauntlet/provider"
	"github.com/GoCodeAlone/gauntlet/srccache"
)

// State is where the loop is.
type State string

const (
	StateAwaitingModel  State = "awaiting_model"
	StateExecutingTools State = "executing_tools"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Defaults applied to a zero Config.
const (
	DefaultMaxSteps    = 30
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 30 * time.Second
)

const defaultSystemPrompt = `You are an autonomous software engineer working in a checked-out repository.
Use the provided tools to inspect the code, make the smallest change that resolves the issue, and run the relevant tests.
When the fix is complete, reply with a short summary and no tool calls.`

// Config tunes one agent.
type Config struct {
	SystemPrompt string
	MaxSteps     int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	// Streaming makes each model call through Stream and Collect.
	Streaming bool
	// Pricing prices usage; nil means the list price of the model.
	Pricing *provider.Pricing
	// Workspace is the repository root the tools operate on.
	Workspace string
	// Cache, when set, adds outlines of the files to modify to the prompt.
	Cache *srccache.Cache
	// LoopThreshold is how many repetitions of one tool call end the run;
	// zero means DefaultLoopThreshold and a negative value disables the check.
	LoopThreshold int
	// ContextWindow overrides the model's context size in tokens.
	ContextWindow int
	// InputBudget is the most input tokens one request may carry, normally
	// the tier's per-window input maximum. The conversation is compacted to
	// fit it as well as the context window.
	InputBudget int
	// Redactor scrubs credentials from tool output.
	Redactor *Redactor
}

func (c Config) withDefaults() Config {
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.LoopThreshold == 0 {
		c.LoopThreshold = DefaultLoopThreshold
	}
	return c
}

// Step describes one completed model turn, reported to a StepObserver.
type Step struct {
	TaskID     string
	Index      int
	StopReason provider.StopReason
	ToolCalls  []string
	Failures   int
	Usage      provider.Usage
}

// StepObserver is called after every model turn and its tool calls.
type StepObserver func(Step)

// Outcome is the terminal state of one task.
type Outcome struct {
	State     State              `json:"state"`
	Truncated bool               `json:"truncated,omitempty"`
	Final     string             `json:"final,omitempty"`
	// Loop describes the repetition that ended the run, if any.
	Loop string `json:"loop,omitempty"`
	// Elided counts tool outputs dropped to fit the context window.
	Elided   int                `json:"elided,omitempty"`
	Messages []provider.Message `json:"-"`
	Metrics  metrics.Task       `json:"metrics"`
	Err      error              `json:"-"`
}
