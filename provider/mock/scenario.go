package mock

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/gauntlet/provider"
)

// ScriptedStep is one step of a scenario file.
type ScriptedStep struct {
	Content   string              `yaml:"content" json:"content"`
	ToolCalls []provider.ToolCall `yaml:"tool_calls,omitempty" json:"tool_calls,omitempty"`
	Error     string              `yaml:"error,omitempty" json:"error,omitempty"`
	// ErrorKind classifies Error, e.g. "rate_limit"; defaults to "api".
	ErrorKind string `yaml:"error_kind,omitempty" json:"error_kind,omitempty"`
}

// Scenario is a named sequence of steps loadable from YAML.
type Scenario struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Delay       time.Duration  `yaml:"delay,omitempty" json:"delay,omitempty"`
	Steps       []ScriptedStep `yaml:"steps" json:"steps"`
}

// LoadScenario reads a Scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load scenario %q: %w", path, err)
	}
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %q: %w", path, err)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", path)
	}
	return &scenario, nil
}

// Script converts the scenario into provider steps.
func (s *Scenario) Script() []Step {
	steps := make([]Step, 0, len(s.Steps))
	for _, st := range s.Steps {
		if st.Error != "" {
			kind := provider.ErrorKind(st.ErrorKind)
			if kind == "" {
				kind = provider.KindAPI
			}
			steps = append(steps, Fail(&provider.Error{Kind: kind, Provider: "mock", Message: st.Error}))
			continue
		}
		if len(st.ToolCalls) > 0 {
			step := ToolUse(st.ToolCalls...)
			step.Response.Content = st.Content
			steps = append(steps, step)
			continue
		}
		steps = append(steps, Text(st.Content))
	}
	return steps
}

func scenarioProvider(cfg provider.Config, opts []Option) (provider.Provider, error) {
	sc, err := LoadScenario(cfg.Scenario)
	if err != nil {
		return nil, err
	}
	if sc.Delay > 0 {
		opts = append(opts, WithDelay(sc.Delay))
	}
	return NewScripted(sc.Script(), opts...), nil
}
