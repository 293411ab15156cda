// Package tools defines the capabilities an agent can invoke against its
// workspace and the registry that dispatches them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/GoCodeAlone/gauntlet/provider"
)

// Tool is a named capability with a JSON-schema described argument object.
type Tool interface {
	// Name returns the unique tool identifier.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Definition returns the tool definition advertised to the model.
	Definition() provider.ToolDef

	// Execute runs the tool with already validated arguments.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Result is the outcome of one tool invocation, fed back to the model.
type Result struct {
	Tool     string `json:"tool"`
	Output   string `json:"output"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// Content renders the result as the text of a tool message.
func (r Result) Content() string {
	if r.Error == "" {
		return r.Output
	}
	if r.Output == "" {
		return "error: " + r.Error
	}
	return "error: " + r.Error + "\n" + r.Output
}

// Registry is a fixed set of tools, assembled once and read-only afterwards.
type Registry struct {
	tools map[string]Tool
	names []string
}

// NewRegistry builds a registry. Later tools replace earlier ones with the
// same name.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	for name := range r.tools {
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Defs returns the definitions of all tools, in name order.
func (r *Registry) Defs() []provider.ToolDef {
	defs := make([]provider.ToolDef, 0, len(r.names))
	for _, name := range r.names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute runs a tool by name. Failures of any kind are reported in the
// Result rather than as a Go error, so the model can react to them.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Result {
	res := Result{Tool: name}
	t, ok := r.tools[name]
	if !ok {
		res.Error = fmt.Sprintf("unknown tool %q", name)
		if s := r.suggest(name); s != "" {
			res.Error += fmt.Sprintf("; did you mean %q?", s)
		}
		return res
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := ValidateArgs(t.Definition().Parameters, args); err != nil {
		res.Error = fmt.Sprintf("invalid arguments for %s: %v", name, err)
		return res
	}

	out, err := t.Execute(ctx, args)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	switch v := out.(type) {
	case CommandOutput:
		res.Output = v.String()
		if v.TimedOut {
			res.Error = fmt.Sprintf("timed out after %s", v.Timeout)
			return res
		}
		code := v.ExitCode
		res.ExitCode = &code
		res.Success = code == 0
		if !res.Success {
			res.Error = fmt.Sprintf("exit code %d", code)
		}
	case string:
		res.Output = v
		res.Success = true
	default:
		data, err := json.Marshal(v)
		if err != nil {
			res.Error = fmt.Sprintf("encode output: %v", err)
			return res
		}
		res.Output = string(data)
		res.Success = true
	}
	return res
}

// suggest returns the registered name closest to name, if any is close.
func (r *Registry) suggest(name string) string {
	best, bestDist := "", math.MaxInt
	for _, n := range r.names {
		d := levenshtein.ComputeDistance(strings.ToLower(name), n)
		if d < bestDist {
			best, bestDist = n, d
		}
	}
	if bestDist > max(3, len(name)/2) {
		return ""
	}
	return best
}

// ValidateArgs checks args against a JSON object schema: required keys must
// be present and known properties must have the declared primitive type.
// Unknown keys are allowed.
func ValidateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}
	for _, key := range requiredKeys(schema["required"]) {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("missing required argument %q", key)
		}
	}
	props, _ := schema["properties"].(map[string]any)
	for key, val := range args {
		prop, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		typ, _ := prop["type"].(string)
		if typ == "" {
			continue
		}
		if !hasType(val, typ) {
			return fmt.Errorf("argument %q must be %s, got %s", key, typ, describe(val))
		}
	}
	return nil
}

func requiredKeys(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		keys := make([]string, 0, len(req))
		for _, k := range req {
			if s, ok := k.(string); ok {
				keys = append(keys, s)
			}
		}
		return keys
	}
	return nil
}

func hasType(v any, typ string) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "integer":
		switch n := v.(type) {
		case int, int64, int32:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case "number":
		switch v.(type) {
		case int, int64, int32, float64, float32:
			return true
		}
		return false
	case "array":
		switch v.(type) {
		case []any, []string:
			return true
		}
		return false
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32:
		return "number"
	case []any, []string:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// Typed argument accessors. Arguments have been validated, so a missing or
// mistyped optional value yields the fallback.

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, fallback int) int {
	switch n := args[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return fallback
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func stringsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
