package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/GoCodeAlone/gauntlet/provider"
)

// ShellTool executes a shell command in the workspace.
type ShellTool struct {
	Workspace string
	Executor  Executor
	Timeout   time.Duration
}

func (t *ShellTool) Name() string { return "shell" }
func (t *ShellTool) Description() string {
	return "Execute a shell command in the repository root"
}
func (t *ShellTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "Shell command to execute"},
				"timeout": map[string]any{"type": "integer", "description": "Timeout in seconds (default: 30, max: 600)"},
			},
			"required": []string{"command"},
		},
	}
}
func (t *ShellTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	command := stringArg(args, "command")
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}
	timeout := t.Timeout
	if secs := intArg(args, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	return runIn(ctx, t.Executor, Command{
		Name:    "sh",
		Args:    []string{"-c", command},
		Dir:     t.Workspace,
		Timeout: timeout,
	})
}

// GitStatusTool reports the working tree status.
type GitStatusTool struct {
	Workspace string
	Executor  Executor
}

func (t *GitStatusTool) Name() string { return "git_status" }
func (t *GitStatusTool) Description() string {
	return "Show the working tree status of the repository"
}
func (t *GitStatusTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}
func (t *GitStatusTool) Execute(ctx context.Context, _ map[string]any) (any, error) {
	return runIn(ctx, t.Executor, Command{
		Name:    "git",
		Args:    []string{"status", "--short", "--branch"},
		Dir:     t.Workspace,
		Timeout: DefaultTimeout,
	})
}

// GitDiffTool shows uncommitted changes.
type GitDiffTool struct {
	Workspace string
	Executor  Executor
}

func (t *GitDiffTool) Name() string        { return "git_diff" }
func (t *GitDiffTool) Description() string { return "Show uncommitted changes in the repository" }
func (t *GitDiffTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":   map[string]any{"type": "string", "description": "Limit the diff to this path"},
				"staged": map[string]any{"type": "boolean", "description": "Show staged changes instead of the working tree"},
			},
		},
	}
}
func (t *GitDiffTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	cmdArgs := []string{"diff"}
	if boolArg(args, "staged") {
		cmdArgs = append(cmdArgs, "--cached")
	}
	if path := stringArg(args, "path"); path != "" {
		if _, err := validatePath(t.Workspace, path); err != nil {
			return nil, err
		}
		cmdArgs = append(cmdArgs, "--", path)
	}
	return runIn(ctx, t.Executor, Command{
		Name:    "git",
		Args:    cmdArgs,
		Dir:     t.Workspace,
		Timeout: DefaultTimeout,
	})
}

func runIn(ctx context.Context, ex Executor, cmd Command) (CommandOutput, error) {
	if ex == nil {
		ex = HostExecutor{}
	}
	return ex.Run(ctx, cmd)
}
