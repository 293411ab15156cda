package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GoCodeAlone/gauntlet/provider"
	"github.com/GoCodeAlone/gauntlet/testselect"
)

// DefaultTestTimeout bounds a test run.
const DefaultTestTimeout = 5 * time.Minute

// RunTestsTool runs the repository's tests. With selection enabled it
// narrows the run to tests related to the changed files.
type RunTestsTool struct {
	Workspace string
	Executor  Executor
	Timeout   time.Duration
	Select    bool
}

func (t *RunTestsTool) Name() string { return "run_tests" }
func (t *RunTestsTool) Description() string {
	return "Run the repository's tests. Without arguments, runs the tests related to uncommitted changes"
}
func (t *RunTestsTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"changed_files": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Files whose tests should run (default: files changed in the working tree)",
				},
				"all": map[string]any{"type": "boolean", "description": "Run the whole suite"},
			},
		},
	}
}

func (t *RunTestsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	changed := stringsArg(args, "changed_files")
	if len(changed) == 0 && t.Select && !boolArg(args, "all") {
		var err error
		if changed, err = ChangedFiles(ctx, t.Executor, t.Workspace); err != nil {
			return nil, err
		}
	}

	sel := testselect.Selection{Root: t.Workspace, RunAll: true}
	if t.Select && !boolArg(args, "all") {
		var err error
		if sel, err = testselect.SelectTests(t.Workspace, changed); err != nil {
			return nil, err
		}
	}
	cmd, err := testselect.BuildCommand(sel)
	if err != nil {
		return nil, err
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	out, err := runIn(ctx, t.Executor, Command{
		Name:    cmd.Argv[0],
		Args:    cmd.Argv[1:],
		Dir:     t.Workspace,
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	out.Stdout = fmt.Sprintf("$ %s\n%s", cmd, out.Stdout)
	return out, nil
}

// ChangedFiles lists tracked files with uncommitted changes plus untracked
// files, as slash-separated paths relative to the workspace.
func ChangedFiles(ctx context.Context, ex Executor, workspace string) ([]string, error) {
	var files []string
	for _, args := range [][]string{
		{"diff", "--name-only", "HEAD"},
		{"ls-files", "--others", "--exclude-standard"},
	} {
		out, err := runIn(ctx, ex, Command{Name: "git", Args: args, Dir: workspace, Timeout: DefaultTimeout})
		if err != nil {
			return nil, fmt.Errorf("git %s: %w", args[0], err)
		}
		if out.TimedOut || out.ExitCode != 0 {
			return nil, fmt.Errorf("git %s failed: %s", args[0], strings.TrimSpace(out.Stderr))
		}
		for _, line := range strings.Split(out.Stdout, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				files = append(files, line)
			}
		}
	}
	return files, nil
}
