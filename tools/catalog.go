package tools

import "time"

// Options tunes the standard catalog.
type Options struct {
	// Executor runs shell-executing tools. Nil means HostExecutor.
	Executor Executor
	// ShellTimeout is the default budget of the shell tool.
	ShellTimeout time.Duration
	// TestTimeout bounds run_tests.
	TestTimeout time.Duration
	// SelectTests narrows run_tests to the tests related to changed files.
	SelectTests bool
}

// Catalog returns the standard coding-agent tool set rooted at workspace.
func Catalog(workspace string, opts Options) *Registry {
	ex := opts.Executor
	if ex == nil {
		ex = HostExecutor{}
	}
	shellTimeout := opts.ShellTimeout
	if shellTimeout <= 0 {
		shellTimeout = DefaultTimeout
	}
	return NewRegistry(
		&ReadFileTool{Workspace: workspace},
		&WriteFileTool{Workspace: workspace},
		&EditFileTool{Workspace: workspace},
		&ListFilesTool{Workspace: workspace},
		&GrepTool{Workspace: workspace},
		&ShellTool{Workspace: workspace, Executor: ex, Timeout: shellTimeout},
		&GitStatusTool{Workspace: workspace, Executor: ex},
		&GitDiffTool{Workspace: workspace, Executor: ex},
		&RunTestsTool{Workspace: workspace, Executor: ex, Timeout: opts.TestTimeout, Select: opts.SelectTests},
	)
}
