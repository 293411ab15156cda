// Package benchmark adapts coding-task datasets to the evaluation
// orchestrator: it prepares a checkout per task, lets the solver work in it
// and verifies the result with the task's tests.
package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/gauntlet/agent"
	"github.com/GoCodeAlone/gauntlet/eval"
	"github.com/GoCodeAlone/gauntlet/task"
	"github.com/GoCodeAlone/gauntlet/tools"
)

// DefaultVerifyTimeout bounds the verification test run.
const DefaultVerifyTimeout = 15 * time.Minute

// detailLimit caps the verification output kept in a result.
const detailLimit = 4096

// Solver works a task inside a prepared workspace.
type Solver interface {
	Solve(ctx context.Context, t task.Task, workspace string) (*agent.Outcome, error)
	// Executor returns where verification commands for workspace run.
	Executor(ctx context.Context, workspace string) (tools.Executor, error)
	Release(ctx context.Context, workspace string)
}

// Loader reads up to limit tasks from source.
type Loader func(ctx context.Context, source string, limit int) ([]task.Task, error)

// Config describes one dataset-backed benchmark.
type Config struct {
	Name        string
	Description string
	// Source is a dataset name or a local task file.
	Source string
	// WorkRoot holds one checkout per task, under WorkRoot/Name.
	WorkRoot string
	// Limit caps how many tasks are loaded; zero loads all.
	Limit          int
	VerifyTimeout  time.Duration
	KeepWorkspaces bool
}

// Dataset implements eval.Benchmark over a task dataset.
type Dataset struct {
	cfg    Config
	solver Solver
	load   Loader
	host   tools.Executor
	logger *slog.Logger

	mu    sync.Mutex
	tasks []task.Task
	root  string
}

var _ eval.Benchmark = (*Dataset)(nil)

// Option configures a Dataset.
type Option func(*Dataset)

// WithLoader replaces task.Load.
func WithLoader(l Loader) Option {
	return func(d *Dataset) { d.load = l }
}

// WithHostExecutor replaces the executor used for git operations.
func WithHostExecutor(ex tools.Executor) Option {
	return func(d *Dataset) { d.host = ex }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dataset) { d.logger = logger }
}

// New creates a dataset benchmark.
func New(cfg Config, solver Solver, opts ...Option) *Dataset {
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = DefaultVerifyTimeout
	}
	d := &Dataset{
		cfg:    cfg,
		solver: solver,
		load:   task.Load,
		host:   tools.HostExecutor{},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Info describes the benchmark.
func (d *Dataset) Info() eval.Info {
	return eval.Info{Name: d.cfg.Name, Description: d.cfg.Description}
}

// Setup loads and validates the tasks and creates the workspace root.
func (d *Dataset) Setup(ctx context.Context) error {
	tasks, err := d.load(ctx, d.cfg.Source, d.cfg.Limit)
	if err != nil {
		return fmt.Errorf("load %s: %w", d.cfg.Source, err)
	}
	if err := task.Validate(tasks); err != nil {
		return err
	}
	root := filepath.Join(d.cfg.WorkRoot, workspaceName(d.cfg.Name))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create workspace root: %w", err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.tasks, d.root = tasks, root
	d.mu.Unlock()
	d.logger.Info("benchmark ready", "benchmark", d.cfg.Name, "source", d.cfg.Source, "tasks", len(tasks))
	return nil
}

// Tasks returns the loaded tasks.
func (d *Dataset) Tasks(context.Context) ([]task.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tasks, nil
}

// RunTask checks out the task, runs the solver and verifies the result.
func (d *Dataset) RunTask(ctx context.Context, t task.Task) (eval.TaskResult, error) {
	d.mu.Lock()
	root := d.root
	d.mu.Unlock()
	if root == "" {
		return eval.TaskResult{}, fmt.Errorf("benchmark %s: Setup has not run", d.cfg.Name)
	}

	ws := filepath.Join(root, workspaceName(t.ID))
	log := d.logger.With("benchmark", d.cfg.Name, "task_id", t.ID)
	if err := prepareWorkspace(ctx, d.host, t, ws); err != nil {
		return eval.TaskResult{}, fmt.Errorf("prepare workspace: %w", err)
	}
	defer func() {
		d.solver.Release(context.WithoutCancel(ctx), ws)
		if !d.cfg.KeepWorkspaces {
			os.RemoveAll(ws)
		}
	}()

	out, err := d.solver.Solve(ctx, t, ws)
	if err != nil {
		return eval.TaskResult{}, err
	}
	res := eval.TaskResult{TaskID: t.ID, Verdict: eval.VerdictUnsolved, Metrics: out.Metrics}
	if out.State == agent.StateFailed {
		res.Verdict = eval.VerdictError
		if out.Err != nil {
			res.Metrics.Error = out.Err.Error()
		}
		return res, nil
	}

	solved, detail, err := d.verify(ctx, t, ws)
	if err != nil {
		res.Verdict = eval.VerdictError
		res.Metrics.Error = "verify: " + err.Error()
		return res, nil
	}
	if solved {
		res.Verdict = eval.VerdictSolved
	}
	res.Detail = detail
	log.Info("task verified", "verdict", string(res.Verdict), "truncated", out.Truncated)
	return res, nil
}

// verify applies the task's test patch and runs its fail-to-pass and
// pass-to-pass tests. Without tests any change to the checkout counts.
func (d *Dataset) verify(ctx context.Context, t task.Task, ws string) (bool, string, error) {
	tests := append(append([]string(nil), t.FailToPass...), t.PassToPass...)
	if len(tests) == 0 {
		changed, err := hasChanges(ctx, d.host, ws)
		if err != nil {
			return false, "", err
		}
		return changed, "", nil
	}

	if err := applyPatch(ctx, d.host, ws, workspaceName(t.ID)+"-tests", t.TestPatch); err != nil {
		return false, "", fmt.Errorf("apply test patch: %w", err)
	}
	argv := verifyCommand(ws, tests)
	ex, err := d.solver.Executor(ctx, ws)
	if err != nil {
		return false, "", err
	}
	out, err := ex.Run(ctx, tools.Command{Name: argv[0], Args: argv[1:], Dir: ws, Timeout: d.cfg.VerifyTimeout})
	if err != nil {
		return false, "", err
	}
	detail := "$ " + strings.Join(argv, " ") + "\n" + out.String()
	if len(detail) > detailLimit {
		detail = "..." + detail[len(detail)-detailLimit:]
	}
	return out.ExitCode == 0 && !out.TimedOut, detail, nil
}

// Cleanup removes the workspace root unless workspaces are kept.
func (d *Dataset) Cleanup(context.Context) error {
	d.mu.Lock()
	root := d.root
	d.mu.Unlock()
	if root == "" || d.cfg.KeepWorkspaces {
		return nil
	}
	return os.RemoveAll(root)
}
