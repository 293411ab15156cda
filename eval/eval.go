// Package eval runs evaluations: it drives registered benchmarks through
// their task lists, publishes progress events and aggregates the results.
package eval

import (
	"context"
	"errors"
	"time"

	"github.com/GoCodeAlone/gauntlet/metrics"
	"github.com/GoCodeAlone/gauntlet/task"
)

// ErrNoBenchmarks is returned when a run resolves to no benchmark.
var ErrNoBenchmarks = errors.New("no benchmarks to run")

// Verdict is the judgement of one task attempt.
type Verdict string

const (
	VerdictSolved   Verdict = "solved"
	VerdictUnsolved Verdict = "unsolved"
	VerdictError    Verdict = "error"
)

// Info describes a benchmark.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// TaskResult is what a benchmark reports for one task.
type TaskResult struct {
	TaskID  string       `json:"task_id"`
	Verdict Verdict      `json:"verdict"`
	Metrics metrics.Task `json:"metrics"`
	Detail  string       `json:"detail,omitempty"`
}

// Benchmark adapts one task source to the orchestrator. Setup runs once
// before Tasks, and Cleanup once after the last task, even when Setup
// failed.
type Benchmark interface {
	Info() Info
	Setup(ctx context.Context) error
	Tasks(ctx context.Context) ([]task.Task, error)
	RunTask(ctx context.Context, t task.Task) (TaskResult, error)
	Cleanup(ctx context.Context) error
}

// RunConfig selects what an evaluation runs.
type RunConfig struct {
	// Benchmarks names the benchmarks to run; empty means all registered.
	Benchmarks []string `json:"benchmarks,omitempty"`
	// MaxTasks truncates each benchmark's task list; zero means no limit.
	MaxTasks int `json:"max_tasks,omitempty"`
	// TaskParallelism runs that many tasks of one benchmark at once.
	TaskParallelism int    `json:"task_parallelism,omitempty"`
	Milestone       string `json:"milestone,omitempty"`
}

// BenchmarkResult holds everything one benchmark produced.
type BenchmarkResult struct {
	Name      string          `json:"name"`
	Tasks     []TaskResult    `json:"tasks"`
	Aggregate metrics.Summary `json:"aggregate"`
	Skipped   int             `json:"skipped,omitempty"`
	Cancelled bool            `json:"cancelled,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Run is the result of one evaluation.
type Run struct {
	RunID      string            `json:"run_id"`
	Config     RunConfig         `json:"config"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Benchmarks []BenchmarkResult `json:"benchmarks"`
	Aggregate  metrics.Summary   `json:"aggregate"`
	Cancelled  bool              `json:"cancelled"`
}

// Tasks returns every task metric of the run, in benchmark order.
func (r *Run) Tasks() []metrics.Task {
	var out []metrics.Task
	for _, b := range r.Benchmarks {
		for _, t := range b.Tasks {
			out = append(out, t.Metrics)
		}
	}
	return out
}

// Benchmark returns the named benchmark result.
func (r *Run) Benchmark(name string) (BenchmarkResult, bool) {
	for _, b := range r.Benchmarks {
		if b.Name == name {
			return b, true
		}
	}
	return BenchmarkResult{}, false
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, run *Run) error
}
