package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/gauntlet/comms"
	"github.com/GoCodeAlone/gauntlet/metrics"
	"github.com/GoCodeAlone/gauntlet/task"
)

// DefaultConcurrency is how many benchmarks run at once.
const DefaultConcurrency = 2

// Orchestrator owns the registered benchmarks and runs evaluations over
// them.
type Orchestrator struct {
	mu         sync.RWMutex
	benchmarks map[string]Benchmark
	order      []string

	concurrency int
	bus         comms.Bus
	recorder    Recorder
	logger      *slog.Logger
	cancelled   atomic.Bool
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency caps how many benchmarks run at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithBus sets the progress bus.
func WithBus(bus comms.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithRecorder persists every finished run.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// NewOrchestrator creates an orchestrator with no benchmarks.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		benchmarks:  make(map[string]Benchmark),
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bus == nil {
		o.bus = comms.NewInMemoryBus()
	}
	if o.concurrency <= 0 {
		o.concurrency = 1
	}
	return o
}

// Register adds a benchmark under its Info name.
func (o *Orchestrator) Register(b Benchmark) error {
	name := b.Info().Name
	if name == "" {
		return fmt.Errorf("register benchmark: empty name")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.benchmarks[name]; ok {
		return fmt.Errorf("register benchmark: %q already registered", name)
	}
	o.benchmarks[name] = b
	o.order = append(o.order, name)
	return nil
}

// Benchmarks returns the registered benchmark infos in registration order.
func (o *Orchestrator) Benchmarks() []Info {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Info, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, o.benchmarks[name].Info())
	}
	return out
}

// Bus returns the progress bus.
func (o *Orchestrator) Bus() comms.Bus { return o.bus }

// Cancel asks the running evaluation to stop. Tasks already running
// finish; no new task or benchmark starts. A Cancel that arrives before
// RunEvaluation applies to the next run; the signal clears when a run ends.
func (o *Orchestrator) Cancel() { o.cancelled.Store(true) }

func (o *Orchestrator) stopping(ctx context.Context) bool {
	return o.cancelled.Load() || ctx.Err() != nil
}

// RunEvaluation runs the configured benchmarks and always returns a Run.
// Cancellation is reported through Run.Cancelled, not as an error; the
// error is non-nil only when nothing could be run or the recorder failed.
func (o *Orchestrator) RunEvaluation(ctx context.Context, cfg RunConfig) (*Run, error) {
	defer o.cancelled.Store(false)
	run := &Run{RunID: uuid.NewString(), Config: cfg, StartedAt: o.now()}
	log := o.logger.With("run_id", run.RunID)

	names := cfg.Benchmarks
	if len(names) == 0 {
		for _, info := range o.Benchmarks() {
			names = append(names, info.Name)
		}
	}
	run.Config.Benchmarks = names
	if len(names) == 0 {
		run.FinishedAt = o.now()
		return run, ErrNoBenchmarks
	}

	o.bus.Publish(comms.Event{Type: comms.EvaluationStarted, RunID: run.RunID, Benchmarks: names})
	log.Info("evaluation started", "benchmarks", names, "max_tasks", cfg.MaxTasks)

	run.Benchmarks = make([]BenchmarkResult, len(names))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, name := range names {
		g.Go(func() error {
			run.Benchmarks[i] = o.runBenchmark(ctx, run.RunID, name, cfg)
			return nil
		})
	}
	_ = g.Wait()

	for _, b := range run.Benchmarks {
		if b.Cancelled {
			run.Cancelled = true
		}
	}
	run.Aggregate = metrics.Aggregate(run.Tasks())
	run.FinishedAt = o.now()

	agg := run.Aggregate
	o.bus.Publish(comms.Event{Type: comms.EvaluationCompleted, RunID: run.RunID, Aggregate: &agg, Cancelled: run.Cancelled})
	log.Info("evaluation completed",
		"tasks", agg.Count,
		"solved", agg.Solved,
		"accuracy", agg.Accuracy,
		"cost_usd", agg.TotalCostUSD,
		"cancelled", run.Cancelled,
	)

	if o.recorder != nil {
		// A cancelled run is still recorded.
		if err := o.recorder.Record(context.WithoutCancel(ctx), run); err != nil {
			return run, fmt.Errorf("record run %s: %w", run.RunID, err)
		}
	}
	return run, nil
}

func (o *Orchestrator) runBenchmark(ctx context.Context, runID, name string, cfg RunConfig) BenchmarkResult {
	res := BenchmarkResult{Name: name, Tasks: []TaskResult{}}
	log := o.logger.With("run_id", runID, "benchmark", name)

	if o.stopping(ctx) {
		res.Cancelled = true
		o.publishCompleted(runID, &res)
		return res
	}

	o.mu.RLock()
	b, ok := o.benchmarks[name]
	o.mu.RUnlock()
	if !ok {
		res.Error = fmt.Sprintf("unknown benchmark %q", name)
		log.Error("benchmark failed", "error", res.Error)
		o.publishCompleted(runID, &res)
		return res
	}

	o.bus.Publish(comms.Event{Type: comms.BenchmarkStarted, RunID: runID, Benchmark: name})
	defer func() {
		if err := b.Cleanup(context.WithoutCancel(ctx)); err != nil {
			log.Warn("benchmark cleanup failed", "error", err)
		}
	}()

	tasks, err := o.prepare(ctx, b, cfg.MaxTasks)
	if err != nil {
		res.Error = err.Error()
		log.Error("benchmark failed", "error", err)
		o.publishCompleted(runID, &res)
		return res
	}
	log.Info("benchmark started", "tasks", len(tasks))

	results := make([]*TaskResult, len(tasks))
	parallel := max(cfg.TaskParallelism, 1)
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, t := range tasks {
		if o.stopping(ctx) {
			break
		}
		g.Go(func() error {
			if o.stopping(ctx) {
				return nil
			}
			tr := o.runTask(ctx, b, name, t)
			results[i] = &tr
			o.bus.Publish(comms.Event{
				Type:      comms.TaskCompleted,
				RunID:     runID,
				Benchmark: name,
				TaskID:    tr.TaskID,
				Verdict:   string(tr.Verdict),
				Metrics:   &tr.Metrics,
				Error:     tr.Metrics.Error,
			})
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r == nil {
			res.Skipped++
			continue
		}
		res.Tasks = append(res.Tasks, *r)
	}
	res.Cancelled = res.Skipped > 0 && o.stopping(ctx)

	tm := make([]metrics.Task, len(res.Tasks))
	for i, r := range res.Tasks {
		tm[i] = r.Metrics
	}
	res.Aggregate = metrics.Aggregate(tm)
	o.publishCompleted(runID, &res)
	log.Info("benchmark completed",
		"tasks", res.Aggregate.Count,
		"solved", res.Aggregate.Solved,
		"skipped", res.Skipped,
	)
	return res
}

func (o *Orchestrator) prepare(ctx context.Context, b Benchmark, maxTasks int) ([]task.Task, error) {
	if err := b.Setup(ctx); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	tasks, err := b.Tasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return task.Limit(tasks, maxTasks), nil
}

// runTask isolates one task: errors and panics become an error verdict.
func (o *Orchestrator) runTask(ctx context.Context, b Benchmark, name string, t task.Task) (tr TaskResult) {
	start := o.now()
	defer func() {
		if r := recover(); r != nil {
			tr = TaskResult{TaskID: t.ID, Verdict: VerdictError}
			tr.Metrics.Error = fmt.Sprintf("panic: %v", r)
		}
		if tr.TaskID == "" {
			tr.TaskID = t.ID
		}
		tr.Metrics.TaskID = tr.TaskID
		tr.Metrics.Benchmark = name
		tr.Metrics.Solved = tr.Verdict == VerdictSolved
		if tr.Metrics.DurationMS == 0 {
			tr.Metrics.DurationMS = o.now().Sub(start).Milliseconds()
		}
	}()

	tr, err := b.RunTask(ctx, t)
	if err != nil {
		tr.Verdict = VerdictError
		tr.Metrics.Error = err.Error()
		o.logger.Warn("task failed", "benchmark", name, "task_id", t.ID, "error", err)
	}
	if tr.Verdict == "" {
		tr.Verdict = VerdictUnsolved
	}
	return tr
}

func (o *Orchestrator) publishCompleted(runID string, res *BenchmarkResult) {
	agg := res.Aggregate
	o.bus.Publish(comms.Event{
		Type:      comms.BenchmarkCompleted,
		RunID:     runID,
		Benchmark: res.Name,
		Aggregate: &agg,
		Cancelled: res.Cancelled,
		Error:     res.Error,
	})
}
