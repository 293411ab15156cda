package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/GoCodeAlone/gauntlet/eval"
	"github.com/GoCodeAlone/gauntlet/metrics"
	"github.com/GoCodeAlone/gauntlet/task"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id, milestone string, started time.Time) *eval.Run {
	tasks := []eval.TaskResult{
		{TaskID: "django__django-1", Verdict: eval.VerdictSolved, Metrics: metrics.Task{
			TaskID: "django__django-1", Benchmark: "lite", Solved: true, CostUSD: 0.25, Steps: 6, Model: "claude-sonnet-4-20250514", Tier: "cloud-mid",
		}},
		{TaskID: "flask__flask-2", Verdict: eval.VerdictError, Metrics: metrics.Task{
			TaskID: "flask__flask-2", Benchmark: "lite", Error: "clone failed",
		}},
	}
	ms := []metrics.Task{tasks[0].Metrics, tasks[1].Metrics}
	return &eval.Run{
		RunID:      id,
		Config:     eval.RunConfig{Benchmarks: []string{"lite"}, Milestone: milestone},
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Benchmarks: []eval.BenchmarkResult{{Name: "lite", Tasks: tasks, Aggregate: metrics.Aggregate(ms)}},
		Aggregate:  metrics.Aggregate(ms),
	}
}

func TestSQLiteStore_Migrations(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	if err := s.Record(ctx, sampleRun("run-1", "m1", time.Now())); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.GetRun(ctx, "run-1"); err != nil {
		t.Errorf("GetRun after reopen: %v", err)
	}
}

func TestSQLiteStore_RecordAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := sampleRun("run-1", "m2", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	if err := s.Record(ctx, run); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Config.Milestone != "m2" || got.Aggregate.Solved != 1 || len(got.Benchmarks[0].Tasks) != 2 {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(run.StartedAt) {
		t.Errorf("StartedAt = %v", got.StartedAt)
	}

	// recording again replaces instead of duplicating
	run.Aggregate.Solved = 2
	if err := s.Record(ctx, run); err != nil {
		t.Fatalf("Record again: %v", err)
	}
	hist, err := s.TaskHistory(ctx, "django__django-1")
	if err != nil {
		t.Fatalf("TaskHistory: %v", err)
	}
	if len(hist) != 1 {
		t.Errorf("history = %+v", hist)
	}

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) err = %v", err)
	}
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, ms := range []string{"m1", "m2", "m2"} {
		run := sampleRun("run-"+string(rune('a'+i)), ms, base.Add(time.Duration(i)*time.Hour))
		if err := s.Record(ctx, run); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := s.ListRuns(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 || all[0].RunID != "run-c" {
		t.Fatalf("runs = %+v", all)
	}
	if all[0].Tasks != 2 || all[0].Solved != 1 || all[0].Accuracy != 0.5 || all[0].Benchmarks[0] != "lite" {
		t.Errorf("summary = %+v", all[0])
	}

	m2, _ := s.ListRuns(ctx, Filter{Milestone: "m2", Limit: 1})
	if len(m2) != 1 || m2[0].RunID != "run-c" {
		t.Errorf("filtered = %+v", m2)
	}
}

func TestSQLiteStore_TaskHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.Record(ctx, sampleRun("old", "m1", base))
	s.Record(ctx, sampleRun("new", "m3", base.Add(time.Hour)))

	hist, err := s.TaskHistory(ctx, "flask__flask-2")
	if err != nil {
		t.Fatalf("TaskHistory: %v", err)
	}
	if len(hist) != 2 || hist[0].RunID != "new" {
		t.Fatalf("history = %+v", hist)
	}
	if hist[0].Verdict != "error" || hist[0].Error != "clone failed" || hist[0].Solved {
		t.Errorf("record = %+v", hist[0])
	}

	solved, _ := s.TaskHistory(ctx, "django__django-1")
	if !solved[0].Solved || solved[0].Tier != "cloud-mid" || solved[0].Steps != 6 {
		t.Errorf("record = %+v", solved[0])
	}
}

func TestSQLiteStore_DeleteRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Record(ctx, sampleRun("run-1", "m1", time.Now()))

	if err := s.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	if hist, _ := s.TaskHistory(ctx, "django__django-1"); len(hist) != 0 {
		t.Errorf("task results should be deleted: %+v", hist)
	}
	if err := s.DeleteRun(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

type oneTask struct{}

func (oneTask) Info() eval.Info                            { return eval.Info{Name: "one"} }
func (oneTask) Setup(context.Context) error                { return nil }
func (oneTask) Cleanup(context.Context) error              { return nil }
func (oneTask) Tasks(context.Context) ([]task.Task, error) { return []task.Task{{ID: "t1"}}, nil }
func (oneTask) RunTask(_ context.Context, t task.Task) (eval.TaskResult, error) {
	return eval.TaskResult{TaskID: t.ID, Verdict: eval.VerdictSolved}, nil
}

func TestSQLiteStore_AsRecorder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := eval.NewOrchestrator(eval.WithRecorder(s))
	if err := o.Register(oneTask{}); err != nil {
		t.Fatal(err)
	}
	run, err := o.RunEvaluation(ctx, eval.RunConfig{Milestone: "m4"})
	if err != nil {
		t.Fatalf("RunEvaluation: %v", err)
	}
	got, err := s.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Aggregate.Solved != 1 || got.Config.Milestone != "m4" {
		t.Errorf("stored run = %+v", got)
	}
	hist, _ := s.TaskHistory(ctx, "t1")
	if len(hist) != 1 || hist[0].Benchmark != "one" || !hist[0].Solved {
		t.Errorf("history = %+v", hist)
	}
}

func TestSQLiteStore_RecordsCancelledRun(t *testing.T) {
	s := newTestStore(t)
	o := eval.NewOrchestrator(eval.WithRecorder(s))
	if err := o.Register(oneTask{}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := o.RunEvaluation(ctx, eval.RunConfig{Milestone: "m1"})
	if err != nil {
		t.Fatalf("cancelled run returned %v", err)
	}
	if !run.Cancelled {
		t.Fatal("run should be cancelled")
	}
	got, err := s.GetRun(context.Background(), run.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !got.Cancelled || got.Aggregate.Count != 0 {
		t.Errorf("stored run = %+v", got)
	}
}
