package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/GoCodeAlone/gauntlet/benchmark"
	"github.com/GoCodeAlone/gauntlet/comms"
	"github.com/GoCodeAlone/gauntlet/config"
	"github.com/GoCodeAlone/gauntlet/eval"
	"github.com/GoCodeAlone/gauntlet/harness"
	"github.com/GoCodeAlone/gauntlet/ratelimit"
	"github.com/GoCodeAlone/gauntlet/sandbox"
	"github.com/GoCodeAlone/gauntlet/srccache"
	"github.com/GoCodeAlone/gauntlet/store"
)

var errNoBenchmarks = errors.New("no benchmarks selected: pass -benchmarks a,b")

func cmdRun(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		tasks      = fs.Int("tasks", 0, "tasks per benchmark (0 = all)")
		milestone  = fs.String("milestone", "", "feature milestone (m1..m4)")
		dataset    = fs.String("dataset", "", "dataset name or task file, overriding every benchmark's source")
		benchmarks = fs.String("benchmarks", "", "comma-separated benchmarks to run")
		output     = fs.String("output", "", "artifact directory")
		configPath = fs.String("config", "", "YAML config file")
		keep       = fs.Bool("keep", false, "keep task workspaces")
		progress   = fs.String("progress", "", "serve live progress as server-sent events on this address")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	names := splitList(*benchmarks)
	if len(names) == 0 {
		return errNoBenchmarks
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *milestone != "" {
		cfg.Milestone = *milestone
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if *output != "" {
		cfg.OutputDir = *output
	}
	if *tasks > 0 {
		cfg.Eval.MaxTasks = *tasks
	}

	logger, err := newLogger(cfg.LogLevel, stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	hopts := []harness.Option{harness.WithLogger(logger)}
	if cfg.Sandbox.Enabled {
		mgr, err := sandbox.NewManager(cfg.Sandbox.Spec, logger)
		if err != nil {
			return fmt.Errorf("sandbox: %w", err)
		}
		hopts = append(hopts, harness.WithSandbox(mgr))
	}
	h, err := harness.New(cfg, hopts...)
	if err != nil {
		return err
	}
	defer h.Close() //nolint:errcheck

	oopts := []eval.Option{eval.WithConcurrency(cfg.Eval.Concurrency), eval.WithLogger(logger)}
	if cfg.Database != "" {
		st, err := store.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		oopts = append(oopts, eval.WithRecorder(st))
	}
	orch := eval.NewOrchestrator(oopts...)
	for _, name := range names {
		bc, ok := cfg.Benchmark(name)
		if !ok {
			bc = config.BenchmarkConfig{Name: name, Dataset: name}
		}
		if *dataset != "" {
			bc.Dataset = *dataset
		}
		d := benchmark.New(benchmark.Config{
			Name:           bc.Name,
			Description:    bc.Description,
			Source:         bc.Dataset,
			WorkRoot:       cfg.DataDir,
			Limit:          cfg.Eval.MaxTasks,
			KeepWorkspaces: *keep,
		}, h, benchmark.WithLogger(logger))
		if err := orch.Register(d); err != nil {
			return err
		}
	}

	events, unsubscribe := orch.Bus().Subscribe(0)
	done := make(chan struct{})
	go func() {
		defer close(done)
		logProgress(logger, events)
	}()

	if *progress != "" {
		shutdown, err := serveProgress(*progress, orch.Bus(), logger)
		if err != nil {
			unsubscribe()
			<-done
			return err
		}
		defer shutdown()
	}

	ctx, stop := interruptContext(orch, logger)
	defer stop()

	logger.Info("starting evaluation",
		"milestone", cfg.Milestone,
		"features", cfg.EnabledFeatures().String(),
		"benchmarks", names,
		"max_tasks", cfg.Eval.MaxTasks,
	)
	run, runErr := orch.RunEvaluation(ctx, eval.RunConfig{
		Benchmarks:      names,
		MaxTasks:        cfg.Eval.MaxTasks,
		TaskParallelism: cfg.Eval.TaskParallelism,
		Milestone:       cfg.Milestone,
	})
	unsubscribe()
	<-done
	if run == nil {
		return runErr
	}

	path, err := eval.WriteArtifact(cfg.OutputDir, run)
	if err != nil {
		return errors.Join(runErr, err)
	}
	printSummary(stdout, run, h.LimiterStatus(), h.CacheStats())
	fmt.Fprintf(stdout, "\nresults: %s\n", path)
	return runErr
}

// logProgress logs bus events until the channel closes.
func logProgress(logger *slog.Logger, events <-chan comms.Event) {
	for ev := range events {
		switch ev.Type {
		case comms.BenchmarkStarted:
			logger.Info("benchmark started", "benchmark", ev.Benchmark)
		case comms.TaskCompleted:
			attrs := []any{"benchmark", ev.Benchmark, "task_id", ev.TaskID, "verdict", ev.Verdict}
			if ev.Metrics != nil {
				attrs = append(attrs, "tier", ev.Metrics.Tier, "steps", ev.Metrics.Steps, "cost_usd", ev.Metrics.CostUSD)
			}
			logger.Info("task completed", attrs...)
		case comms.BenchmarkCompleted:
			attrs := []any{"benchmark", ev.Benchmark, "cancelled", ev.Cancelled}
			if ev.Aggregate != nil {
				attrs = append(attrs, "solved", ev.Aggregate.Solved, "tasks", ev.Aggregate.Count)
			}
			if ev.Error != "" {
				attrs = append(attrs, "error", ev.Error)
			}
			logger.Info("benchmark completed", attrs...)
		}
	}
}

// serveProgress serves bus events on addr under /events until the returned
// shutdown func is called.
func serveProgress(addr string, bus comms.Bus, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("progress server: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/events", comms.NewSSEHandler(bus, logger))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("progress server stopped", "error", err)
		}
	}()
	logger.Info("serving progress", "url", "http://"+ln.Addr().String()+"/events")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			srv.Close() //nolint:errcheck
		}
	}, nil
}

// interruptContext cancels the evaluation cooperatively on the first
// interrupt and aborts in-flight work on the second.
func interruptContext(orch *eval.Orchestrator, logger *slog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		interrupted := false
		for {
			select {
			case <-sig:
				if interrupted {
					logger.Warn("aborting in-flight tasks")
					cancel()
					return
				}
				interrupted = true
				logger.Warn("interrupted: finishing in-flight tasks, interrupt again to abort")
				orch.Cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
	return ctx, func() {
		signal.Stop(sig)
		cancel()
	}
}

func printSummary(w io.Writer, run *eval.Run, limits map[string]ratelimit.Snapshot, cache srccache.Stats) {
	title := cases.Title(language.English)
	fmt.Fprintf(w, "Run %s (milestone %s)\n\n", run.RunID, run.Config.Milestone)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BENCHMARK\tSOLVED\tACCURACY\tCOST\tMEAN STEPS\tSTATUS")
	for _, b := range run.Benchmarks {
		a := b.Aggregate
		fmt.Fprintf(tw, "%s\t%d/%d\t%.1f%%\t$%.4f\t%.1f\t%s\n",
			title.String(strings.ReplaceAll(b.Name, "-", " ")),
			a.Solved, a.Count, a.Accuracy*100, a.TotalCostUSD, a.MeanSteps, benchmarkStatus(b))
	}
	a := run.Aggregate
	fmt.Fprintf(tw, "Total\t%d/%d\t%.1f%%\t$%.4f\t%.1f\t\n", a.Solved, a.Count, a.Accuracy*100, a.TotalCostUSD, a.MeanSteps)
	tw.Flush() //nolint:errcheck

	if len(limits) > 0 {
		fmt.Fprintln(w, "\nRate limits:")
		for _, name := range sortedTiers(limits) {
			s := limits[name]
			fmt.Fprintf(w, "  %-12s requests %d, input tokens %d, output tokens %d\n",
				name, s.Requests, s.InputTokens, s.OutputTokens)
		}
	}
	if cache.Hits+cache.Misses > 0 {
		fmt.Fprintf(w, "\nContext cache: %d hits, %d misses, %d entries\n", cache.Hits, cache.Misses, cache.Entries)
	}
}

func benchmarkStatus(b eval.BenchmarkResult) string {
	switch {
	case b.Error != "":
		return "error: " + truncate(b.Error, 60)
	case b.Cancelled:
		return fmt.Sprintf("cancelled (%d skipped)", b.Skipped)
	}
	return "ok"
}
