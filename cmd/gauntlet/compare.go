package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/GoCodeAlone/gauntlet/eval"
	"github.com/GoCodeAlone/gauntlet/metrics"
)

func cmdCompare(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("usage: gauntlet compare <baseline.json> <candidate.json>")
	}
	baseline, err := eval.ReadArtifact(fs.Arg(0))
	if err != nil {
		return err
	}
	candidate, err := eval.ReadArtifact(fs.Arg(1))
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "baseline:  %s (milestone %s)\n", baseline.RunID, baseline.Config.Milestone)
	fmt.Fprintf(stdout, "candidate: %s (milestone %s)\n\n", candidate.RunID, candidate.Config.Milestone)

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCOPE\tACCURACY\tΔ ACCURACY\tΔ COST\tΔ DURATION\tΔ STEPS\tZ\tP\t")
	for _, b := range baseline.Benchmarks {
		cb, ok := candidate.Benchmark(b.Name)
		if !ok {
			continue
		}
		writeComparison(tw, b.Name, metrics.Compare(b.Aggregate, cb.Aggregate))
	}
	writeComparison(tw, "overall", metrics.Compare(baseline.Aggregate, candidate.Aggregate))
	return tw.Flush()
}

func writeComparison(w io.Writer, scope string, c metrics.Comparison) {
	mark := ""
	if c.Significant {
		mark = "*"
	}
	fmt.Fprintf(w, "%s\t%.1f%% → %.1f%%\t%+.1f pts\t%+.4f\t%+.0fms\t%+.1f\t%.2f\t%.3f\t%s\n",
		scope,
		c.Baseline.Accuracy*100, c.Candidate.Accuracy*100,
		c.AccuracyDelta*100, c.CostDelta, c.DurationDelta, c.StepsDelta,
		c.ZScore, c.PValue, mark)
}
