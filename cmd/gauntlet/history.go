package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/GoCodeAlone/gauntlet/config"
	"github.com/GoCodeAlone/gauntlet/store"
)

func cmdHistory(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		configPath = fs.String("config", "", "YAML config file")
		dbPath     = fs.String("db", "", "run history database (default: the config's database)")
		milestone  = fs.String("milestone", "", "only runs of this milestone")
		taskID     = fs.String("task", "", "show every attempt of one task instead")
		limit      = fs.Int("limit", 20, "maximum runs listed")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := *dbPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		path = cfg.Database
	}
	if path == "" {
		return errors.New("no run history database: set database in the config or pass -db")
	}

	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	ctx := context.Background()
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	if *taskID != "" {
		records, err := st.TaskHistory(ctx, *taskID)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintf(stdout, "no attempts of %s\n", *taskID)
			return nil
		}
		fmt.Fprintln(tw, "RUN\tBENCHMARK\tVERDICT\tTIER\tSTEPS\tCOST\tERROR")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t$%.4f\t%s\n",
				r.RunID, r.Benchmark, r.Verdict, r.Tier, r.Steps, r.CostUSD, truncate(r.Error, 40))
		}
		return tw.Flush()
	}

	runs, err := st.ListRuns(ctx, store.Filter{Milestone: *milestone, Limit: *limit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "no runs")
		return nil
	}
	fmt.Fprintln(tw, "RUN\tSTARTED\tMILESTONE\tBENCHMARKS\tSOLVED\tACCURACY\tCOST")
	for _, r := range runs {
		status := ""
		if r.Cancelled {
			status = " (cancelled)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%.1f%%%s\t$%.4f\n",
			r.RunID, r.StartedAt.Local().Format(time.DateTime), r.Milestone,
			strings.Join(r.Benchmarks, ","), r.Solved, r.Tasks, r.Accuracy*100, status, r.CostUSD)
	}
	return tw.Flush()
}
