// Command gauntlet runs coding-agent evaluations and compares their results.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/GoCodeAlone/gauntlet/internal/version"
	"github.com/GoCodeAlone/gauntlet/provider"
	"github.com/GoCodeAlone/gauntlet/provider/mock"
)

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	provider.RegisterFactory("mock", mock.Factory)

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "version":
		err = cmdVersion(os.Stdout)
	case "run":
		err = cmdRun(rest, os.Stdout, os.Stderr)
	case "compare":
		err = cmdCompare(rest, os.Stdout)
	case "history":
		err = cmdHistory(rest, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `gauntlet: coding-agent evaluation harness

Usage:
  gauntlet <command> [flags]

Commands:
  run       run benchmarks and write a result artifact
              -benchmarks a,b   benchmarks to run (required)
              -tasks N          tasks per benchmark (0 = all)
              -milestone m1..m4 feature milestone
              -dataset src      dataset name or task file for every benchmark
              -output dir       artifact directory
              -config file      YAML config file
              -keep             keep task workspaces
              -progress addr    stream progress events over HTTP at addr/events
  compare   compare two result artifacts: gauntlet compare a.json b.json
  history   list recorded runs: gauntlet history [-config file] [-db path] [-milestone m] [-task id]
  version   print version
`)
}

// --- version ---

func cmdVersion(w io.Writer) error {
	fmt.Fprintln(w, version.String())
	return nil
}

// --- helpers ---

// splitList splits a comma-separated flag value, trimming entries and
// dropping empty ones.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func sortedTiers[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
