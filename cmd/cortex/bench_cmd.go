package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/ledgerline/cortex/pkg/canonical"
	"github.com/ledgerline/cortex/pkg/ledger"
	"github.com/ledgerline/cortex/pkg/readiness"
)

// runBenchCmd implements `cortex bench`.
//
// Measures repeated full replays of an export and, when budget flags are
// set, judges the measurement against them. A violated budget is a failure
// exit so the command slots into CI.
//
// Exit codes:
//
//	0 = benchmark ran (and met the budget when one was declared)
//	1 = budget violated
//	2 = runtime error
func runBenchCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("bench", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		eventsFile    string
		ops           int
		maxAvgMs      int
		maxP95Ms      int
		minThroughput float64
		jsonOutput    bool
	)

	cmd.StringVar(&eventsFile, "events", "", "Path to JSONL event export (REQUIRED)")
	cmd.IntVar(&ops, "ops", 50, "Number of replay operations to measure")
	cmd.IntVar(&maxAvgMs, "max-avg-ms", 0, "Budget: max average latency (0 = unconstrained)")
	cmd.IntVar(&maxP95Ms, "max-p95-ms", 0, "Budget: max p95 latency (0 = unconstrained)")
	cmd.Float64Var(&minThroughput, "min-throughput", 0, "Budget: min replays per second (0 = unconstrained)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if eventsFile == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --events is required")
		return 2
	}

	hasher := canonical.SHA256{}
	events, err := decodeEventsFile(eventsFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	bench, err := readiness.Measure(ops, time.Now, func(int) error {
		_, rerr := ledger.Replay(hasher, events)
		return rerr
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Benchmark failed: %v\n", err)
		return 2
	}

	budget := readiness.PerfBudget{
		MaxAvg:        time.Duration(maxAvgMs) * time.Millisecond,
		MaxP95:        time.Duration(maxP95Ms) * time.Millisecond,
		MinThroughput: minThroughput,
	}
	report := readiness.EvaluateBudget(budget, bench)

	if jsonOutput {
		out := map[string]any{
			"events":    len(events),
			"benchmark": bench,
			"budget":    report,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "Events:     %d\n", len(events))
		_, _ = fmt.Fprintf(stdout, "Operations: %d\n", bench.Operations)
		_, _ = fmt.Fprintf(stdout, "Avg:        %s\n", bench.Avg)
		_, _ = fmt.Fprintf(stdout, "P95:        %s\n", bench.P95)
		_, _ = fmt.Fprintf(stdout, "Throughput: %.1f/s\n", bench.Throughput)
		if !report.Pass {
			_, _ = fmt.Fprintln(stdout, "Budget violations:")
			for _, v := range report.Violations {
				_, _ = fmt.Fprintf(stdout, "  - %s\n", v)
			}
		}
	}

	if !report.Pass {
		return 1
	}
	return 0
}
