package readiness

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// PerfBudget declares the replay benchmark ceilings and floor. A zero
// value leaves that dimension unconstrained.
type PerfBudget struct {
	MaxAvg        time.Duration `json:"max_avg"`
	MaxP95        time.Duration `json:"max_p95"`
	MinThroughput float64       `json:"min_throughput"`
}

// BenchmarkResult is one measured replay benchmark. Throughput is in
// operations per second.
type BenchmarkResult struct {
	Operations int           `json:"operations"`
	Total      time.Duration `json:"total"`
	Avg        time.Duration `json:"avg"`
	P95        time.Duration `json:"p95"`
	Throughput float64       `json:"throughput"`
}

// BudgetReport lists every dimension a benchmark violated.
type BudgetReport struct {
	Pass       bool     `json:"pass"`
	Violations []string `json:"violations,omitempty"`
}

// EvaluateBudget compares a benchmark against the budget. Every violated
// dimension is reported, not only the first.
func EvaluateBudget(budget PerfBudget, bench BenchmarkResult) BudgetReport {
	var violations []string
	if budget.MaxAvg > 0 && bench.Avg > budget.MaxAvg {
		violations = append(violations,
			fmt.Sprintf("avg duration %s exceeds ceiling %s", bench.Avg, budget.MaxAvg))
	}
	if budget.MaxP95 > 0 && bench.P95 > budget.MaxP95 {
		violations = append(violations,
			fmt.Sprintf("p95 duration %s exceeds ceiling %s", bench.P95, budget.MaxP95))
	}
	if budget.MinThroughput > 0 && bench.Throughput < budget.MinThroughput {
		violations = append(violations,
			fmt.Sprintf("throughput %.1f/s below floor %.1f/s", bench.Throughput, budget.MinThroughput))
	}
	return BudgetReport{Pass: len(violations) == 0, Violations: violations}
}

// Measure runs fn count times and folds the timings into a
// BenchmarkResult. A nil clock defaults to time.Now. The first operation
// error aborts the benchmark.
func Measure(count int, clock func() time.Time, fn func(i int) error) (BenchmarkResult, error) {
	if count <= 0 {
		return BenchmarkResult{}, fmt.Errorf("readiness: benchmark needs a positive operation count")
	}
	if clock == nil {
		clock = time.Now
	}

	durations := make([]time.Duration, 0, count)
	start := clock()
	for i := 0; i < count; i++ {
		opStart := clock()
		if err := fn(i); err != nil {
			return BenchmarkResult{}, fmt.Errorf("readiness: benchmark operation %d: %w", i, err)
		}
		durations = append(durations, clock().Sub(opStart))
	}
	total := clock().Sub(start)

	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	throughput := 0.0
	if total > 0 {
		throughput = float64(count) / total.Seconds()
	}

	return BenchmarkResult{
		Operations: count,
		Total:      total,
		Avg:        sum / time.Duration(count),
		P95:        sorted[percentileIndex(count, 95)],
		Throughput: throughput,
	}, nil
}

// percentileIndex returns the nearest-rank index for pct over n samples.
func percentileIndex(n, pct int) int {
	idx := int(math.Ceil(float64(pct)/100*float64(n))) - 1
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}
