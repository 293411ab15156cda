// Package metrics reduces per-task measurements into run summaries and
// compares two runs.
package metrics

import (
	"math"
	"sort"

	"github.com/GoCodeAlone/gauntlet/provider"
)

// Task holds the measurements of one task attempt.
type Task struct {
	TaskID           string  `json:"task_id"`
	Benchmark        string  `json:"benchmark,omitempty"`
	Solved           bool    `json:"solved"`
	CostUSD          float64 `json:"cost_usd"`
	DurationMS       int64   `json:"duration_ms"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	CacheWriteTokens int     `json:"cache_write_tokens,omitempty"`
	CacheReadTokens  int     `json:"cache_read_tokens,omitempty"`
	Steps            int     `json:"steps"`
	ToolCalls        int     `json:"tool_calls"`
	Difficulty       string  `json:"difficulty,omitempty"`
	Tier             string  `json:"tier,omitempty"`
	Model            string  `json:"model,omitempty"`
	Truncated        bool    `json:"truncated,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// AddUsage folds one model call into the task totals.
func (t *Task) AddUsage(u provider.Usage, p provider.Pricing) {
	t.InputTokens += u.InputTokens
	t.OutputTokens += u.OutputTokens
	t.CacheWriteTokens += u.CacheWriteTokens
	t.CacheReadTokens += u.CacheReadTokens
	t.CostUSD += p.Cost(u)
}

// Summary is the reduction of a set of tasks.
type Summary struct {
	Count            int     `json:"count"`
	Solved           int     `json:"solved"`
	Failed           int     `json:"failed"`
	Accuracy         float64 `json:"accuracy"`
	TotalCostUSD     float64 `json:"total_cost_usd"`
	MeanCostUSD      float64 `json:"mean_cost_usd"`
	MeanDurationMS   float64 `json:"mean_duration_ms"`
	MeanSteps        float64 `json:"mean_steps"`
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	CacheWriteTokens int     `json:"cache_write_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens"`
}

// Aggregate reduces tasks. An empty input yields the zero Summary.
func Aggregate(tasks []Task) Summary {
	var s Summary
	var duration, steps float64
	for _, t := range tasks {
		s.Count++
		if t.Solved {
			s.Solved++
		}
		if t.Error != "" {
			s.Failed++
		}
		s.TotalCostUSD += t.CostUSD
		duration += float64(t.DurationMS)
		steps += float64(t.Steps)
		s.InputTokens += t.InputTokens
		s.OutputTokens += t.OutputTokens
		s.CacheWriteTokens += t.CacheWriteTokens
		s.CacheReadTokens += t.CacheReadTokens
	}
	if s.Count == 0 {
		return s
	}
	n := float64(s.Count)
	s.Accuracy = float64(s.Solved) / n
	s.MeanCostUSD = s.TotalCostUSD / n
	s.MeanDurationMS = duration / n
	s.MeanSteps = steps / n
	return s
}

// GroupBy aggregates tasks per key, e.g. benchmark or difficulty.
func GroupBy(tasks []Task, key func(Task) string) map[string]Summary {
	groups := make(map[string][]Task)
	for _, t := range tasks {
		k := key(t)
		groups[k] = append(groups[k], t)
	}
	out := make(map[string]Summary, len(groups))
	for k, ts := range groups {
		out[k] = Aggregate(ts)
	}
	return out
}

// SortedKeys returns the keys of a grouped summary in order.
func SortedKeys(m map[string]Summary) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Alpha is the significance level of Compare.
const Alpha = 0.05

// Comparison describes how a candidate run differs from a baseline.
type Comparison struct {
	Baseline      Summary `json:"baseline"`
	Candidate     Summary `json:"candidate"`
	AccuracyDelta float64 `json:"accuracy_delta"`
	CostDelta     float64 `json:"mean_cost_delta_usd"`
	DurationDelta float64 `json:"mean_duration_delta_ms"`
	StepsDelta    float64 `json:"mean_steps_delta"`
	ZScore        float64 `json:"z_score"`
	PValue        float64 `json:"p_value"`
	Significant   bool    `json:"significant"`
}

// Compare computes candidate minus baseline deltas and a two-proportion
// z-test on accuracy. Degenerate inputs (an empty side, or both sides all
// solved or all unsolved) yield z = 0 and p = 1.
func Compare(baseline, candidate Summary) Comparison {
	c := Comparison{
		Baseline:      baseline,
		Candidate:     candidate,
		AccuracyDelta: candidate.Accuracy - baseline.Accuracy,
		CostDelta:     candidate.MeanCostUSD - baseline.MeanCostUSD,
		DurationDelta: candidate.MeanDurationMS - baseline.MeanDurationMS,
		StepsDelta:    candidate.MeanSteps - baseline.MeanSteps,
		PValue:        1,
	}
	n1, n2 := float64(baseline.Count), float64(candidate.Count)
	if n1 == 0 || n2 == 0 {
		return c
	}
	p1, p2 := float64(baseline.Solved)/n1, float64(candidate.Solved)/n2
	pooled := float64(baseline.Solved+candidate.Solved) / (n1 + n2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return c
	}
	c.ZScore = (p2 - p1) / se
	c.PValue = math.Erfc(math.Abs(c.ZScore) / math.Sqrt2)
	c.Significant = c.PValue < Alpha
	return c
}
