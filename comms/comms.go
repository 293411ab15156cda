// Package comms provides the evaluation progress bus.
package comms

import (
	"time"

	"github.com/GoCodeAlone/gauntlet/metrics"
)

// EventType identifies the kind of progress event.
type EventType string

const (
	EvaluationStarted   EventType = "evaluation_started"   // run id and benchmark names
	BenchmarkStarted    EventType = "benchmark_started"    // one benchmark begins its task list
	TaskCompleted       EventType = "task_completed"       // verdict and metrics of one task
	BenchmarkCompleted  EventType = "benchmark_completed"  // aggregate of one benchmark
	EvaluationCompleted EventType = "evaluation_completed" // overall aggregate
)

// Event is one append-only progress notification.
type Event struct {
	ID         string           `json:"id"`
	Type       EventType        `json:"type"`
	RunID      string           `json:"run_id"`
	Benchmark  string           `json:"benchmark,omitempty"`
	Benchmarks []string         `json:"benchmarks,omitempty"`
	TaskID     string           `json:"task_id,omitempty"`
	Verdict    string           `json:"verdict,omitempty"`
	Metrics    *metrics.Task    `json:"metrics,omitempty"`
	Aggregate  *metrics.Summary `json:"aggregate,omitempty"`
	Cancelled  bool             `json:"cancelled,omitempty"`
	Error      string           `json:"error,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Bus fans events out to observers. Publish must never block the
// producer.
type Bus interface {
	// Publish delivers ev to every current subscriber that has room for it.
	Publish(ev Event)

	// Subscribe returns a channel of events buffered to size. The returned
	// function unsubscribes and closes the channel.
	Subscribe(size int) (<-chan Event, func())

	// History returns the most recent limit events of a run, oldest first.
	History(runID string, limit int) []Event
}
