package metrics

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
)

// OperationType represents the type of repository operation being measured
type OperationType string

const (
	// ReadOperation is a single-key Get
	ReadOperation OperationType = "READ"
	// CASOperation is a CompareAndSwap
	CASOperation OperationType = "CAS"
	// ListOperation enumerates every account
	ListOperation OperationType = "LIST"
)

// RunResult stores the metrics for one batch run
type RunResult struct {
	RunID      string                 `json:"runId"`
	Store      string                 `json:"store"`
	StartTime  time.Time              `json:"startTime"`
	EndTime    time.Time              `json:"endTime"`
	Duration   time.Duration          `json:"duration"`
	Operations []*OperationMetric     `json:"-"`
	Outcomes   map[string]int64       `json:"outcomes"`
	Summary    map[string]interface{} `json:"summary"`
}

// OperationMetric represents metrics for a single operation
type OperationMetric struct {
	Type         OperationType `json:"type"`
	StartTime    time.Time     `json:"startTime"`
	Duration     time.Duration `json:"duration"`
	Conflict     bool          `json:"conflict,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

// Collector collects metrics for the current batch run. It is safe for
// concurrent use.
type Collector struct {
	mu      sync.Mutex
	current *RunResult
	now     func() time.Time
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{now: time.Now}
}

// StartRun begins collecting for a new run, discarding any run in progress.
func (c *Collector) StartRun(runID, store string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = &RunResult{
		RunID:     runID,
		Store:     store,
		StartTime: c.now(),
		Outcomes:  make(map[string]int64),
		Summary:   make(map[string]interface{}),
	}
}

// MeasureOperation times operation and returns its error unchanged. A
// compare-and-swap conflict is counted as a conflict, not a failure.
// Outside a run the operation is executed without being recorded.
func (c *Collector) MeasureOperation(opType OperationType, operation func() error) error {
	if operation == nil {
		return fmt.Errorf("operation function cannot be nil")
	}

	start := c.now()
	err := operation()
	metric := &OperationMetric{
		Type:      opType,
		StartTime: start,
		Duration:  c.now().Sub(start),
	}
	switch {
	case errors.Is(err, ledger.ErrCASConflict):
		metric.Conflict = true
	case err != nil:
		metric.ErrorMessage = err.Error()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.Operations = append(c.current.Operations, metric)
	}
	return err
}

// RecordOutcome counts one processed transaction under key, such as
// "applied" or a rejection reason code.
func (c *Collector) RecordOutcome(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.Outcomes[key]++
	}
}

// EndRun completes the current run, calculates summary metrics, and
// returns the result. It returns nil when no run is in progress.
func (c *Collector) EndRun() *RunResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	run := c.current
	if run == nil {
		return nil
	}
	c.current = nil

	run.EndTime = c.now()
	run.Duration = run.EndTime.Sub(run.StartTime)

	var total time.Duration
	var conflicts, failures int64
	perType := make(map[OperationType]int64)
	durations := make([]int64, 0, len(run.Operations))
	for _, op := range run.Operations {
		total += op.Duration
		perType[op.Type]++
		durations = append(durations, op.Duration.Nanoseconds())
		if op.Conflict {
			conflicts++
		}
		if op.ErrorMessage != "" {
			failures++
		}
	}

	opCount := int64(len(run.Operations))
	run.Summary["operationCount"] = opCount
	run.Summary["casConflicts"] = conflicts
	run.Summary["failedOperations"] = failures
	for t, n := range perType {
		run.Summary[string(t)+"Count"] = n
	}
	if opCount == 0 {
		return run
	}

	run.Summary["totalDuration"] = total.Nanoseconds()
	run.Summary["avgDuration"] = total.Nanoseconds() / opCount
	if secs := run.Duration.Seconds(); secs > 0 {
		run.Summary["throughputOps"] = float64(opCount) / secs
	}

	if opCount >= 10 {
		sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
		run.Summary["p50"] = durations[opCount*50/100]
		run.Summary["p90"] = durations[opCount*90/100]
		run.Summary["p99"] = durations[opCount*99/100]
	}
	return run
}
