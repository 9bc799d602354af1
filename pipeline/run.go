// Package pipeline provides the domain state machines for pipeline entities:
// runs, workstreams, tasks, and workers. Each is a thin wrapper over the
// statemachine core with a fixed transition table and convenience methods
// that record canned reasons and maintain domain fields.
package pipeline

import (
	"log/slog"
	"time"

	"github.com/DICKY1987/pipeline-core/statemachine"
)

// Run states.
const (
	RunInitializing statemachine.State = "initializing"
	RunRunning      statemachine.State = "running"
	RunPaused       statemachine.State = "paused"
	RunCompleted    statemachine.State = "completed"
	RunFailed       statemachine.State = "failed"
)

// RunDefinition is the transition table for a run.
func RunDefinition() statemachine.Definition {
	return statemachine.Definition{
		Initial:  RunInitializing,
		Terminal: []statemachine.State{RunCompleted, RunFailed},
		Transitions: map[statemachine.State][]statemachine.State{
			RunInitializing: {RunRunning, RunFailed},
			RunRunning:      {RunPaused, RunCompleted, RunFailed},
			RunPaused:       {RunRunning, RunFailed},
		},
	}
}

// WorkstreamCounts aggregates a run's child workstreams. The counts are
// caller-maintained: the orchestrator updates them, the run never recomputes
// them from child objects.
type WorkstreamCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Run is the top of the pipeline hierarchy.
type Run struct {
	*statemachine.Machine

	Counts    WorkstreamCounts
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// NewRun creates a run in the initializing state.
func NewRun(runID string, sink statemachine.EventSink, logger *slog.Logger) *Run {
	return &Run{
		Machine:   statemachine.New("run", runID, RunDefinition(), sink, logger),
		CreatedAt: time.Now().UTC(),
	}
}

// Start moves the run into execution.
func (r *Run) Start(reason string) error {
	if err := r.Transition(RunRunning, reason, "start"); err != nil {
		return err
	}
	now := time.Now().UTC()
	r.StartedAt = &now
	return nil
}

// Pause suspends the run.
func (r *Run) Pause(reason string) error {
	return r.Transition(RunPaused, reason, "pause")
}

// Resume continues a paused run.
func (r *Run) Resume(reason string) error {
	return r.Transition(RunRunning, reason, "resume")
}

// Complete marks the run terminally successful.
func (r *Run) Complete(reason string) error {
	if err := r.Transition(RunCompleted, reason, "complete"); err != nil {
		return err
	}
	now := time.Now().UTC()
	r.EndedAt = &now
	return nil
}

// Fail marks the run terminally failed.
func (r *Run) Fail(reason string) error {
	if err := r.Transition(RunFailed, reason, "fail"); err != nil {
		return err
	}
	now := time.Now().UTC()
	r.EndedAt = &now
	return nil
}

// UpdateWorkstreamCounts replaces the caller-maintained aggregate counts.
func (r *Run) UpdateWorkstreamCounts(counts WorkstreamCounts) {
	r.Counts = counts
}

// Progress returns the fraction of workstreams completed, in [0, 1].
// Zero total yields zero progress.
func (r *Run) Progress() float64 {
	if r.Counts.Total == 0 {
		return 0
	}
	return float64(r.Counts.Completed) / float64(r.Counts.Total)
}
