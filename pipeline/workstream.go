package pipeline

import (
	"log/slog"
	"time"

	"github.com/DICKY1987/pipeline-core/statemachine"
)

// Workstream states.
const (
	WorkstreamPending    statemachine.State = "pending"
	WorkstreamReady      statemachine.State = "ready"
	WorkstreamRunning    statemachine.State = "running"
	WorkstreamPaused     statemachine.State = "paused"
	WorkstreamBlocked    statemachine.State = "blocked"
	WorkstreamValidating statemachine.State = "validating"
	WorkstreamCompleted  statemachine.State = "completed"
	WorkstreamFailed     statemachine.State = "failed"
	WorkstreamCancelled  statemachine.State = "cancelled"
)

// WorkstreamDefinition is the transition table for a workstream.
func WorkstreamDefinition() statemachine.Definition {
	return statemachine.Definition{
		Initial:  WorkstreamPending,
		Terminal: []statemachine.State{WorkstreamCompleted, WorkstreamFailed, WorkstreamCancelled},
		Transitions: map[statemachine.State][]statemachine.State{
			WorkstreamPending:    {WorkstreamReady, WorkstreamBlocked, WorkstreamCancelled},
			WorkstreamReady:      {WorkstreamRunning, WorkstreamBlocked, WorkstreamCancelled},
			WorkstreamRunning:    {WorkstreamPaused, WorkstreamBlocked, WorkstreamValidating, WorkstreamFailed, WorkstreamCancelled},
			WorkstreamPaused:     {WorkstreamRunning, WorkstreamCancelled},
			WorkstreamBlocked:    {WorkstreamReady, WorkstreamCancelled},
			WorkstreamValidating: {WorkstreamCompleted, WorkstreamFailed, WorkstreamRunning},
		},
	}
}

// TaskCounts aggregates a workstream's child tasks. Caller-maintained, same
// contract as Run.Counts.
type TaskCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Workstream is a named group of related tasks tracked as a unit within a run.
type Workstream struct {
	*statemachine.Machine

	RunID     string
	Counts    TaskCounts
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// NewWorkstream creates a workstream in the pending state, belonging to the
// given run.
func NewWorkstream(workstreamID, runID string, sink statemachine.EventSink, logger *slog.Logger) *Workstream {
	return &Workstream{
		Machine:   statemachine.New("workstream", workstreamID, WorkstreamDefinition(), sink, logger),
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
	}
}

// Ready marks the workstream dispatchable.
func (w *Workstream) Ready(reason string) error {
	return w.Transition(WorkstreamReady, reason, "ready")
}

// Start begins execution.
func (w *Workstream) Start(reason string) error {
	if err := w.Transition(WorkstreamRunning, reason, "start"); err != nil {
		return err
	}
	now := time.Now().UTC()
	w.StartedAt = &now
	return nil
}

// Pause suspends a running workstream.
func (w *Workstream) Pause(reason string) error {
	return w.Transition(WorkstreamPaused, reason, "pause")
}

// Resume continues a paused workstream.
func (w *Workstream) Resume(reason string) error {
	return w.Transition(WorkstreamRunning, reason, "resume")
}

// Block parks the workstream on an unmet dependency.
func (w *Workstream) Block(reason string) error {
	return w.Transition(WorkstreamBlocked, reason, "block")
}

// Unblock returns a blocked workstream to ready.
func (w *Workstream) Unblock(reason string) error {
	return w.Transition(WorkstreamReady, reason, "unblock")
}

// BeginValidation moves the workstream into result validation.
func (w *Workstream) BeginValidation(reason string) error {
	return w.Transition(WorkstreamValidating, reason, "validate")
}

// Complete marks the workstream terminally successful.
func (w *Workstream) Complete(reason string) error {
	if err := w.Transition(WorkstreamCompleted, reason, "complete"); err != nil {
		return err
	}
	now := time.Now().UTC()
	w.EndedAt = &now
	return nil
}

// Fail marks the workstream terminally failed.
func (w *Workstream) Fail(reason string) error {
	if err := w.Transition(WorkstreamFailed, reason, "fail"); err != nil {
		return err
	}
	now := time.Now().UTC()
	w.EndedAt = &now
	return nil
}

// Cancel marks the workstream terminally cancelled.
func (w *Workstream) Cancel(reason string) error {
	if err := w.Transition(WorkstreamCancelled, reason, "cancel"); err != nil {
		return err
	}
	now := time.Now().UTC()
	w.EndedAt = &now
	return nil
}

// UpdateTaskCounts replaces the caller-maintained aggregate counts.
func (w *Workstream) UpdateTaskCounts(counts TaskCounts) {
	w.Counts = counts
}

// Progress returns the fraction of tasks completed, in [0, 1].
func (w *Workstream) Progress() float64 {
	if w.Counts.Total == 0 {
		return 0
	}
	return float64(w.Counts.Completed) / float64(w.Counts.Total)
}
