package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/DICKY1987/pipeline-core/statemachine"
)

// Task states.
const (
	TaskPending    statemachine.State = "pending"
	TaskQueued     statemachine.State = "queued"
	TaskBlocked    statemachine.State = "blocked"
	TaskRunning    statemachine.State = "running"
	TaskValidating statemachine.State = "validating"
	TaskCompleted  statemachine.State = "completed"
	TaskFailed     statemachine.State = "failed"
	TaskRetrying   statemachine.State = "retrying"
	TaskCancelled  statemachine.State = "cancelled"
)

// TaskDefinition is the transition table for a task.
func TaskDefinition() statemachine.Definition {
	return statemachine.Definition{
		Initial:  TaskPending,
		Terminal: []statemachine.State{TaskCompleted, TaskFailed, TaskCancelled},
		Transitions: map[statemachine.State][]statemachine.State{
			TaskPending:    {TaskQueued, TaskBlocked, TaskCancelled},
			TaskQueued:     {TaskRunning, TaskBlocked, TaskCancelled},
			TaskBlocked:    {TaskQueued, TaskCancelled},
			TaskRunning:    {TaskValidating, TaskCompleted, TaskFailed, TaskRetrying, TaskCancelled},
			TaskValidating: {TaskCompleted, TaskFailed, TaskRetrying, TaskRunning},
			TaskRetrying:   {TaskQueued},
		},
	}
}

// DefaultMaxRetries is the retry budget for tasks that don't set their own.
const DefaultMaxRetries = 3

// Task is a single unit of work within a workstream.
//
// The dependency lists are advisory: the engine never resolves them, a
// caller must Block and Unblock explicitly.
type Task struct {
	*statemachine.Machine

	WorkstreamID string
	RetryCount   int
	MaxRetries   int

	// WorkerID is set only while the task is running.
	WorkerID string

	TaskDependencies []string
	GateDependencies []string

	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
}

// NewTask creates a task in the pending state, belonging to the given
// workstream. maxRetries <= 0 selects DefaultMaxRetries.
func NewTask(taskID, workstreamID string, maxRetries int, sink statemachine.EventSink, logger *slog.Logger) *Task {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Task{
		Machine:      statemachine.New("task", taskID, TaskDefinition(), sink, logger),
		WorkstreamID: workstreamID,
		MaxRetries:   maxRetries,
		CreatedAt:    time.Now().UTC(),
	}
}

// Queue marks the task ready for dispatch.
func (t *Task) Queue(reason string) error {
	return t.Transition(TaskQueued, reason, "queue")
}

// Block parks the task on an unmet dependency.
func (t *Task) Block(reason string) error {
	return t.Transition(TaskBlocked, reason, "block")
}

// Unblock returns a blocked task to the queue.
func (t *Task) Unblock(reason string) error {
	return t.Transition(TaskQueued, reason, "unblock")
}

// AssignWorker binds the task to an execution slot and starts it running.
func (t *Task) AssignWorker(workerID string) error {
	if err := t.Transition(TaskRunning, fmt.Sprintf("assigned to worker %s", workerID), "assign_worker"); err != nil {
		return err
	}
	t.WorkerID = workerID
	now := time.Now().UTC()
	t.StartedAt = &now
	return nil
}

// BeginValidation moves a running task into result validation.
func (t *Task) BeginValidation(reason string) error {
	return t.Transition(TaskValidating, reason, "validate")
}

// Complete marks the task terminally successful and releases its worker.
func (t *Task) Complete(reason string) error {
	if err := t.Transition(TaskCompleted, reason, "complete"); err != nil {
		return err
	}
	t.WorkerID = ""
	now := time.Now().UTC()
	t.EndedAt = &now
	return nil
}

// Retry re-queues the task after a transient failure, consuming one retry.
// The task passes through retrying and lands in queued; it never sits idle
// in the retrying state.
func (t *Task) Retry(reason string) error {
	t.RetryCount++
	attempt := fmt.Sprintf("%s (attempt %d/%d)", reason, t.RetryCount, t.MaxRetries)
	if err := t.Transition(TaskRetrying, attempt, "retry"); err != nil {
		t.RetryCount--
		return err
	}
	t.WorkerID = ""
	return t.Transition(TaskQueued, attempt, "requeue")
}

// Fail records a failure. A transient failure with retry budget remaining
// escalates to Retry; a permanent failure, or an exhausted budget, is
// terminal.
func (t *Task) Fail(reason string, permanent bool) error {
	if !permanent && t.RetryCount < t.MaxRetries {
		return t.Retry(reason)
	}
	if err := t.Transition(TaskFailed, reason, "fail"); err != nil {
		return err
	}
	t.WorkerID = ""
	now := time.Now().UTC()
	t.EndedAt = &now
	return nil
}

// Cancel marks the task terminally cancelled and releases its worker.
func (t *Task) Cancel(reason string) error {
	if err := t.Transition(TaskCancelled, reason, "cancel"); err != nil {
		return err
	}
	t.WorkerID = ""
	now := time.Now().UTC()
	t.EndedAt = &now
	return nil
}

// ExecutionInfo returns a snapshot of the task's execution for status
// display. execution_time_seconds is non-negative and covers start to end
// (or start to now for a task still in flight).
func (t *Task) ExecutionInfo() map[string]any {
	info := map[string]any{
		"task_id":       t.EntityID(),
		"workstream_id": t.WorkstreamID,
		"state":         string(t.Current()),
		"retry_count":   t.RetryCount,
		"max_retries":   t.MaxRetries,
	}
	if t.WorkerID != "" {
		info["worker_id"] = t.WorkerID
	}
	var seconds float64
	if t.StartedAt != nil {
		end := time.Now().UTC()
		if t.EndedAt != nil {
			end = *t.EndedAt
		}
		seconds = end.Sub(*t.StartedAt).Seconds()
		if seconds < 0 {
			seconds = 0
		}
	}
	info["execution_time_seconds"] = seconds
	return info
}
