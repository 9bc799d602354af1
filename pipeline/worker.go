package pipeline

import (
	"log/slog"
	"time"

	"github.com/DICKY1987/pipeline-core/statemachine"
)

// Worker states.
const (
	WorkerIdle     statemachine.State = "idle"
	WorkerBusy     statemachine.State = "busy"
	WorkerPaused   statemachine.State = "paused"
	WorkerFailed   statemachine.State = "failed"
	WorkerShutdown statemachine.State = "shutdown"
)

// WorkerDefinition is the transition table for a worker.
func WorkerDefinition() statemachine.Definition {
	return statemachine.Definition{
		Initial:  WorkerIdle,
		Terminal: []statemachine.State{WorkerShutdown},
		Transitions: map[statemachine.State][]statemachine.State{
			WorkerIdle:   {WorkerBusy, WorkerPaused, WorkerFailed, WorkerShutdown},
			WorkerBusy:   {WorkerIdle, WorkerFailed, WorkerShutdown},
			WorkerPaused: {WorkerIdle, WorkerShutdown},
			WorkerFailed: {WorkerIdle, WorkerShutdown},
		},
	}
}

// Worker represents one execution slot.
type Worker struct {
	*statemachine.Machine

	CurrentTaskID string
	LastHeartbeat time.Time
}

// NewWorker creates an idle worker.
func NewWorker(workerID string, sink statemachine.EventSink, logger *slog.Logger) *Worker {
	return &Worker{
		Machine:       statemachine.New("worker", workerID, WorkerDefinition(), sink, logger),
		LastHeartbeat: time.Now().UTC(),
	}
}

// Assign binds the worker to a task.
func (w *Worker) Assign(taskID string) error {
	if err := w.Transition(WorkerBusy, "assigned task "+taskID, "assign"); err != nil {
		return err
	}
	w.CurrentTaskID = taskID
	return nil
}

// Release returns the worker to idle after its task finishes.
func (w *Worker) Release(reason string) error {
	if err := w.Transition(WorkerIdle, reason, "release"); err != nil {
		return err
	}
	w.CurrentTaskID = ""
	return nil
}

// Pause suspends an idle worker.
func (w *Worker) Pause(reason string) error {
	return w.Transition(WorkerPaused, reason, "pause")
}

// Resume returns a paused worker to idle.
func (w *Worker) Resume(reason string) error {
	return w.Transition(WorkerIdle, reason, "resume")
}

// Fail marks the worker unhealthy.
func (w *Worker) Fail(reason string) error {
	if err := w.Transition(WorkerFailed, reason, "fail"); err != nil {
		return err
	}
	w.CurrentTaskID = ""
	return nil
}

// Recover returns a failed worker to idle.
func (w *Worker) Recover(reason string) error {
	return w.Transition(WorkerIdle, reason, "recover")
}

// Shutdown retires the worker permanently.
func (w *Worker) Shutdown(reason string) error {
	if err := w.Transition(WorkerShutdown, reason, "shutdown"); err != nil {
		return err
	}
	w.CurrentTaskID = ""
	return nil
}

// Heartbeat records liveness.
func (w *Worker) Heartbeat() {
	w.LastHeartbeat = time.Now().UTC()
}

// IsHealthy reports whether the worker heartbeated within the timeout and is
// not failed or shut down.
func (w *Worker) IsHealthy(timeout time.Duration) bool {
	if w.Current() == WorkerFailed || w.Current() == WorkerShutdown {
		return false
	}
	return time.Since(w.LastHeartbeat) <= timeout
}
