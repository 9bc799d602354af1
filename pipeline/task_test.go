package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DICKY1987/pipeline-core/statemachine"
)

func TestTaskLifecycle(t *testing.T) {
	task := NewTask("task-1", "ws-1", 3, nil, nil)
	require.Equal(t, TaskPending, task.Current())

	require.NoError(t, task.Queue("dependencies met"))
	require.Equal(t, TaskQueued, task.Current())

	require.NoError(t, task.AssignWorker("w1"))
	require.Equal(t, TaskRunning, task.Current())
	require.Equal(t, "w1", task.WorkerID)
	require.NotNil(t, task.StartedAt)

	require.NoError(t, task.BeginValidation("output produced"))
	require.Equal(t, TaskValidating, task.Current())

	require.NoError(t, task.Complete("validation passed"))
	require.Equal(t, TaskCompleted, task.Current())
	require.True(t, task.IsTerminal())
	require.Empty(t, task.WorkerID, "worker must be cleared after leaving running")

	// Terminal state rejects everything afterwards.
	err := task.Transition(TaskQueued, "", "restart")
	require.Error(t, err)
	assert.True(t, statemachine.IsTerminalViolation(err))

	info := task.ExecutionInfo()
	secs, ok := info["execution_time_seconds"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, secs, 0.0)
	assert.Equal(t, "task-1", info["task_id"])
}

func TestTaskRetryBoundary(t *testing.T) {
	task := NewTask("task-2", "ws-1", 2, nil, nil)
	require.NoError(t, task.Queue(""))

	// First transient failure: retry 1, back in the queue.
	require.NoError(t, task.AssignWorker("w1"))
	require.NoError(t, task.Fail("tool crashed", false))
	assert.Equal(t, TaskQueued, task.Current())
	assert.Equal(t, 1, task.RetryCount)
	assert.Empty(t, task.WorkerID)

	// Second transient failure: retry 2.
	require.NoError(t, task.AssignWorker("w2"))
	require.NoError(t, task.Fail("tool crashed again", false))
	assert.Equal(t, TaskQueued, task.Current())
	assert.Equal(t, 2, task.RetryCount)

	// Budget exhausted: third transient failure is terminal.
	require.NoError(t, task.AssignWorker("w3"))
	require.NoError(t, task.Fail("tool crashed once more", false))
	assert.Equal(t, TaskFailed, task.Current())
	assert.True(t, task.IsTerminal())
	assert.Equal(t, 2, task.RetryCount)
}

func TestTaskPermanentFailure(t *testing.T) {
	task := NewTask("task-3", "ws-1", 3, nil, nil)
	require.NoError(t, task.Queue(""))
	require.NoError(t, task.AssignWorker("w1"))

	require.NoError(t, task.Fail("unrecoverable", true))
	assert.Equal(t, TaskFailed, task.Current())
	assert.Zero(t, task.RetryCount, "permanent failure must not consume retries")
}

func TestTaskRetryPassesThroughRetrying(t *testing.T) {
	sink := &recordingSink{}
	task := NewTask("task-4", "ws-1", 2, sink, nil)
	require.NoError(t, task.Queue(""))
	require.NoError(t, task.AssignWorker("w1"))
	require.NoError(t, task.Retry("flaky tool"))

	var states []statemachine.State
	for _, e := range sink.events {
		states = append(states, e.To)
	}
	assert.Equal(t, []statemachine.State{TaskQueued, TaskRunning, TaskRetrying, TaskQueued}, states)

	// The retrying hop carries the attempt number.
	h := task.History()
	assert.Contains(t, h[len(h)-2].Reason, "attempt 1/2")
}

func TestTaskBlockUnblock(t *testing.T) {
	task := NewTask("task-5", "ws-1", 1, nil, nil)
	task.TaskDependencies = []string{"task-4"}

	require.NoError(t, task.Block("waiting on task-4"))
	assert.Equal(t, TaskBlocked, task.Current())

	require.NoError(t, task.Unblock("task-4 completed"))
	assert.Equal(t, TaskQueued, task.Current())
}

func TestTaskCannotRunFromPending(t *testing.T) {
	task := NewTask("task-6", "ws-1", 1, nil, nil)
	err := task.AssignWorker("w1")
	require.Error(t, err)
	assert.Equal(t, TaskPending, task.Current())
	assert.Empty(t, task.WorkerID)
	assert.Nil(t, task.StartedAt)
}

type recordingSink struct {
	events []statemachine.Event
}

func (s *recordingSink) Emit(e statemachine.Event) { s.events = append(s.events, e) }
