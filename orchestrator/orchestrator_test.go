package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DICKY1987/pipeline-core/adapter"
	"github.com/DICKY1987/pipeline-core/breaker"
	"github.com/DICKY1987/pipeline-core/job"
	"github.com/DICKY1987/pipeline-core/store"
)

// fakeAdapter is a scriptable adapter for orchestrator tests.
type fakeAdapter struct {
	tool        string
	validateErr error
	exitCode    int
	calls       int
}

func (f *fakeAdapter) Validate(j *job.Job) error {
	return f.validateErr
}

func (f *fakeAdapter) Run(_ context.Context, j *job.Job) *job.Result {
	f.calls++
	r := job.NewResult(j.ID, f.exitCode)
	r.DurationSeconds = 0.01
	return r
}

func (f *fakeAdapter) Describe() adapter.Description {
	return adapter.Description{Name: f.tool, Version: "test"}
}

func testBreakers() *breaker.Registry {
	return breaker.NewRegistry(breaker.Config{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		SuccessThreshold: 1,
	}, nil, nil)
}

func newTestOrchestrator(adapters map[string]adapter.Adapter, st store.Store) *Orchestrator {
	return New(adapters, st, testBreakers(), nil, nil)
}

func validJob(id string) *job.Job {
	return &job.Job{
		ID:           id,
		WorkstreamID: "ws-1",
		Tool:         "pytest",
		Command:      job.Command{Exe: "pytest"},
	}
}

func TestRunJobSuccess(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	fake := &fakeAdapter{tool: "pytest"}
	o := newTestOrchestrator(map[string]adapter.Adapter{"pytest": fake}, mem)

	result := o.RunJob(ctx, validJob("job-1"))

	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, 1, fake.calls)

	rec, err := mem.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusCompleted, rec.Status)
	assert.Equal(t, "pytest", rec.Tool)

	events := mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "job_completed", events[0].Type)
}

func TestRunJobUnknownTool(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	o := newTestOrchestrator(map[string]adapter.Adapter{}, mem)

	j := validJob("job-2")
	j.Tool = "nonexistent"
	result := o.RunJob(ctx, j)

	assert.Equal(t, job.ExitUnknownTool, result.ExitCode)
	assert.False(t, result.Success)
	assert.Contains(t, result.StderrPreview, "nonexistent")

	// Routing errors never touch the store.
	_, err := mem.GetJob(ctx, "job-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, mem.Events())
}

func TestRunJobMalformedInput(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	fake := &fakeAdapter{tool: "pytest"}
	o := newTestOrchestrator(map[string]adapter.Adapter{"pytest": fake}, mem)

	t.Run("nil job", func(t *testing.T) {
		result := o.RunJob(ctx, nil)
		assert.Equal(t, job.ExitMissingInput, result.ExitCode)
		assert.False(t, result.Success)
	})

	t.Run("missing command", func(t *testing.T) {
		j := validJob("job-3")
		j.Command.Exe = ""
		result := o.RunJob(ctx, j)
		assert.Equal(t, job.ExitMissingInput, result.ExitCode)
		assert.Zero(t, fake.calls)
	})

	t.Run("adapter validation gate", func(t *testing.T) {
		gate := &fakeAdapter{tool: "lint", validateErr: errors.New("repo_root missing")}
		o := newTestOrchestrator(map[string]adapter.Adapter{"lint": gate}, store.NewMemory())
		j := validJob("job-4")
		j.Tool = "lint"
		result := o.RunJob(ctx, j)
		assert.Equal(t, job.ExitMissingInput, result.ExitCode)
		assert.Zero(t, gate.calls)
	})
}

func TestRunJobFailureRecorded(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	fake := &fakeAdapter{tool: "pytest", exitCode: 1}
	o := newTestOrchestrator(map[string]adapter.Adapter{"pytest": fake}, mem)

	result := o.RunJob(ctx, validJob("job-5"))

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ExitCode)

	rec, err := mem.GetJob(ctx, "job-5")
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusFailed, rec.Status)

	events := mem.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "job_failed", events[0].Type)
}

func TestRunJobBreakerOpens(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAdapter{tool: "pytest", exitCode: 1}
	o := newTestOrchestrator(map[string]adapter.Adapter{"pytest": fake}, store.NewMemory())

	// Two failures trip the breaker (threshold 2).
	o.RunJob(ctx, validJob("job-6"))
	o.RunJob(ctx, validJob("job-7"))
	require.Equal(t, 2, fake.calls)

	result := o.RunJob(ctx, validJob("job-8"))

	assert.Equal(t, job.ExitBreakerOpen, result.ExitCode)
	assert.False(t, result.Success)
	assert.Equal(t, 2, fake.calls, "adapter must not run while breaker is open")

	retryAfter, ok := result.Metadata["retry_after_seconds"].(float64)
	require.True(t, ok)
	assert.Greater(t, retryAfter, 0.0)

	stats := o.BreakerStats()
	require.Len(t, stats, 1)
	assert.Equal(t, breaker.StateOpen, stats[0].State)
}

// failingStore wraps a Store and fails all writes, to verify the
// fail-soft contract around execution.
type failingStore struct {
	*store.Memory
}

func (f *failingStore) MarkJobRunning(context.Context, string) error {
	return errors.New("store unreachable")
}

func (f *failingStore) UpdateJobResult(context.Context, *job.Job, *job.Result) error {
	return errors.New("store unreachable")
}

func (f *failingStore) RecordEvent(context.Context, string, map[string]any) error {
	return errors.New("store unreachable")
}

func TestRunJobStoreOutageDoesNotBlockWork(t *testing.T) {
	ctx := context.Background()
	fake := &fakeAdapter{tool: "pytest"}
	o := newTestOrchestrator(map[string]adapter.Adapter{"pytest": fake},
		&failingStore{Memory: store.NewMemory()})

	result := o.RunJob(ctx, validJob("job-9"))

	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, 1, fake.calls)
}

func TestJobStatus(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	fake := &fakeAdapter{tool: "pytest"}
	o := newTestOrchestrator(map[string]adapter.Adapter{"pytest": fake}, mem)

	o.RunJob(ctx, validJob("job-10"))

	status, err := o.JobStatus(ctx, "job-10")
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusCompleted, status)

	status, err = o.JobStatus(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, store.StatusNotFound, status)
}

func TestTools(t *testing.T) {
	o := newTestOrchestrator(map[string]adapter.Adapter{
		"pytest": &fakeAdapter{tool: "pytest"},
		"lint":   &fakeAdapter{tool: "lint"},
	}, store.NewMemory())

	tools := o.Tools()
	assert.Len(t, tools, 2)
	assert.Equal(t, "pytest", tools["pytest"].Name)
}
