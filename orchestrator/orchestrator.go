// Package orchestrator accepts job descriptors, resolves the right tool
// adapter, drives execution behind a per-tool circuit breaker, and persists
// results. RunJob never fails with an exception for routine bad input: every
// outcome is a typed JobResult.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DICKY1987/pipeline-core/adapter"
	"github.com/DICKY1987/pipeline-core/breaker"
	"github.com/DICKY1987/pipeline-core/job"
	"github.com/DICKY1987/pipeline-core/metrics"
	"github.com/DICKY1987/pipeline-core/store"
)

// Orchestrator dispatches jobs to a static tool->adapter registry. The
// registry is fixed at construction; there is no dynamic plugin discovery.
type Orchestrator struct {
	adapters map[string]adapter.Adapter
	store    store.Store
	breakers *breaker.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates an orchestrator. The metrics handle may be nil; the store and
// breaker registry are required.
func New(adapters map[string]adapter.Adapter, st store.Store, breakers *breaker.Registry, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		adapters: adapters,
		store:    st,
		breakers: breakers,
		metrics:  m,
		logger:   logger,
	}
}

// Tools returns the registered tool names and their adapter descriptions.
func (o *Orchestrator) Tools() map[string]adapter.Description {
	out := make(map[string]adapter.Description, len(o.adapters))
	for name, a := range o.adapters {
		out[name] = a.Describe()
	}
	return out
}

// RunJob executes one job synchronously and returns its result
// unconditionally. Malformed input yields job.ExitMissingInput, an
// unregistered tool job.ExitUnknownTool; neither touches the store. Status
// writes around execution are best-effort: a store outage is logged and
// never blocks the job.
func (o *Orchestrator) RunJob(ctx context.Context, j *job.Job) *job.Result {
	if j == nil {
		r := job.NewResult("", job.ExitMissingInput)
		r.StderrPreview = "no job descriptor provided"
		return r
	}
	if err := j.Validate(); err != nil {
		return o.inputFailure(j, job.ExitMissingInput, err.Error())
	}

	a, ok := o.adapters[j.Tool]
	if !ok {
		return o.inputFailure(j, job.ExitUnknownTool, fmt.Sprintf("unknown tool %q", j.Tool))
	}
	if err := a.Validate(j); err != nil {
		return o.inputFailure(j, job.ExitMissingInput, err.Error())
	}

	if err := o.store.MarkJobRunning(ctx, j.ID); err != nil {
		o.logger.Warn("failed to mark job running, continuing",
			"job_id", j.ID, "error", err)
	}

	result := o.execute(ctx, a, j)

	if err := o.store.UpdateJobResult(ctx, j, result); err != nil {
		o.logger.Warn("failed to persist job result, continuing",
			"job_id", j.ID, "error", err)
	}
	o.recordJobEvent(ctx, j, result)

	outcome := "completed"
	if !result.Success {
		outcome = "failed"
	}
	o.metrics.ObserveJob(j.Tool, outcome, result.DurationSeconds)

	o.logger.Info("job finished",
		"job_id", j.ID,
		"tool", j.Tool,
		"exit_code", result.ExitCode,
		"success", result.Success,
		"duration_s", result.DurationSeconds)

	return result
}

// execute invokes the adapter behind the tool's circuit breaker. A tool
// failure (unsuccessful result) counts against the breaker; an open breaker
// becomes a typed result carrying the retry-after hint.
func (o *Orchestrator) execute(ctx context.Context, a adapter.Adapter, j *job.Job) *job.Result {
	br := o.breakers.ForTool(j.Tool)

	raw, err := br.Call(func() (any, error) {
		r := a.Run(ctx, j)
		if !r.Success {
			return r, fmt.Errorf("tool %s exited %d", j.Tool, r.ExitCode)
		}
		return r, nil
	})
	o.metrics.SetBreakerState(j.Tool, br.State())

	var oe *breaker.OpenError
	if errors.As(err, &oe) {
		o.logger.Warn("circuit breaker open, skipping tool invocation",
			"job_id", j.ID,
			"tool", j.Tool,
			"retry_after_s", oe.RetryAfter.Seconds())
		r := job.NewResult(j.ID, job.ExitBreakerOpen)
		r.StderrPreview = oe.Error()
		r.Metadata = map[string]any{"retry_after_seconds": oe.RetryAfter.Seconds()}
		return r
	}

	result, ok := raw.(*job.Result)
	if !ok {
		// The adapter contract forbids this; synthesize rather than crash.
		r := job.NewResult(j.ID, job.ExitException)
		r.StderrPreview = "adapter returned no result"
		return r
	}
	return result
}

// inputFailure builds a typed routing/validation failure. These never reach
// the store: the job was never accepted for execution.
func (o *Orchestrator) inputFailure(j *job.Job, exitCode int, message string) *job.Result {
	o.logger.Warn("job rejected", "job_id", j.ID, "tool", j.Tool, "reason", message)
	r := job.NewResult(j.ID, exitCode)
	r.StderrPreview = message
	return r
}

// recordJobEvent appends the job outcome to the event log, best-effort.
func (o *Orchestrator) recordJobEvent(ctx context.Context, j *job.Job, result *job.Result) {
	eventType := "job_completed"
	if !result.Success {
		eventType = "job_failed"
	}
	payload := map[string]any{
		"job_id":        j.ID,
		"workstream_id": j.WorkstreamID,
		"tool":          j.Tool,
		"exit_code":     result.ExitCode,
		"duration_s":    result.DurationSeconds,
	}
	if result.ErrorReportPath != "" {
		payload["error_report_path"] = result.ErrorReportPath
	}
	if err := o.store.RecordEvent(ctx, eventType, payload); err != nil {
		o.logger.Warn("failed to record job event", "job_id", j.ID, "error", err)
	}
}

// JobStatus returns the persisted status for a job, or the "not_found"
// sentinel when the store has no record of it. Infrastructure errors
// propagate.
func (o *Orchestrator) JobStatus(ctx context.Context, jobID string) (string, error) {
	rec, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.StatusNotFound, nil
		}
		return "", fmt.Errorf("get job %s: %w", jobID, err)
	}
	return rec.Status, nil
}

// BreakerStats exposes circuit breaker snapshots for health display.
func (o *Orchestrator) BreakerStats() []breaker.Stats {
	return o.breakers.Stats()
}
