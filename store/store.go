// Package store provides durable, queryable persistence for runs,
// workstreams, jobs, and transition events. The orchestrator depends only on
// the narrow Store interface; the KV implementation persists to NATS
// JetStream and the Memory implementation backs tests and embedded use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/DICKY1987/pipeline-core/job"
)

// ErrNotFound is returned when a requested record does not exist. It is
// distinct from infrastructure errors: a caller can rely on errors.Is to
// tell "absent" from "store unreachable".
var ErrNotFound = errors.New("record not found")

// Job statuses tracked by the store.
const (
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// StatusNotFound is the sentinel status for unknown jobs.
const StatusNotFound = "not_found"

// RunRecord is the persisted form of a run.
type RunRecord struct {
	ID           string            `json:"id"`
	WorkspaceID  string            `json:"workspace_id,omitempty"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// WorkstreamRecord is the persisted form of a workstream.
type WorkstreamRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobRecord is the persisted form of a job and its latest result. It holds
// enough to reconstruct which tool ran the job, how long it took, whether it
// succeeded, and a bounded output preview.
type JobRecord struct {
	ID              string         `json:"id"`
	WorkstreamID    string         `json:"workstream_id,omitempty"`
	Tool            string         `json:"tool,omitempty"`
	Status          string         `json:"status"`
	ExitCode        int            `json:"exit_code"`
	Success         bool           `json:"success"`
	DurationSeconds float64        `json:"duration_s"`
	ErrorReportPath string         `json:"error_report_path,omitempty"`
	StdoutPreview   string         `json:"stdout_preview,omitempty"`
	StderrPreview   string         `json:"stderr_preview,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// EventRecord is one appended event-log entry.
type EventRecord struct {
	ID        string         `json:"id"`
	Type      string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Store is the persistence contract the orchestrator and entity machines
// depend on. Implementations must support concurrent readers and writers.
type Store interface {
	// CreateRun persists a new run and returns its id.
	CreateRun(ctx context.Context, workspaceID string, metadata map[string]string) (string, error)
	// GetRun retrieves a run; ErrNotFound when absent.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	// UpdateRunStatus sets the run's status.
	UpdateRunStatus(ctx context.Context, runID, status string) error

	// CreateWorkstream persists a new workstream and returns its id.
	CreateWorkstream(ctx context.Context, ws *WorkstreamRecord) (string, error)
	// GetWorkstream retrieves a workstream, or nil when absent.
	GetWorkstream(ctx context.Context, workstreamID string) (*WorkstreamRecord, error)
	// UpdateWorkstreamStatus sets the workstream's status.
	UpdateWorkstreamStatus(ctx context.Context, workstreamID, status string) error
	// ListWorkstreams returns the workstreams belonging to a run.
	ListWorkstreams(ctx context.Context, runID string) ([]*WorkstreamRecord, error)

	// MarkJobRunning upserts a job record with running status. Safe to skip:
	// UpdateJobResult creates the record if this call never happened.
	MarkJobRunning(ctx context.Context, jobID string) error
	// UpdateJobResult upserts the job record with its latest result.
	// Idempotent: repeated calls for the same job leave one logical record
	// reflecting the latest result.
	UpdateJobResult(ctx context.Context, j *job.Job, result *job.Result) error
	// GetJob retrieves a job record; ErrNotFound when absent.
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
	// ListJobs returns job records for a workstream; empty id lists all.
	ListJobs(ctx context.Context, workstreamID string) ([]*JobRecord, error)
	// CountJobsByStatus returns aggregate job counts keyed by status.
	CountJobsByStatus(ctx context.Context) (map[string]int, error)

	// RecordEvent appends to the event log. Callers on the execution path
	// are expected to tolerate failure.
	RecordEvent(ctx context.Context, eventType string, payload map[string]any) error
}

// jobRecordFrom builds the upserted record for a finished job.
func jobRecordFrom(j *job.Job, result *job.Result, createdAt time.Time) *JobRecord {
	status := JobStatusCompleted
	if !result.Success {
		status = JobStatusFailed
	}
	now := time.Now().UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	return &JobRecord{
		ID:              j.ID,
		WorkstreamID:    j.WorkstreamID,
		Tool:            j.Tool,
		Status:          status,
		ExitCode:        result.ExitCode,
		Success:         result.Success,
		DurationSeconds: result.DurationSeconds,
		ErrorReportPath: result.ErrorReportPath,
		StdoutPreview:   result.StdoutPreview,
		StderrPreview:   result.StderrPreview,
		Metadata:        result.Metadata,
		CreatedAt:       createdAt,
		UpdatedAt:       now,
	}
}
