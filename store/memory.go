package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DICKY1987/pipeline-core/job"
)

// Memory is an in-memory Store for tests and embedded use. Safe for
// concurrent use.
type Memory struct {
	mu          sync.RWMutex
	runs        map[string]*RunRecord
	workstreams map[string]*WorkstreamRecord
	jobs        map[string]*JobRecord
	events      []*EventRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs:        make(map[string]*RunRecord),
		workstreams: make(map[string]*WorkstreamRecord),
		jobs:        make(map[string]*JobRecord),
	}
}

// CreateRun persists a new run and returns its id.
func (m *Memory) CreateRun(_ context.Context, workspaceID string, metadata map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	rec := &RunRecord{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Status:      "initializing",
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.runs[rec.ID] = rec
	return rec.ID, nil
}

// GetRun retrieves a run; ErrNotFound when absent.
func (m *Memory) GetRun(_ context.Context, runID string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// UpdateRunStatus sets the run's status.
func (m *Memory) UpdateRunStatus(_ context.Context, runID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateWorkstream persists a new workstream and returns its id.
func (m *Memory) CreateWorkstream(_ context.Context, ws *WorkstreamRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := *ws
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.workstreams[rec.ID] = &rec
	return rec.ID, nil
}

// GetWorkstream retrieves a workstream, or nil when absent.
func (m *Memory) GetWorkstream(_ context.Context, workstreamID string) (*WorkstreamRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.workstreams[workstreamID]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

// UpdateWorkstreamStatus sets the workstream's status.
func (m *Memory) UpdateWorkstreamStatus(_ context.Context, workstreamID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.workstreams[workstreamID]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// ListWorkstreams returns the workstreams belonging to a run.
func (m *Memory) ListWorkstreams(_ context.Context, runID string) ([]*WorkstreamRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*WorkstreamRecord
	for _, rec := range m.workstreams {
		if rec.RunID == runID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MarkJobRunning upserts a job record with running status.
func (m *Memory) MarkJobRunning(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if rec, ok := m.jobs[jobID]; ok {
		rec.Status = JobStatusRunning
		rec.UpdatedAt = now
		return nil
	}
	m.jobs[jobID] = &JobRecord{
		ID:        jobID,
		Status:    JobStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// UpdateJobResult upserts the job record with its latest result.
func (m *Memory) UpdateJobResult(_ context.Context, j *job.Job, result *job.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var createdAt time.Time
	if existing, ok := m.jobs[j.ID]; ok {
		createdAt = existing.CreatedAt
	}
	m.jobs[j.ID] = jobRecordFrom(j, result, createdAt)
	return nil
}

// GetJob retrieves a job record; ErrNotFound when absent.
func (m *Memory) GetJob(_ context.Context, jobID string) (*JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

// ListJobs returns job records for a workstream; empty id lists all.
func (m *Memory) ListJobs(_ context.Context, workstreamID string) ([]*JobRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*JobRecord
	for _, rec := range m.jobs {
		if workstreamID == "" || rec.WorkstreamID == workstreamID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CountJobsByStatus returns aggregate job counts keyed by status.
func (m *Memory) CountJobsByStatus(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, rec := range m.jobs {
		counts[rec.Status]++
	}
	return counts, nil
}

// RecordEvent appends to the in-memory event log.
func (m *Memory) RecordEvent(_ context.Context, eventType string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, &EventRecord{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Events returns a copy of the recorded event log, oldest first.
func (m *Memory) Events() []*EventRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*EventRecord, len(m.events))
	copy(out, m.events)
	return out
}

var _ Store = (*Memory)(nil)
