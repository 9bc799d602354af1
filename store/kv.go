package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/DICKY1987/pipeline-core/job"
)

// Bucket names for each record type.
const (
	BucketRuns        = "PIPELINE_RUNS"
	BucketWorkstreams = "PIPELINE_WORKSTREAMS"
	BucketJobs        = "PIPELINE_JOBS"
)

// Event stream configuration.
const (
	EventStream        = "PIPELINE_EVENTS"
	eventSubjectPrefix = "pipeline.event."
)

// KV is a Store backed by NATS JetStream KV buckets, with transition events
// published to a JetStream stream. One KV per process is enough: JetStream
// handles concurrent callers.
type KV struct {
	js          jetstream.JetStream
	runs        jetstream.KeyValue
	workstreams jetstream.KeyValue
	jobs        jetstream.KeyValue
}

// NewKV creates a KV store, creating buckets and the event stream if they
// don't exist.
func NewKV(ctx context.Context, js jetstream.JetStream) (*KV, error) {
	runs, err := getOrCreateBucket(ctx, js, BucketRuns)
	if err != nil {
		return nil, fmt.Errorf("create runs bucket: %w", err)
	}
	workstreams, err := getOrCreateBucket(ctx, js, BucketWorkstreams)
	if err != nil {
		return nil, fmt.Errorf("create workstreams bucket: %w", err)
	}
	jobs, err := getOrCreateBucket(ctx, js, BucketJobs)
	if err != nil {
		return nil, fmt.Errorf("create jobs bucket: %w", err)
	}
	if err := ensureEventStream(ctx, js); err != nil {
		return nil, fmt.Errorf("create event stream: %w", err)
	}
	return &KV{
		js:          js,
		runs:        runs,
		workstreams: workstreams,
		jobs:        jobs,
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Pipeline %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

func ensureEventStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.Stream(ctx, EventStream)
	if err == nil {
		return nil
	}
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        EventStream,
		Description: "Pipeline transition and audit events",
		Subjects:    []string{eventSubjectPrefix + ">"},
	})
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound)
}

// CreateRun persists a new run and returns its id.
func (s *KV) CreateRun(ctx context.Context, workspaceID string, metadata map[string]string) (string, error) {
	now := time.Now().UTC()
	rec := &RunRecord{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Status:      "initializing",
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal run: %w", err)
	}
	if _, err := s.runs.Create(ctx, rec.ID, data); err != nil {
		return "", fmt.Errorf("store run: %w", err)
	}
	return rec.ID, nil
}

// GetRun retrieves a run; ErrNotFound when absent.
func (s *KV) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	entry, err := s.runs.Get(ctx, runID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	var rec RunRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &rec, nil
}

// UpdateRunStatus sets the run's status.
func (s *KV) UpdateRunStatus(ctx context.Context, runID, status string) error {
	rec, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if _, err := s.runs.Put(ctx, runID, data); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// CreateWorkstream persists a new workstream and returns its id.
func (s *KV) CreateWorkstream(ctx context.Context, ws *WorkstreamRecord) (string, error) {
	rec := *ws
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	data, err := json.Marshal(&rec)
	if err != nil {
		return "", fmt.Errorf("marshal workstream: %w", err)
	}
	if _, err := s.workstreams.Create(ctx, rec.ID, data); err != nil {
		return "", fmt.Errorf("store workstream: %w", err)
	}
	return rec.ID, nil
}

// GetWorkstream retrieves a workstream, or nil when absent.
func (s *KV) GetWorkstream(ctx context.Context, workstreamID string) (*WorkstreamRecord, error) {
	entry, err := s.workstreams.Get(ctx, workstreamID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get workstream: %w", err)
	}
	var rec WorkstreamRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal workstream: %w", err)
	}
	return &rec, nil
}

// UpdateWorkstreamStatus sets the workstream's status.
func (s *KV) UpdateWorkstreamStatus(ctx context.Context, workstreamID, status string) error {
	rec, err := s.GetWorkstream(ctx, workstreamID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal workstream: %w", err)
	}
	if _, err := s.workstreams.Put(ctx, workstreamID, data); err != nil {
		return fmt.Errorf("update workstream: %w", err)
	}
	return nil
}

// ListWorkstreams returns the workstreams belonging to a run.
func (s *KV) ListWorkstreams(ctx context.Context, runID string) ([]*WorkstreamRecord, error) {
	keys, err := s.workstreams.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workstream keys: %w", err)
	}

	out := make([]*WorkstreamRecord, 0, len(keys))
	for _, key := range keys {
		entry, err := s.workstreams.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var rec WorkstreamRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			continue
		}
		if rec.RunID == runID {
			out = append(out, &rec)
		}
	}
	return out, nil
}

// MarkJobRunning upserts a job record with running status.
func (s *KV) MarkJobRunning(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	rec, err := s.GetJob(ctx, jobID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		rec = &JobRecord{ID: jobID, CreatedAt: now}
	}
	rec.Status = JobStatusRunning
	rec.UpdatedAt = now

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := s.jobs.Put(ctx, jobID, data); err != nil {
		return fmt.Errorf("mark job running: %w", err)
	}
	return nil
}

// UpdateJobResult upserts the job record with its latest result.
func (s *KV) UpdateJobResult(ctx context.Context, j *job.Job, result *job.Result) error {
	var createdAt time.Time
	if existing, err := s.GetJob(ctx, j.ID); err == nil {
		createdAt = existing.CreatedAt
	}
	rec := jobRecordFrom(j, result, createdAt)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if _, err := s.jobs.Put(ctx, j.ID, data); err != nil {
		return fmt.Errorf("update job result: %w", err)
	}
	return nil
}

// GetJob retrieves a job record; ErrNotFound when absent.
func (s *KV) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	entry, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	var rec JobRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &rec, nil
}

// ListJobs returns job records for a workstream; empty id lists all.
func (s *KV) ListJobs(ctx context.Context, workstreamID string) ([]*JobRecord, error) {
	keys, err := s.jobs.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list job keys: %w", err)
	}

	out := make([]*JobRecord, 0, len(keys))
	for _, key := range keys {
		entry, err := s.jobs.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec JobRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			continue
		}
		if workstreamID == "" || rec.WorkstreamID == workstreamID {
			out = append(out, &rec)
		}
	}
	return out, nil
}

// CountJobsByStatus returns aggregate job counts keyed by status.
func (s *KV) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	jobs, err := s.ListJobs(ctx, "")
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, rec := range jobs {
		counts[rec.Status]++
	}
	return counts, nil
}

// RecordEvent publishes the event to the pipeline event stream.
func (s *KV) RecordEvent(ctx context.Context, eventType string, payload map[string]any) error {
	rec := &EventRecord{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := s.js.Publish(ctx, eventSubjectPrefix+eventType, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

var _ Store = (*KV)(nil)
