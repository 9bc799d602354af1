package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/DICKY1987/pipeline-core/statemachine"
)

// EventRecorder adapts a Store into a statemachine.EventSink. Persistence
// failures are logged and swallowed: observability must never block a
// transition.
type EventRecorder struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration
}

// NewEventRecorder creates a recorder writing through the given store.
func NewEventRecorder(s Store, logger *slog.Logger) *EventRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventRecorder{
		store:   s,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// Emit persists the transition event.
func (r *EventRecorder) Emit(e statemachine.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	payload := map[string]any{
		"entity_type": e.EntityType,
		"entity_id":   e.EntityID,
		"from_state":  string(e.From),
		"to_state":    string(e.To),
		"severity":    string(e.Severity),
		"timestamp":   e.Timestamp.Format(time.RFC3339Nano),
	}
	if e.Reason != "" {
		payload["reason"] = e.Reason
	}
	if e.Trigger != "" {
		payload["trigger"] = e.Trigger
	}
	if e.Operator != "" {
		payload["operator"] = e.Operator
	}
	for k, v := range e.Metadata {
		payload[k] = v
	}

	if err := r.store.RecordEvent(ctx, e.Type, payload); err != nil {
		r.logger.Warn("failed to record transition event",
			"event_type", e.Type,
			"entity_id", e.EntityID,
			"error", err)
	}
}
