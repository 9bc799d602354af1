package statemachine

import (
	"strings"
	"time"
)

// Severity classifies a transition for observability consumers.
type Severity string

// Severity levels, from routine to operator-attention-required.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is the structured signal emitted for every successful transition.
// It is the sole feed dashboards and audit logs need to reconstruct pipeline
// history.
type Event struct {
	Type       string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	From       State          `json:"from_state"`
	To         State          `json:"to_state"`
	Reason     string         `json:"reason,omitempty"`
	Trigger    string         `json:"trigger,omitempty"`
	Operator   string         `json:"operator,omitempty"`
	Severity   Severity       `json:"severity"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// EventSink receives transition events. Implementations must not block the
// transition path; delivery failures are the sink's problem, never the
// machine's.
type EventSink interface {
	Emit(event Event)
}

// MultiSink fans an event out to multiple sinks in order.
type MultiSink []EventSink

// Emit delivers the event to every sink.
func (s MultiSink) Emit(event Event) {
	for _, sink := range s {
		sink.Emit(event)
	}
}

// severityFor derives event severity from the target state's name.
func severityFor(to State) Severity {
	name := strings.ToLower(string(to))
	switch {
	case strings.Contains(name, "rolled_back") || strings.Contains(name, "quarantined"):
		return SeverityCritical
	case strings.Contains(name, "failed") || strings.Contains(name, "cancelled"):
		return SeverityError
	case strings.Contains(name, "retrying") || strings.Contains(name, "blocked"):
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
