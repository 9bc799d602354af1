// Package statemachine provides the transition-table state machine core that
// all pipeline entities (runs, workstreams, tasks, workers, circuit breakers)
// are built on. A Machine owns exactly one current state and an append-only
// history, validates every transition against its variant's table, and emits
// a structured event for each successful transition.
package statemachine

import (
	"log/slog"
	"time"
)

// State is an enumerated state value belonging to one machine variant.
type State string

// Definition describes a machine variant: its initial state, terminal states,
// and the full transition table. A state absent from Transitions has no
// outgoing edges.
type Definition struct {
	Initial     State
	Terminal    []State
	Transitions map[State][]State
}

// HistoryEntry records one state in a machine's lifetime.
type HistoryEntry struct {
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Machine is a single state-machine instance bound to one entity. It is not
// safe for concurrent use; each instance is expected to have a single owner
// at a time.
type Machine struct {
	entityType string
	entityID   string

	current  State
	terminal map[State]bool
	table    map[State][]State
	history  []HistoryEntry

	sink   EventSink
	logger *slog.Logger
}

// New creates a Machine in the definition's initial state. The sink may be
// nil, in which case transition events are dropped. A nil logger falls back
// to slog.Default().
func New(entityType, entityID string, def Definition, sink EventSink, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	terminal := make(map[State]bool, len(def.Terminal))
	for _, s := range def.Terminal {
		terminal[s] = true
	}
	return &Machine{
		entityType: entityType,
		entityID:   entityID,
		current:    def.Initial,
		terminal:   terminal,
		table:      def.Transitions,
		history: []HistoryEntry{{
			State:     def.Initial,
			Timestamp: time.Now().UTC(),
			Reason:    "created",
		}},
		sink:   sink,
		logger: logger,
	}
}

// EntityID returns the owning entity's identifier.
func (m *Machine) EntityID() string { return m.entityID }

// EntityType returns the owning entity's type name (e.g. "task").
func (m *Machine) EntityType() string { return m.entityType }

// Current returns the current state.
func (m *Machine) Current() State { return m.current }

// IsTerminal reports whether the current state is terminal for this variant.
func (m *Machine) IsTerminal() bool { return m.terminal[m.current] }

// CanTransitionTo reports whether a transition to the given state would be
// accepted right now. Always false from a terminal state.
func (m *Machine) CanTransitionTo(to State) bool {
	if m.terminal[m.current] {
		return false
	}
	for _, next := range m.table[m.current] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the machine to the given state, appending to history and
// emitting a transition event. The reason is recorded in history (falling
// back to the trigger when empty). Both preconditions are checked before any
// mutation: a rejected transition leaves state, history, and the event sink
// untouched.
func (m *Machine) Transition(to State, reason, trigger string) error {
	return m.transition(to, reason, trigger, "")
}

// OperatorTransition is Transition with an operator identity attached to the
// emitted event, for manual interventions.
func (m *Machine) OperatorTransition(to State, reason, trigger, operator string) error {
	return m.transition(to, reason, trigger, operator)
}

func (m *Machine) transition(to State, reason, trigger, operator string) error {
	if m.terminal[m.current] {
		return &TerminalStateError{
			EntityType: m.entityType,
			EntityID:   m.entityID,
			State:      m.current,
			Attempted:  to,
		}
	}
	if !m.CanTransitionTo(to) {
		return &TransitionError{
			EntityType: m.entityType,
			EntityID:   m.entityID,
			From:       m.current,
			To:         to,
		}
	}

	from := m.current
	now := time.Now().UTC()
	historyReason := reason
	if historyReason == "" {
		historyReason = trigger
	}

	m.current = to
	m.history = append(m.history, HistoryEntry{State: to, Timestamp: now, Reason: historyReason})

	severity := severityFor(to)
	m.logger.Debug("state transition",
		"entity_type", m.entityType,
		"entity_id", m.entityID,
		"from", string(from),
		"to", string(to),
		"severity", string(severity))

	if m.sink != nil {
		m.sink.Emit(Event{
			Type:       m.entityType + "_state_transition",
			EntityType: m.entityType,
			EntityID:   m.entityID,
			From:       from,
			To:         to,
			Reason:     reason,
			Trigger:    trigger,
			Operator:   operator,
			Severity:   severity,
			Timestamp:  now,
		})
	}
	return nil
}

// History returns a copy of the full state history, oldest first. The first
// entry is always the initial state; the last entry always matches the
// current state.
func (m *Machine) History() []HistoryEntry {
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)
	return out
}

// TimeInState returns how long the machine has been in its current state.
func (m *Machine) TimeInState() time.Duration {
	last := m.history[len(m.history)-1]
	return time.Since(last.Timestamp)
}

// EnteredAt returns when the machine entered its current state.
func (m *Machine) EnteredAt() time.Time {
	return m.history[len(m.history)-1].Timestamp
}
