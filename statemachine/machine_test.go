package statemachine

import (
	"errors"
	"testing"
)

func testDefinition() Definition {
	return Definition{
		Initial:  "pending",
		Terminal: []State{"completed", "failed"},
		Transitions: map[State][]State{
			"pending": {"running", "failed"},
			"running": {"completed", "failed", "retrying"},
			"retrying": {"running"},
		},
	}
}

type captureSink struct {
	events []Event
}

func (s *captureSink) Emit(e Event) { s.events = append(s.events, e) }

func TestMachineTransition(t *testing.T) {
	t.Run("initial state and history", func(t *testing.T) {
		m := New("task", "t-1", testDefinition(), nil, nil)
		if m.Current() != "pending" {
			t.Errorf("expected pending, got %s", m.Current())
		}
		h := m.History()
		if len(h) != 1 {
			t.Fatalf("expected 1 history entry, got %d", len(h))
		}
		if h[0].State != "pending" {
			t.Errorf("expected initial history entry pending, got %s", h[0].State)
		}
	})

	t.Run("valid transition appends history", func(t *testing.T) {
		m := New("task", "t-1", testDefinition(), nil, nil)
		if err := m.Transition("running", "work started", "start"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if m.Current() != "running" {
			t.Errorf("expected running, got %s", m.Current())
		}
		h := m.History()
		if len(h) != 2 {
			t.Fatalf("expected 2 history entries, got %d", len(h))
		}
		if h[len(h)-1].State != m.Current() {
			t.Errorf("last history entry %s does not match current %s", h[len(h)-1].State, m.Current())
		}
		if h[1].Reason != "work started" {
			t.Errorf("expected reason recorded, got %q", h[1].Reason)
		}
	})

	t.Run("invalid transition is rejected without mutation", func(t *testing.T) {
		m := New("task", "t-1", testDefinition(), nil, nil)
		err := m.Transition("completed", "", "skip ahead")
		var te *TransitionError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransitionError, got %v", err)
		}
		if m.Current() != "pending" {
			t.Errorf("state mutated on rejected transition: %s", m.Current())
		}
		if len(m.History()) != 1 {
			t.Errorf("history mutated on rejected transition: %d entries", len(m.History()))
		}
	})

	t.Run("terminal state rejects all transitions", func(t *testing.T) {
		m := New("task", "t-1", testDefinition(), nil, nil)
		if err := m.Transition("running", "", "start"); err != nil {
			t.Fatal(err)
		}
		if err := m.Transition("completed", "", "done"); err != nil {
			t.Fatal(err)
		}
		if !m.IsTerminal() {
			t.Fatal("expected terminal state")
		}
		before := len(m.History())
		err := m.Transition("running", "", "restart")
		var te *TerminalStateError
		if !errors.As(err, &te) {
			t.Fatalf("expected TerminalStateError, got %v", err)
		}
		if !IsTerminalViolation(err) {
			t.Error("IsTerminalViolation should report true")
		}
		if len(m.History()) != before {
			t.Error("history mutated by rejected terminal transition")
		}
		if m.Current() != "completed" {
			t.Errorf("state mutated by rejected terminal transition: %s", m.Current())
		}
	})

	t.Run("history grows by one per successful transition", func(t *testing.T) {
		m := New("task", "t-1", testDefinition(), nil, nil)
		steps := []State{"running", "retrying", "running", "completed"}
		for _, s := range steps {
			if err := m.Transition(s, "", "step"); err != nil {
				t.Fatalf("transition to %s: %v", s, err)
			}
		}
		if got := len(m.History()); got != len(steps)+1 {
			t.Errorf("expected %d history entries, got %d", len(steps)+1, got)
		}
	})

	t.Run("reason falls back to trigger", func(t *testing.T) {
		m := New("task", "t-1", testDefinition(), nil, nil)
		if err := m.Transition("running", "", "auto_start"); err != nil {
			t.Fatal(err)
		}
		h := m.History()
		if h[1].Reason != "auto_start" {
			t.Errorf("expected trigger fallback, got %q", h[1].Reason)
		}
	})
}

func TestCanTransitionTo(t *testing.T) {
	m := New("task", "t-1", testDefinition(), nil, nil)
	if !m.CanTransitionTo("running") {
		t.Error("expected pending -> running allowed")
	}
	if m.CanTransitionTo("completed") {
		t.Error("expected pending -> completed denied")
	}
	if err := m.Transition("failed", "", "boom"); err != nil {
		t.Fatal(err)
	}
	if m.CanTransitionTo("running") {
		t.Error("expected no transitions from terminal state")
	}
}

func TestEventEmission(t *testing.T) {
	t.Run("successful transition emits event", func(t *testing.T) {
		sink := &captureSink{}
		m := New("task", "t-9", testDefinition(), sink, nil)
		if err := m.OperatorTransition("running", "kick", "manual", "ops"); err != nil {
			t.Fatal(err)
		}
		if len(sink.events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(sink.events))
		}
		e := sink.events[0]
		if e.Type != "task_state_transition" {
			t.Errorf("unexpected event type %s", e.Type)
		}
		if e.From != "pending" || e.To != "running" {
			t.Errorf("unexpected from/to %s/%s", e.From, e.To)
		}
		if e.Operator != "ops" {
			t.Errorf("expected operator recorded, got %q", e.Operator)
		}
		if e.Timestamp.IsZero() {
			t.Error("expected timestamp set")
		}
	})

	t.Run("rejected transition emits nothing", func(t *testing.T) {
		sink := &captureSink{}
		m := New("task", "t-9", testDefinition(), sink, nil)
		if err := m.Transition("completed", "", "skip"); err == nil {
			t.Fatal("expected rejection")
		}
		if len(sink.events) != 0 {
			t.Errorf("expected no events, got %d", len(sink.events))
		}
	})

	t.Run("multi sink fans out", func(t *testing.T) {
		a, b := &captureSink{}, &captureSink{}
		m := New("task", "t-9", testDefinition(), MultiSink{a, b}, nil)
		if err := m.Transition("running", "", "start"); err != nil {
			t.Fatal(err)
		}
		if len(a.events) != 1 || len(b.events) != 1 {
			t.Errorf("expected both sinks to receive the event, got %d/%d", len(a.events), len(b.events))
		}
	})
}

func TestSeverityFor(t *testing.T) {
	tests := []struct {
		state    State
		expected Severity
	}{
		{"completed", SeverityInfo},
		{"succeeded", SeverityInfo},
		{"running", SeverityInfo},
		{"retrying", SeverityWarning},
		{"blocked", SeverityWarning},
		{"failed", SeverityError},
		{"cancelled", SeverityError},
		{"rolled_back", SeverityCritical},
		{"quarantined", SeverityCritical},
	}
	for _, tc := range tests {
		if got := severityFor(tc.state); got != tc.expected {
			t.Errorf("severityFor(%s): expected %s, got %s", tc.state, tc.expected, got)
		}
	}
}

func TestTimeInState(t *testing.T) {
	m := New("task", "t-1", testDefinition(), nil, nil)
	if m.TimeInState() < 0 {
		t.Error("expected non-negative time in state")
	}
	if m.EnteredAt().IsZero() {
		t.Error("expected entered-at timestamp")
	}
}
