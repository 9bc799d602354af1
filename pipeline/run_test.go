package pipeline

import (
	"testing"
)

func TestRunLifecycle(t *testing.T) {
	run := NewRun("run-1", nil, nil)
	if run.Current() != RunInitializing {
		t.Fatalf("expected initializing, got %s", run.Current())
	}

	if err := run.Start("all workstreams loaded"); err != nil {
		t.Fatal(err)
	}
	if run.StartedAt == nil {
		t.Error("expected started_at stamped")
	}

	if err := run.Pause("operator request"); err != nil {
		t.Fatal(err)
	}
	if err := run.Resume("operator request"); err != nil {
		t.Fatal(err)
	}

	if err := run.Complete("all workstreams done"); err != nil {
		t.Fatal(err)
	}
	if !run.IsTerminal() {
		t.Error("expected terminal after complete")
	}
	if run.EndedAt == nil {
		t.Error("expected ended_at stamped")
	}

	if err := run.Start("again"); err == nil {
		t.Error("expected terminal run to reject start")
	}
}

func TestRunProgress(t *testing.T) {
	run := NewRun("run-2", nil, nil)
	if got := run.Progress(); got != 0 {
		t.Errorf("expected zero progress with no workstreams, got %f", got)
	}

	run.UpdateWorkstreamCounts(WorkstreamCounts{Total: 4, Completed: 1, Failed: 1})
	if got := run.Progress(); got != 0.25 {
		t.Errorf("expected 0.25, got %f", got)
	}
}

func TestWorkstreamLifecycle(t *testing.T) {
	ws := NewWorkstream("ws-1", "run-1", nil, nil)
	if ws.RunID != "run-1" {
		t.Fatalf("expected run-1, got %s", ws.RunID)
	}

	steps := []struct {
		name string
		call func() error
	}{
		{"ready", func() error { return ws.Ready("deps met") }},
		{"start", func() error { return ws.Start("dispatched") }},
		{"validate", func() error { return ws.BeginValidation("tasks done") }},
		{"complete", func() error { return ws.Complete("validation passed") }},
	}
	for _, s := range steps {
		if err := s.call(); err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
	}
	if ws.Current() != WorkstreamCompleted {
		t.Errorf("expected completed, got %s", ws.Current())
	}
}

func TestWorkstreamBlockUnblock(t *testing.T) {
	ws := NewWorkstream("ws-2", "run-1", nil, nil)
	if err := ws.Block("gate not passed"); err != nil {
		t.Fatal(err)
	}
	if err := ws.Unblock("gate passed"); err != nil {
		t.Fatal(err)
	}
	if ws.Current() != WorkstreamReady {
		t.Errorf("expected ready after unblock, got %s", ws.Current())
	}
}

func TestWorkstreamValidationRetry(t *testing.T) {
	ws := NewWorkstream("ws-3", "run-1", nil, nil)
	mustOK := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	mustOK(ws.Ready(""))
	mustOK(ws.Start(""))
	mustOK(ws.BeginValidation(""))
	// Validation can send the workstream back to running for rework.
	mustOK(ws.Transition(WorkstreamRunning, "validation found gaps", "rework"))
	if ws.Current() != WorkstreamRunning {
		t.Errorf("expected running, got %s", ws.Current())
	}
}
