// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import "testing"

func TestWorkflowHappyPath(t *testing.T) {
	var events []string
	w := NewWorkflow(func(e string) { events = append(events, e) })

	if w.State() != WorkflowIdle {
		t.Fatalf("expected initial state idle, got %s", w.State())
	}
	if !w.Start() || w.State() != WorkflowRunning {
		t.Fatalf("expected Start to succeed into running, got %s", w.State())
	}
	if !w.Pause() || w.State() != WorkflowPaused {
		t.Fatalf("expected Pause to succeed into paused, got %s", w.State())
	}
	if !w.Resume() || w.State() != WorkflowRunning {
		t.Fatalf("expected Resume to succeed into running, got %s", w.State())
	}
	if !w.Stop() || w.State() != WorkflowIdle {
		t.Fatalf("expected Stop to succeed into idle, got %s", w.State())
	}

	want := []string{"start", "pause", "resume", "stop"}
	if len(events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, events)
		}
	}
}

func TestWorkflowDisallowedTransitionsAreIgnored(t *testing.T) {
	calls := 0
	w := NewWorkflow(func(string) { calls++ })

	if w.Pause() {
		t.Fatal("expected Pause from idle to be ignored")
	}
	if w.Resume() {
		t.Fatal("expected Resume from idle to be ignored")
	}
	if w.Stop() {
		t.Fatal("expected Stop from idle to be ignored")
	}
	if calls != 0 {
		t.Fatalf("expected no emitted events for ignored transitions, got %d", calls)
	}

	w.Start()
	if w.Start() {
		t.Fatal("expected a second Start while already running to be ignored")
	}
	if w.Resume() {
		t.Fatal("expected Resume while running (not paused) to be ignored")
	}
}

func TestWorkflowStopFromAnyNonIdleState(t *testing.T) {
	w := NewWorkflow(nil)
	w.Start()
	w.Pause()
	if !w.Stop() || w.State() != WorkflowIdle {
		t.Fatalf("expected Stop from paused to succeed into idle, got %s", w.State())
	}
}
