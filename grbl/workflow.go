// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

// WorkflowState is one of the three states gating the Sender (spec.md
// §4.3).
type WorkflowState string

const (
	WorkflowIdle    WorkflowState = "idle"
	WorkflowPaused  WorkflowState = "paused"
	WorkflowRunning WorkflowState = "running"
)

// Workflow is the three-state machine controlling the Sender's gating.
// Transitions the current state disallows are silently ignored, per
// spec.md §4.3.
type Workflow struct {
	state WorkflowState
	onEmit func(event string)
}

// NewWorkflow returns a Workflow starting in WorkflowIdle. onEmit, if
// non-nil, is called with the event name ("start"/"pause"/"resume"/"stop")
// whenever a transition actually occurs.
func NewWorkflow(onEmit func(event string)) *Workflow {
	return &Workflow{state: WorkflowIdle, onEmit: onEmit}
}

// State returns the current workflow state.
func (w *Workflow) State() WorkflowState {
	return w.state
}

func (w *Workflow) emit(event string) {
	if w.onEmit != nil {
		w.onEmit(event)
	}
}

// Start transitions IDLE -> RUNNING.
func (w *Workflow) Start() bool {
	if w.state != WorkflowIdle {
		return false
	}
	w.state = WorkflowRunning
	w.emit("start")
	return true
}

// Pause transitions RUNNING -> PAUSED.
func (w *Workflow) Pause() bool {
	if w.state != WorkflowRunning {
		return false
	}
	w.state = WorkflowPaused
	w.emit("pause")
	return true
}

// Resume transitions PAUSED -> RUNNING.
func (w *Workflow) Resume() bool {
	if w.state != WorkflowPaused {
		return false
	}
	w.state = WorkflowRunning
	w.emit("resume")
	return true
}

// Stop transitions any state -> IDLE. A Stop from IDLE is a no-op that
// still does not emit (redundant stops are idempotent, spec.md §8).
func (w *Workflow) Stop() bool {
	if w.state == WorkflowIdle {
		return false
	}
	w.state = WorkflowIdle
	w.emit("stop")
	return true
}
