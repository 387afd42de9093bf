// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runhistory keeps a monotonically-numbered record of loaded
// program runs for the HTTP /runs surface. It adapts only the
// bookkeeping half of the teacher's jobs.go (JobSched's ID issuance and
// JobInfo shape): the active scheduling half (keepExecutingJobs, per-job
// signal goroutines) is dropped, because grbl.Controller/Workflow/Sender
// now own that responsibility end to end — a second feeder of the same
// serial port would race the core's own state machine. This package only
// listens to controller events and records what happened.
package runhistory

import (
	"fmt"
	"sync"
	"time"
)

// RunStatus mirrors the teacher's JobStatus enum, trimmed to what a
// passive recorder can actually observe.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunStopped   RunStatus = "STOPPED"
)

// Run is one recorded program execution.
type Run struct {
	ID          string
	Name        string
	Total       int
	Sent        int
	Received    int
	Status      RunStatus
	TimeStarted time.Time
	TimeEnded   *time.Time
}

// History records runs in the order they started, newest last.
type History struct {
	mu        sync.Mutex
	runs      []Run
	nextID    int
	activeIdx int // index into runs of the in-progress run, or -1
}

// New returns an empty History.
func New() *History {
	return &History{activeIdx: -1}
}

// Start records a new run beginning now with the given program name and
// total line count (spec.md's Sender.Program().Total).
func (h *History) Start(name string, total int, now time.Time) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := fmt.Sprintf("run%d", h.nextID)
	h.runs = append(h.runs, Run{
		ID:          id,
		Name:        name,
		Total:       total,
		Status:      RunRunning,
		TimeStarted: now,
	})
	h.activeIdx = len(h.runs) - 1
	return id
}

// UpdateProgress updates the active run's sent/received counters, e.g. on
// every sender:status event.
func (h *History) UpdateProgress(sent, received int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeIdx < 0 {
		return
	}
	h.runs[h.activeIdx].Sent = sent
	h.runs[h.activeIdx].Received = received
}

// Finish marks the active run ended, either because the program
// completed or because it was stopped early.
func (h *History) Finish(completed bool, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeIdx < 0 {
		return
	}
	r := &h.runs[h.activeIdx]
	if completed {
		r.Status = RunCompleted
	} else {
		r.Status = RunStopped
	}
	t := now
	r.TimeEnded = &t
	h.activeIdx = -1
}

// List returns a snapshot of every recorded run, oldest first.
func (h *History) List() []Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Run, len(h.runs))
	copy(out, h.runs)
	return out
}
