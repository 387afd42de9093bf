// SPDX-License-Identifier: AGPL-3.0-or-later
package statushist

import (
	"slices"
	"sync"
	"time"

	"grblhost/grbl"
)

// Snapshot pairs a machine state with the time it was recorded.
type Snapshot struct {
	Status grbl.Status
	Time   time.Time
}

// History keeps every parsed status report (not just the numeric fields
// TSDB tracks), retrievable latest-first. Adapted from the teacher's
// ps_db.go, retargeted from comm.PState to grbl.Status.
type History struct {
	mu      sync.RWMutex
	entries []Snapshot
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{}
}

// Add appends a snapshot. t should be monotonically increasing; an
// out-of-order t is still accepted (at the cost of a binary-search
// insertion) and all entries are retained.
func (h *History) Add(status grbl.Status, t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.entries)
	if n == 0 || t.After(h.entries[n-1].Time) {
		h.entries = append(h.entries, Snapshot{Status: status, Time: t})
		return
	}

	i, _ := slices.BinarySearchFunc(h.entries, t, func(s Snapshot, t time.Time) int {
		switch {
		case s.Time.Before(t):
			return -1
		case s.Time.After(t):
			return 1
		default:
			return 0
		}
	})
	h.entries = slices.Insert(h.entries, i, Snapshot{Status: status, Time: t})
}

// Latest returns at most n most recent snapshots, newest first.
func (h *History) Latest(n int) []Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n > len(h.entries) {
		n = len(h.entries)
	}
	if n <= 0 {
		return nil
	}
	out := slices.Clone(h.entries[len(h.entries)-n:])
	slices.Reverse(out)
	return out
}

// Recorder feeds every status report into both a TSDB (per numeric field,
// for /query-ts trending) and a History (full snapshots, for playback).
type Recorder struct {
	TS      *TSDB
	History *History
}

// NewRecorder returns a Recorder with fresh backing stores.
func NewRecorder() *Recorder {
	return &Recorder{TS: NewTSDB(), History: NewHistory()}
}

// Record appends one status report at t.
func (r *Recorder) Record(status grbl.Status, t time.Time) {
	r.History.Add(status, t)
	r.TS.Insert("x", t, status.WorkPosition.X)
	r.TS.Insert("y", t, status.WorkPosition.Y)
	r.TS.Insert("z", t, status.WorkPosition.Z)
	r.TS.Insert("state", t, string(status.ActiveState))
	if status.HaveFS {
		r.TS.Insert("feed", t, status.Feed)
		r.TS.Insert("spindle", t, status.Spindle)
	}
	if status.HaveBuf {
		r.TS.Insert("buf_rx", t, status.Buf.RX)
	}
}
