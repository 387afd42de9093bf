// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"time"

	"grblhost/grbl"
	"grblhost/linelog"
	"grblhost/runhistory"
	"grblhost/statushist"
)

// recorderSink is the one permanent grbl.Sink attached to the controller:
// it has no transport of its own, it just drives the traffic log, status
// history and run history off the same events an HTTP/websocket client
// would see.
type recorderSink struct {
	lines  *linelog.Log
	status *statushist.Recorder
	runs   *runhistory.History

	runningName string
}

func newRecorderSink(lines *linelog.Log, status *statushist.Recorder, runs *runhistory.History) *recorderSink {
	return &recorderSink{lines: lines, status: status, runs: runs}
}

// Emit implements grbl.Sink.
func (s *recorderSink) Emit(event string, payload any) {
	switch event {
	case "serialport:read":
		if line, ok := payload.(string); ok {
			s.lines.Add(linelog.Up, line)
		}
	case "serialport:write":
		if line, ok := payload.(string); ok {
			s.lines.Add(linelog.Down, line)
		}
	case "controller:state":
		if st, ok := payload.(grbl.Status); ok {
			s.status.Record(st, time.Now())
		}
	case "sender:status":
		if snap, ok := payload.(grbl.SenderSnapshot); ok {
			s.trackRun(snap)
		}
	}
}

// trackRun turns Sender snapshots into runhistory bookkeeping: a program
// name appearing starts a run, its disappearance (unload, or a fresh load)
// ends the previous one.
func (s *recorderSink) trackRun(snap grbl.SenderSnapshot) {
	now := time.Now()
	switch {
	case snap.Name == "" && s.runningName != "":
		s.runs.Finish(false, now)
		s.runningName = ""
	case snap.Name != "" && snap.Name != s.runningName:
		if s.runningName != "" {
			s.runs.Finish(false, now)
		}
		s.runs.Start(snap.Name, snap.Total, now)
		s.runningName = snap.Name
	case snap.Name != "" && snap.Name == s.runningName:
		s.runs.UpdateProgress(snap.Sent, snap.Received)
		if snap.Received >= snap.Total && snap.Total > 0 {
			s.runs.Finish(true, now)
			s.runningName = ""
		}
	}
}
