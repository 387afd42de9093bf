// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import "strings"

// TriggerKind distinguishes a named event's dispatch target (spec.md §4.5).
type TriggerKind string

const (
	TriggerGcode  TriggerKind = "gcode"
	TriggerSystem TriggerKind = "system"
)

// TriggerEntry is one configured (kind, commands) pair bound to an event
// name.
type TriggerEntry struct {
	Kind     TriggerKind
	Commands string
}

// EventTrigger maps named lifecycle events to configured command lists,
// dispatched either as G-code fed back through the controller or as system
// tasks handed to the external task runner.
type EventTrigger struct {
	entries map[string]TriggerEntry
	runner  TaskRunner
	feedGcode func(line string)
}

// NewEventTrigger returns a trigger table bound to a task runner for
// system-kind entries and a gcode sink for gcode-kind entries. Either may
// be nil, in which case the corresponding entries are no-ops.
func NewEventTrigger(runner TaskRunner, feedGcode func(line string)) *EventTrigger {
	return &EventTrigger{
		entries:   make(map[string]TriggerEntry),
		runner:    runner,
		feedGcode: feedGcode,
	}
}

// Configure replaces the configured entry for event.
func (t *EventTrigger) Configure(event string, kind TriggerKind, commands string) {
	t.entries[event] = TriggerEntry{Kind: kind, Commands: commands}
}

// Fire looks up event and dispatches it. Missing triggers are silently
// ignored, per spec.md §4.5.
func (t *EventTrigger) Fire(event string) {
	entry, ok := t.entries[event]
	if !ok {
		return
	}
	if entry.Kind == TriggerSystem {
		if t.runner != nil {
			t.runner.Run(entry.Commands)
		}
		return
	}
	if t.feedGcode == nil {
		return
	}
	for _, line := range strings.Split(entry.Commands, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		t.feedGcode(line)
	}
}
