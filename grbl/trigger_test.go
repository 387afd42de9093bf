// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import "testing"

type fakeRunner struct {
	calls []string
}

func (f *fakeRunner) Run(cmd string) {
	f.calls = append(f.calls, cmd)
}

func TestEventTriggerSystemKind(t *testing.T) {
	runner := &fakeRunner{}
	tr := NewEventTrigger(runner, nil)
	tr.Configure("homing", TriggerSystem, "notify-homing.sh")

	tr.Fire("homing")
	if len(runner.calls) != 1 || runner.calls[0] != "notify-homing.sh" {
		t.Fatalf("expected system command run once, got %v", runner.calls)
	}
}

func TestEventTriggerGcodeKind(t *testing.T) {
	var fed []string
	tr := NewEventTrigger(nil, func(line string) { fed = append(fed, line) })
	tr.Configure("gcode:start", TriggerGcode, "G21\nG90\n\n")

	tr.Fire("gcode:start")
	want := []string{"G21", "G90"}
	if len(fed) != len(want) {
		t.Fatalf("expected %v, got %v", want, fed)
	}
	for i := range want {
		if fed[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, fed)
		}
	}
}

func TestEventTriggerMissingIsIgnored(t *testing.T) {
	runner := &fakeRunner{}
	tr := NewEventTrigger(runner, func(string) { t.Fatal("unexpected gcode feed") })
	tr.Fire("no-such-event")
	if len(runner.calls) != 0 {
		t.Fatalf("expected no calls for an unconfigured event, got %v", runner.calls)
	}
}
