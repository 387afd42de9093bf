// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"testing"

	"pgregory.net/rapid"
)

func TestClassifyKinds(t *testing.T) {
	cases := []struct {
		name string
		line string
		kind Kind
	}{
		{"status", "<Idle|MPos:0.000,0.000,0.000|FS:0,0>", KindStatus},
		{"ok", "ok", KindOK},
		{"error numeric", "error:9", KindError},
		{"error text", "error: Invalid gcode", KindError},
		{"alarm numeric", "ALARM:1", KindAlarm},
		{"parserstate", "[GC:G0 G54 G17 G21 G90 G94 M5 M9 T0 F0 S0]", KindParserState},
		{"parameters g54", "[G54:0.000,0.000,0.000]", KindParameters},
		{"parameters tlo", "[TLO:0.000]", KindParameters},
		{"feedback msg", "[MSG:Caution: Unlocked]", KindFeedback},
		{"settings", "$110=500.000", KindSettings},
		{"startup", "Grbl 1.1h ['$' for help]", KindStartup},
		{"other", "some unexpected text", KindOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewLineParser()
			msgs := p.Feed([]byte(tc.line + "\n"))
			if len(msgs) != 1 {
				t.Fatalf("expected 1 message, got %d", len(msgs))
			}
			if msgs[0].Kind != tc.kind {
				t.Errorf("expected kind %s, got %s", tc.kind, msgs[0].Kind)
			}
		})
	}
}

func TestStatusFieldsParsed(t *testing.T) {
	p := NewLineParser()
	msgs := p.Feed([]byte("<Run|MPos:1.500,-2.250,0.000|FS:500,0|Ov:100,100,100|Bf:15,128>\n"))
	if len(msgs) != 1 || msgs[0].Kind != KindStatus {
		t.Fatalf("expected single status message, got %+v", msgs)
	}
	st := msgs[0].Status
	if st.ActiveState != StateRun {
		t.Errorf("expected Run, got %s", st.ActiveState)
	}
	if st.MachinePosition.X != 1.5 || st.MachinePosition.Y != -2.25 {
		t.Errorf("unexpected MPos: %+v", st.MachinePosition)
	}
	if !st.HaveFS || st.Feed != 500 {
		t.Errorf("unexpected FS: %+v", st)
	}
	if !st.HaveOv || st.Overrides != (Overrides{100, 100, 100}) {
		t.Errorf("unexpected Ov: %+v", st.Overrides)
	}
	if !st.HaveBuf || st.Buf != (BufState{Planner: 15, RX: 128}) {
		t.Errorf("unexpected Bf: %+v", st.Buf)
	}
}

func TestPartialTrailingLineProducesNoMessage(t *testing.T) {
	p := NewLineParser()
	msgs := p.Feed([]byte("ok\r\nerror:1\r\n[MSG:partial"))
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages before the trailing partial line, got %d", len(msgs))
	}
	if msgs[0].Kind != KindOK || msgs[1].Kind != KindError {
		t.Fatalf("unexpected kinds: %+v", msgs)
	}
}

func TestEmptyLinesIgnored(t *testing.T) {
	p := NewLineParser()
	msgs := p.Feed([]byte("\n\n  \nok\n\n"))
	if len(msgs) != 1 || msgs[0].Kind != KindOK {
		t.Fatalf("expected only the 'ok' line to produce a message, got %+v", msgs)
	}
}

func TestMalformedStatusFallsThroughPerField(t *testing.T) {
	p := NewLineParser()
	msgs := p.Feed([]byte("<Idle|MPos:not,a,number|FS:500,0>\n"))
	if len(msgs) != 1 || msgs[0].Kind != KindStatus {
		t.Fatalf("a structurally valid status line is never fatal: %+v", msgs)
	}
	if msgs[0].Status.MachinePosition != (Position{}) {
		t.Errorf("unparsable MPos field must be skipped, not zero-filled by coincidence: %+v", msgs[0].Status)
	}
	if !msgs[0].Status.HaveFS {
		t.Errorf("a sibling field's failure must not prevent FS from parsing")
	}
}

// TestChunkBoundariesDoNotAffectClassification is the invariant from
// spec.md §8: feeding the same line byte-by-byte must classify identically
// to feeding it whole.
func TestChunkBoundariesDoNotAffectClassification(t *testing.T) {
	lines := []string{
		"<Run|MPos:1.000,2.000,3.000|FS:100,0>",
		"ok",
		"error:3",
		"ALARM:9",
		"[GC:G0 G54 G17 G21 G90 G94 M5 M9 T0 F0 S0]",
		"[G54:0.000,0.000,0.000]",
		"[MSG:hello]",
		"$100=250.000",
		"Grbl 1.1h ['$' for help]",
	}

	rapid.Check(t, func(t *rapid.T) {
		whole := NewLineParser()
		var wholeMsgs []Message
		for _, l := range lines {
			wholeMsgs = append(wholeMsgs, whole.Feed([]byte(l+"\n"))...)
		}

		chunked := NewLineParser()
		data := []byte{}
		for _, l := range lines {
			data = append(data, []byte(l+"\n")...)
		}
		var chunkedMsgs []Message
		for len(data) > 0 {
			n := rapid.IntRange(1, len(data)).Draw(t, "chunkSize")
			chunkedMsgs = append(chunkedMsgs, chunked.Feed(data[:n])...)
			data = data[n:]
		}

		if len(wholeMsgs) != len(chunkedMsgs) {
			t.Fatalf("message count differs: whole=%d chunked=%d", len(wholeMsgs), len(chunkedMsgs))
		}
		for i := range wholeMsgs {
			if wholeMsgs[i].Kind != chunkedMsgs[i].Kind || wholeMsgs[i].Raw != chunkedMsgs[i].Raw {
				t.Fatalf("message %d differs: whole=%+v chunked=%+v", i, wholeMsgs[i], chunkedMsgs[i])
			}
		}
	})
}
