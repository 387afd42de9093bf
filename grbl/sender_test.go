// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"testing"

	"pgregory.net/rapid"
)

// TestSenderWorkedExample reproduces the scenario from spec.md §8 scenario
// 1 verbatim: bufferSize=20, three lines that all fit in one window.
func TestSenderWorkedExample(t *testing.T) {
	s := NewSender()
	s.bufferSize = 20
	if !s.Load("job", "G0 X1\nG1 Y2\nM30", nil) {
		t.Fatal("Load rejected valid program")
	}

	admitted := s.Next()
	if len(admitted) != 3 {
		t.Fatalf("expected all 3 lines admitted in one window, got %d: %v", len(admitted), admitted)
	}
	if s.DataLength() != 16 {
		t.Fatalf("expected dataLength=16, got %d", s.DataLength())
	}

	s.Ack()
	if s.program.Received != 1 || s.DataLength() != 10 {
		t.Fatalf("after 1 ack: received=%d dataLength=%d", s.program.Received, s.DataLength())
	}
	s.Ack()
	s.Ack()
	if s.program.Received != 3 || s.DataLength() != 0 {
		t.Fatalf("after 3 acks: received=%d dataLength=%d", s.program.Received, s.DataLength())
	}
	if !s.Done() {
		t.Fatal("expected Done() after all lines acknowledged")
	}
}

func TestSenderOversizedLineAdmittedOnlyWhenEmpty(t *testing.T) {
	s := NewSender()
	s.bufferSize = 10
	long := "G1 X123456789012345" // far longer than bufferSize
	if !s.Load("job", long+"\nG0 X0", nil) {
		t.Fatal("Load rejected valid program")
	}

	admitted := s.Next()
	if len(admitted) != 1 || admitted[0] != long {
		t.Fatalf("expected the oversized line alone to be admitted while window is empty, got %v", admitted)
	}
	if s.DataLength() <= s.BufferSize() {
		t.Fatalf("expected dataLength to exceed bufferSize after an oversized admission, got %d/%d", s.DataLength(), s.BufferSize())
	}

	// Window is non-empty now; the next line must not be admitted even
	// though it would fit on its own.
	more := s.Next()
	if len(more) != 0 {
		t.Fatalf("expected no further admission while dataLength>bufferSize, got %v", more)
	}

	s.Ack()
	more = s.Next()
	if len(more) != 1 || more[0] != "G0 X0" {
		t.Fatalf("expected second line admitted once window drains, got %v", more)
	}
}

func TestSenderEmptyLinesSkipWithoutConsumingWindow(t *testing.T) {
	s := NewSender()
	s.bufferSize = 20
	s.Load("job", "G0 X1\n\n   \nG1 Y2", nil)

	admitted := s.Next()
	if len(admitted) != 2 {
		t.Fatalf("expected only the 2 non-blank lines admitted, got %v", admitted)
	}
	if s.program.Sent != 4 {
		t.Fatalf("expected sent to advance past blank lines too, got %d", s.program.Sent)
	}
	if s.program.Received != 2 {
		t.Fatalf("expected blank lines to self-acknowledge, got received=%d", s.program.Received)
	}

	s.Ack()
	s.Ack()
	if !s.Done() {
		t.Fatal("expected Done() once the 2 real lines are acked")
	}
}

func TestSenderLoadRejectsEmptyProgram(t *testing.T) {
	s := NewSender()
	if s.Load("job", "   \n\n  ", nil) {
		t.Fatal("expected Load to reject an all-blank program")
	}
	if s.Program() != nil {
		t.Fatal("expected no program loaded after a rejected Load")
	}
}

func TestSenderLoadDoesNotResetBufferSize(t *testing.T) {
	s := NewSender()
	s.GrowBufferSize(500)
	s.Load("a", "G0 X1", nil)
	if s.BufferSize() != 500 {
		t.Fatalf("expected Load to leave bufferSize untouched, got %d", s.BufferSize())
	}
	s.Unload()
	if s.BufferSize() != 500 {
		t.Fatalf("expected Unload to leave bufferSize untouched, got %d", s.BufferSize())
	}
}

func TestSenderRewindPreservesProgramAndBufferSize(t *testing.T) {
	s := NewSender()
	s.bufferSize = 20
	s.Load("job", "G0 X1\nG1 Y2", nil)
	s.Next()
	s.Ack()

	s.Rewind()
	if s.DataLength() != 0 || s.program.Sent != 0 || s.program.Received != 0 {
		t.Fatalf("expected rewind to zero progress, got sent=%d received=%d dataLength=%d",
			s.program.Sent, s.program.Received, s.DataLength())
	}
	if s.BufferSize() != 20 {
		t.Fatalf("expected rewind to preserve bufferSize, got %d", s.BufferSize())
	}
	if s.Program() == nil {
		t.Fatal("expected rewind to keep the program loaded")
	}
}

// TestSenderInvariants checks the core bookkeeping invariants from spec.md
// §8 hold across arbitrary sequences of Next/Ack calls.
func TestSenderInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewSender()
		s.bufferSize = rapid.IntRange(5, 64).Draw(t, "bufferSize")

		n := rapid.IntRange(1, 12).Draw(t, "numLines")
		lines := make([]string, n)
		for i := range lines {
			width := rapid.IntRange(1, 8).Draw(t, "lineWidth")
			line := ""
			for j := 0; j < width; j++ {
				line += "X"
			}
			lines[i] = line
		}
		gcode := lines[0]
		for i := 1; i < len(lines); i++ {
			gcode += "\n" + lines[i]
		}
		s.Load("job", gcode, nil)

		steps := rapid.IntRange(0, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "doAck") && len(s.queue) > 0 {
				s.Ack()
			} else {
				s.Next()
			}

			sum := 0
			for _, v := range s.queue {
				sum += v
			}
			if sum != s.dataLength {
				t.Fatalf("dataLength %d != sum(queue) %d", s.dataLength, sum)
			}
			if s.program.Received < 0 || s.program.Received > s.program.Sent || s.program.Sent > s.program.Total {
				t.Fatalf("ordering invariant violated: received=%d sent=%d total=%d",
					s.program.Received, s.program.Sent, s.program.Total)
			}
		}
	})
}
