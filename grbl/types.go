// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

// Position holds a six-axis coordinate. Grbl itself speaks XYZ (and ABC on
// wider builds); unused axes simply stay zero.
type Position struct {
	X, Y, Z, A, B, C float64
}

// ActiveState is the coarse execution mode reported in a status line.
type ActiveState string

const (
	StateIdle  ActiveState = "Idle"
	StateRun   ActiveState = "Run"
	StateHold  ActiveState = "Hold"
	StateJog   ActiveState = "Jog"
	StateAlarm ActiveState = "Alarm"
	StateDoor  ActiveState = "Door"
	StateCheck ActiveState = "Check"
	StateHome  ActiveState = "Home"
	StateSleep ActiveState = "Sleep"
)

// BufState is the firmware's receive/planner buffer occupancy, as reported
// in a status line's "Bf:" field.
type BufState struct {
	RX      int
	Planner int
}

// Modal is the last-seen parser modal state, as reported in a `[GC:...]`
// line.
type Modal struct {
	Motion     string // G0, G1, G2, G3, ...
	Coordinate string // G54..G59
	Plane      string // G17, G18, G19
	Distance   string // G90, G91
	FeedMode   string // G93, G94
	Program    string // M0, M1, M2, M30
	Spindle    string // M3, M4, M5
	Coolant    string // M7, M8, M9
}

// Status is the machine state owned by the Line Parser and read by every
// other component. Each field reflects the most recently, fully parsed
// message of the relevant kind; a partial or malformed line never mutates
// it (spec.md §3 invariant).
type Status struct {
	ActiveState    ActiveState
	WorkPosition   Position
	MachinePosition Position
	Buf            BufState
	HaveBuf        bool
	Feed           float64
	Spindle        float64
	HaveFS         bool
	Overrides      Overrides
	HaveOv         bool
	Accessories    string
	Modal          Modal
}

// Overrides holds the feed/rapid/spindle override percentages from a
// status line's "Ov:" field.
type Overrides struct {
	Feed   int
	Rapid  int
	Spindle int
}

// Clone returns a deep copy, so callers never alias the parser's live
// state.
func (s Status) Clone() Status {
	return s
}
