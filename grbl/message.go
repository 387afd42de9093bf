// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

// Kind classifies one complete line emitted by the Line Parser (spec.md
// §4.1).
type Kind string

const (
	KindStatus      Kind = "status"
	KindOK          Kind = "ok"
	KindError       Kind = "error"
	KindAlarm       Kind = "alarm"
	KindParserState Kind = "parserstate"
	KindParameters  Kind = "parameters"
	KindFeedback    Kind = "feedback"
	KindSettings    Kind = "settings"
	KindStartup     Kind = "startup"
	KindOther       Kind = "other"
)

// Message is one classified line. Raw always holds the original
// (trimmed) text; the remaining fields are populated according to Kind.
type Message struct {
	Kind Kind
	Raw  string

	// KindError / KindAlarm
	Code int // 0 if the firmware sent a description instead of a number
	Text string

	// KindStatus
	Status Status

	// KindParserState
	Modal Modal

	// KindSettings: "$N=V"
	SettingN int
	SettingV string

	// KindParameters: tag without brackets, e.g. "G54", "TLO"
	ParamTag   string
	ParamValue string

	// KindFeedback: tag without brackets, e.g. "MSG", "HLP", "echo"
	FeedbackTag string

	// KindStartup
	Version string
}
