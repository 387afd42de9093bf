// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reSettings = regexp.MustCompile(`^\$(\d+)=(.*)$`)
	reStartup  = regexp.MustCompile(`(?i)^Grbl\s+\d+\.\d+`)
	reError    = regexp.MustCompile(`(?i)^error:\s*(.*)$`)
	reAlarm    = regexp.MustCompile(`(?i)^ALARM:\s*(.*)$`)
)

var paramTags = map[string]bool{
	"G54": true, "G55": true, "G56": true, "G57": true, "G58": true, "G59": true,
	"G28": true, "G30": true, "G92": true, "TLO": true, "PRB": true,
}

var feedbackTags = map[string]bool{
	"MSG": true, "HLP": true, "echo": true,
}

// LineParser consumes bytes incrementally and emits one classified Message
// per terminated line (spec.md §4.1). It owns the last-known machine state
// and tolerates arbitrary chunk boundaries: a line split across two Feed
// calls is buffered until its terminator arrives, and no message is
// produced for a partial trailing line.
type LineParser struct {
	buf    []byte
	status Status
}

// NewLineParser returns a parser with zero-valued machine state.
func NewLineParser() *LineParser {
	return &LineParser{}
}

// Status returns the current machine state snapshot.
func (p *LineParser) Status() Status {
	return p.status
}

// Feed appends a chunk of bytes read from the serial port and returns the
// classified messages for every line the chunk completes. Bytes belonging
// to a not-yet-terminated line are retained for the next call.
func (p *LineParser) Feed(data []byte) []Message {
	p.buf = append(p.buf, data...)

	var msgs []Message
	for {
		idx := indexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		raw := string(p.buf[:idx])
		p.buf = p.buf[idx+1:]

		raw = strings.TrimRight(raw, "\r")
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		msgs = append(msgs, p.classify(raw))
	}
	return msgs
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func (p *LineParser) classify(raw string) Message {
	switch {
	case strings.HasPrefix(raw, "<") && strings.HasSuffix(raw, ">"):
		return p.classifyStatus(raw)
	case strings.EqualFold(raw, "ok"):
		return Message{Kind: KindOK, Raw: raw}
	case reError.MatchString(raw):
		return classifyError(raw)
	case reAlarm.MatchString(raw):
		return classifyAlarm(raw)
	case strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]"):
		return p.classifyBracket(raw)
	case reSettings.MatchString(raw):
		return classifySettings(raw)
	case reStartup.MatchString(raw):
		return Message{Kind: KindStartup, Raw: raw, Version: raw}
	default:
		return Message{Kind: KindOther, Raw: raw, Text: raw}
	}
}

func classifyError(raw string) Message {
	m := reError.FindStringSubmatch(raw)
	body := strings.TrimSpace(m[1])
	msg := Message{Kind: KindError, Raw: raw, Text: body}
	if n, err := strconv.Atoi(body); err == nil {
		msg.Code = n
	}
	return msg
}

func classifyAlarm(raw string) Message {
	m := reAlarm.FindStringSubmatch(raw)
	body := strings.TrimSpace(m[1])
	msg := Message{Kind: KindAlarm, Raw: raw, Text: body}
	if n, err := strconv.Atoi(body); err == nil {
		msg.Code = n
	}
	return msg
}

func classifySettings(raw string) Message {
	m := reSettings.FindStringSubmatch(raw)
	n, _ := strconv.Atoi(m[1])
	return Message{Kind: KindSettings, Raw: raw, SettingN: n, SettingV: m[2]}
}

// classifyBracket handles "[GC:...]", "[G54:...]", "[MSG:...]" and similar
// bracketed lines, picking parserstate / parameters / feedback by tag.
func (p *LineParser) classifyBracket(raw string) Message {
	inner := strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	tag, rest, hasColon := strings.Cut(inner, ":")
	tagUpper := strings.ToUpper(tag)

	if tagUpper == "GC" {
		modal := parseModal(rest)
		p.status.Modal = modal
		return Message{Kind: KindParserState, Raw: raw, Modal: modal}
	}
	if paramTags[tagUpper] {
		return Message{Kind: KindParameters, Raw: raw, ParamTag: tagUpper, ParamValue: rest}
	}
	for fbTag := range feedbackTags {
		if strings.EqualFold(tag, fbTag) {
			val := rest
			if !hasColon {
				val = inner
			}
			return Message{Kind: KindFeedback, Raw: raw, FeedbackTag: fbTag, Text: val}
		}
	}
	return Message{Kind: KindOther, Raw: raw, Text: raw}
}

// parseModal extracts modal words (e.g. "G0 G54 G17 G21 G90 G94 M0 M5 M9")
// out of a "[GC:...]" payload into named groups.
func parseModal(words string) Modal {
	var m Modal
	for _, w := range strings.Fields(words) {
		if w == "" {
			continue
		}
		switch w[0] {
		case 'G', 'g':
			switch w {
			case "G0", "G1", "G2", "G3", "G38.2", "G38.3", "G38.4", "G38.5", "G80":
				m.Motion = w
			case "G54", "G55", "G56", "G57", "G58", "G59":
				m.Coordinate = w
			case "G17", "G18", "G19":
				m.Plane = w
			case "G90", "G91":
				m.Distance = w
			case "G93", "G94":
				m.FeedMode = w
			}
		case 'M', 'm':
			switch w {
			case "M0", "M1", "M2", "M30":
				m.Program = w
			case "M3", "M4", "M5":
				m.Spindle = w
			case "M7", "M8", "M9":
				m.Coolant = w
			}
		}
	}
	return m
}

// classifyStatus parses a "<Idle|MPos:0,0,0|FS:0,0>" style line (spec.md
// §4.1), folding the recognized fields into the parser's machine state.
// Fields it does not recognize are ignored; a field it cannot parse is
// skipped without invalidating the rest of the line.
func (p *LineParser) classifyStatus(raw string) Message {
	inner := strings.TrimSuffix(strings.TrimPrefix(raw, "<"), ">")
	parts := strings.Split(inner, "|")
	if len(parts) == 0 {
		return Message{Kind: KindOther, Raw: raw, Text: raw}
	}

	st := p.status
	state, _, _ := strings.Cut(parts[0], ":")
	st.ActiveState = ActiveState(state)

	for _, part := range parts[1:] {
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		switch strings.ToUpper(key) {
		case "MPOS":
			if pos, ok := parsePosition(val); ok {
				st.MachinePosition = pos
			}
		case "WPOS":
			if pos, ok := parsePosition(val); ok {
				st.WorkPosition = pos
			}
		case "FS":
			fields := strings.Split(val, ",")
			if len(fields) >= 2 {
				f, errF := strconv.ParseFloat(fields[0], 64)
				s, errS := strconv.ParseFloat(fields[1], 64)
				if errF == nil && errS == nil {
					st.Feed, st.Spindle = f, s
					st.HaveFS = true
				}
			}
		case "OV":
			fields := strings.Split(val, ",")
			if len(fields) >= 3 {
				f, errF := strconv.Atoi(fields[0])
				r, errR := strconv.Atoi(fields[1])
				s, errS := strconv.Atoi(fields[2])
				if errF == nil && errR == nil && errS == nil {
					st.Overrides = Overrides{Feed: f, Rapid: r, Spindle: s}
					st.HaveOv = true
				}
			}
		case "BF":
			fields := strings.Split(val, ",")
			if len(fields) >= 2 {
				planner, errP := strconv.Atoi(fields[0])
				rx, errR := strconv.Atoi(fields[1])
				if errP == nil && errR == nil {
					st.Buf = BufState{Planner: planner, RX: rx}
					st.HaveBuf = true
				}
			}
		case "A":
			st.Accessories = val
		}
	}

	p.status = st
	return Message{Kind: KindStatus, Raw: raw, Status: st}
}

func parsePosition(val string) (Position, bool) {
	fields := strings.Split(val, ",")
	if len(fields) < 3 {
		return Position{}, false
	}
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Position{}, false
		}
		vals[i] = v
	}
	pos := Position{}
	axes := []*float64{&pos.X, &pos.Y, &pos.Z, &pos.A, &pos.B, &pos.C}
	for i := 0; i < len(vals) && i < len(axes); i++ {
		*axes[i] = vals[i]
	}
	return pos, true
}
