// SPDX-License-Identifier: AGPL-3.0-or-later
package grbl

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

const (
	pollInterval          = 250 * time.Millisecond
	parserStateThrottle   = 500 * time.Millisecond
	statusReportStallTime = 5 * time.Second
	parserStateStallTime  = 10 * time.Second
	softResetDelay        = 500 * time.Millisecond
)

// realtimeBytes is the set of single bytes Grbl acts on immediately,
// without a trailing newline and without an "ok" acknowledgement
// (spec.md §4.6 writeln rule).
var realtimeBytes = map[byte]bool{
	'?': true, '~': true, '!': true, 0x18: true, 0x84: true, 0x85: true,
	0x90: true, 0x91: true, 0x92: true, 0x93: true, 0x94: true,
	0x95: true, 0x96: true, 0x97: true,
	0x99: true, 0x9a: true, 0x9b: true, 0x9c: true, 0x9d: true,
}

var errorMessages = map[int]string{
	1: "Expected command letter", 2: "Bad number format", 3: "Invalid statement",
	9: "G-code locked out during alarm or jog state", 20: "Unsupported command",
}

var alarmMessages = map[int]string{
	1: "Hard limit triggered", 2: "G-code motion target exceeds machine travel",
	3: "Reset while in motion", 9: "Homing fail",
}

func formatError(code int) string {
	if msg, ok := errorMessages[code]; ok {
		return fmt.Sprintf("error:%d (%s)", code, msg)
	}
	return fmt.Sprintf("error:%d", code)
}

func formatAlarm(code int) string {
	if msg, ok := alarmMessages[code]; ok {
		return fmt.Sprintf("ALARM:%d (%s)", code, msg)
	}
	return fmt.Sprintf("ALARM:%d", code)
}

// actionFlags tracks the in-flight poll/echo bookkeeping owned by the
// Controller (spec.md §3).
type actionFlags struct {
	queryParserStateState bool
	queryParserStateReply bool
	queryStatusReport     bool
	replyParserState      bool
	replyStatusReport     bool

	queryParserStateAt time.Time
	queryStatusAt      time.Time
	lastParserStateAt  time.Time

	bufferedParserState Message
}

func (f *actionFlags) clear() {
	*f = actionFlags{}
}

// Controller is the orchestrator binding the Line Parser, Feeder, Sender,
// Workflow and Event Trigger to a single serial connection (spec.md §4.6).
type Controller struct {
	port     SerialPort
	parser   *LineParser
	feeder   *Feeder
	sender   *Sender
	workflow *Workflow
	trigger  *EventTrigger
	conns    *Connections

	configStore ConfigStore
	fileMonitor FileMonitor
	taskRunner  TaskRunner
	evaluator   ExpressionEvaluator
	clock       Clock

	flags   actionFlags
	ready   bool
	alarmed bool

	lastState       Status
	haveLastState   bool
	lastSenderState SenderSnapshot

	lastEmittedState Status
	haveEmittedState bool

	handlers map[string]func(client string, args []any) error

	afterFunc func(d time.Duration, f func())
}

// NewController wires a Controller around an already-open serial port.
// Any collaborator may be nil; the corresponding command surface entries
// become no-ops (spec.md §9 "global singletons" — inject, don't reach for
// ambient state).
func NewController(port SerialPort, configStore ConfigStore, fileMonitor FileMonitor, taskRunner TaskRunner, evaluator ExpressionEvaluator, clock Clock) *Controller {
	if clock == nil {
		clock = SystemClock()
	}
	c := &Controller{
		port:        port,
		parser:      NewLineParser(),
		feeder:      NewFeeder(),
		sender:      NewSender(),
		conns:       NewConnections(),
		configStore: configStore,
		fileMonitor: fileMonitor,
		taskRunner:  taskRunner,
		evaluator:   evaluator,
		clock:       clock,
		afterFunc:   func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
	c.workflow = NewWorkflow(c.onWorkflowEvent)
	c.trigger = NewEventTrigger(taskRunner, func(line string) {
		c.feeder.Feed([]string{line}, nil)
	})
	c.registerHandlers()
	return c
}

func (c *Controller) onWorkflowEvent(event string) {
	switch event {
	case "start", "stop":
		c.sender.Rewind()
	case "resume":
		c.pumpSender()
	}
}

// AddConnection attaches sink under id and sends it the current snapshot.
func (c *Controller) AddConnection(id string, sink Sink) {
	var statePtr *Status
	if c.haveLastState {
		st := c.lastState
		statePtr = &st
	}
	snap := c.sender.ToJSON()
	c.conns.Add(id, sink, statePtr, &snap)
}

// RemoveConnection detaches id.
func (c *Controller) RemoveConnection(id string) {
	c.conns.Remove(id)
}

// SetPort attaches the serial transport after construction. This resolves
// the construction-order cycle between the controller (whose HandleData
// the port's read loop must call) and the port (which the controller needs
// to write to): callers open the port with its data/error callbacks bound
// to a not-yet-existent controller, construct the controller with a nil
// port, then call SetPort once both exist.
func (c *Controller) SetPort(port SerialPort) {
	c.port = port
}

// Conns returns the connection registry so transport wiring code can
// broadcast transport-level events (serialport:open/close/error) the core
// itself has no opinion on.
func (c *Controller) Conns() *Connections {
	return c.conns
}

// Ready reports whether the startup banner has been seen since the last
// Close, the same gate Tick checks before issuing its polls. Command does
// not check it.
func (c *Controller) Ready() bool {
	return c.ready
}

// HandleData feeds a chunk of bytes read from the serial transport through
// the Line Parser and routes each resulting message.
func (c *Controller) HandleData(data []byte) {
	for _, msg := range c.parser.Feed(data) {
		c.route(msg)
	}
}

// route dispatches a parsed message. Forwarding to clients is selective per
// kind (spec.md §4.6), not blanket: each branch below decides for itself
// whether the raw line reaches serialport:read.
func (c *Controller) route(msg Message) {
	switch msg.Kind {
	case KindOK:
		c.routeOK(msg)
	case KindError:
		c.routeError(msg)
	case KindStatus:
		c.routeStatus(msg)
	case KindParserState:
		c.routeParserState(msg)
	case KindAlarm:
		c.conns.Broadcast("serialport:read", formatAlarm(msg.Code))
		c.feeder.Clear()
		c.alarmed = true
	case KindStartup:
		c.conns.Broadcast("serialport:read", msg.Raw)
		c.ready = true
		c.flags.clear()
		c.alarmed = false
	case KindSettings, KindParameters, KindFeedback, KindOther:
		c.conns.Broadcast("serialport:read", msg.Raw)
	}
}

func (c *Controller) routeOK(msg Message) {
	if c.flags.queryParserStateReply {
		c.flags.queryParserStateReply = false
		if c.flags.replyParserState {
			c.conns.Broadcast("serialport:read", c.flags.bufferedParserState.Raw)
			c.flags.replyParserState = false
		}
		return
	}
	if c.workflow.State() == WorkflowRunning {
		c.sender.Ack()
		c.pumpSender()
		return
	}
	c.conns.Broadcast("serialport:read", msg.Raw)
	c.pumpFeeder()
}

func (c *Controller) routeError(msg Message) {
	if c.workflow.State() == WorkflowRunning {
		lineNo := 1
		if c.sender.Program() != nil {
			lineNo = c.sender.Program().Received + 1
		}
		c.conns.Broadcast("serialport:read", msg.Raw)
		c.conns.Broadcast("sender:status", fmt.Sprintf("line %d: %s", lineNo, formatError(msg.Code)))
		c.sender.Ack()
		c.pumpSender()
		return
	}
	c.conns.Broadcast("serialport:read", msg.Raw)
	c.conns.Broadcast("sender:status", formatError(msg.Code))
	c.pumpFeeder()
}

func (c *Controller) routeStatus(msg Message) {
	c.flags.queryStatusReport = false
	c.lastState = msg.Status
	c.haveLastState = true
	if c.workflow.State() == WorkflowIdle && c.sender.DataLength() == 0 && msg.Status.HaveBuf {
		c.sender.GrowBufferSize(msg.Status.Buf.RX)
	}
	if c.flags.replyStatusReport {
		c.conns.Broadcast("serialport:read", msg.Raw)
		c.flags.replyStatusReport = false
	}
}

func (c *Controller) routeParserState(msg Message) {
	c.flags.queryParserStateState = false
	c.flags.queryParserStateReply = true
	c.flags.bufferedParserState = msg
	if c.flags.replyParserState {
		c.conns.Broadcast("serialport:read", msg.Raw)
	}
}

// pumpSender writes every line the Sender currently admits.
func (c *Controller) pumpSender() {
	if c.sender.Program() == nil {
		return
	}
	ctx := c.sender.Program().Context
	for _, line := range c.sender.Next() {
		c.writeln(c.translate(line, ctx))
	}
	snap := c.sender.ToJSON()
	c.lastSenderState = snap
	c.conns.Broadcast("sender:status", snap)
}

// pumpFeeder writes one ad-hoc line if any is pending.
func (c *Controller) pumpFeeder() {
	fl, ok := c.feeder.Next()
	if !ok {
		return
	}
	c.writeln(c.translate(fl.Line, fl.Context))
}

func (c *Controller) translate(line string, ctx map[string]float64) string {
	return TranslateContext(c.evaluator, line, c.lastState.WorkPosition, ctx)
}

// Tick drives the 250ms poller (spec.md §4.6). now is the caller's current
// time; passing it explicitly keeps stall recovery deterministic in tests.
func (c *Controller) Tick(now time.Time) {
	if c.feeder.IsPending() {
		if fl, ok := c.feeder.Peek(); ok {
			c.conns.Broadcast("feeder:status", fl.Line)
		}
	}
	snap := c.sender.ToJSON()
	if snap != c.lastSenderState {
		c.lastSenderState = snap
		c.conns.Broadcast("sender:status", snap)
	}

	if c.haveLastState && (!c.haveEmittedState || c.lastState != c.lastEmittedState) {
		c.lastEmittedState = c.lastState
		c.haveEmittedState = true
		c.conns.Broadcast("controller:state", c.lastState)
	}

	if !c.ready {
		return
	}

	if c.flags.queryStatusReport && now.Sub(c.flags.queryStatusAt) >= statusReportStallTime {
		c.flags.queryStatusReport = false
	}
	if c.flags.queryParserStateState && now.Sub(c.flags.queryParserStateAt) >= parserStateStallTime {
		c.flags.queryParserStateState = false
	}

	if !c.flags.queryStatusReport {
		c.flags.queryStatusReport = true
		c.flags.queryStatusAt = now
		c.writeSilent([]byte("?"))
	}
	if !c.flags.queryParserStateState && now.Sub(c.flags.lastParserStateAt) >= parserStateThrottle {
		c.flags.queryParserStateState = true
		c.flags.queryParserStateAt = now
		c.flags.lastParserStateAt = now
		c.writeSilent([]byte("$G\n"))
	}
}

// write emits the serialport:write event, updates the echo flags, and
// writes bytes to the port.
func (c *Controller) write(data []byte) {
	if len(data) == 1 && data[0] == '?' {
		c.flags.replyStatusReport = true
	}
	if strings.TrimSpace(string(data)) == "$G" {
		c.flags.replyParserState = true
	}
	c.writeSilent(data)
}

// writeSilent emits the serialport:write event and writes bytes to the
// port without touching the echo-reply flags. The controller's own 250ms
// poll (spec.md §4.6) goes through here: replyStatusReport/replyParserState
// are reserved for a user-originated `?`/`$G`, never the poller's own
// (spec.md §3), so the poller's writes must not set them.
func (c *Controller) writeSilent(data []byte) {
	c.conns.Broadcast("serialport:write", string(data))
	if c.port != nil {
		if err := c.port.Write(data); err != nil {
			c.conns.Broadcast("serialport:error", err.Error())
		}
	}
}

// writeln sends data bare if it is a single realtime byte, or followed by
// a newline otherwise (spec.md §4.6).
func (c *Controller) writeln(data string) {
	if len(data) == 1 && realtimeBytes[data[0]] {
		c.write([]byte(data))
		return
	}
	c.write([]byte(data + "\n"))
}

// Close tears the connection down: stops all pending poll state, discards
// the sender and feeder, forces the workflow idle, and empties the
// connection registry (spec.md §5).
func (c *Controller) Close() {
	c.flags.clear()
	c.ready = false
	c.sender = NewSender()
	c.feeder = NewFeeder()
	c.workflow.Stop()
	c.conns.Clear()
	if c.port != nil {
		c.port.Close()
	}
}

// Command dispatches one command-surface invocation by name (spec.md
// §4.6). Unknown commands are logged and are no-ops.
func (c *Controller) Command(client, name string, args ...any) error {
	h, ok := c.handlers[name]
	if !ok {
		slog.Error("unknown command", "name", name)
		return fmt.Errorf("unknown command %q", name)
	}
	return h(client, args)
}

func (c *Controller) registerHandlers() {
	c.handlers = map[string]func(client string, args []any) error{
		"gcode":            c.cmdGcode,
		"gcode:load":       c.cmdGcodeLoad,
		"gcode:unload":     c.cmdGcodeUnload,
		"gcode:start":      c.cmdGcodeStart,
		"gcode:stop":       c.cmdGcodeStop,
		"gcode:pause":      c.cmdGcodePause,
		"gcode:resume":     c.cmdGcodeResume,
		"feedhold":         c.cmdFeedhold,
		"cyclestart":       c.cmdCyclestart,
		"statusreport":     c.cmdStatusReport,
		"homing":           c.cmdHoming,
		"sleep":            c.cmdSleep,
		"unlock":           c.cmdUnlock,
		"reset":            c.cmdReset,
		"feedOverride":     c.cmdFeedOverride,
		"spindleOverride":  c.cmdSpindleOverride,
		"rapidOverride":    c.cmdRapidOverride,
		"lasertest:on":     c.cmdLasertestOn,
		"lasertest:off":    c.cmdLasertestOff,
		"macro:run":        c.cmdMacroRun,
		"macro:load":       c.cmdMacroLoad,
		"watchdir:load":    c.cmdWatchdirLoad,
		"start":            c.deprecated("gcode:start", c.cmdGcodeStart),
		"stop":             c.deprecated("gcode:stop", c.cmdGcodeStop),
		"pause":            c.deprecated("gcode:pause", c.cmdGcodePause),
		"resume":           c.deprecated("gcode:resume", c.cmdGcodeResume),
	}
}

func (c *Controller) deprecated(alias string, target func(client string, args []any) error) func(string, []any) error {
	return func(client string, args []any) error {
		slog.Warn("deprecated command used", "used", alias)
		return target(client, args)
	}
}

func (c *Controller) cmdGcode(client string, args []any) error {
	if c.alarmed {
		slog.Warn("gcode dropped while alarmed")
		return fmt.Errorf("machine is alarmed")
	}
	lines, ctx := splitGcodeArgs(args)
	wasEmpty := !c.feeder.IsPending()
	c.feeder.Feed(lines, ctx)
	if wasEmpty {
		c.pumpFeeder()
	}
	return nil
}

func (c *Controller) cmdGcodeLoad(client string, args []any) error {
	name, _ := argString(args, 0)
	gcode, _ := argString(args, 1)
	ctx, _ := argContext(args, 2)
	c.trigger.Fire("gcode:load")
	if !c.sender.Load(name, gcode, ctx) {
		return fmt.Errorf("empty or invalid program")
	}
	if len(ctx) > 0 {
		prog := c.sender.Program()
		for i, l := range prog.Lines {
			prog.Lines[i] = c.translate(l, ctx)
		}
	}
	c.workflow.Stop()
	return nil
}

func (c *Controller) cmdGcodeUnload(client string, args []any) error {
	c.trigger.Fire("gcode:unload")
	c.workflow.Stop()
	c.sender.Unload()
	return nil
}

func (c *Controller) cmdGcodeStart(client string, args []any) error {
	c.trigger.Fire("gcode:start")
	c.workflow.Start()
	c.feeder.Clear()
	c.pumpSender()
	return nil
}

func (c *Controller) cmdGcodeStop(client string, args []any) error {
	c.trigger.Fire("gcode:stop")
	wasRun := c.lastState.ActiveState == StateRun
	c.workflow.Stop()
	if wasRun {
		c.write([]byte("!"))
		c.afterFunc(softResetDelay, func() { c.write([]byte{0x18}) })
	}
	return nil
}

func (c *Controller) cmdGcodePause(client string, args []any) error {
	c.trigger.Fire("gcode:pause")
	c.workflow.Pause()
	c.write([]byte("!"))
	return nil
}

func (c *Controller) cmdGcodeResume(client string, args []any) error {
	c.trigger.Fire("gcode:resume")
	c.write([]byte("~"))
	c.workflow.Resume()
	return nil
}

func (c *Controller) cmdFeedhold(client string, args []any) error {
	c.trigger.Fire("feedhold")
	c.write([]byte("!"))
	return nil
}

func (c *Controller) cmdCyclestart(client string, args []any) error {
	c.trigger.Fire("cyclestart")
	c.write([]byte("~"))
	return nil
}

func (c *Controller) cmdStatusReport(client string, args []any) error {
	c.write([]byte("?"))
	c.flags.replyStatusReport = true
	return nil
}

func (c *Controller) cmdHoming(client string, args []any) error {
	c.trigger.Fire("homing")
	c.write([]byte("$H\n"))
	return nil
}

func (c *Controller) cmdSleep(client string, args []any) error {
	c.trigger.Fire("sleep")
	c.write([]byte("$SLP\n"))
	return nil
}

func (c *Controller) cmdUnlock(client string, args []any) error {
	c.trigger.Fire("unlock")
	c.write([]byte("$X\n"))
	c.alarmed = false
	return nil
}

func (c *Controller) cmdReset(client string, args []any) error {
	c.trigger.Fire("reset")
	c.workflow.Stop()
	c.feeder.Clear()
	c.write([]byte{0x18})
	c.alarmed = false
	return nil
}

var feedOverrideBytes = map[int]byte{0: 0x90, 10: 0x91, -10: 0x92, 1: 0x93, -1: 0x94}
var spindleOverrideBytes = map[int]byte{0: 0x99, 10: 0x9a, -10: 0x9b, 1: 0x9c, -1: 0x9d}

func (c *Controller) cmdFeedOverride(client string, args []any) error {
	v, _ := argInt(args, 0)
	b, ok := feedOverrideBytes[v]
	if !ok {
		return fmt.Errorf("unsupported feed override value %d", v)
	}
	c.write([]byte{b})
	return nil
}

func (c *Controller) cmdSpindleOverride(client string, args []any) error {
	v, _ := argInt(args, 0)
	b, ok := spindleOverrideBytes[v]
	if !ok {
		return fmt.Errorf("unsupported spindle override value %d", v)
	}
	c.write([]byte{b})
	return nil
}

func (c *Controller) cmdRapidOverride(client string, args []any) error {
	v, _ := argInt(args, 0)
	var b byte
	switch v {
	case 0, 100:
		b = 0x95
	case 50:
		b = 0x96
	case 25:
		b = 0x97
	default:
		return fmt.Errorf("unsupported rapid override value %d", v)
	}
	c.write([]byte{b})
	return nil
}

func (c *Controller) cmdLasertestOn(client string, args []any) error {
	power, _ := argFloat(args, 0)
	durationMs, _ := argFloat(args, 1)
	c.trigger.Fire("lasertest:on")
	lines := []string{"G1F1", fmt.Sprintf("M3S%g", math.Abs(power))}
	if durationMs > 0 {
		lines = append(lines, fmt.Sprintf("G4P%g", durationMs/1000), "M5S0")
	}
	c.feeder.Feed(lines, nil)
	return nil
}

func (c *Controller) cmdLasertestOff(client string, args []any) error {
	c.trigger.Fire("lasertest:off")
	c.feeder.Feed([]string{"M5S0"}, nil)
	return nil
}

func (c *Controller) cmdMacroRun(client string, args []any) error {
	id, _ := argString(args, 0)
	ctx, _ := argContext(args, 1)
	if c.configStore == nil {
		return fmt.Errorf("no configuration store bound")
	}
	m, ok, err := c.configStore.Macro(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("macro %q not found", id)
	}
	c.trigger.Fire("macro:run")
	return c.cmdGcode(client, []any{m.Content, ctx})
}

func (c *Controller) cmdMacroLoad(client string, args []any) error {
	id, _ := argString(args, 0)
	ctx, _ := argContext(args, 1)
	if c.configStore == nil {
		return fmt.Errorf("no configuration store bound")
	}
	m, ok, err := c.configStore.Macro(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("macro %q not found", id)
	}
	c.trigger.Fire("macro:load")
	return c.cmdGcodeLoad(client, []any{m.Name, m.Content, ctx})
}

func (c *Controller) cmdWatchdirLoad(client string, args []any) error {
	path, _ := argString(args, 0)
	if c.fileMonitor == nil {
		return fmt.Errorf("no file monitor bound")
	}
	content, err := c.fileMonitor.ReadFile(path)
	if err != nil {
		return err
	}
	return c.cmdGcodeLoad(client, []any{path, content, map[string]float64(nil)})
}

func splitGcodeArgs(args []any) ([]string, map[string]float64) {
	var lines []string
	switch v := firstArg(args).(type) {
	case []string:
		lines = v
	case string:
		lines = strings.Split(v, "\n")
	}
	var nonEmpty []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	ctx, _ := argContext(args, 1)
	return nonEmpty, ctx
}

func firstArg(args []any) any {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func argString(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func argFloat(args []any, i int) (float64, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func argInt(args []any, i int) (int, bool) {
	if i >= len(args) {
		return 0, false
	}
	switch v := args[i].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

func argContext(args []any, i int) (map[string]float64, bool) {
	if i >= len(args) {
		return nil, false
	}
	m, ok := args[i].(map[string]float64)
	return m, ok
}
