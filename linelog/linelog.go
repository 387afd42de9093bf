// SPDX-License-Identifier: AGPL-3.0-or-later

// Package linelog records every line sent or received over the serial
// link, keeping an in-memory, queryable history (for the HTTP /lines
// surface) and appending to a dated, session-numbered log file on disk.
// It merges the teacher's line_db.go (in-memory ScanRange/QueryOptions
// store) and payload_logger.go (periodic-fsync file writer) into one
// append path instead of two parallel ones.
package linelog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// Direction distinguishes a line read from the firmware ("up") from one
// written to it ("down").
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Line is one recorded line.
type Line struct {
	Num     int
	Dir     Direction
	Content string
	Time    time.Time
}

// FormatTime renders t the way the teacher's HTTP responses do.
func FormatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05.000-07:00")
}

// Log is the combined in-memory + on-disk line recorder.
type Log struct {
	mu      sync.RWMutex
	lines   []Line
	nextNum int

	file    *os.File
	fileMu  sync.Mutex
	dirty   bool
	done    chan struct{}
}

// Open creates logDir if needed and opens the next session's log file
// (YYYY-MM-DD-sessN-serial.txt, same naming as the teacher's
// PayloadLogger). A failure to open the file is logged but non-fatal:
// the in-memory history still works without a backing file.
func Open(logDir string) *Log {
	l := &Log{nextNum: 1, done: make(chan struct{})}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		slog.Error("failed to create log directory", "dir", logDir, "error", err)
		return l
	}

	name := nextSessionFile(logDir, time.Now())
	path := filepath.Join(logDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Error("failed to create log file", "path", path, "error", err)
		return l
	}
	l.file = f
	slog.Info("created line log file", "path", path)
	go l.flushLoop()
	return l
}

var sessionFilePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})-sess(\d+)-serial\.txt$`)

func nextSessionFile(logDir string, now time.Time) string {
	today := now.Format("2006-01-02")
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return fmt.Sprintf("%s-sess0-serial.txt", today)
	}

	maxSession := -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := sessionFilePattern.FindStringSubmatch(entry.Name())
		if len(m) != 3 || m[1] != today {
			continue
		}
		if n, err := strconv.Atoi(m[2]); err == nil && n > maxSession {
			maxSession = n
		}
	}
	return fmt.Sprintf("%s-sess%d-serial.txt", today, maxSession+1)
}

// Add records one line, assigning it the next monotonic line number.
func (l *Log) Add(dir Direction, content string) Line {
	now := time.Now()

	l.mu.Lock()
	line := Line{Num: l.nextNum, Dir: dir, Content: content, Time: now}
	l.nextNum++
	l.lines = append(l.lines, line)
	l.mu.Unlock()

	l.appendToFile(line)
	return line
}

func (l *Log) appendToFile(line Line) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.file == nil {
		return
	}
	text := fmt.Sprintf("%s %s %s\n", FormatTime(line.Time), line.Dir, line.Content)
	if _, err := l.file.WriteString(text); err != nil {
		slog.Error("failed to write line log", "error", err)
		return
	}
	l.dirty = true
}

func (l *Log) flushLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.fileMu.Lock()
			if l.dirty && l.file != nil {
				l.file.Sync()
				l.dirty = false
			}
			l.fileMu.Unlock()
		case <-l.done:
			return
		}
	}
}

// ScanRange selects a subset of Lines before filters are applied.
type ScanRange interface {
	Extract(lines []Line) []Line
}

// RangeScan selects lines [FromLine, ToLine), both 1-based and optional.
type RangeScan struct {
	FromLine *int
	ToLine   *int
}

// Extract implements ScanRange.
func (r RangeScan) Extract(lines []Line) []Line {
	start := 0
	if r.FromLine != nil && *r.FromLine > 0 {
		start = *r.FromLine - 1
		if start >= len(lines) {
			return nil
		}
	}
	end := len(lines)
	if r.ToLine != nil && *r.ToLine > 0 {
		end = *r.ToLine - 1
		if end > len(lines) {
			end = len(lines)
		}
	}
	if end < start {
		return nil
	}
	return lines[start:end]
}

// TailScan selects the last N lines.
type TailScan struct {
	N int
}

// Extract implements ScanRange.
func (t TailScan) Extract(lines []Line) []Line {
	if t.N <= 0 {
		return nil
	}
	if t.N >= len(lines) {
		return lines
	}
	return lines[len(lines)-t.N:]
}

// QueryOptions selects and filters a subset of the log (spec.md §6's
// traffic-log surface is supplemental, not part of the core).
type QueryOptions struct {
	Scan        ScanRange
	FilterDir   Direction
	FilterRegex *regexp.Regexp
}

// Query returns matching lines in ascending line-number order.
func (l *Log) Query(opts QueryOptions) []Line {
	l.mu.RLock()
	defer l.mu.RUnlock()

	lines := l.lines
	if opts.Scan != nil {
		lines = opts.Scan.Extract(lines)
	}

	var out []Line
	for _, ln := range lines {
		if opts.FilterDir != "" && ln.Dir != opts.FilterDir {
			continue
		}
		if opts.FilterRegex != nil && !opts.FilterRegex.MatchString(ln.Content) {
			continue
		}
		out = append(out, ln)
	}
	return out
}

// Close stops the flush loop and closes the backing file.
func (l *Log) Close() {
	if l.file == nil {
		return
	}
	close(l.done)
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.dirty {
		l.file.Sync()
	}
	l.file.Close()
	l.file = nil
}
