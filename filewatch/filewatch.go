// SPDX-License-Identifier: AGPL-3.0-or-later

// Package filewatch implements the grbl.FileMonitor collaborator: it
// watches a directory of G-code files with fsnotify and serves their
// content on demand, the file-monitoring subsystem spec.md §1 scopes out
// of the core and §6 leaves as an abstract ReadFile collaborator.
package filewatch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Monitor watches dir for G-code file changes and notifies OnChange (if
// set) with the changed file's base name.
type Monitor struct {
	dir     string
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	onChange func(name string)
}

// Watch starts watching dir. Watching can fail (missing directory,
// permission); Watch then returns the error and no Monitor, so there is
// no ReadFile either. On success, ReadFile reads files on demand and does
// not depend on change events.
func Watch(dir string) (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filewatch: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("filewatch: watch %s: %w", dir, err)
	}
	m := &Monitor{dir: dir, watcher: w}
	go m.loop()
	return m, nil
}

// OnChange registers a callback invoked (from the watch goroutine) with
// the base name of any file created or written under dir.
func (m *Monitor) OnChange(f func(name string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = f
}

func (m *Monitor) loop() {
	for {
		select {
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m.mu.Lock()
			cb := m.onChange
			m.mu.Unlock()
			if cb != nil {
				cb(filepath.Base(ev.Name))
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("filewatch error", "dir", m.dir, "error", err)
		}
	}
}

// ReadFile implements grbl.FileMonitor: it resolves name against the
// watched directory (rejecting any attempt to escape it) and returns its
// content whole.
func (m *Monitor) ReadFile(name string) (string, error) {
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || hasParentRef(clean) {
		return "", fmt.Errorf("filewatch: invalid path %q", name)
	}
	full := filepath.Join(m.dir, clean)
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("filewatch: read %s: %w", full, err)
	}
	return string(data), nil
}

func hasParentRef(p string) bool {
	return p == ".." || len(p) >= 3 && p[:3] == "../"
}

// Close stops the watcher.
func (m *Monitor) Close() error {
	return m.watcher.Close()
}
