// SPDX-License-Identifier: AGPL-3.0-or-later

// grblhostd wires the protocol core to a real serial port and an HTTP demo
// surface, the way the teacher's main.go wires comm.Comm to its line
// storage and RPC handlers.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"grblhost/configstore"
	"grblhost/exprtranslate"
	"grblhost/filewatch"
	"grblhost/grbl"
	"grblhost/httpapi"
	"grblhost/linelog"
	"grblhost/runhistory"
	"grblhost/serialio"
	"grblhost/statushist"
	"grblhost/taskrunner"
)

const pollInterval = 250 * time.Millisecond

func main() {
	portName := flag.String("port", "COM3", "Serial port name")
	baud := flag.Int("baud", 115200, "Serial port baud rate")
	addr := flag.String("addr", ":9000", "HTTP listen address")
	logDir := flag.String("log-dir", "logs", "Directory for traffic log files")
	macroFile := flag.String("macro-file", "macros.yaml", "Macro store path")
	watchDir := flag.String("watch-dir", "gcode", "Directory of watched G-code files")
	taskTimeout := flag.Duration("task-timeout", 30*time.Second, "Timeout for system-trigger shell commands")
	verbose := flag.Bool("verbose", false, "Verbose logging")
	flag.Parse()

	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	logDirAbs, err := filepath.Abs(*logDir)
	if err != nil {
		slog.Error("failed to resolve log directory path", "logDir", *logDir, "error", err)
		return
	}
	macroFileAbs, err := filepath.Abs(*macroFile)
	if err != nil {
		slog.Error("failed to resolve macro file path", "macroFile", *macroFile, "error", err)
		return
	}
	watchDirAbs, err := filepath.Abs(*watchDir)
	if err != nil {
		slog.Error("failed to resolve watch directory path", "watchDir", *watchDir, "error", err)
		return
	}

	store, err := configstore.Open(macroFileAbs)
	if err != nil {
		slog.Error("failed to open macro store", "path", macroFileAbs, "error", err)
		return
	}

	// fileMonitor stays a nil interface value, not a nil *filewatch.Monitor,
	// when watching fails, so the controller's own "no file monitor bound"
	// nil check still works.
	var fileMonitor grbl.FileMonitor
	if monitor, err := filewatch.Watch(watchDirAbs); err != nil {
		slog.Warn("file watcher unavailable, watchdir:load disabled", "dir", watchDirAbs, "error", err)
	} else {
		defer monitor.Close()
		monitor.OnChange(func(name string) {
			slog.Info("watched g-code file changed", "name", name)
		})
		fileMonitor = monitor
	}

	runner := taskrunner.New(*taskTimeout)
	evaluator := exprtranslate.New()

	controller := grbl.NewController(nil, store, fileMonitor, runner, evaluator, nil)

	lines := linelog.Open(logDirAbs)
	defer lines.Close()
	statusRec := statushist.NewRecorder()
	runs := runhistory.New()
	controller.AddConnection(uuid.NewString(), newRecorderSink(lines, statusRec, runs))

	port, err := serialio.Open(*portName, *baud, controller.HandleData, func(err error) {
		controller.Conns().Broadcast("serialport:error", err.Error())
	})
	if err != nil {
		slog.Error("failed to open serial port", "port", *portName, "baud", *baud, "error", err)
		return
	}
	defer port.Close()
	controller.SetPort(port)
	controller.Conns().Broadcast("serialport:open", map[string]any{"port": *portName, "baud": *baud})

	go pollLoop(controller, store)

	api := httpapi.New(controller, lines, statusRec, runs)
	slog.Info("HTTP server started", "addr", *addr)
	if err := http.ListenAndServe(*addr, api.Handler()); err != nil {
		slog.Error("HTTP server error", "error", err)
	}
}

// pollLoop drives the 250ms poller and, once the startup banner has been
// seen for the first time, runs the reserved "startup" macro through the
// feeder exactly once (SPEC_FULL.md §3 "Init/startup lines").
func pollLoop(controller *grbl.Controller, store *configstore.Store) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	startupRun := false
	for now := range ticker.C {
		controller.Tick(now)
		if startupRun || !controller.Ready() {
			continue
		}
		startupRun = true
		if _, ok, err := store.Macro(configstore.StartupMacroID); err != nil || !ok {
			continue
		}
		if err := controller.Command("grblhostd", "macro:run", configstore.StartupMacroID, map[string]float64(nil)); err != nil {
			slog.Warn("startup macro failed", "error", err)
		}
	}
}
