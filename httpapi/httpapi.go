// SPDX-License-Identifier: AGPL-3.0-or-later

// Package httpapi is a thin JSON demonstration surface over grbl.Controller
// and the traffic/status/run history packages, adapted from the teacher's
// server.go (same registerJsonHandler[Req,Resp] generic pattern, CORS
// headers, POST-only, slow-request timer). It is the out-of-scope "client
// fan-out transport" spec.md §1 treats as an external collaborator: it
// exists only so the core has a runnable, inspectable demo, the way the
// teacher's own HTTP API exists only to drive comm.Comm. It is
// deliberately not websocket-based; polling /lines and /query-ts stands in
// for a push channel.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"grblhost/grbl"
	"grblhost/linelog"
	"grblhost/runhistory"
	"grblhost/statushist"
)

// Server wires the controller and the read models to HTTP handlers.
type Server struct {
	controller *grbl.Controller
	lines      *linelog.Log
	status     *statushist.Recorder
	runs       *runhistory.History
	mux        *http.ServeMux
}

// New builds a Server and registers all routes on a fresh ServeMux.
func New(controller *grbl.Controller, lines *linelog.Log, status *statushist.Recorder, runs *runhistory.History) *Server {
	s := &Server{controller: controller, lines: lines, status: status, runs: runs, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler to mount (or pass to http.ListenAndServe).
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	registerJSONHandler(s.mux, "/command", validateCommand, s.execCommand)
	registerJSONHandler(s.mux, "/lines", validateQueryLines, s.execQueryLines)
	registerJSONHandler(s.mux, "/runs", validateNoop[listRunsRequest], s.execListRuns)
	registerJSONHandler(s.mux, "/query-ts", validateQueryTS, s.execQueryTS)
}

// --- /command -------------------------------------------------------------

type commandRequest struct {
	Client string `json:"client"`
	Name   string `json:"name"`
	Args   []any  `json:"args"`
}

type commandResponse struct {
	OK bool `json:"ok"`
}

func validateCommand(req *commandRequest) error {
	if req.Name == "" {
		return errors.New("name: cannot be empty")
	}
	return nil
}

func (s *Server) execCommand(req *commandRequest) (*commandResponse, error) {
	if err := s.controller.Command(req.Client, req.Name, req.Args...); err != nil {
		return nil, err
	}
	return &commandResponse{OK: true}, nil
}

// --- /lines -----------------------------------------------------------------

type queryLinesRequest struct {
	FromLine    *int   `json:"from_line,omitempty"`
	ToLine      *int   `json:"to_line,omitempty"`
	Tail        *int   `json:"tail,omitempty"`
	FilterDir   string `json:"filter_dir,omitempty"`
	FilterRegex string `json:"filter_regex,omitempty"`
}

type lineInfo struct {
	LineNum int    `json:"line_num"`
	Dir     string `json:"dir"`
	Content string `json:"content"`
	Time    string `json:"time"`
}

type queryLinesResponse struct {
	Count int        `json:"count"`
	Lines []lineInfo `json:"lines"`
	Now   string     `json:"now"`
}

func validateQueryLines(req *queryLinesRequest) error {
	tailExists := req.Tail != nil
	rangeExists := req.FromLine != nil || req.ToLine != nil
	if tailExists && rangeExists {
		return errors.New("tail cannot be combined with from_line/to_line")
	}
	if req.FromLine != nil && *req.FromLine < 1 {
		return errors.New("from_line must be >= 1")
	}
	if req.ToLine != nil && *req.ToLine < 1 {
		return errors.New("to_line must be >= 1")
	}
	if req.FromLine != nil && req.ToLine != nil && *req.ToLine < *req.FromLine {
		return errors.New("to_line must be >= from_line")
	}
	if tailExists && *req.Tail < 1 {
		return errors.New("tail must be >= 1")
	}
	if req.FilterDir != "" && req.FilterDir != "up" && req.FilterDir != "down" {
		return errors.New("filter_dir must be 'up' or 'down'")
	}
	if req.FilterRegex != "" {
		if _, err := regexp.Compile(req.FilterRegex); err != nil {
			return fmt.Errorf("filter_regex: %w", err)
		}
	}
	return nil
}

const maxLinesReturned = 1000

func (s *Server) execQueryLines(req *queryLinesRequest) (*queryLinesResponse, error) {
	opts := linelog.QueryOptions{FilterDir: linelog.Direction(req.FilterDir)}
	if req.FilterRegex != "" {
		opts.FilterRegex = regexp.MustCompile(req.FilterRegex)
	}
	switch {
	case req.Tail != nil:
		opts.Scan = linelog.TailScan{N: *req.Tail}
	case req.FromLine != nil || req.ToLine != nil:
		opts.Scan = linelog.RangeScan{FromLine: req.FromLine, ToLine: req.ToLine}
	}

	lines := s.lines.Query(opts)
	total := len(lines)
	if len(lines) > maxLinesReturned {
		lines = lines[:maxLinesReturned]
	}

	resp := &queryLinesResponse{Count: total, Now: linelog.FormatTime(time.Now())}
	resp.Lines = make([]lineInfo, len(lines))
	for i, l := range lines {
		resp.Lines[i] = lineInfo{LineNum: l.Num, Dir: string(l.Dir), Content: l.Content, Time: linelog.FormatTime(l.Time)}
	}
	return resp, nil
}

// --- /runs ------------------------------------------------------------------

type listRunsRequest struct{}

type runInfo struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Total       int     `json:"total"`
	Sent        int     `json:"sent"`
	Received    int     `json:"received"`
	Status      string  `json:"status"`
	TimeStarted float64 `json:"time_started"`
	TimeEnded   *float64 `json:"time_ended,omitempty"`
}

type listRunsResponse struct {
	Runs []runInfo `json:"runs"`
}

func (s *Server) execListRuns(_ *listRunsRequest) (*listRunsResponse, error) {
	runs := s.runs.List()
	resp := &listRunsResponse{Runs: make([]runInfo, len(runs))}
	for i, r := range runs {
		ri := runInfo{
			ID: r.ID, Name: r.Name, Total: r.Total, Sent: r.Sent, Received: r.Received,
			Status: string(r.Status), TimeStarted: float64(r.TimeStarted.UnixMilli()) / 1000,
		}
		if r.TimeEnded != nil {
			t := float64(r.TimeEnded.UnixMilli()) / 1000
			ri.TimeEnded = &t
		}
		resp.Runs[i] = ri
	}
	return resp, nil
}

// --- /query-ts ----------------------------------------------------------------

type queryTSRequest struct {
	Start float64  `json:"start"`
	End   float64  `json:"end"`
	Step  float64  `json:"step"`
	Query []string `json:"query"`
}

type queryTSResponse struct {
	Times  []float64            `json:"times"`
	Values map[string][]any     `json:"values"`
}

func validateQueryTS(req *queryTSRequest) error {
	if len(req.Query) == 0 {
		return errors.New("query: cannot be empty")
	}
	if req.End < req.Start {
		return errors.New("end must be >= start")
	}
	if req.Step <= 0 {
		return errors.New("step must be > 0")
	}
	if (req.End-req.Start)/req.Step > 10000 {
		return errors.New("too many steps")
	}
	return nil
}

func (s *Server) execQueryTS(req *queryTSRequest) (*queryTSResponse, error) {
	start := time.UnixMilli(int64(req.Start * 1000))
	end := time.UnixMilli(int64(req.End * 1000))
	step := time.Duration(req.Step * float64(time.Second))

	times, values := s.status.TS.QueryRanges(req.Query, start, end, step)
	resp := &queryTSResponse{Times: make([]float64, len(times)), Values: make(map[string][]any, len(values))}
	for i, t := range times {
		resp.Times[i] = float64(t.UnixMilli()) / 1000
	}
	for k, vals := range values {
		out := make([]any, len(vals))
		for i, v := range vals {
			out[i] = v
		}
		resp.Values[k] = out
	}
	return resp, nil
}

// --- generic plumbing ---------------------------------------------------------

func validateNoop[T any](*T) error { return nil }

func registerJSONHandler[ReqT any, RespT any](mux *http.ServeMux, path string, validate func(*ReqT) error, exec func(*ReqT) (*RespT, error)) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req ReqT
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprintf(w, "invalid JSON: %v", err)
				return
			}
		}
		if err := validate(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "invalid request: %v", err)
			return
		}

		slowTimer := time.AfterFunc(time.Second, func() {
			body, err := json.Marshal(req)
			dump := "unknown"
			if err == nil {
				dump = string(body)
			}
			slog.Warn("API request taking more than 1 second", "path", path, "req", dump)
		})
		resp, err := exec(&req)
		slowTimer.Stop()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, "%v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	})
}
