package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/velocity.piv/internal/evaluation"
	"github.com/banshee-data/velocity.piv/internal/httputil"
	"github.com/banshee-data/velocity.piv/internal/version"
)

// runStatus follows the outputs of the running command and serves them as
// JSON next to the metrics.
type runStatus struct {
	mu      sync.Mutex
	command string
	runID   string
	started time.Time
	outputs []evaluation.Output
}

type statusReport struct {
	Version    string    `json:"version"`
	Command    string    `json:"command"`
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	Outputs    int       `json:"outputs"`
	Vectors    int       `json:"vectors"`
	Invalid    int       `json:"invalid"`
	LastOutput string    `json:"last_output,omitempty"`
}

func newRunStatus(command, runID string, started time.Time) *runStatus {
	return &runStatus{command: command, runID: runID, started: started}
}

// Append implements evaluation.Sink.
func (s *runStatus) Append(_ context.Context, out evaluation.Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, out)
	return nil
}

func (s *runStatus) report() statusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := statusReport{Version: version.String(), Command: s.command, RunID: s.runID, StartedAt: s.started, Outputs: len(s.outputs)}
	for _, o := range s.outputs {
		r.Vectors += o.Vectors
		r.Invalid += o.Invalid
	}
	if n := len(s.outputs); n > 0 {
		r.LastOutput = s.outputs[n-1].Path
	}
	return r
}

func (s *runStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	httputil.WriteJSONOK(w, s.report())
}

// monitorMux serves the metrics of reg and the run status. Any other path is
// a JSON 404.
func monitorMux(reg *prometheus.Registry, status http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/status", status)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		httputil.NotFound(w, "no such endpoint: "+r.URL.Path)
	})
	return mux
}
