// Package httpapi serves a read-only JSON view of solve threads and the
// Prometheus metrics endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/solvegraph/graph"
	"github.com/dshills/solvegraph/graph/store"
	"github.com/dshills/solvegraph/solver"
	"github.com/dshills/solvegraph/state"
)

// Inspector reads thread checkpoints. *graph.Engine satisfies it.
type Inspector interface {
	Threads(ctx context.Context) ([]string, error)
	Latest(ctx context.Context, threadID string) (store.Checkpoint[state.Record], error)
	History(ctx context.Context, threadID string) ([]store.Checkpoint[state.Record], error)
	Checkpoint(ctx context.Context, threadID string, seq int) (store.Checkpoint[state.Record], error)
}

// Server handles the inspection routes.
type Server struct {
	inspector Inspector
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
}

// NewHandler builds the router:
//
//	GET /healthz
//	GET /metrics
//	GET /threads
//	GET /threads/{id}
//	GET /threads/{id}/history
//	GET /threads/{id}/checkpoints/{seq}
//
// A nil gatherer serves prometheus.DefaultGatherer.
func NewHandler(inspector Inspector, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{inspector: inspector, gatherer: gatherer, logger: logger}

	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Route("/threads", func(r chi.Router) {
		r.Get("/", s.listThreads)
		r.Get("/{id}", s.getThread)
		r.Get("/{id}/history", s.getHistory)
		r.Get("/{id}/checkpoints/{seq}", s.getCheckpoint)
	})
	return r
}

// checkpointView is the wire form of a checkpoint. Long test payloads are
// elided.
type checkpointView struct {
	ThreadID  string       `json:"thread_id"`
	Seq       int          `json:"seq"`
	Source    string       `json:"source"`
	Next      string       `json:"next"`
	Digest    string       `json:"digest"`
	CreatedAt time.Time    `json:"created_at"`
	State     state.Record `json:"state"`
}

type threadView struct {
	Checkpoint checkpointView `json:"checkpoint"`
	Diagnostic diagnosticView `json:"diagnostic"`
}

type diagnosticView struct {
	Solved   bool                 `json:"solved"`
	Code     string               `json:"code"`
	PassRate string               `json:"pass_rate,omitempty"`
	Tests    []solver.TestOutcome `json:"tests,omitempty"`
}

func newCheckpointView(cp store.Checkpoint[state.Record]) checkpointView {
	rec := cp.State
	if len(rec.TestCases) > 0 {
		tests := make([]state.TestCase, len(rec.TestCases))
		for i, tc := range rec.TestCases {
			tests[i] = tc.Redacted()
		}
		rec.TestCases = tests
	}
	return checkpointView{
		ThreadID:  cp.ThreadID,
		Seq:       cp.Seq,
		Source:    cp.Source,
		Next:      cp.Next,
		Digest:    cp.Digest,
		CreatedAt: cp.CreatedAt,
		State:     rec,
	}
}

func newDiagnosticView(d solver.Diagnostic) diagnosticView {
	v := diagnosticView{Solved: d.Solved, Code: d.Code, Tests: d.Tests}
	if d.HasPassRate {
		v.PassRate = strconv.Itoa(d.Passed) + "/" + strconv.Itoa(d.Total)
	}
	return v
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	ids, err := s.inspector.Threads(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"threads": ids})
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	cp, err := s.inspector.Latest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, threadView{
		Checkpoint: newCheckpointView(cp),
		Diagnostic: newDiagnosticView(solver.ParseDiagnostic(cp.State)),
	})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.inspector.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]checkpointView, len(hist))
	for i, cp := range hist {
		views[i] = newCheckpointView(cp)
	}
	s.writeJSON(w, http.StatusOK, map[string][]checkpointView{"checkpoints": views})
}

func (s *Server) getCheckpoint(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.Atoi(chi.URLParam(r, "seq"))
	if err != nil || seq < 0 {
		http.Error(w, "invalid sequence number", http.StatusBadRequest)
		return
	}
	cp, err := s.inspector.Checkpoint(r.Context(), chi.URLParam(r, "id"), seq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newCheckpointView(cp))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var engErr *graph.EngineError
	switch {
	case errors.Is(err, graph.ErrUnknownThread):
		status = http.StatusNotFound
	case errors.As(err, &engErr) && engErr.Code == "CHECKPOINT_NOT_FOUND":
		status = http.StatusNotFound
	default:
		s.logger.Error("inspection request failed", "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
