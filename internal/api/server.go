// Package api exposes the admin HTTP interface for the batch service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/1k-7/LNreqnw/internal/ledger"
	"github.com/1k-7/LNreqnw/internal/metrics"
)

// BatchSubmitter accepts an identifier batch for asynchronous processing.
type BatchSubmitter interface {
	ProcessBatch(ctx context.Context, ids []string) error
}

// Snapshotter ships a state snapshot on demand.
type Snapshotter interface {
	Snapshot(ctx context.Context) error
}

// RelayResolver completes a pending large-file hand-off.
type RelayResolver interface {
	Resolve(token, fileID string) bool
}

// BatchDropper discards the persisted in-flight batch. *batch.Store is the
// production implementation.
type BatchDropper interface {
	Delete() error
}

// HaltSignal raises and clears the service-wide stop flag.
type HaltSignal interface {
	Raise()
	Clear()
	Raised() bool
}

// Server wires HTTP handlers to the supervisor and the state stores.
type Server struct {
	router   chi.Router
	batches  BatchSubmitter
	ledger   *ledger.Ledger
	pending  BatchDropper
	archiver Snapshotter
	relay    RelayResolver
	halt     HaltSignal
	logger   *zap.Logger
	runCtx   context.Context
}

// NewServer constructs a Server with middleware and routes. runCtx bounds
// the background batches the submit handler spawns.
func NewServer(
	runCtx context.Context,
	batches BatchSubmitter,
	led *ledger.Ledger,
	pending BatchDropper,
	archiver Snapshotter,
	relay RelayResolver,
	halt HaltSignal,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		batches:  batches,
		ledger:   led,
		pending:  pending,
		archiver: archiver,
		relay:    relay,
		halt:     halt,
		logger:   logger,
		runCtx:   runCtx,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/batches", s.submitBatch)
		r.Get("/status", s.status)
		r.Post("/state/reset", s.resetState)
		r.Delete("/completed", s.removeCompleted)
		r.Post("/snapshots", s.takeSnapshot)
		r.Post("/halt", s.raiseHalt)
		r.Delete("/halt", s.clearHalt)
		r.Post("/relays/{token}", s.resolveRelay)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type batchRequest struct {
	Identifiers []string `json:"identifiers"`
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Identifiers) == 0 {
		writeError(w, http.StatusBadRequest, "identifiers required")
		return
	}
	// The batch runs in the background; the manager serializes batches
	// internally, so concurrent submissions queue up behind each other.
	go func(ids []string) {
		if err := s.batches.ProcessBatch(s.runCtx, ids); err != nil {
			s.logger.Error("batch processing failed", zap.Error(err))
		}
	}(req.Identifiers)
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.Identifiers)})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	stats := s.ledger.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"completed":         stats.Completed,
		"no_content":        stats.NoContent,
		"generation_failed": stats.GenerationFailed,
		"transient_errors":  stats.TransientErrors,
		"halted":            s.halt.Raised(),
	})
}

func (s *Server) resetState(w http.ResponseWriter, _ *http.Request) {
	if err := s.ledger.Reset(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// The persisted in-flight batch goes with the ledger, otherwise the
	// next start would resume work the operator just discarded.
	if err := s.pending.Delete(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("service state reset via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) removeCompleted(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Identifiers) == 0 {
		writeError(w, http.StatusBadRequest, "identifiers required")
		return
	}
	removed, err := s.ledger.RemoveCompleted(req.Identifiers)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) takeSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.archiver.Snapshot(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "snapshot shipped"})
}

func (s *Server) raiseHalt(w http.ResponseWriter, _ *http.Request) {
	s.halt.Raise()
	s.logger.Warn("halt raised via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "halted"})
}

func (s *Server) clearHalt(w http.ResponseWriter, _ *http.Request) {
	s.halt.Clear()
	s.logger.Info("halt cleared via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type relayRequest struct {
	FileID string `json:"file_id"`
}

func (s *Server) resolveRelay(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	var req relayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileID == "" {
		writeError(w, http.StatusBadRequest, "file_id required")
		return
	}
	if !s.relay.Resolve(token, req.FileID) {
		writeError(w, http.StatusNotFound, "unknown or expired token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
