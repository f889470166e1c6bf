package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/config"
	idgen "github.com/JakeFAU/mention-scanner/internal/id/uuid"
	"github.com/JakeFAU/mention-scanner/internal/metrics"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/scan"
	"github.com/JakeFAU/mention-scanner/internal/steps"
	"github.com/JakeFAU/mention-scanner/internal/store"
)

const (
	enqueueTimeout = 5 * time.Second
	readyTimeout   = 2 * time.Second
	requestTimeout = 60 * time.Second
)

// Enqueuer accepts on-demand scan requests.
type Enqueuer interface {
	Enqueue(ctx context.Context, req monitor.ScanRequest) error
}

// Sweeper clears stuck scans.
type Sweeper interface {
	Sweep(ctx context.Context, runID string) ([]string, error)
}

// Deps are the collaborators behind the HTTP surface. Runs, Reaper and Ready may be nil.
type Deps struct {
	Triggers Enqueuer
	Runs     store.RunRepository
	Reaper   Sweeper
	IDs      monitor.IDGenerator
	Clock    monitor.Clock
	Ready    func(ctx context.Context) error
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the trigger queue and stores.
type Server struct {
	router   chi.Router
	triggers Enqueuer
	reaper   Sweeper
	ids      monitor.IDGenerator
	clock    monitor.Clock
	ready    func(ctx context.Context) error
	runs     *RunsHandler
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, auth config.AuthConfig) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ids := deps.IDs
	if ids == nil {
		ids = idgen.New()
	}
	s := &Server{
		triggers: deps.Triggers,
		reaper:   deps.Reaper,
		ids:      ids,
		clock:    deps.Clock,
		ready:    deps.Ready,
		runs:     NewRunsHandler(deps.Runs, logger),
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		r.Post("/monitors/{monitor_id}/scan", s.triggerScan)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.runs.ListRuns)
			r.Get("/{run_id}", s.runs.GetRun)
		})
		r.Post("/reaper/sweep", s.sweep)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scanRequest struct {
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
}

func (s *Server) triggerScan(w http.ResponseWriter, r *http.Request) {
	if s.triggers == nil {
		writeError(w, http.StatusServiceUnavailable, "trigger queue unavailable")
		return
	}
	monitorID := strings.TrimSpace(chi.URLParam(r, "monitor_id"))
	var body scanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	body.UserID = strings.TrimSpace(body.UserID)
	if monitorID == "" || body.UserID == "" {
		writeError(w, http.StatusBadRequest, "monitor_id and user_id are required")
		return
	}
	requestID := strings.TrimSpace(body.RequestID)
	if requestID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			s.logger.Error("generate request id failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to generate request id")
			return
		}
		requestID = id
	} else if !idgen.Valid(requestID) {
		writeError(w, http.StatusBadRequest, "request_id must be a UUID")
		return
	}

	req := monitor.ScanRequest{
		ID:          requestID,
		MonitorID:   monitorID,
		UserID:      body.UserID,
		RequestedAt: s.now(),
	}
	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	if err := s.triggers.Enqueue(ctx, req); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("enqueue scan failed", zap.String("monitor_id", monitorID), zap.Error(err))
		writeError(w, status, "failed to queue scan")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"request_id": requestID,
		"run_id":     scan.OnDemandRunID(req),
	})
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	if s.reaper == nil {
		writeError(w, http.StatusServiceUnavailable, "reaper unavailable")
		return
	}
	runID := steps.RunID("reaper", "manual", s.now())
	cleared, err := s.reaper.Sweep(r.Context(), runID)
	if err != nil {
		s.logger.Error("manual sweep failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	if cleared == nil {
		cleared = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "cleared": cleared})
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
