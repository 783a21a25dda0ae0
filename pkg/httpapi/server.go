// pkg/httpapi/server.go
//
// Readiness endpoints served by `horae serve`. Every request re-probes the
// services; nothing is cached except the last startup report.

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/bootstrap"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/depcheck"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/depgraph"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/orchestrator"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/registry"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	defaultProbeTimeout = 10 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// Server exposes health, readiness, status and graph endpoints for one engine.
type Server struct {
	engine       *bootstrap.Engine
	logger       *zap.Logger
	router       *mux.Router
	threshold    float64
	probeTimeout time.Duration

	mu      sync.RWMutex
	startup *orchestrator.StartupOrchestrationResult
}

// Option configures a Server.
type Option func(*Server)

// WithProbeTimeout bounds the re-probe done by /readyz and /status.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Server) { s.probeTimeout = d }
}

// WithReadinessThreshold overrides the healthy ratio /readyz requires.
func WithReadinessThreshold(ratio float64) Option {
	return func(s *Server) { s.threshold = ratio }
}

// NewServer routes the readiness endpoints for e. /readyz answers 503 until
// RecordStartup stores a successful run.
func NewServer(e *bootstrap.Engine, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:       e,
		logger:       logger,
		router:       mux.NewRouter(),
		threshold:    orchestrator.DefaultReadinessThreshold,
		probeTimeout: defaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/status/{service}", s.handleServiceStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/graph", s.handleGraph).Methods(http.MethodGet)
	s.router.HandleFunc("/startup", s.handleStartup).Methods(http.MethodGet)
	s.router.Use(s.logRequests)
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// RecordStartup stores the report of the orchestration run that /readyz gates on.
func (s *Server) RecordStartup(result *orchestrator.StartupOrchestrationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startup = result
}

func (s *Server) lastStartup() *orchestrator.StartupOrchestrationResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startup
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Serving readiness endpoints", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type readiness struct {
	Ready        bool                    `json:"ready"`
	Reason       string                  `json:"reason,omitempty"`
	StartupRunID string                  `json:"startup_run_id,omitempty"`
	HealthRatio  float64                 `json:"health_ratio"`
	Threshold    float64                 `json:"threshold"`
	Summary      *depcheck.StatusSummary `json:"summary,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readiness{Threshold: s.threshold}

	startup := s.lastStartup()
	switch {
	case startup == nil:
		resp.Reason = "startup orchestration has not finished"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	case !startup.Success:
		resp.StartupRunID = startup.RunID
		resp.Reason = "startup orchestration failed"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	summary := s.summary(r.Context())
	resp.StartupRunID = startup.RunID
	resp.Summary = &summary
	resp.HealthRatio = summary.HealthRatio()
	resp.Ready = resp.HealthRatio >= s.threshold

	status := http.StatusOK
	if !resp.Ready {
		resp.Reason = "healthy ratio below threshold"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.summary(r.Context()))
}

func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	st, err := registry.ParseServiceType(mux.Vars(r)["service"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.probeTimeout)
	defer cancel()
	result := s.engine.Validator.Check(ctx, s.engine.Handles, st)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}

func (s *Server) handleGraph(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Validation   depgraph.GraphValidation `json:"validation"`
		StartupOrder []depgraph.PhaseGroup    `json:"startup_order,omitempty"`
		Error        string                   `json:"error,omitempty"`
	}{Validation: s.engine.Resolver.ValidateGraph()}

	order, err := s.engine.Resolver.ResolveStartupOrder(s.engine.StatusTargets())
	if err != nil {
		resp.Error = err.Error()
	}
	resp.StartupOrder = order
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStartup(w http.ResponseWriter, _ *http.Request) {
	startup := s.lastStartup()
	if startup == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no startup orchestration recorded"})
		return
	}
	writeJSON(w, http.StatusOK, startup)
}

func (s *Server) summary(ctx context.Context) depcheck.StatusSummary {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	return s.engine.Checker.GetServiceStatusSummary(ctx, s.engine.Handles, s.engine.StatusTargets()...)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
