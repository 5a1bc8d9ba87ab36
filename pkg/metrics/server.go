package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HealthStatus represents the overall health state.
type HealthStatus string

const (
	// HealthStatusHealthy indicates all checks are passing.
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded indicates the failed handshake ratio is high.
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy indicates a readiness check is failing.
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// DegradedFailureRatio is the share of failed handshakes above which the
// service reports itself degraded.
const DegradedFailureRatio = 0.25

// CheckFunc performs a readiness check and returns nil when healthy.
type CheckFunc func(ctx context.Context) error

// HealthResponse is the JSON body of /health.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Metrics   *HealthMetrics         `json:"metrics,omitempty"`
}

// CheckResult represents the result of a single readiness check.
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthMetrics summarizes handshake activity.
type HealthMetrics struct {
	HandshakesActive   uint64  `json:"handshakes_active"`
	HandshakesTotal    uint64  `json:"handshakes_total"`
	HandshakesAccepted uint64  `json:"handshakes_accepted"`
	HandshakesRejected uint64  `json:"handshakes_rejected"`
	FailureRatio       float64 `json:"failure_ratio,omitempty"`
}

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// ServerConfig configures the observability server.
type ServerConfig struct {
	Collector *Collector
	Logger    *Logger
	Version   string
	Namespace string // Prometheus namespace
}

// Server serves /metrics, /health, /healthz and /readyz.
type Server struct {
	router    chi.Router
	collector *Collector
	logger    *Logger
	version   string
	started   time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewServer creates a new observability server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "modcompat"
	}

	s := &Server{
		collector: cfg.Collector,
		logger:    cfg.Logger.Named("metrics"),
		version:   cfg.Version,
		started:   time.Now(),
		checks:    make(map[string]CheckFunc),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", NewPrometheusExporter(cfg.Collector, cfg.Namespace).Handler())
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)
	s.router = r

	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AddCheck registers a named readiness check.
func (s *Server) AddCheck(name string, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// RemoveCheck removes a named readiness check.
func (s *Server) RemoveCheck(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checks, name)
}

// Check runs all readiness checks and returns the overall status.
func (s *Server) Check(ctx context.Context) HealthResponse {
	s.mu.RLock()
	checks := make(map[string]CheckFunc, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Version:   s.version,
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	for name, check := range checks {
		start := time.Now()
		err := check(ctx)
		result := CheckResult{
			Status:  HealthStatusHealthy,
			Latency: time.Since(start).String(),
		}
		if err != nil {
			result.Status = HealthStatusUnhealthy
			result.Message = err.Error()
			resp.Status = HealthStatusUnhealthy
		}
		resp.Checks[name] = result
	}

	snap := s.collector.Snapshot()
	resp.Metrics = &HealthMetrics{
		HandshakesActive:   snap.HandshakesActive,
		HandshakesTotal:    snap.HandshakesTotal,
		HandshakesAccepted: snap.HandshakesAccepted,
		HandshakesRejected: snap.HandshakesRejected,
	}
	if snap.HandshakesTotal > 0 {
		resp.Metrics.FailureRatio = float64(snap.HandshakesFailed) / float64(snap.HandshakesTotal)
		if resp.Status == HealthStatusHealthy && resp.Metrics.FailureRatio > DegradedFailureRatio {
			resp.Status = HealthStatusDegraded
		}
	}

	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.Check(r.Context())
	status := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	resp := s.Check(r.Context())
	ready := resp.Status != HealthStatusUnhealthy
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status": resp.Status,
		"ready":  ready,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("observability server listening", Fields{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ServePrometheus serves c on addr with default settings until ctx is
// cancelled.
func ServePrometheus(ctx context.Context, addr string, c *Collector, namespace string) error {
	return NewServer(ServerConfig{Collector: c, Namespace: namespace}).ListenAndServe(ctx, addr)
}
