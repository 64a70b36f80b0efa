package api

import (
	"net/http"

	"jobrunner/internal/health"
	"jobrunner/internal/observability"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Runner        JobRunner
	HealthChecker *health.Checker
	Stream        *StreamHub
	Metrics       *observability.Metrics
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Runner, cfg.HealthChecker, cfg.Stream)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Runner endpoints - auth required. The result report comes from
	// workers and extensions carrying the same key.
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/jobs/run", authMiddleware(http.HandlerFunc(handler.RunJobs)))
	mux.Handle("POST /v1/jobs/stop", authMiddleware(http.HandlerFunc(handler.StopJobs)))
	mux.Handle("POST /v1/jobs/result", authMiddleware(http.HandlerFunc(handler.SetResult)))
	mux.Handle("GET /v1/jobs/status", authMiddleware(http.HandlerFunc(handler.Status)))
	mux.Handle("GET /v1/jobs/status/stream", authMiddleware(http.HandlerFunc(handler.StatusStream)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
