// Package api provides the HTTP API handlers and routing for the runner service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"jobrunner/internal/apperrors"
	"jobrunner/internal/health"
	"jobrunner/internal/runner"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// JobRunner is the orchestrator surface the API depends on.
type JobRunner interface {
	Start(ctx context.Context) runner.Result
	Stop() runner.Result
	SetResult(ctx context.Context, report runner.Report) runner.Result
	Active() bool
}

// Handler contains HTTP handlers for the runner API
type Handler struct {
	runner JobRunner
	health *health.Checker
	stream *StreamHub
}

// NewHandler creates a new API handler
func NewHandler(r JobRunner, healthChecker *health.Checker, stream *StreamHub) *Handler {
	return &Handler{
		runner: r,
		health: healthChecker,
		stream: stream,
	}
}

// runResponse is the response shape for run/stop/result operations.
type runResponse struct {
	Success bool     `json:"success"`
	Reason  string   `json:"reason,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// resultRequest is the body of a result report.
type resultRequest struct {
	Result      string         `json:"result"`
	Key         string         `json:"key,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	SoftData    map[string]any `json:"softData,omitempty"`
	Source      string         `json:"source,omitempty"`
}

// RunJobs handles POST /v1/jobs/run
func (h *Handler) RunJobs(w http.ResponseWriter, r *http.Request) {
	res := h.runner.Start(r.Context())

	// Starting an already-running chain is an idempotent no-op for
	// callers, not an error.
	if res.Reason == runner.ReasonAlreadyRunning {
		h.writeJSON(w, http.StatusOK, runResponse{Success: true, Reason: res.Reason})
		return
	}

	h.writeJSON(w, http.StatusOK, toRunResponse(res))
}

// StopJobs handles POST /v1/jobs/stop
func (h *Handler) StopJobs(w http.ResponseWriter, r *http.Request) {
	res := h.runner.Stop()
	h.writeJSON(w, http.StatusOK, toRunResponse(res))
}

// SetResult handles POST /v1/jobs/result
func (h *Handler) SetResult(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, runResponse{
			Success: false,
			Errors:  []string{"invalid request body: " + err.Error()},
		})
		return
	}
	if req.Result == "" {
		h.writeJSON(w, http.StatusBadRequest, runResponse{
			Success: false,
			Errors:  []string{"result is required"},
		})
		return
	}

	res := h.runner.SetResult(r.Context(), runner.Report{
		Key:         req.Key,
		Result:      req.Result,
		Fingerprint: req.Fingerprint,
		SoftData:    req.SoftData,
		Source:      req.Source,
	})

	status := http.StatusOK
	if !res.Success && res.Err != nil {
		status = apperrors.HTTPStatus(res.Err)
		if status >= 500 {
			slog.Error("Result finalization failed", "reason", res.Reason, "error", res.Err)
		}
	}
	h.writeJSON(w, status, toRunResponse(res))
}

// Status handles GET /v1/jobs/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]bool{
		"isRunnerActive": h.runner.Active(),
	})
}

// StatusStream handles GET /v1/jobs/status/stream - server-sent lifecycle events.
func (h *Handler) StatusStream(w http.ResponseWriter, r *http.Request) {
	h.stream.ServeHTTP(w, r)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 if the service is ready to accept traffic.
// Returns 503 if dependencies (queue store, session backend) are unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

func toRunResponse(res runner.Result) runResponse {
	out := runResponse{Success: res.Success, Reason: res.Reason}
	if res.Err != nil {
		out.Errors = []string{res.Err.Error()}
	}
	return out
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
