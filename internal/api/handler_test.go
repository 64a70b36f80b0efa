package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"jobrunner/internal/apperrors"
	"jobrunner/internal/health"
	"jobrunner/internal/runner"
)

type fakeRunner struct {
	startRes  runner.Result
	stopRes   runner.Result
	resultRes runner.Result
	active    bool

	lastReport runner.Report
}

func (f *fakeRunner) Start(ctx context.Context) runner.Result { return f.startRes }

func (f *fakeRunner) Stop() runner.Result { return f.stopRes }

func (f *fakeRunner) SetResult(ctx context.Context, report runner.Report) runner.Result {
	f.lastReport = report
	return f.resultRes
}

func (f *fakeRunner) Active() bool { return f.active }

type alwaysReady struct{}

func (alwaysReady) Ready(ctx context.Context) error { return nil }

func newTestRouter(f *fakeRunner, apiKey string) http.Handler {
	return NewRouter(RouterConfig{
		Runner:        f,
		HealthChecker: health.NewChecker(alwaysReady{}, alwaysReady{}),
		Stream:        NewStreamHub(),
		APIKey:        apiKey,
	})
}

func decodeRun(t *testing.T, rec *httptest.ResponseRecorder) runResponse {
	t.Helper()
	var resp runResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestRunJobs(t *testing.T) {
	f := &fakeRunner{startRes: runner.Result{Success: true, Reason: runner.ReasonStarted}}
	router := newTestRouter(f, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/run", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeRun(t, rec)
	if !resp.Success || resp.Reason != runner.ReasonStarted {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestRunJobs_AlreadyRunningIsIdempotent(t *testing.T) {
	f := &fakeRunner{startRes: runner.Result{Success: false, Reason: runner.ReasonAlreadyRunning}}
	router := newTestRouter(f, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/run", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeRun(t, rec)
	if !resp.Success || resp.Reason != runner.ReasonAlreadyRunning {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestStopJobs(t *testing.T) {
	f := &fakeRunner{stopRes: runner.Result{Success: true, Reason: runner.ReasonStopRequested}}
	router := newTestRouter(f, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/stop", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp := decodeRun(t, rec); !resp.Success {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestSetResult(t *testing.T) {
	f := &fakeRunner{resultRes: runner.Result{Success: true, Reason: runner.ReasonAllJobsCompleted}}
	router := newTestRouter(f, "")

	body := `{"result":"applied","key":"job-1","fingerprint":"fp","softData":{"company":"Acme"},"source":"worker"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/result", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if f.lastReport.Key != "job-1" || f.lastReport.Result != "applied" {
		t.Errorf("unexpected report %+v", f.lastReport)
	}
	if f.lastReport.SoftData["company"] != "Acme" {
		t.Errorf("soft data not passed through: %+v", f.lastReport.SoftData)
	}
}

func TestSetResult_BadRequests(t *testing.T) {
	f := &fakeRunner{}
	router := newTestRouter(f, "")

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing result", `{"key":"job-1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/jobs/result", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			if resp := decodeRun(t, rec); resp.Success || len(resp.Errors) == 0 {
				t.Errorf("unexpected response %+v", resp)
			}
		})
	}
}

func TestSetResult_RunnerErrors(t *testing.T) {
	tests := []struct {
		name       string
		result     runner.Result
		wantStatus int
	}{
		{
			"validation",
			runner.Result{Success: false, Reason: runner.ReasonInvalidResult,
				Err: apperrors.Validation("result", "invalid execution result")},
			http.StatusBadRequest,
		},
		{
			"store unavailable",
			runner.Result{Success: false, Reason: runner.ReasonPersistFailure,
				Err: apperrors.Unavailable("store.upsert_job", nil)},
			http.StatusBadGateway,
		},
		{
			"stale report without error",
			runner.Result{Success: false, Reason: runner.ReasonStaleReport},
			http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRunner{resultRes: tt.result}
			router := newTestRouter(f, "")

			req := httptest.NewRequest(http.MethodPost, "/v1/jobs/result", strings.NewReader(`{"result":"applied","key":"x"}`))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if resp := decodeRun(t, rec); resp.Success {
				t.Errorf("unexpected success %+v", resp)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	f := &fakeRunner{active: true}
	router := newTestRouter(f, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp["isRunnerActive"] {
		t.Errorf("expected isRunnerActive true, got %+v", resp)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, "")

	for _, path := range []string{"/livez", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestReadyz_Unhealthy(t *testing.T) {
	checker := health.NewChecker(nil, nil)
	router := NewRouter(RouterConfig{
		Runner:        &fakeRunner{},
		HealthChecker: checker,
		Stream:        NewStreamHub(),
	})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	f := &fakeRunner{startRes: runner.Result{Success: true, Reason: runner.ReasonStarted}}
	router := newTestRouter(f, "secret-key")

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret-key", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret-key", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/jobs/run", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestAuth_HealthExempt(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, "secret-key")

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("health probes must not require auth, got %d", rec.Code)
	}
}

func TestContentType(t *testing.T) {
	router := newTestRouter(&fakeRunner{}, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/result", strings.NewReader("result=applied"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", rec.Code)
	}
}
