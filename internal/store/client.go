// Package store provides the remote queue store client.
//
// The store is reached over its REST RPC surface. Three RPCs carry the whole
// leasing protocol: fetch_and_lock_next_job (atomic claim), upsert_job
// (force/soft merge write) and reset_processing_jobs (startup crash
// recovery). All calls are bounded by a short client timeout, deliberately
// much smaller than the per-job watchdog.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"jobrunner/internal/apperrors"
)

// Queue is the store surface the runner depends on.
type Queue interface {
	// FetchAndLockNext atomically claims the next eligible job for the
	// runner identity. Returns (nil, nil) when the queue is drained.
	FetchAndLockNext(ctx context.Context, runnerID string) (*Job, error)

	// Upsert performs the idempotent force/soft merge write for a job.
	Upsert(ctx context.Context, req UpsertRequest) error

	// ResetStuckJobs resets jobs left in-flight by a prior crash back to
	// pending. Called once at runner construction.
	ResetStuckJobs(ctx context.Context) error
}

// Client is the HTTP implementation of Queue.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Config holds client settings.
type Config struct {
	BaseURL string        // REST base, e.g. https://<project>.supabase.co/rest/v1
	APIKey  string
	Timeout time.Duration // per-RPC timeout (default 10s)
}

// NewClient creates a queue store client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// FetchAndLockNext claims the next eligible job for runnerID.
func (c *Client) FetchAndLockNext(ctx context.Context, runnerID string) (*Job, error) {
	body, err := c.rpc(ctx, "fetch_and_lock_next_job", map[string]any{"p_runner": runnerID})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 || string(body) == "null" {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, apperrors.Internal("store.fetchAndLock", fmt.Errorf("malformed job payload: %w", err))
	}
	if job.Key == "" {
		return nil, apperrors.Internal("store.fetchAndLock", fmt.Errorf("job payload missing key"))
	}
	return &job, nil
}

// Upsert writes a job result. Force fields overwrite, soft fields fill-if-absent.
func (c *Client) Upsert(ctx context.Context, req UpsertRequest) error {
	if req.Key == "" {
		return apperrors.Validation("key", "job key is required")
	}

	payload := map[string]any{
		"k":           req.Key,
		"fingerprint": req.Fingerprint,
		"force_data":  orEmpty(req.Force),
		"soft_data":   orEmpty(req.Soft),
		"source":      req.Source,
	}
	_, err := c.rpc(ctx, "upsert_job", payload)
	return err
}

// ResetStuckJobs resets processing jobs back to pending without touching
// the rest of the record.
func (c *Client) ResetStuckJobs(ctx context.Context) error {
	// RPC requires a body, even an empty one.
	_, err := c.rpc(ctx, "reset_processing_jobs", map[string]any{})
	return err
}

// Ready probes store reachability for the readiness check. Any HTTP
// response counts as reachable; only transport failures do not.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Unavailable("store.ready", err)
	}
	resp.Body.Close()
	return nil
}

// rpc posts a JSON payload to an RPC endpoint and returns the raw response body.
func (c *Client) rpc(ctx context.Context, name string, payload any) ([]byte, error) {
	op := "store." + name

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/"+name, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Internal(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Unavailable(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Unavailable(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Unavailable(op, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(respBody, 256)))
	}
	return respBody, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey == "" {
		return
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Verify Client implements Queue
var _ Queue = (*Client)(nil)
