// Package docker implements the session.Backend interface using the
// Docker API. Each job runs in its own browser worker container on the
// host Docker daemon.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"jobrunner/internal/session"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// Backend implements session.Backend using Docker.
type Backend struct {
	client      *client.Client
	workerImage string
	extraHosts  []string
	shmSize     int64

	mu         sync.Mutex
	containers map[string]string // job key -> container ID
}

// New creates a Docker session backend.
func New(cfg Config) (*Backend, error) {
	if cfg.WorkerImage == "" {
		return nil, fmt.Errorf("worker image is required")
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Backend{
		client:      dockerClient,
		workerImage: cfg.WorkerImage,
		extraHosts:  cfg.ExtraHosts,
		shmSize:     cfg.ShmSize,
		containers:  make(map[string]string),
	}, nil
}

// Open creates and starts a worker container for the job.
func (b *Backend) Open(ctx context.Context, req session.OpenRequest) error {
	if err := b.pullImageIfNeeded(ctx, b.workerImage); err != nil {
		return fmt.Errorf("failed to pull worker image: %w", err)
	}

	containerConfig := &container.Config{
		Image: b.workerImage,
		Env: []string{
			fmt.Sprintf("JOB_KEY=%s", req.JobKey),
			fmt.Sprintf("APPLY_URL=%s", req.ApplyURL),
			fmt.Sprintf("RESULT_URL=%s", req.ResultURL),
			fmt.Sprintf("TIMEOUT_SECONDS=%d", int(req.Timeout.Seconds())),
		},
		Labels: map[string]string{
			"job.key":    req.JobKey,
			"managed-by": "runner-service",
		},
	}

	hostConfig := &container.HostConfig{
		ExtraHosts: b.extraHosts,
		ShmSize:    b.shmSize, // headless browsers need more than the 64MB default
	}

	containerName := "runner-job-" + sanitizeName(req.JobKey)
	resp, err := b.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return fmt.Errorf("failed to create worker container: %w", err)
	}

	if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		b.removeContainer(ctx, resp.ID)
		return fmt.Errorf("failed to start worker container: %w", err)
	}

	b.mu.Lock()
	b.containers[req.JobKey] = resp.ID
	b.mu.Unlock()

	slog.Debug("Worker session opened", "jobKey", req.JobKey, "containerId", resp.ID[:12])
	return nil
}

// Close stops and removes the worker container for the job, if any.
func (b *Backend) Close(ctx context.Context, jobKey string) error {
	b.mu.Lock()
	containerID, ok := b.containers[jobKey]
	delete(b.containers, jobKey)
	b.mu.Unlock()

	if !ok {
		return nil
	}

	b.removeContainer(ctx, containerID)
	slog.Debug("Worker session closed", "jobKey", jobKey)
	return nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (b *Backend) Ready(ctx context.Context) error {
	_, err := b.client.Ping(ctx)
	return err
}

// Shutdown closes all open sessions and the Docker client.
func (b *Backend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.containers))
	for _, id := range b.containers {
		ids = append(ids, id)
	}
	b.containers = make(map[string]string)
	b.mu.Unlock()

	for _, id := range ids {
		b.removeContainer(ctx, id)
	}
	return b.client.Close()
}

func (b *Backend) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err := b.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := b.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (b *Backend) removeContainer(ctx context.Context, containerID string) {
	stopTimeout := 10
	_ = b.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout})
	_ = b.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// sanitizeName makes a job key safe for use in a container name.
func sanitizeName(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '_', c == '.', c == '-':
			out = append(out, c)
		default:
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return string(out)
}

var _ session.Backend = (*Backend)(nil)
