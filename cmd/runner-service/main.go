// runner-service is the HTTP API server for the job chain runner.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobrunner/internal/api"
	"jobrunner/internal/config"
	"jobrunner/internal/dispatcher"
	"jobrunner/internal/events"
	"jobrunner/internal/health"
	"jobrunner/internal/notify"
	"jobrunner/internal/observability"
	"jobrunner/internal/runner"
	sessiondocker "jobrunner/internal/session/docker"
	"jobrunner/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	storeCfg := config.LoadStoreConfig()
	sessionCfg := sessiondocker.LoadConfigFromEnv()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	failureAction, err := runner.ParseFailureAction(svcCfg.FailureAction)
	if err != nil {
		return err
	}

	timeouts := runner.DefaultTimeoutResolver()
	if svcCfg.TimeoutRulesFile != "" {
		timeouts, err = runner.LoadTimeoutRules(svcCfg.TimeoutRulesFile)
		if err != nil {
			return err
		}
		slog.Info("Loaded timeout rules", "file", svcCfg.TimeoutRulesFile)
	}

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Create observer event dispatcher
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)

	// Create Docker session backend
	sessions, err := sessiondocker.New(sessionCfg)
	if err != nil {
		return err
	}
	slog.Info("Connected to Docker daemon")

	// Create queue store client
	queue := store.NewClient(store.Config{
		BaseURL: storeCfg.BaseURL,
		APIKey:  storeCfg.APIKey,
		Timeout: storeCfg.Timeout,
	})

	// Status stream hub and event publisher
	stream := api.NewStreamHub()
	publisher := events.NewPublisher(events.PublisherConfig{
		RunnerID:    svcCfg.RunnerID,
		Dispatcher:  eventDispatcher,
		ObserverURL: svcCfg.ObserverURL,
		ObserverKey: svcCfg.ObserverKey,
		Broadcast:   stream.Broadcast,
	})

	var notifier notify.Notifier = notify.Nop{}
	if svcCfg.NotifyURL != "" {
		notifier = notify.NewWebhook(svcCfg.NotifyURL, 10*time.Second)
	}

	// Create the runner (resets jobs stuck in processing by a prior crash)
	jobRunner, err := runner.New(ctx, runner.Config{
		Queue:         queue,
		Sessions:      sessions,
		Timeouts:      timeouts,
		Publisher:     publisher,
		Notifier:      notifier,
		Metrics:       metrics,
		RunnerID:      svcCfg.RunnerID,
		FailureAction: failureAction,
		ResultURL:     svcCfg.ResultURL,
	})
	if err != nil {
		return err
	}
	slog.Info("Runner ready", "runner", svcCfg.RunnerID, "failureAction", failureAction)

	// Create health checker
	healthChecker := health.NewChecker(queue, sessions)

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Runner:        jobRunner,
		HealthChecker: healthChecker,
		Stream:        stream,
		Metrics:       metrics,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the status stream stays open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	// Wait for load balancers to stop sending traffic
	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Stop the chain and release the open session; the leased
	// job is reset to pending on the next startup.
	jobRunner.Shutdown(ctx)

	// Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Drain the observer event dispatcher
	slog.Info("Draining event dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	// Log final dispatcher stats
	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	if err := sessions.Shutdown(ctx); err != nil {
		slog.Warn("Session backend shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}
