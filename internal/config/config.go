// Package config provides configuration loading from environment variables.
package config

import (
	"time"
)

// ServiceConfig holds configuration for the runner service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	RunnerID          string        // Identity presented to the queue store when locking jobs
	FailureAction     string        // CONTINUE, ALERT_STOP or SILENT_STOP
	TimeoutRulesFile  string        // Optional YAML file of platform timeout rules
	ObserverURL       string        // Lifecycle event webhook (empty to disable)
	ObserverKey       string        // HMAC signing key for observer events
	NotifyURL         string        // Failure notifier webhook (empty to disable)
	ResultURL         string        // Public URL workers report results to
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
}

// StoreConfig holds configuration for the remote queue store client.
type StoreConfig struct {
	BaseURL string // REST RPC base, e.g. https://<project>.supabase.co/rest/v1
	APIKey  string
	Timeout time.Duration // Per-RPC timeout, short relative to the job watchdog
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		RunnerID:          GetEnv("RUNNER_ID", "UNKNOWN"),
		FailureAction:     GetEnv("FAILURE_ACTION", "ALERT_STOP"),
		TimeoutRulesFile:  GetEnv("TIMEOUT_RULES_FILE", ""),
		ObserverURL:       GetEnv("OBSERVER_URL", ""),
		ObserverKey:       GetSecretFile(GetEnv("OBSERVER_KEY_FILE", "")),
		NotifyURL:         GetEnv("NOTIFY_URL", ""),
		ResultURL:         GetEnv("RESULT_URL", "http://host.docker.internal:8080/v1/jobs/result"),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
	}
}

// LoadStoreConfig loads queue store configuration from environment variables.
func LoadStoreConfig() *StoreConfig {
	return &StoreConfig{
		BaseURL: GetEnv("STORE_BASE_URL", ""),
		APIKey:  GetSecretFile(GetEnv("STORE_API_KEY_FILE", "")),
		Timeout: GetDurationEnv("STORE_TIMEOUT", 10*time.Second),
	}
}
