package docker

import (
	"strings"

	"jobrunner/internal/config"
)

// Config holds configuration for the Docker session backend.
type Config struct {
	WorkerImage string   // browser worker image (required)
	ExtraHosts  []string // extra /etc/hosts entries for containers (e.g., ["runner.test:host-gateway"])
	ShmSize     int64    // /dev/shm size in bytes
}

// LoadConfigFromEnv loads session backend configuration from environment variables.
func LoadConfigFromEnv() Config {
	var extraHosts []string
	if hosts := config.GetEnv("EXTRA_HOSTS", ""); hosts != "" {
		extraHosts = strings.Split(hosts, ",")
	}

	return Config{
		WorkerImage: config.GetEnv("WORKER_IMAGE", ""),
		ExtraHosts:  extraHosts,
		ShmSize:     int64(config.GetIntEnv("WORKER_SHM_MB", 512)) * 1024 * 1024,
	}
}
