package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the value of an environment variable, or def when the
// variable is unset or empty.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetIntEnv parses an integer environment variable. A value that does
// not parse falls back to def with a warning rather than failing boot.
func GetIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer env value", "key", key, "value", v)
		return def
	}
	return n
}

// GetDurationEnv parses a Go duration environment variable ("30s",
// "5m"). Unparseable values fall back to def with a warning.
func GetDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Ignoring non-duration env value", "key", key, "value", v)
		return def
	}
	return d
}

// GetSecretFile reads a secret from a mounted file (Docker secrets,
// K8s secret volumes). Returns "" for an empty path or unreadable file.
func GetSecretFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Failed to read secret file", "path", path, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}
