package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	if got := GetEnv("RUNNER_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}

	t.Setenv("RUNNER_TEST_SET", "custom")
	if got := GetEnv("RUNNER_TEST_SET", "fallback"); got != "custom" {
		t.Errorf("expected custom, got %q", got)
	}
}

func TestGetIntEnv(t *testing.T) {
	if got := GetIntEnv("RUNNER_TEST_UNSET_INT", 42); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	t.Setenv("RUNNER_TEST_INT", "123")
	if got := GetIntEnv("RUNNER_TEST_INT", 42); got != 123 {
		t.Errorf("expected 123, got %d", got)
	}

	t.Setenv("RUNNER_TEST_BAD_INT", "not-a-number")
	if got := GetIntEnv("RUNNER_TEST_BAD_INT", 42); got != 42 {
		t.Errorf("expected fallback for bad int, got %d", got)
	}
}

func TestGetDurationEnv(t *testing.T) {
	def := 5 * time.Second

	if got := GetDurationEnv("RUNNER_TEST_UNSET_DUR", def); got != def {
		t.Errorf("expected %v, got %v", def, got)
	}

	t.Setenv("RUNNER_TEST_DUR", "30s")
	if got := GetDurationEnv("RUNNER_TEST_DUR", def); got != 30*time.Second {
		t.Errorf("expected 30s, got %v", got)
	}

	t.Setenv("RUNNER_TEST_BAD_DUR", "soon")
	if got := GetDurationEnv("RUNNER_TEST_BAD_DUR", def); got != def {
		t.Errorf("expected fallback for bad duration, got %v", got)
	}
}

func TestGetSecretFile(t *testing.T) {
	if got := GetSecretFile(""); got != "" {
		t.Errorf("expected empty for empty path, got %q", got)
	}
	if got := GetSecretFile("/nonexistent/secret"); got != "" {
		t.Errorf("expected empty for missing file, got %q", got)
	}

	path := filepath.Join(t.TempDir(), "api-key")
	if err := os.WriteFile(path, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatalf("failed to write secret file: %v", err)
	}
	if got := GetSecretFile(path); got != "s3cret" {
		t.Errorf("expected trimmed secret, got %q", got)
	}
}

func TestLoadServiceConfig_Defaults(t *testing.T) {
	cfg := LoadServiceConfig()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.RunnerID != "UNKNOWN" {
		t.Errorf("expected default runner id UNKNOWN, got %q", cfg.RunnerID)
	}
	if cfg.FailureAction != "ALERT_STOP" {
		t.Errorf("expected default failure action ALERT_STOP, got %q", cfg.FailureAction)
	}
	if cfg.ResultURL == "" {
		t.Error("expected a default result report URL")
	}
}

func TestLoadStoreConfig_Defaults(t *testing.T) {
	cfg := LoadStoreConfig()

	if cfg.Timeout != 10*time.Second {
		t.Errorf("expected default store timeout 10s, got %v", cfg.Timeout)
	}
}
