// Package backoff provides exponential backoff calculation.
package backoff

import (
	"math"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

// Exponential returns the delay before the given retry attempt.
// Attempt 1 returns Initial, each further attempt doubles, capped at Max.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	ceiling := 5 * time.Second
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			ceiling = cfg.Max
		}
	}

	if attempt < 1 {
		return initial
	}

	delay := float64(initial) * math.Pow(2, float64(attempt-1))
	if delay > float64(ceiling) {
		return ceiling
	}
	return time.Duration(delay)
}
