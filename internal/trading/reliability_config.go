package trading

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ReliabilityConfig holds gateway retry and breaker settings.
type ReliabilityConfig struct {
	CallTimeout         time.Duration
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// DefaultReliabilityConfig returns the documented gateway defaults.
func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		CallTimeout:         time.Second,
		RetryMaxAttempts:    5,
		RetryBaseDelay:      2 * time.Second,
		RetryMaxDelay:       32 * time.Second,
		BreakerMaxFailures:  3,
		BreakerResetTimeout: 15 * time.Second,
	}
}

// LoadReliabilityConfig reads gateway settings from env, falling back to
// the defaults for unset variables.
func LoadReliabilityConfig() (ReliabilityConfig, error) {
	cfg := DefaultReliabilityConfig()
	var err error

	if cfg.CallTimeout, err = envDuration("GATEWAY_CALL_TIMEOUT", cfg.CallTimeout); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxAttempts, err = envInt("GATEWAY_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts); err != nil {
		return cfg, err
	}
	if cfg.RetryBaseDelay, err = envDuration("GATEWAY_RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxDelay, err = envDuration("GATEWAY_RETRY_MAX_DELAY", cfg.RetryMaxDelay); err != nil {
		return cfg, err
	}
	if cfg.BreakerMaxFailures, err = envInt("GATEWAY_BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures); err != nil {
		return cfg, err
	}
	if cfg.BreakerResetTimeout, err = envDuration("GATEWAY_BREAKER_RESET_TIMEOUT", cfg.BreakerResetTimeout); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// RetryPolicy builds the policy described by the config.
func (c ReliabilityConfig) RetryPolicy() RetryPolicy {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = c.RetryMaxAttempts
	policy.BaseDelay = c.RetryBaseDelay
	policy.MaxDelay = c.RetryMaxDelay
	return policy
}

// Breaker builds a circuit breaker described by the config.
func (c ReliabilityConfig) Breaker() *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  c.BreakerMaxFailures,
		ResetTimeout: c.BreakerResetTimeout,
	})
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func envInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}
