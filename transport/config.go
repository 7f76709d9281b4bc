package transport

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds the upstream API settings.
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.com/v1.
	BaseURL string `koanf:"base_url"`

	// Timeout bounds every request, including reading the body.
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit is the sustained requests per second. Zero disables limiting.
	RateLimit float64 `koanf:"rate_limit"`

	// Burst is the number of requests allowed above RateLimit at once.
	Burst int `koanf:"burst"`

	// Headers are sent with every request.
	Headers map[string]string `koanf:"headers"`

	Breaker BreakerConfig `koanf:"breaker"`
}

// BreakerConfig configures the circuit breaker in front of the API.
type BreakerConfig struct {
	Enabled bool `koanf:"enabled"`

	// MaxRequests is the number of probes allowed while half open.
	MaxRequests uint32 `koanf:"max_requests"`

	// Interval resets the failure counts while closed. Zero never resets.
	Interval time.Duration `koanf:"interval"`

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `koanf:"timeout"`

	// MinRequests and FailureRatio decide when the breaker opens.
	MinRequests  uint32  `koanf:"min_requests"`
	FailureRatio float64 `koanf:"failure_ratio"`
}

// DefaultConfig returns the client defaults. BaseURL must still be set.
func DefaultConfig() Config {
	return Config{
		Timeout:   10 * time.Second,
		RateLimit: 20,
		Burst:     10,
		Breaker: BreakerConfig{
			Enabled:      true,
			MaxRequests:  3,
			Interval:     time.Minute,
			Timeout:      30 * time.Second,
			MinRequests:  10,
			FailureRatio: 0.6,
		},
	}
}

// ConfigError reports an invalid transport setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("transport config error: %s: %s", e.Field, e.Message)
}

type fieldCheck struct {
	field string
	value any
	rules []validation.Rule
}

// Validate checks the configuration.
func (c Config) Validate() error {
	checks := []fieldCheck{
		{"BaseURL", c.BaseURL, []validation.Rule{validation.Required}},
		{"Timeout", c.Timeout, []validation.Rule{validation.Min(time.Duration(0))}},
		{"RateLimit", c.RateLimit, []validation.Rule{validation.Min(0.0)}},
		{"Burst", c.Burst, []validation.Rule{validation.Min(0)}},
	}
	if c.Breaker.Enabled {
		checks = append(checks, fieldCheck{
			"Breaker.FailureRatio", c.Breaker.FailureRatio,
			[]validation.Rule{validation.Required, validation.Min(0.01), validation.Max(1.0)},
		})
	}

	for _, check := range checks {
		if err := validation.Validate(check.value, check.rules...); err != nil {
			return &ConfigError{Field: check.field, Message: err.Error()}
		}
	}
	return nil
}
