package cacheinfra

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/viccon/sturdyc"
)

// Config holds the sizing of the sturdyc client behind entity detail lookups.
type Config struct {
	// Capacity defines the maximum number of entities the detail cache can store.
	Capacity int `koanf:"capacity"`

	// NumShards determines the number of cache shards for concurrent access.
	NumShards int `koanf:"num_shards"`

	// TTL is how long a fetched entity is served without reloading it.
	TTL time.Duration `koanf:"ttl"`

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	EvictionPercentage int `koanf:"eviction_percentage"`

	// EarlyRefresh refreshes hot entities in the background before they expire.
	// If nil, early refresh is disabled.
	EarlyRefresh *EarlyRefreshConfig `koanf:"early_refresh"`

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration `koanf:"eviction_interval"`
}

// EarlyRefreshConfig mirrors sturdyc.WithEarlyRefreshes.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration `koanf:"min_async_refresh_time"`
	MaxAsyncRefreshTime time.Duration `koanf:"max_async_refresh_time"`
	SyncRefreshTime     time.Duration `koanf:"sync_refresh_time"`
	RetryBaseDelay      time.Duration `koanf:"retry_base_delay"`
}

// DefaultConfig returns a Config sized for an admin client: a few thousand
// entities, one minute freshness.
func DefaultConfig() Config {
	return Config{
		Capacity:           5000,
		NumShards:          64,
		TTL:                time.Minute,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions converts the optional parts of Config to sturdyc options.
// Capacity, NumShards, TTL and EvictionPercentage go to sturdyc.New directly.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EarlyRefresh != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			c.EarlyRefresh.MinAsyncRefreshTime,
			c.EarlyRefresh.MaxAsyncRefreshTime,
			c.EarlyRefresh.SyncRefreshTime,
			c.EarlyRefresh.RetryBaseDelay,
		))
	}

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
// Returns a *ConfigError naming the first invalid field.
func (c Config) Validate() error {
	positive := "must be greater than 0"
	percent := "must be between 1 and 100"
	nonNegative := "must be non-negative"

	checks := []fieldCheck{
		{"Capacity", c.Capacity, []validation.Rule{validation.Required.Error(positive), validation.Min(1).Error(positive)}},
		{"NumShards", c.NumShards, []validation.Rule{validation.Required.Error(positive), validation.Min(1).Error(positive)}},
		{"TTL", int64(c.TTL), []validation.Rule{validation.Required.Error(positive), validation.Min(int64(1)).Error(positive)}},
		{"EvictionPercentage", c.EvictionPercentage, []validation.Rule{validation.Required.Error(percent), validation.Min(1).Error(percent), validation.Max(100).Error(percent)}},
		{"EvictionInterval", int64(c.EvictionInterval), []validation.Rule{validation.Min(int64(0)).Error(nonNegative)}},
	}

	if er := c.EarlyRefresh; er != nil {
		checks = append(checks,
			fieldCheck{"EarlyRefresh.MinAsyncRefreshTime", int64(er.MinAsyncRefreshTime), []validation.Rule{validation.Min(int64(0)).Error(nonNegative)}},
			fieldCheck{"EarlyRefresh.MaxAsyncRefreshTime", int64(er.MaxAsyncRefreshTime), []validation.Rule{validation.Min(int64(er.MinAsyncRefreshTime)).Error("must not be lower than MinAsyncRefreshTime")}},
			fieldCheck{"EarlyRefresh.SyncRefreshTime", int64(er.SyncRefreshTime), []validation.Rule{validation.Min(int64(0)).Error(nonNegative)}},
			fieldCheck{"EarlyRefresh.RetryBaseDelay", int64(er.RetryBaseDelay), []validation.Rule{validation.Min(int64(0)).Error(nonNegative)}},
		)
	}

	for _, check := range checks {
		if err := validation.Validate(check.value, check.rules...); err != nil {
			return &ConfigError{Field: check.field, Message: err.Error()}
		}
	}
	return nil
}

type fieldCheck struct {
	field string
	value any
	rules []validation.Rule
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// SturdycStore is a typed read-through entity store. Concurrent GetOrFetch
// calls for the same key share one load.
type SturdycStore[T any] struct {
	client *sturdyc.Client[T]
}

// NewSturdycStore validates cfg and creates the underlying sturdyc client.
func NewSturdycStore[T any](cfg Config) (*SturdycStore[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[T](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &SturdycStore[T]{client: client}, nil
}

// GetOrFetch returns the cached entity for key or loads it with fetchFn.
// Failed loads are not cached.
func (s *SturdycStore[T]) GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (T, error)) (T, error) {
	return s.client.GetOrFetch(ctx, key, fetchFn)
}

// Get returns the cached entity without loading it.
func (s *SturdycStore[T]) Get(key string) (T, bool) {
	return s.client.Get(key)
}

// Set stores value under key, replacing any previous value.
func (s *SturdycStore[T]) Set(key string, value T) {
	s.client.Set(key, value)
}

// Delete removes key so the next GetOrFetch reloads it.
func (s *SturdycStore[T]) Delete(key string) {
	s.client.Delete(key)
}

// Keys returns every key currently held.
func (s *SturdycStore[T]) Keys() []string {
	return s.client.ScanKeys()
}

// Size returns the number of cached entities.
func (s *SturdycStore[T]) Size() int {
	return s.client.Size()
}
