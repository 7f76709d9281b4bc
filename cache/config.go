package cache

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-collection-cache/internal/cacheinfra"
)

// DefaultTTL is the freshness window used when a collection has no TTL of its own.
const DefaultTTL = 60 * time.Second

// Config exposes cache configuration options for one collection.
type Config struct {
	// TTL is how long a canonical buffer is fresh after its last write.
	TTL time.Duration `koanf:"ttl"`

	// DefaultLimit is the page size used when a Query carries none.
	DefaultLimit int `koanf:"default_limit"`

	// MaxLimit caps the page size of every query. Zero means MaxLimit.
	MaxLimit int `koanf:"max_limit"`

	// StaleWhileRevalidate serves covered but stale pages immediately and
	// refreshes them in the background. When false a stale read waits for the
	// network.
	StaleWhileRevalidate bool `koanf:"stale_while_revalidate"`

	// Detail sizes the entity cache behind FetchByID.
	Detail DetailConfig `koanf:"detail"`
}

// DetailConfig mirrors the underlying sturdyc options.
type DetailConfig struct {
	Capacity           int                 `koanf:"capacity"`
	NumShards          int                 `koanf:"num_shards"`
	TTL                time.Duration       `koanf:"ttl"`
	EvictionPercentage int                 `koanf:"eviction_percentage"`
	EarlyRefresh       *EarlyRefreshConfig `koanf:"early_refresh"`
	EvictionInterval   time.Duration       `koanf:"eviction_interval"`
}

// EarlyRefreshConfig mirrors the underlying sturdyc early refresh options.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration `koanf:"min_async_refresh_time"`
	MaxAsyncRefreshTime time.Duration `koanf:"max_async_refresh_time"`
	SyncRefreshTime     time.Duration `koanf:"sync_refresh_time"`
	RetryBaseDelay      time.Duration `koanf:"retry_base_delay"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	detail := convertFromInternal(cacheinfra.DefaultConfig())
	return Config{
		TTL:                  DefaultTTL,
		DefaultLimit:         10,
		MaxLimit:             MaxLimit,
		StaleWhileRevalidate: true,
		Detail:               detail,
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.DefaultLimit, validation.Required, validation.Min(1), validation.Max(MaxLimit)),
		validation.Field(&c.MaxLimit, validation.Min(0), validation.Max(MaxLimit)),
	)
	if err != nil {
		return err
	}
	if c.MaxLimit > 0 && c.DefaultLimit > c.MaxLimit {
		return validation.Errors{"DefaultLimit": errors.New("must not exceed MaxLimit")}
	}
	return c.Detail.Validate()
}

// Validate checks the detail cache sizing.
func (c DetailConfig) Validate() error {
	return c.ToInternal().Validate()
}

// NewDetailStore constructs the default sturdyc backed DetailStore.
func NewDetailStore[T any](cfg DetailConfig) (DetailStore[T], error) {
	store, err := cacheinfra.NewSturdycStore[T](cfg.ToInternal())
	if err != nil {
		return nil, err
	}
	return store, nil
}

// ToInternal converts to the infrastructure configuration.
func (c DetailConfig) ToInternal() cacheinfra.Config {
	var early *cacheinfra.EarlyRefreshConfig
	if c.EarlyRefresh != nil {
		early = &cacheinfra.EarlyRefreshConfig{
			MinAsyncRefreshTime: c.EarlyRefresh.MinAsyncRefreshTime,
			MaxAsyncRefreshTime: c.EarlyRefresh.MaxAsyncRefreshTime,
			SyncRefreshTime:     c.EarlyRefresh.SyncRefreshTime,
			RetryBaseDelay:      c.EarlyRefresh.RetryBaseDelay,
		}
	}

	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.EvictionPercentage,
		EarlyRefresh:       early,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) DetailConfig {
	var early *EarlyRefreshConfig
	if cfg.EarlyRefresh != nil {
		early = &EarlyRefreshConfig{
			MinAsyncRefreshTime: cfg.EarlyRefresh.MinAsyncRefreshTime,
			MaxAsyncRefreshTime: cfg.EarlyRefresh.MaxAsyncRefreshTime,
			SyncRefreshTime:     cfg.EarlyRefresh.SyncRefreshTime,
			RetryBaseDelay:      cfg.EarlyRefresh.RetryBaseDelay,
		}
	}

	return DetailConfig{
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		TTL:                cfg.TTL,
		EvictionPercentage: cfg.EvictionPercentage,
		EarlyRefresh:       early,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
