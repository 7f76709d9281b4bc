// Package config loads the settings of a collection cache process.
//
// Values are layered, later layers winning:
//
//  1. built in defaults
//  2. an optional YAML file
//  3. environment variables prefixed with COLLECTIONCACHE_
//
// Environment names are the config path with dots replaced by underscores,
// e.g. COLLECTIONCACHE_TRANSPORT_BASE_URL sets transport.base_url and
// COLLECTIONCACHE_COLLECTIONS_ADS_TTL=90s sets collections.ads.ttl.
//
// Every collection resolves its TTL the same way: its own ttl when set,
// otherwise default_ttl.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/internal/logging"
	"github.com/goliatone/go-collection-cache/transport"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "COLLECTIONCACHE_"

// Config is the process configuration.
type Config struct {
	Log       logging.Config   `koanf:"log"`
	Transport transport.Config `koanf:"transport"`

	// DefaultTTL applies to every collection without a ttl of its own.
	DefaultTTL time.Duration `koanf:"default_ttl"`

	// DefaultLimit is the page size of queries that carry none.
	DefaultLimit int `koanf:"default_limit"`

	// MaxLimit caps the page size of every query.
	MaxLimit int `koanf:"max_limit"`

	StaleWhileRevalidate bool `koanf:"stale_while_revalidate"`

	Detail cache.DetailConfig `koanf:"detail"`

	// StatePath is the badger directory for persisted queries. Empty keeps
	// them in memory.
	StatePath string `koanf:"state_path"`

	// EnumEndpoint is the path of the enum settings API.
	EnumEndpoint string `koanf:"enum_endpoint"`

	Collections map[string]CollectionConfig `koanf:"collections"`
}

// CollectionConfig overrides the defaults for one collection.
type CollectionConfig struct {
	// Endpoint is the API path of the collection. Defaults to its name.
	Endpoint string `koanf:"endpoint"`

	TTL          time.Duration `koanf:"ttl"`
	DefaultLimit int           `koanf:"default_limit"`

	// StaleWhileRevalidate overrides the global flag when set.
	StaleWhileRevalidate *bool `koanf:"stale_while_revalidate"`
}

// collectionFields are the env suffixes understood under collections.<name>.
// Longer suffixes first so "_default_limit" is not read as a name ending in
// "_default".
var collectionFields = []string{"stale_while_revalidate", "default_limit", "endpoint", "ttl"}

// Default returns the built in configuration.
func Default() Config {
	base := cache.DefaultConfig()
	return Config{
		Log:                  logging.DefaultConfig(),
		Transport:            transport.DefaultConfig(),
		DefaultTTL:           cache.DefaultTTL,
		DefaultLimit:         base.DefaultLimit,
		MaxLimit:             base.MaxLimit,
		StaleWhileRevalidate: base.StaleWhileRevalidate,
		Detail:               base.Detail,
		EnumEndpoint:         "enum-settings",
	}
}

// Load reads the configuration. path may be empty to skip the file layer.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	known := make(map[string]string)
	for _, key := range k.Keys() {
		known[strings.ReplaceAll(key, ".", "_")] = key
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform(known)), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.Log.Output = defaults.Log.Output

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransform maps COLLECTIONCACHE_TRANSPORT_BASE_URL to transport.base_url.
// Names that match no known path are ignored.
func envTransform(known map[string]string) func(string) string {
	return func(name string) string {
		name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))

		if rest, ok := strings.CutPrefix(name, "collections_"); ok {
			for _, field := range collectionFields {
				if coll, ok := strings.CutSuffix(rest, "_"+field); ok && coll != "" {
					return "collections." + coll + "." + field
				}
			}
			return ""
		}
		return known[name]
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.DefaultTTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.DefaultLimit, validation.Required, validation.Min(1), validation.Max(c.MaxLimit)),
		validation.Field(&c.MaxLimit, validation.Required, validation.Min(1), validation.Max(cache.MaxLimit)),
	)
	if err != nil {
		return err
	}

	for _, name := range c.CollectionNames() {
		coll := c.Collections[name]
		err := validation.ValidateStruct(&coll,
			validation.Field(&coll.TTL, validation.Min(time.Duration(0))),
			validation.Field(&coll.DefaultLimit, validation.Min(0), validation.Max(c.MaxLimit)),
		)
		if err != nil {
			return fmt.Errorf("collections.%s: %w", name, err)
		}
	}

	if c.Transport.BaseURL != "" {
		if err := c.Transport.Validate(); err != nil {
			return fmt.Errorf("transport: %w", err)
		}
	}
	return c.Detail.Validate()
}

// CollectionNames returns the configured collections in name order.
func (c Config) CollectionNames() []string {
	names := make([]string, 0, len(c.Collections))
	for name := range c.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TTL returns the freshness window of collection name.
func (c Config) TTL(name string) time.Duration {
	if coll, ok := c.Collections[name]; ok && coll.TTL > 0 {
		return coll.TTL
	}
	if c.DefaultTTL > 0 {
		return c.DefaultTTL
	}
	return cache.DefaultTTL
}

// Endpoint returns the API path of collection name.
func (c Config) Endpoint(name string) string {
	if coll, ok := c.Collections[name]; ok && coll.Endpoint != "" {
		return coll.Endpoint
	}
	return name
}

// Cache returns the cache settings of collection name.
func (c Config) Cache(name string) cache.Config {
	out := cache.Config{
		TTL:                  c.TTL(name),
		DefaultLimit:         c.DefaultLimit,
		MaxLimit:             c.MaxLimit,
		StaleWhileRevalidate: c.StaleWhileRevalidate,
		Detail:               c.Detail,
	}
	if coll, ok := c.Collections[name]; ok {
		if coll.DefaultLimit > 0 {
			out.DefaultLimit = coll.DefaultLimit
		}
		if coll.StaleWhileRevalidate != nil {
			out.StaleWhileRevalidate = *coll.StaleWhileRevalidate
		}
	}
	return out
}
