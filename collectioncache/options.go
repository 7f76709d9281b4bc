package collectioncache

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/internal/metrics"
)

// Option configures a Cache.
type Option[T cache.Item] func(*Cache[T])

// WithName sets the collection name used as key namespace, log field and
// metric label.
func WithName[T cache.Item](name string) Option[T] {
	return func(c *Cache[T]) {
		c.name = name
	}
}

// WithConfig sets the collection configuration.
func WithConfig[T cache.Item](cfg cache.Config) Option[T] {
	return func(c *Cache[T]) {
		c.cfg = cfg
	}
}

// WithKeyer replaces the default namespaced QueryKeyer.
func WithKeyer[T cache.Item](keyer cache.QueryKeyer) Option[T] {
	return func(c *Cache[T]) {
		c.keyer = keyer
	}
}

// WithDetailFetcher sets the loader behind FetchByID.
func WithDetailFetcher[T cache.Item](f cache.DetailFetcher[T]) Option[T] {
	return func(c *Cache[T]) {
		c.detailFetcher = f
	}
}

// WithDetailStore replaces the sturdyc backed detail store.
func WithDetailStore[T cache.Item](store cache.DetailStore[T]) Option[T] {
	return func(c *Cache[T]) {
		c.detail = store
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger[T cache.Item](logger zerolog.Logger) Option[T] {
	return func(c *Cache[T]) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics[T cache.Item](m *metrics.Metrics) Option[T] {
	return func(c *Cache[T]) {
		c.metrics = m
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock[T cache.Item](now func() time.Time) Option[T] {
	return func(c *Cache[T]) {
		c.now = now
	}
}
