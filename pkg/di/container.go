package di

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/collectioncache"
	"github.com/goliatone/go-collection-cache/enumsettings"
	"github.com/goliatone/go-collection-cache/internal/logging"
	"github.com/goliatone/go-collection-cache/internal/metrics"
	"github.com/goliatone/go-collection-cache/pkg/config"
	"github.com/goliatone/go-collection-cache/repositorysource"
	"github.com/goliatone/go-collection-cache/statestore"
	"github.com/goliatone/go-collection-cache/transport"
)

// ErrNoTransport is returned when a remote collection is requested but no
// transport.base_url is configured.
var ErrNoTransport = errors.New("di: transport.base_url is not configured")

// Container wires the shared components of a process: logger, metrics,
// transport and persisted query state. Collections are built from it with
// NewCollection or NewRepositoryCollection.
type Container struct {
	cfg      config.Config
	logger   zerolog.Logger
	registry prometheus.Registerer
	metrics  *metrics.Metrics
	client   *transport.Client

	mu      sync.Mutex
	stateDB *badger.DB
	state   *statestore.Store
	enums   *enumsettings.Store
	closers []func() error
}

// Option configures a Container.
type Option func(*Container)

// WithRegisterer registers the cache metrics on reg instead of a private
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Container) { c.registry = reg }
}

// WithLogger replaces the logger built from the log section.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Container) { c.logger = logger }
}

// NewContainer builds a container from cfg.
func NewContainer(cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		cfg:    cfg,
		logger: logging.New(cfg.Log),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = prometheus.NewRegistry()
	}
	c.metrics = metrics.New(c.registry)

	if cfg.Transport.BaseURL != "" {
		client, err := transport.New(cfg.Transport,
			transport.WithLogger(logging.Component(c.logger, "transport", "")),
		)
		if err != nil {
			return nil, err
		}
		c.client = client
	}
	return c, nil
}

// NewContainerWithDefaults builds a container from the built in defaults.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(config.Default(), opts...)
}

// NewContainerFromFile loads path (see config.Load) and builds a container.
func NewContainerFromFile(path string, opts ...Option) (*Container, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewContainer(cfg, opts...)
}

// Config returns the configuration the container was built with.
func (c *Container) Config() config.Config {
	return c.cfg
}

// Logger returns the process logger.
func (c *Container) Logger() zerolog.Logger {
	return c.logger
}

// Metrics returns the cache collectors shared by every collection.
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// Transport returns the API client.
func (c *Container) Transport() (*transport.Client, error) {
	if c.client == nil {
		return nil, ErrNoTransport
	}
	return c.client, nil
}

// State returns the persisted query store, opening it on first use.
func (c *Container) State() (*statestore.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != nil {
		return c.state, nil
	}
	db, err := statestore.OpenBadger(c.cfg.StatePath)
	if err != nil {
		return nil, err
	}
	c.stateDB = db
	c.state = statestore.New(statestore.NewBadger(db),
		statestore.WithLogger(logging.Component(c.logger, "statestore", "")),
	)
	return c.state, nil
}

// Enums returns the enum settings store of the API.
func (c *Container) Enums() (*enumsettings.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enums != nil {
		return c.enums, nil
	}
	if c.client == nil {
		return nil, ErrNoTransport
	}
	c.enums = enumsettings.New(enumsettings.NewHTTPAPI(c.client, c.cfg.EnumEndpoint),
		enumsettings.WithTTL(c.cfg.TTL("enum_settings")),
		enumsettings.WithLogger(logging.Component(c.logger, "enumsettings", "enum_settings")),
	)
	return c.enums, nil
}

func (c *Container) onClose(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, fn)
}

// Close closes every collection built from the container, then the state
// database.
func (c *Container) Close() error {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	db := c.stateDB
	c.stateDB, c.state = nil, nil
	c.mu.Unlock()

	var errs []error
	for _, fn := range closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewCollection builds the cache and the reconciler of the remote collection
// name. Its endpoint and cache settings come from collections.<name>.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: ads, adsMutations, err := di.NewCollection[Ad](container, "ads")
func NewCollection[T cache.Item](c *Container, name string, opts ...collectioncache.Option[T]) (*collectioncache.Cache[T], *collectioncache.Reconciler[T], error) {
	client, err := c.Transport()
	if err != nil {
		return nil, nil, err
	}
	remote := transport.NewCollection[T](client, c.cfg.Endpoint(name))
	return build(c, name, remote, remote, opts)
}

// NewRepositoryCollection builds a collection served by a database
// repository instead of the API.
func NewRepositoryCollection[T cache.Item](c *Container, name string, repo repositorysource.Repository[T], opts ...collectioncache.Option[T]) (*collectioncache.Cache[T], *collectioncache.Reconciler[T], error) {
	src := repositorysource.New[T](repo)
	return build(c, name, src, src, opts)
}

func build[T cache.Item](c *Container, name string, fetcher cache.Fetcher[T], detail cache.DetailFetcher[T], opts []collectioncache.Option[T]) (*collectioncache.Cache[T], *collectioncache.Reconciler[T], error) {
	base := []collectioncache.Option[T]{
		collectioncache.WithName[T](name),
		collectioncache.WithConfig[T](c.cfg.Cache(name)),
		collectioncache.WithDetailFetcher[T](detail),
		collectioncache.WithLogger[T](c.logger),
		collectioncache.WithMetrics[T](c.metrics),
	}
	cc, err := collectioncache.New[T](fetcher, append(base, opts...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("collection %s: %w", name, err)
	}
	c.onClose(cc.Close)
	// ids are only unique within a collection, so each gets its own tracker
	return cc, collectioncache.NewReconciler(cc, nil), nil
}
