package collectioncache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/internal/coalesce"
	"github.com/goliatone/go-collection-cache/internal/logging"
	"github.com/goliatone/go-collection-cache/internal/metrics"
	"github.com/goliatone/go-collection-cache/internal/rangeset"
)

// ErrClosed is returned by reads on a closed Cache.
var ErrClosed = errors.New("collectioncache: cache closed")

// ErrNoDetailFetcher is returned by FetchByID when no DetailFetcher was configured.
var ErrNoDetailFetcher = errors.New("collectioncache: no detail fetcher configured")

// Cache serves pages of one remote collection out of canonical per query
// buffers. It is safe for concurrent use.
type Cache[T cache.Item] struct {
	name          string
	cfg           cache.Config
	fetcher       cache.Fetcher[T]
	detailFetcher cache.DetailFetcher[T]
	detail        cache.DetailStore[T]
	keyer         cache.QueryKeyer
	calls         *coalesce.Group[cache.Page[T]]
	detailErrs    *xsync.MapOf[string, error]
	now           func() time.Time
	logger        zerolog.Logger
	metrics       *metrics.Metrics

	mu        sync.Mutex
	buffers   map[string]*buffer[T]
	index     map[string]map[string]struct{}
	tombs     map[string]tombstone[T]
	tombOrder []string
	closed    bool
	bg        int
	bgIdle    *sync.Cond
}

// New creates a Cache over fetcher.
func New[T cache.Item](fetcher cache.Fetcher[T], opts ...Option[T]) (*Cache[T], error) {
	if fetcher == nil {
		return nil, errors.New("collectioncache: fetcher is required")
	}

	c := &Cache[T]{
		cfg:        cache.DefaultConfig(),
		fetcher:    fetcher,
		calls:      coalesce.NewGroup[cache.Page[T]](),
		detailErrs: xsync.NewMapOf[string, error](),
		now:        time.Now,
		logger:     zerolog.Nop(),
		buffers:    make(map[string]*buffer[T]),
		index:      make(map[string]map[string]struct{}),
		tombs:      make(map[string]tombstone[T]),
	}
	c.bgIdle = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}

	if err := c.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("collectioncache: invalid config: %w", err)
	}
	if c.keyer == nil {
		c.keyer = cache.NewQueryKeyer(c.name)
	}
	if c.detail == nil {
		store, err := cache.NewDetailStore[T](c.cfg.Detail)
		if err != nil {
			return nil, fmt.Errorf("collectioncache: detail store: %w", err)
		}
		c.detail = store
	}
	c.logger = logging.Component(c.logger, "collectioncache", c.name)
	return c, nil
}

// Name returns the collection name.
func (c *Cache[T]) Name() string {
	return c.name
}

// KeyOf returns the query key of q.
func (c *Cache[T]) KeyOf(q cache.Query) string {
	return c.keyer.KeyOf(q)
}

// FetchPage returns page q.Page of q, reading from the canonical buffer of
// the query and fetching only the uncovered parts. force revalidates the whole
// page. A short Items slice means there is nothing beyond it.
func (c *Cache[T]) FetchPage(ctx context.Context, q cache.Query, force bool) (cache.Page[T], error) {
	q = q.Normalize(c.cfg.DefaultLimit).Clamp(c.cfg.MaxLimit)
	if !q.InRange() {
		return cache.Page[T]{}, cache.NewValidationConflict(fmt.Sprintf("page %d with limit %d is out of range", q.Page, q.Limit))
	}
	key := c.keyer.KeyOf(q)
	want := Range{Start: q.Offset(), End: q.Offset() + q.Limit - 1}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return cache.Page[T]{}, ErrClosed
	}

	b := c.bufferFor(key)
	fresh := b.fresh(c.now(), c.cfg.TTL)

	if !force && fresh && b.hasTotal && want.End >= b.total {
		want.End = b.total - 1
		if want.End < want.Start {
			page := c.pageOf(b, q, nil, true)
			c.mu.Unlock()
			c.metrics.RecordHit(c.name)
			return page, nil
		}
	}

	if !force && b.covered.Covers(want) {
		if fresh {
			page := c.pageOf(b, q, b.slice(want), true)
			c.mu.Unlock()
			c.metrics.RecordHit(c.name)
			c.logger.Debug().Str("key", key).Int("page", q.Page).Msg("page served from cache")
			return page, nil
		}
		if c.cfg.StaleWhileRevalidate {
			page := c.pageOf(b, q, b.slice(want), true)
			c.revalidate(ctx, key, b, q, want)
			c.mu.Unlock()
			c.metrics.RecordStaleHit(c.name)
			c.logger.Debug().Str("key", key).Int("page", q.Page).Msg("stale page served, revalidating")
			return page, nil
		}
	}

	uncovered := []Range{want}
	if !force && fresh {
		uncovered = b.covered.Subtract(want)
	}
	calls := c.schedule(ctx, key, b, q, uncovered)
	c.mu.Unlock()

	c.metrics.RecordMiss(c.name)

	var firstErr error
	for _, call := range calls {
		if _, err := call.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() == nil {
		// status reflects the whole read, not the last call to settle
		b.err = firstErr
	}
	if firstErr != nil {
		return cache.Page[T]{}, firstErr
	}
	return c.pageOf(b, q, b.slice(want), false), nil
}

// revalidate refreshes want in the background. Must hold c.mu.
func (c *Cache[T]) revalidate(ctx context.Context, key string, b *buffer[T], q cache.Query, want Range) {
	calls := c.schedule(ctx, key, b, q, []Range{want})
	if len(calls) == 0 {
		return
	}

	c.bg++
	go func() {
		defer c.bgDone()
		for _, call := range calls {
			if _, err := call.Wait(context.Background()); err != nil {
				c.logger.Warn().Err(err).Str("key", key).Msg("background revalidation failed")
			}
		}
	}()
}

// schedule joins the in-flight calls overlapping the pieces and starts calls
// for the rest. Must hold c.mu.
func (c *Cache[T]) schedule(ctx context.Context, key string, b *buffer[T], q cache.Query, pieces []Range) []*coalesce.Call[cache.Page[T]] {
	var (
		calls []*coalesce.Call[cache.Page[T]]
		seen  = make(map[string]bool)
	)
	add := func(call *coalesce.Call[cache.Page[T]]) {
		if !seen[call.Key()] {
			seen[call.Key()] = true
			calls = append(calls, call)
		}
	}

	for _, piece := range pieces {
		pending := make([]Range, 0, len(b.flights))
		for _, f := range b.flights {
			if f.rng.Overlaps(piece) {
				add(f.call)
				c.metrics.RecordCoalesced(c.name)
			}
			pending = append(pending, f.rng)
		}

		for _, rest := range rangeset.Merge(pending...).Subtract(piece) {
			vp := virtualPage(rest)
			reqKey := fmt.Sprintf("%s|%d|%d", key, vp.page, vp.limit)
			call, joined := c.calls.Go(ctx, reqKey, c.fetchFn(key, b, q.WithPage(vp.page, vp.limit), reqKey))
			if joined {
				c.metrics.RecordCoalesced(c.name)
			} else {
				b.flights = append(b.flights, flight[T]{key: reqKey, rng: vp.rng, call: call})
			}
			add(call)
		}
	}

	if len(calls) > 0 {
		c.logger.Debug().Str("key", key).Int("calls", len(calls)).Msg("fetching uncovered ranges")
	}
	return calls
}

func (c *Cache[T]) fetchFn(key string, b *buffer[T], q cache.Query, reqKey string) coalesce.Func[cache.Page[T]] {
	return func(ctx context.Context) (cache.Page[T], error) {
		defer func() {
			c.mu.Lock()
			b.dropFlight(reqKey)
			c.mu.Unlock()
		}()

		started := time.Now()
		page, err := c.fetcher.FetchPage(ctx, q)
		c.metrics.RecordFetch(c.name, started, err)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			b.err = err
			c.logger.Warn().Err(err).Str("key", key).Int("page", q.Page).Int("limit", q.Limit).Msg("page fetch failed")
			return page, err
		}
		c.merge(key, b, q.Offset(), page)
		b.err = nil
		return page, nil
	}
}

// merge writes a server page at its absolute indices. Must hold c.mu.
func (c *Cache[T]) merge(key string, b *buffer[T], start int, page cache.Page[T]) {
	attached := c.buffers[key] == b
	var vacated []int

	for i, item := range page.Items {
		evicted, moved := b.put(start+i, item)
		if attached {
			for _, id := range evicted {
				c.unindex(id, key)
			}
			c.indexAdd(item.CacheID(), key)
		}
		if moved >= 0 {
			vacated = append(vacated, moved)
		}
	}

	if n := len(page.Items); n > 0 {
		b.covered = b.covered.Add(Range{Start: start, End: start + n - 1})
	}
	for _, idx := range vacated {
		if _, ok := b.items[idx]; !ok {
			b.covered = b.covered.Remove(Range{Start: idx, End: idx})
		}
	}

	total := page.Total
	if end := start + len(page.Items); total < end {
		total = end
	}
	b.total, b.hasTotal = total, true
	for _, id := range b.truncate(total) {
		if attached {
			c.unindex(id, key)
		}
	}
	b.fetchedAt = c.now()
}

func (c *Cache[T]) pageOf(b *buffer[T], q cache.Query, items []T, fromCache bool) cache.Page[T] {
	if items == nil {
		items = []T{}
	}
	total := b.total
	if !b.hasTotal {
		total = b.covered.Count()
	}
	return cache.Page[T]{
		Items:     items,
		Total:     total,
		Page:      q.Page,
		Limit:     q.Limit,
		Pages:     cache.PageCount(total, q.Limit),
		FromCache: fromCache,
	}
}

// bufferFor returns the buffer of key, creating it. Must hold c.mu.
func (c *Cache[T]) bufferFor(key string) *buffer[T] {
	b, ok := c.buffers[key]
	if !ok {
		b = newBuffer[T]()
		c.buffers[key] = b
		c.metrics.SetBuffers(c.name, len(c.buffers))
	}
	return b
}

func (c *Cache[T]) indexAdd(id, key string) {
	keys, ok := c.index[id]
	if !ok {
		keys = make(map[string]struct{})
		c.index[id] = keys
	}
	keys[key] = struct{}{}
}

func (c *Cache[T]) unindex(id, key string) {
	keys, ok := c.index[id]
	if !ok {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.index, id)
	}
}

// keysOf returns the selected keys, or every key when none is given. Must hold c.mu.
func (c *Cache[T]) keysOf(keys []string) []string {
	if len(keys) > 0 {
		return keys
	}
	all := make([]string, 0, len(c.buffers))
	for k := range c.buffers {
		all = append(all, k)
	}
	sort.Strings(all)
	return all
}

// Invalidate drops the buffers of keys, or every buffer when none is given,
// along with their index entries and the soft deletes recorded against them.
// In-flight calls of a dropped buffer still
// settle but no longer feed the cache.
func (c *Cache[T]) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.keysOf(keys) {
		b, ok := c.buffers[key]
		if !ok {
			c.logger.Debug().Str("key", key).Msg("invalidate: unknown key ignored")
			continue
		}
		for _, f := range b.flights {
			c.calls.Forget(f.key)
		}
		for _, id := range b.ids() {
			c.unindex(id, key)
		}
		delete(c.buffers, key)
		c.pruneTombstonesLocked(key)
	}
	c.metrics.SetBuffers(c.name, len(c.buffers))
}

// Expire marks the buffers of keys, or every buffer when none is given, as
// stale without dropping their data. The next read revalidates.
func (c *Cache[T]) Expire(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.keysOf(keys) {
		if b, ok := c.buffers[key]; ok {
			b.fetchedAt = time.Time{}
		}
	}
}

// Keys returns every query key with a buffer, sorted.
func (c *Cache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keysOf(nil)
}

// KeysFor returns the query keys whose buffer holds id, sorted.
func (c *Cache[T]) KeysFor(id string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keysForLocked(id)
}

func (c *Cache[T]) keysForLocked(id string) []string {
	keys := make([]string, 0, len(c.index[id]))
	for k := range c.index[id] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Status returns the loading and error state of key.
func (c *Cache[T]) Status(key string) cache.ListStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buffers[key]
	if !ok {
		return cache.ListStatus{}
	}
	return cache.ListStatus{
		Loading:   len(b.flights) > 0,
		Err:       b.err,
		FetchedAt: b.fetchedAt,
	}
}

// StatusOf returns the status of the buffer q maps to.
func (c *Cache[T]) StatusOf(q cache.Query) cache.ListStatus {
	return c.Status(c.keyer.KeyOf(q))
}

// View is a read only copy of one buffer.
type View[T any] struct {
	Key       string
	Items     map[int]T
	Covered   []Range
	Total     int
	FetchedAt time.Time
}

// Peek returns a copy of the buffer of key.
func (c *Cache[T]) Peek(key string) (View[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buffers[key]
	if !ok {
		return View[T]{}, false
	}
	items := make(map[int]T, len(b.items))
	for i, item := range b.items {
		items[i] = item
	}
	return View[T]{
		Key:       key,
		Items:     items,
		Covered:   append([]Range(nil), b.covered...),
		Total:     b.total,
		FetchedAt: b.fetchedAt,
	}, true
}

// Wait blocks until every background revalidation has settled.
func (c *Cache[T]) Wait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.bg > 0 {
		c.bgIdle.Wait()
	}
}

// Close stops serving reads and waits for background revalidations.
func (c *Cache[T]) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Wait()
	return nil
}

func (c *Cache[T]) bgDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bg--
	if c.bg == 0 {
		c.bgIdle.Broadcast()
	}
}

type vpage struct {
	page  int
	limit int
	rng   Range
}

// virtualPage returns the smallest page/limit pair whose page contains r.
func virtualPage(r Range) vpage {
	limit := r.Len()
	for r.Start/limit != r.End/limit {
		limit++
	}
	page := r.Start/limit + 1
	return vpage{
		page:  page,
		limit: limit,
		rng:   Range{Start: (page - 1) * limit, End: page*limit - 1},
	}
}
