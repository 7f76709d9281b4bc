package collectioncache

import (
	"context"
)

// FetchByID returns the entity id from the detail cache, loading it through
// the DetailFetcher on a miss. Concurrent loads of the same id share one call.
// force drops the cached entity first.
func (c *Cache[T]) FetchByID(ctx context.Context, id string, force bool) (T, error) {
	var zero T
	if c.detailFetcher == nil {
		return zero, ErrNoDetailFetcher
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return zero, ErrClosed
	}

	if force {
		c.detail.Delete(id)
	}

	v, err := c.detail.GetOrFetch(ctx, id, func(ctx context.Context) (T, error) {
		return c.detailFetcher.FetchByID(ctx, id)
	})
	if err != nil {
		c.detailErrs.Store(id, err)
		c.logger.Warn().Err(err).Str("id", id).Msg("detail fetch failed")
		return zero, err
	}
	c.detailErrs.Delete(id)
	return v, nil
}

// DetailErr returns the error of the last failed FetchByID for id.
func (c *Cache[T]) DetailErr(id string) error {
	err, _ := c.detailErrs.Load(id)
	return err
}

// PeekDetail returns the cached entity id without loading it.
func (c *Cache[T]) PeekDetail(id string) (T, bool) {
	return c.detail.Get(id)
}

// SetDetail stores v as the cached entity id.
func (c *Cache[T]) SetDetail(id string, v T) {
	c.detail.Set(id, v)
}

// DropDetail removes the cached entity id.
func (c *Cache[T]) DropDetail(id string) {
	c.detail.Delete(id)
}
