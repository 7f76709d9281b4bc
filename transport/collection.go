package transport

import (
	"context"

	"github.com/goliatone/go-collection-cache/cache"
)

var (
	_ cache.Fetcher[any]       = (*Collection[any])(nil)
	_ cache.DetailFetcher[any] = (*Collection[any])(nil)
)

// Collection is one REST collection endpoint, e.g. "ads".
type Collection[T any] struct {
	Client *Client
	Path   string
}

// NewCollection returns the collection at endpoint.
func NewCollection[T any](c *Client, endpoint string) *Collection[T] {
	return &Collection[T]{Client: c, Path: endpoint}
}

// FetchPage implements cache.Fetcher.
func (c *Collection[T]) FetchPage(ctx context.Context, q cache.Query) (cache.Page[T], error) {
	return List[T](ctx, c.Client, c.Path, q)
}

// FetchByID implements cache.DetailFetcher.
func (c *Collection[T]) FetchByID(ctx context.Context, id string) (T, error) {
	return Get[T](ctx, c.Client, Path(c.Path, id))
}

// Create posts body to the collection.
func (c *Collection[T]) Create(ctx context.Context, body any) (T, error) {
	return Post[T](ctx, c.Client, c.Path, body)
}

// Update replaces entity id with body.
func (c *Collection[T]) Update(ctx context.Context, id string, body any) (T, error) {
	return Put[T](ctx, c.Client, Path(c.Path, id), body)
}

// Action patches <path>/<id>/<action>, e.g. "status", "restore" or "like".
func (c *Collection[T]) Action(ctx context.Context, id, action string, body any) (T, error) {
	return Patch[T](ctx, c.Client, Path(c.Path, id, action), body)
}

// Remove deletes entity id.
func (c *Collection[T]) Remove(ctx context.Context, id string) (T, error) {
	return Delete[T](ctx, c.Client, Path(c.Path, id))
}
