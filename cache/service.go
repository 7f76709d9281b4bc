package cache

import (
	"context"
	"math"
	"time"
)

// SortDirection is the order applied to SortBy.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Query selects a page of a logical collection. Filters, SortBy and SortDir
// identify the collection; Page and Limit select a sub range of it.
type Query struct {
	Filters map[string]any `json:"filters,omitempty"`
	SortBy  string         `json:"sortBy,omitempty"`
	SortDir SortDirection  `json:"sortDir,omitempty"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
}

// MaxLimit is the largest page size any query can ask for.
const MaxLimit = 1000

// Normalize fills page and limit defaults and caps the limit at MaxLimit.
func (q Query) Normalize(defaultLimit int) Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultLimit
	}
	if q.Limit < 1 {
		q.Limit = 10
	}
	return q.Clamp(MaxLimit)
}

// Clamp caps the limit at maxLimit. A maxLimit below 1 leaves q unchanged.
func (q Query) Clamp(maxLimit int) Query {
	if maxLimit > 0 && q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return q
}

// InRange reports whether every index of the page fits in an int.
func (q Query) InRange() bool {
	if q.Page < 1 || q.Limit < 1 {
		return false
	}
	return q.Page-1 <= (math.MaxInt-q.Limit)/q.Limit
}

// Offset returns the absolute index of the first item of the page.
func (q Query) Offset() int {
	return (q.Page - 1) * q.Limit
}

// WithPage returns a copy of q pointing at page/limit.
func (q Query) WithPage(page, limit int) Query {
	q.Page = page
	q.Limit = limit
	return q
}

// Item is any record returned by a list endpoint.
type Item interface {
	CacheID() string
}

// Page is one page of a collection as served by the server or the cache.
type Page[T any] struct {
	Items     []T  `json:"items"`
	Total     int  `json:"total"`
	Page      int  `json:"page"`
	Limit     int  `json:"limit"`
	Pages     int  `json:"pages"`
	FromCache bool `json:"-"`
}

// PageCount returns the number of pages of limit items needed to hold total.
func PageCount(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// Fetcher loads one page of a collection from the source of truth.
type Fetcher[T any] interface {
	FetchPage(ctx context.Context, q Query) (Page[T], error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[T any] func(ctx context.Context, q Query) (Page[T], error)

// FetchPage implements Fetcher.
func (f FetcherFunc[T]) FetchPage(ctx context.Context, q Query) (Page[T], error) {
	return f(ctx, q)
}

// DetailFetcher loads a single entity by id.
type DetailFetcher[T any] interface {
	FetchByID(ctx context.Context, id string) (T, error)
}

// DetailFetcherFunc adapts a function to DetailFetcher.
type DetailFetcherFunc[T any] func(ctx context.Context, id string) (T, error)

// FetchByID implements DetailFetcher.
func (f DetailFetcherFunc[T]) FetchByID(ctx context.Context, id string) (T, error) {
	return f(ctx, id)
}

// ListStatus is the loading and error state of one query key.
type ListStatus struct {
	Loading   bool
	Err       error
	FetchedAt time.Time
}

// Message returns the human readable error message, if any.
func (s ListStatus) Message() string {
	return Message(s.Err)
}

// DetailStore is the read-through store behind FetchByID. The default
// implementation is backed by sturdyc, which also coalesces concurrent loads
// of the same id.
type DetailStore[T any] interface {
	GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (T, error)) (T, error)
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	Keys() []string
}
