package testsupport

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-collection-cache/cache"
)

// Record is a minimal collection item for tests.
type Record struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
	Likes  int    `json:"likes,omitempty"`
}

// CacheID implements cache.Item.
func (r Record) CacheID() string { return r.ID }

// Records returns n records with ids prefix-0 .. prefix-(n-1).
func Records(prefix string, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		id := fmt.Sprintf("%s-%d", prefix, i)
		out[i] = Record{ID: id, Title: "title " + id, Status: "active"}
	}
	return out
}

// CountingFetcher is a stub transport serving pages out of a slice and
// counting every call it receives.
type CountingFetcher[T cache.Item] struct {
	mu          sync.Mutex
	items       []T
	queries     []cache.Query
	detailCalls int
	fail        func(q cache.Query) error
	gate        chan struct{}
	started     chan cache.Query
}

// NewCountingFetcher returns a fetcher over items.
func NewCountingFetcher[T cache.Item](items []T) *CountingFetcher[T] {
	return &CountingFetcher[T]{
		items:   append([]T(nil), items...),
		started: make(chan cache.Query, 128),
	}
}

// FetchPage implements cache.Fetcher.
func (f *CountingFetcher[T]) FetchPage(ctx context.Context, q cache.Query) (cache.Page[T], error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	gate := f.gate
	fail := f.fail
	f.mu.Unlock()

	select {
	case f.started <- q:
	default:
	}

	if gate != nil {
		<-gate
	}
	if fail != nil {
		if err := fail(q); err != nil {
			return cache.Page[T]{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	total := len(f.items)
	start := (q.Page - 1) * q.Limit
	end := start + q.Limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return cache.Page[T]{
		Items: append([]T(nil), f.items[start:end]...),
		Total: total,
		Page:  q.Page,
		Limit: q.Limit,
		Pages: cache.PageCount(total, q.Limit),
	}, nil
}

// FetchByID implements cache.DetailFetcher.
func (f *CountingFetcher[T]) FetchByID(ctx context.Context, id string) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.detailCalls++
	for _, item := range f.items {
		if item.CacheID() == id {
			return item, nil
		}
	}
	var zero T
	return zero, cache.NewServerRejection(fmt.Sprintf("%s not found", id), 404)
}

// Calls returns the number of FetchPage calls.
func (f *CountingFetcher[T]) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// DetailCalls returns the number of FetchByID calls.
func (f *CountingFetcher[T]) DetailCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailCalls
}

// Queries returns the queries received so far.
func (f *CountingFetcher[T]) Queries() []cache.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cache.Query(nil), f.queries...)
}

// Reset clears the recorded calls.
func (f *CountingFetcher[T]) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = nil
	f.detailCalls = 0
}

// SetItems replaces the server side data.
func (f *CountingFetcher[T]) SetItems(items []T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append([]T(nil), items...)
}

// FailWith makes every call for which fn returns an error fail. nil clears it.
func (f *CountingFetcher[T]) FailWith(fn func(q cache.Query) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fn
}

// Hold blocks every following FetchPage until release is called.
func (f *CountingFetcher[T]) Hold() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gate == gate {
				f.gate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Started delivers each query as its call begins.
func (f *CountingFetcher[T]) Started() <-chan cache.Query {
	return f.started
}
