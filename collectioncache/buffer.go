package collectioncache

import (
	"time"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/internal/coalesce"
	"github.com/goliatone/go-collection-cache/internal/rangeset"
)

// Range is a closed interval of absolute indices.
type Range = rangeset.Range

// flight is a network call writing into a buffer.
type flight[T cache.Item] struct {
	key  string
	rng  Range
	call *coalesce.Call[cache.Page[T]]
}

// buffer is the canonical, gap tolerant list of one query key, addressed by
// absolute server index. All access happens under Cache.mu.
type buffer[T cache.Item] struct {
	items     map[int]T
	positions map[string]int
	covered   rangeset.Set
	flights   []flight[T]
	total     int
	hasTotal  bool
	fetchedAt time.Time
	err       error
}

func newBuffer[T cache.Item]() *buffer[T] {
	return &buffer[T]{
		items:     make(map[int]T),
		positions: make(map[string]int),
	}
}

func (b *buffer[T]) fresh(now time.Time, ttl time.Duration) bool {
	if b.fetchedAt.IsZero() {
		return false
	}
	return now.Sub(b.fetchedAt) < ttl
}

// slice returns the items of want up to the first gap.
func (b *buffer[T]) slice(want Range) []T {
	out := make([]T, 0, min(want.Len(), len(b.items)))
	for i := want.Start; i <= want.End; i++ {
		item, ok := b.items[i]
		if !ok {
			break
		}
		out = append(out, item)
	}
	return out
}

// put stores item at idx and returns the ids that left the buffer and, when
// the item moved, the index it vacated (-1 otherwise).
func (b *buffer[T]) put(idx int, item T) (evicted []string, vacated int) {
	vacated = -1
	id := item.CacheID()

	if old, ok := b.items[idx]; ok {
		if oid := old.CacheID(); oid != id {
			delete(b.positions, oid)
			evicted = append(evicted, oid)
		}
	}
	if j, ok := b.positions[id]; ok && j != idx {
		delete(b.items, j)
		vacated = j
	}

	b.items[idx] = item
	b.positions[id] = idx
	return evicted, vacated
}

// truncate drops everything at or after total.
func (b *buffer[T]) truncate(total int) (evicted []string) {
	for idx, item := range b.items {
		if idx >= total {
			id := item.CacheID()
			delete(b.items, idx)
			delete(b.positions, id)
			evicted = append(evicted, id)
		}
	}
	if bounds, ok := b.covered.Bounds(); ok && bounds.End >= total {
		b.covered = b.covered.Remove(Range{Start: total, End: bounds.End})
	}
	return evicted
}

// compact removes the slot at idx and shifts later slots down by one.
func (b *buffer[T]) compact(idx int) {
	removed, ok := b.items[idx]
	if ok {
		delete(b.positions, removed.CacheID())
	}

	items := make(map[int]T, len(b.items))
	for i, item := range b.items {
		switch {
		case i < idx:
			items[i] = item
		case i > idx:
			items[i-1] = item
			b.positions[item.CacheID()] = i - 1
		}
	}
	b.items = items
	b.covered = b.covered.ShiftFrom(idx, -1)
	if b.hasTotal && b.total > 0 {
		b.total--
	}
}

// expand opens a slot at idx, shifting later slots up by one, and stores item there.
func (b *buffer[T]) expand(idx int, item T) {
	items := make(map[int]T, len(b.items)+1)
	for i, cur := range b.items {
		if i < idx {
			items[i] = cur
			continue
		}
		items[i+1] = cur
		b.positions[cur.CacheID()] = i + 1
	}
	items[idx] = item
	b.items = items
	b.positions[item.CacheID()] = idx
	b.covered = b.covered.ShiftFrom(idx, 1).Add(Range{Start: idx, End: idx})
	if b.hasTotal {
		b.total++
	}
}

func (b *buffer[T]) dropFlight(key string) {
	for i, f := range b.flights {
		if f.key == key {
			b.flights = append(b.flights[:i], b.flights[i+1:]...)
			return
		}
	}
}

func (b *buffer[T]) ids() []string {
	out := make([]string, 0, len(b.positions))
	for id := range b.positions {
		out = append(out, id)
	}
	return out
}
