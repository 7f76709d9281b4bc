package collectioncache

import (
	"context"

	"github.com/google/uuid"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/reconcile"
)

// TempIDPrefix prefixes the ids handed out to drafts of optimistic creates.
const TempIDPrefix = "tmp-"

// maxTombstones bounds the soft deletes remembered for Restore.
const maxTombstones = 1024

// tombstone remembers what a soft delete removed.
type tombstone[T any] struct {
	keys []string
	item T
}

// Reconciler applies optimistic mutations to a Cache and reconciles them
// with the server answer.
type Reconciler[T cache.Item] struct {
	cache   *Cache[T]
	tracker *reconcile.Tracker
}

// NewReconciler returns a Reconciler over c. A nil tracker gets a fresh one.
func NewReconciler[T cache.Item](c *Cache[T], tracker *reconcile.Tracker) *Reconciler[T] {
	if tracker == nil {
		tracker = reconcile.NewTracker()
	}
	return &Reconciler[T]{cache: c, tracker: tracker}
}

// Tracker returns the per id loading and error flags.
func (r *Reconciler[T]) Tracker() *reconcile.Tracker {
	return r.tracker
}

// Pending reports whether a mutation on id is in flight.
func (r *Reconciler[T]) Pending(id string) bool {
	return r.tracker.Pending(id)
}

// Err returns the last mutation error of id.
func (r *Reconciler[T]) Err(id string) error {
	return r.tracker.Err(id)
}

// Update shows optimistic in the detail cache and every buffer holding id,
// then replaces it with the server value. A failed call puts back what each
// structure held before.
func (r *Reconciler[T]) Update(ctx context.Context, id string, optimistic T, call reconcile.Call[T]) (T, error) {
	return reconcile.Run(ctx, r.tracker, id, call,
		r.detailStep(id, optimistic),
		r.listStep(id, optimistic),
		r.failStep(id, "update"),
	)
}

// ToggleLike is Update for like counters.
func (r *Reconciler[T]) ToggleLike(ctx context.Context, id string, optimistic T, call reconcile.Call[T]) (T, error) {
	return reconcile.Run(ctx, r.tracker, id, call,
		r.detailStep(id, optimistic),
		r.listStep(id, optimistic),
		r.failStep(id, "like"),
	)
}

// SetStatus is Update for changes that may move the item in or out of
// filtered lists. The item can join a list that never held it, so on success
// every buffer is expired.
func (r *Reconciler[T]) SetStatus(ctx context.Context, id string, optimistic T, call reconcile.Call[T]) (T, error) {
	return reconcile.Run(ctx, r.tracker, id, call,
		reconcile.Step[T]{
			Name:    "membership",
			Confirm: func(T) { r.cache.Expire() },
		},
		r.detailStep(id, optimistic),
		r.listStep(id, optimistic),
		r.failStep(id, "status"),
	)
}

// SoftDelete removes id from every buffer before the call. On success the
// detail entry is dropped and the buffers it left are expired; on failure the
// item goes back where it was.
func (r *Reconciler[T]) SoftDelete(ctx context.Context, id string, call reconcile.Call[T]) (T, error) {
	var removals []Removal[T]
	return reconcile.Run(ctx, r.tracker, id, call,
		reconcile.Step[T]{
			Name: "lists",
			Apply: func() func() {
				removals = r.cache.RemoveItem(id)
				return func() { r.cache.Reinsert(removals) }
			},
			Confirm: func(T) {
				keys := make([]string, 0, len(removals))
				for _, rm := range removals {
					keys = append(keys, rm.Key)
				}
				if len(removals) > 0 {
					r.cache.recordTombstone(id, tombstone[T]{keys: keys, item: removals[0].Item})
				}
				r.cache.DropDetail(id)
				r.expire(keys)
			},
		},
		r.failStep(id, "delete"),
	)
}

// Restore undoes a soft delete. The item reappears at the front of every
// buffer it was deleted from, and those buffers are expired so the next read
// finds its real position. Without a record of the delete every buffer is
// expired instead.
func (r *Reconciler[T]) Restore(ctx context.Context, id string, call reconcile.Call[T]) (T, error) {
	tomb, known := r.cache.tombstoneOf(id)
	return reconcile.Run(ctx, r.tracker, id, call,
		reconcile.Step[T]{
			Name: "lists",
			Apply: func() func() {
				if !known {
					return nil
				}
				placed := r.cache.InsertFront(tomb.item, tomb.keys...)
				if len(placed) == 0 {
					return nil
				}
				return func() { r.cache.UndoInsertFront(id, placed) }
			},
			Confirm: func(confirmed T) {
				r.cache.SetDetail(confirmed.CacheID(), confirmed)
				if !known {
					r.cache.Expire()
					return
				}
				r.cache.ApplyItemUpdate(id, func(T) T { return confirmed })
				r.cache.clearTombstone(id)
				r.expire(tomb.keys)
			},
		},
		r.failStep(id, "restore"),
	)
}

// Create shows a draft at the front of keys under a temporary id built by
// NewTempID, then swaps it for the server entity and expires every buffer.
// On failure the draft is removed.
func (r *Reconciler[T]) Create(ctx context.Context, build func(tempID string) T, call func(ctx context.Context, draft T) (T, error), keys ...string) (T, error) {
	tempID := NewTempID()
	draft := build(tempID)

	return reconcile.Run(ctx, r.tracker, tempID,
		func(ctx context.Context) (T, error) { return call(ctx, draft) },
		reconcile.Step[T]{
			Name: "draft",
			Apply: func() func() {
				placed := r.cache.InsertFront(draft, keys...)
				return func() { r.cache.UndoInsertFront(tempID, placed) }
			},
			Confirm: func(confirmed T) {
				r.cache.ApplyItemUpdate(tempID, func(T) T { return confirmed })
				r.cache.SetDetail(confirmed.CacheID(), confirmed)
				r.cache.Expire()
			},
		},
		r.failStep(tempID, "create"),
	)
}

// NewTempID returns an id for an unsaved draft.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

func (r *Reconciler[T]) detailStep(id string, optimistic T) reconcile.Step[T] {
	return reconcile.Step[T]{
		Name: "detail",
		Apply: func() func() {
			prev, had := r.cache.PeekDetail(id)
			r.cache.SetDetail(id, optimistic)
			return func() {
				if had {
					r.cache.SetDetail(id, prev)
					return
				}
				r.cache.DropDetail(id)
			}
		},
		Confirm: func(confirmed T) {
			r.cache.SetDetail(confirmed.CacheID(), confirmed)
		},
	}
}

func (r *Reconciler[T]) listStep(id string, optimistic T) reconcile.Step[T] {
	return reconcile.Step[T]{
		Name: "lists",
		Apply: func() func() {
			snaps := r.cache.ApplyItemUpdate(id, func(T) T { return optimistic })
			return func() { r.cache.RestoreSnapshots(snaps) }
		},
		Confirm: func(confirmed T) {
			r.cache.ApplyItemUpdate(optimistic.CacheID(), func(T) T { return confirmed })
		},
	}
}

func (r *Reconciler[T]) failStep(id, action string) reconcile.Step[T] {
	return reconcile.Step[T]{
		Name: "report",
		Fail: func(err error) {
			r.cache.metrics.RecordRollback(r.cache.name, action)
			r.cache.logger.Warn().Err(err).Str("id", id).Str("action", action).Msg("mutation rolled back")
		},
	}
}

func (r *Reconciler[T]) expire(keys []string) {
	if len(keys) == 0 {
		return
	}
	r.cache.Expire(keys...)
}

// recordTombstone remembers a confirmed soft delete of id. The oldest record
// is dropped past maxTombstones.
func (c *Cache[T]) recordTombstone(id string, t tombstone[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tombs[id]; !ok {
		c.tombOrder = append(c.tombOrder, id)
	}
	c.tombs[id] = t
	for len(c.tombOrder) > maxTombstones {
		delete(c.tombs, c.tombOrder[0])
		c.tombOrder = c.tombOrder[1:]
	}
}

func (c *Cache[T]) tombstoneOf(id string) (tombstone[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tombs[id]
	return t, ok
}

func (c *Cache[T]) clearTombstone(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropTombstoneLocked(id)
}

// dropTombstoneLocked forgets id. Must hold c.mu.
func (c *Cache[T]) dropTombstoneLocked(id string) {
	if _, ok := c.tombs[id]; !ok {
		return
	}
	delete(c.tombs, id)
	for i, cur := range c.tombOrder {
		if cur == id {
			c.tombOrder = append(c.tombOrder[:i], c.tombOrder[i+1:]...)
			break
		}
	}
}

// pruneTombstonesLocked removes key from every tombstone and forgets the ones
// left without a buffer. Must hold c.mu.
func (c *Cache[T]) pruneTombstonesLocked(key string) {
	for id, t := range c.tombs {
		keys := t.keys[:0:0]
		for _, k := range t.keys {
			if k != key {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 {
			c.dropTombstoneLocked(id)
			continue
		}
		t.keys = keys
		c.tombs[id] = t
	}
}

// Tombstones returns the number of soft deletes remembered for Restore.
func (c *Cache[T]) Tombstones() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tombs)
}
