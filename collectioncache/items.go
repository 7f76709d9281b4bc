package collectioncache

// Snapshot is the value one buffer held before an update.
type Snapshot[T any] struct {
	Key   string
	Index int
	Prior T
}

// Removal records where an item sat in one buffer before it was removed.
type Removal[T any] struct {
	Key   string
	Index int
	Item  T
}

// ApplyItemUpdate replaces the item id in every buffer that holds it with
// updater(current) and returns what each buffer held before. The updated
// item may carry a different id.
func (c *Cache[T]) ApplyItemUpdate(id string, updater func(T) T) []Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	var snaps []Snapshot[T]
	for _, key := range c.keysForLocked(id) {
		b := c.buffers[key]
		idx, ok := b.positions[id]
		if !ok {
			c.unindex(id, key)
			continue
		}
		prior := b.items[idx]
		c.place(key, b, idx, updater(prior))
		snaps = append(snaps, Snapshot[T]{Key: key, Index: idx, Prior: prior})
	}
	return snaps
}

// RestoreSnapshots puts each prior value back at its recorded index.
// Buffers dropped since the snapshot are skipped.
func (c *Cache[T]) RestoreSnapshots(snaps []Snapshot[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range snaps {
		b, ok := c.buffers[s.Key]
		if !ok {
			continue
		}
		c.place(s.Key, b, s.Index, s.Prior)
	}
}

// RemoveItem removes id from every buffer that holds it, compacting each one:
// later items move down one index, covered ranges follow and the total
// shrinks by one. The index entry of id is cleared.
func (c *Cache[T]) RemoveItem(id string) []Removal[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removals []Removal[T]
	for _, key := range c.keysForLocked(id) {
		b := c.buffers[key]
		idx, ok := b.positions[id]
		if !ok {
			continue
		}
		removals = append(removals, Removal[T]{Key: key, Index: idx, Item: b.items[idx]})
		b.compact(idx)
	}
	delete(c.index, id)
	return removals
}

// Reinsert undoes RemoveItem: each item goes back at its recorded index and
// later items move up again.
func (c *Cache[T]) Reinsert(removals []Removal[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(removals) - 1; i >= 0; i-- {
		r := removals[i]
		b, ok := c.buffers[r.Key]
		if !ok {
			continue
		}
		id := r.Item.CacheID()
		if idx, present := b.positions[id]; present {
			b.compact(idx)
		}
		b.expand(r.Index, r.Item)
		c.indexAdd(id, r.Key)
	}
}

// Placement records one buffer InsertFront wrote to. Prior is the index the
// item held there before, or -1 when it was not in the buffer.
type Placement[T any] struct {
	Key       string
	Prior     int
	PriorItem T
}

// InsertFront places item at index 0 of every buffer in keys, moving the
// rest down. An item already in a buffer is moved rather than duplicated.
// Unknown keys are ignored.
func (c *Cache[T]) InsertFront(item T, keys ...string) []Placement[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := item.CacheID()
	var placed []Placement[T]
	for _, key := range keys {
		b, ok := c.buffers[key]
		if !ok {
			continue
		}
		p := Placement[T]{Key: key, Prior: -1}
		if idx, present := b.positions[id]; present {
			p.Prior, p.PriorItem = idx, b.items[idx]
			b.compact(idx)
		}
		b.expand(0, item)
		c.indexAdd(id, key)
		placed = append(placed, p)
	}
	return placed
}

// UndoInsertFront reverts InsertFront: the inserted slot is removed from each
// placed buffer and an item that was already there goes back to its prior
// index. Buffers the call did not touch keep their copy.
func (c *Cache[T]) UndoInsertFront(id string, placed []Placement[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(placed) - 1; i >= 0; i-- {
		p := placed[i]
		b, ok := c.buffers[p.Key]
		if !ok {
			continue
		}
		if idx, present := b.positions[id]; present {
			b.compact(idx)
		}
		if p.Prior < 0 {
			c.unindex(id, p.Key)
			continue
		}
		b.expand(p.Prior, p.PriorItem)
		c.indexAdd(p.PriorItem.CacheID(), p.Key)
	}
}

// place stores item at idx of an attached buffer and keeps the index in step.
// Must hold c.mu.
func (c *Cache[T]) place(key string, b *buffer[T], idx int, item T) {
	evicted, moved := b.put(idx, item)
	for _, id := range evicted {
		c.unindex(id, key)
	}
	if moved >= 0 {
		b.covered = b.covered.Remove(Range{Start: moved, End: moved})
	}
	b.covered = b.covered.Add(Range{Start: idx, End: idx})
	c.indexAdd(item.CacheID(), key)
}
