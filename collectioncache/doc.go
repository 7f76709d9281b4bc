// Package collectioncache provides a paginated cache in front of a remote list API.
//
// # Overview
//
// Every distinct filter and sort combination of a collection gets one canonical
// buffer, addressed by the absolute index of each item in the server's ordering.
// Pages are sub ranges of that buffer, so page 2 of size 10 and page 1 of size 20
// share data. The cache tracks which indices are covered, fetches only what is
// missing and coalesces overlapping in-flight calls.
//
// # Basic Usage
//
//	ads, err := collectioncache.New[Ad](fetcher,
//		collectioncache.WithName[Ad]("ads"),
//		collectioncache.WithConfig[Ad](cfg),
//	)
//
//	page, err := ads.FetchPage(ctx, cache.Query{
//		Filters: map[string]any{"status": "active"},
//		Page:    1,
//		Limit:   10,
//	}, false)
//
// # Reading Behavior
//
//   - Fresh and covered: served from the buffer with zero network calls
//   - Stale and covered: served stale, then revalidated in the background
//     (unless StaleWhileRevalidate is off, in which case the read waits)
//   - Partially covered: only the missing sub ranges are fetched
//   - force: the whole page is fetched again
//
// A missing sub range is fetched as the smallest page/limit pair whose page
// contains it. Responses are written at their absolute index; an id found at a
// new index leaves its old slot. A returned page stops at the first gap.
//
// # Mutations
//
// Reconciler wraps the optimistic protocol of the reconcile package around the
// cache: Update, SetStatus, ToggleLike, SoftDelete, Restore and Create apply
// their change to the detail cache and every buffer holding the item, then
// confirm with the server value or roll each structure back to what it held.
//
// Deletes compact buffers (later indices move down). Restores place the item
// at the front of the buffers it was deleted from and expire them, so the next
// read finds its real position.
//
// # Concurrency
//
// Cache is safe for concurrent use. Network calls run on a context detached
// from the caller, so a caller giving up on FetchPage does not cancel the call
// for others and the result still lands in the buffer.
package collectioncache
