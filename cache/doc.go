// Package cache provides the shared types of the collection cache: queries,
// pages, fetchers, the query keyer, the error taxonomy and configuration.
//
// # Overview
//
// A Query selects a page of a logical, server ordered collection. Its Filters,
// SortBy and SortDir identify the collection; Page and Limit only pick a sub range
// of it. QueryKeyer turns the identity part of a Query into a stable key so that
// every page of the same collection lands in the same canonical buffer:
//
//	keyer := cache.NewQueryKeyer("ads")
//	key := keyer.KeyOf(cache.Query{
//		Filters: map[string]any{"status": "active", "city": "Lisbon"},
//		SortBy:  "createdAt",
//		SortDir: cache.SortDesc,
//		Page:    2,
//		Limit:   10,
//	})
//
// # Key Serialization Strategy
//
// Filters are walked with reflection:
//
//   - Maps: key=value pairs sorted by key, so insertion order never matters
//   - Slices/arrays: serialized in order (order is significant)
//   - Strings: quoted, so "1" and 1 never collide
//   - Structs: exported fields with name:value pairs
//   - Everything else (time.Time, Stringers): JSON fallback
//
// nil and empty string filters are dropped. The canonical form is hashed with
// xxhash64 and prefixed with the keyer namespace.
//
// # Errors
//
// Errors are *goerrors.Error values from github.com/goliatone/go-errors:
//
//   - NetworkError (CategoryExternal): transport failure, never retried automatically
//   - ServerRejection (CategoryOperation): {ok:false} or malformed envelope
//   - ValidationConflict (CategoryConflict): detected before any request is sent
//
// Message extracts a human readable message from any error.
//
// # See Also
//
// The collectioncache package implements the paginated cache on top of these types.
package cache
