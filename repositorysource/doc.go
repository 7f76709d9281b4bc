// Package repositorysource lets a collection cache front a database table
// through a go-repository-bun repository instead of a remote HTTP API.
//
// # Query translation
//
// A cache.Query becomes one SELECT:
//
//   - each filter becomes "column = value", or "column IN (...)" for a list
//   - nil and empty string filters are skipped, as they are by the query key
//   - SortBy/SortDir become ORDER BY
//   - Page/Limit become LIMIT/OFFSET
//
// Field names map to snake_case columns unless WithColumns supplies an
// explicit allow list:
//
//	src := repositorysource.New[Ad](adsRepo, repositorysource.WithColumns[Ad](map[string]string{
//		"status":    "status",
//		"city":      "city",
//		"createdAt": "created_at",
//	}))
//
//	ads, err := collectioncache.New[Ad](src,
//		collectioncache.WithName[Ad]("ads"),
//		collectioncache.WithDetailFetcher[Ad](src),
//	)
package repositorysource
