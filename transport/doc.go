// Package transport is the HTTP adapter between the collection cache and the
// upstream API.
//
// Every response must be the envelope
//
//	{"ok": true, "data": ...} | {"ok": false, "error": {"message": "..."}}
//
// and anything else, including non JSON bodies and a missing ok member, is a
// ServerRejection carrying "malformed response envelope". Transport failures
// (dial errors, timeouts, an open circuit) are NetworkErrors. Nothing is
// retried here; the caller decides.
//
// List data is {"items": [...], "total", "page", "limit", "pages"}. Query
// parameters are page, limit, sortBy, sortDir and one parameter per filter.
//
// Requests go through an optional client side rate limiter
// (golang.org/x/time/rate) and circuit breaker (sony/gobreaker). The breaker
// counts transport failures and 5xx answers only, so rejections of bad input
// never open it.
package transport
