// Package statestore persists the last used query of a feature, e.g. the
// filters and page of the ads table, so a restart reopens the same view.
//
// Only the query is stored, never fetched items. Each record is a JSON
// document under "<feature>-store" carrying an integer schema version:
//
//	{"version": 1, "query": {"filters": {...}, "sortBy": "createdAt", "sortDir": "desc", "page": 2, "limit": 20}}
//
// Older documents are migrated on Load. Documents written by a newer schema
// are rejected.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-collection-cache/cache"
)

// Version is the schema version written by Save.
const Version = 1

// KeySuffix is appended to the feature name to build the storage key.
const KeySuffix = "-store"

var (
	// ErrNotFound is returned by a Backend for a missing key.
	ErrNotFound = errors.New("statestore: not found")

	// ErrUnsupportedVersion is returned for documents newer than Version.
	ErrUnsupportedVersion = errors.New("statestore: unsupported schema version")
)

// Backend is a byte oriented key value store.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type document struct {
	Version int             `json:"version"`
	Query   json.RawMessage `json:"query,omitempty"`

	// version 0 kept the query fields at the top level
	Filters map[string]any `json:"filters,omitempty"`
	Sort    string         `json:"sort,omitempty"`
	Page    int            `json:"page,omitempty"`
	Limit   int            `json:"limit,omitempty"`
}

type migration func(doc *document) error

// migrations[v] upgrades a document from version v to v+1.
var migrations = map[int]migration{
	0: migrateV0,
}

// Store reads and writes feature queries through a Backend.
type Store struct {
	backend Backend
	logger  zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New returns a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the storage key of feature.
func Key(feature string) string {
	return feature + KeySuffix
}

// Save stores q as the last query of feature.
func (s *Store) Save(ctx context.Context, feature string, q cache.Query) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("statestore: encode query: %w", err)
	}
	data, err := json.Marshal(document{Version: Version, Query: raw})
	if err != nil {
		return fmt.Errorf("statestore: encode document: %w", err)
	}
	return s.backend.Set(ctx, Key(feature), data)
}

// Load returns the last query of feature. ok is false when nothing was saved.
func (s *Store) Load(ctx context.Context, feature string) (q cache.Query, ok bool, err error) {
	data, err := s.backend.Get(ctx, Key(feature))
	if errors.Is(err, ErrNotFound) {
		return cache.Query{}, false, nil
	}
	if err != nil {
		return cache.Query{}, false, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return cache.Query{}, false, fmt.Errorf("statestore: decode %s: %w", Key(feature), err)
	}
	if doc.Version > Version {
		return cache.Query{}, false, fmt.Errorf("%w: %s has version %d, newest known is %d",
			ErrUnsupportedVersion, Key(feature), doc.Version, Version)
	}

	for doc.Version < Version {
		from := doc.Version
		if err := migrations[from](&doc); err != nil {
			return cache.Query{}, false, fmt.Errorf("statestore: migrate %s from version %d: %w", Key(feature), from, err)
		}
		s.logger.Debug().Str("key", Key(feature)).Int("from", from).Int("to", doc.Version).Msg("migrated persisted query")
	}

	if len(doc.Query) > 0 {
		if err := json.Unmarshal(doc.Query, &q); err != nil {
			return cache.Query{}, false, fmt.Errorf("statestore: decode query: %w", err)
		}
	}
	return q, true, nil
}

// Clear forgets the query of feature.
func (s *Store) Clear(ctx context.Context, feature string) error {
	err := s.backend.Delete(ctx, Key(feature))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// migrateV0 nests the top level fields under query and splits the combined
// "field:dir" sort into sortBy and sortDir.
func migrateV0(doc *document) error {
	q := cache.Query{Filters: doc.Filters, Page: doc.Page, Limit: doc.Limit}

	if doc.Sort != "" {
		field, dir, _ := strings.Cut(doc.Sort, ":")
		q.SortBy = strings.TrimSpace(field)
		switch strings.ToLower(strings.TrimSpace(dir)) {
		case "", string(cache.SortAsc):
			q.SortDir = cache.SortAsc
		case string(cache.SortDesc):
			q.SortDir = cache.SortDesc
		default:
			return fmt.Errorf("unknown sort direction %q", dir)
		}
	}

	raw, err := json.Marshal(q)
	if err != nil {
		return err
	}
	*doc = document{Version: 1, Query: raw}
	return nil
}
