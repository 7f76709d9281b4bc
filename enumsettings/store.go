// Package enumsettings caches grouped key/value settings and edits them
// optimistically.
package enumsettings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/internal/coalesce"
	"github.com/goliatone/go-collection-cache/reconcile"
)

// Value is one entry of a group.
type Value struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}

// Validate checks the value fields.
func (v Value) Validate() error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.Key, validation.Required, validation.Length(1, 64)),
		validation.Field(&v.Label, validation.Length(0, 255)),
	)
}

// Group is a named list of values.
type Group struct {
	Name   string  `json:"name"`
	Values []Value `json:"values"`
}

// CacheID implements cache.Item.
func (g Group) CacheID() string { return g.Name }

func (g Group) index(key string) int {
	for i, v := range g.Values {
		if v.Key == key {
			return i
		}
	}
	return -1
}

func (g Group) clone() Group {
	g.Values = append([]Value(nil), g.Values...)
	return g
}

// ErrUnknownGroup is returned for mutations on a group that was never loaded.
var ErrUnknownGroup = errors.New("enumsettings: unknown group")

// Store holds the enum groups of the application.
type Store struct {
	api     API
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	loads   *coalesce.Group[[]Group]
	tracker *reconcile.Tracker

	mu        sync.RWMutex
	groups    map[string]Group
	order     []string
	fetchedAt time.Time
	err       error
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the freshness window of the loaded groups.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store over api.
func New(api API, opts ...Option) *Store {
	s := &Store{
		api:     api,
		ttl:     cache.DefaultTTL,
		now:     time.Now,
		logger:  zerolog.Nop(),
		loads:   coalesce.NewGroup[[]Group](),
		tracker: reconcile.NewTracker(),
		groups:  make(map[string]Group),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchGroups returns every group, loading them when the cached copy is
// stale or force is set. Concurrent loads share one call.
func (s *Store) FetchGroups(ctx context.Context, force bool) ([]Group, error) {
	s.mu.RLock()
	fresh := !s.fetchedAt.IsZero() && s.now().Sub(s.fetchedAt) < s.ttl
	s.mu.RUnlock()
	if fresh && !force {
		return s.Groups(), nil
	}

	if _, err := s.loads.Do(ctx, "groups", s.load); err != nil {
		return nil, err
	}
	return s.Groups(), nil
}

func (s *Store) load(ctx context.Context) ([]Group, error) {
	groups, err := s.api.ListGroups(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.err = err
		s.logger.Warn().Err(err).Msg("enum groups load failed")
		return nil, err
	}

	s.groups = make(map[string]Group, len(groups))
	s.order = s.order[:0]
	for _, g := range groups {
		s.groups[g.Name] = g.clone()
		s.order = append(s.order, g.Name)
	}
	s.fetchedAt = s.now()
	s.err = nil
	return groups, nil
}

// Groups returns a copy of the cached groups in server order.
func (s *Store) Groups() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Group, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.groups[name].clone())
	}
	return out
}

// Group returns a copy of the cached group name.
func (s *Store) Group(name string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[name]
	return g.clone(), ok
}

// Err returns the error of the last failed load.
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Pending reports whether a mutation of group/key is awaiting the server.
func (s *Store) Pending(group, key string) bool {
	return s.tracker.Pending(mutationID(group, key))
}

// MutationErr returns the last mutation error of group/key.
func (s *Store) MutationErr(group, key string) error {
	return s.tracker.Err(mutationID(group, key))
}

// AddValue appends v to group. A missing or duplicate key is a
// ValidationConflict and nothing is sent.
func (s *Store) AddValue(ctx context.Context, group string, v Value) (Group, error) {
	v.Key = strings.TrimSpace(v.Key)
	if err := v.Validate(); err != nil {
		return Group{}, cache.NewValidationConflict(err.Error())
	}

	s.mu.RLock()
	g, ok := s.groups[group]
	s.mu.RUnlock()
	if !ok {
		return Group{}, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}
	if g.index(v.Key) >= 0 {
		return Group{}, cache.NewValidationConflict(fmt.Sprintf("key %q already exists in %s", v.Key, group))
	}

	return s.mutate(ctx, group, v.Key, "add",
		func(g Group) (Group, func(Group) Group) {
			g.Values = append(g.Values, v)
			return g, func(g Group) Group {
				if i := g.index(v.Key); i >= 0 {
					g.Values = append(g.Values[:i], g.Values[i+1:]...)
				}
				return g
			}
		},
		func(ctx context.Context) (Group, error) { return s.api.AddValue(ctx, group, v) },
	)
}

// UpdateValue replaces the value key of group with v. Renaming onto an
// existing key is a ValidationConflict.
func (s *Store) UpdateValue(ctx context.Context, group, key string, v Value) (Group, error) {
	v.Key = strings.TrimSpace(v.Key)
	if err := v.Validate(); err != nil {
		return Group{}, cache.NewValidationConflict(err.Error())
	}

	s.mu.RLock()
	g, ok := s.groups[group]
	s.mu.RUnlock()
	if !ok {
		return Group{}, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}
	if g.index(key) < 0 {
		return Group{}, cache.NewValidationConflict(fmt.Sprintf("key %q does not exist in %s", key, group))
	}
	if v.Key != key && g.index(v.Key) >= 0 {
		return Group{}, cache.NewValidationConflict(fmt.Sprintf("key %q already exists in %s", v.Key, group))
	}

	return s.mutate(ctx, group, key, "update",
		func(g Group) (Group, func(Group) Group) {
			i := g.index(key)
			if i < 0 {
				return g, nil
			}
			prior := g.Values[i]
			g.Values[i] = v
			return g, func(g Group) Group {
				if j := g.index(v.Key); j >= 0 {
					g.Values[j] = prior
				}
				return g
			}
		},
		func(ctx context.Context) (Group, error) { return s.api.UpdateValue(ctx, group, key, v) },
	)
}

// RemoveValue drops the value key from group.
func (s *Store) RemoveValue(ctx context.Context, group, key string) (Group, error) {
	return s.mutate(ctx, group, key, "remove",
		func(g Group) (Group, func(Group) Group) {
			i := g.index(key)
			if i < 0 {
				return g, nil
			}
			prior := g.Values[i]
			g.Values = append(g.Values[:i], g.Values[i+1:]...)
			return g, func(g Group) Group {
				if g.index(key) >= 0 {
					return g
				}
				at := min(i, len(g.Values))
				g.Values = append(g.Values[:at], append([]Value{prior}, g.Values[at:]...)...)
				return g
			}
		},
		func(ctx context.Context) (Group, error) { return s.api.RemoveValue(ctx, group, key) },
	)
}

// SetValueActive flips the active flag of key in group. The cached value
// changes before the call returns and reverts if it fails.
func (s *Store) SetValueActive(ctx context.Context, group, key string, active bool) (Group, error) {
	return s.mutate(ctx, group, key, "active",
		func(g Group) (Group, func(Group) Group) {
			i := g.index(key)
			if i < 0 {
				return g, nil
			}
			prior := g.Values[i].Active
			g.Values[i].Active = active
			return g, func(g Group) Group {
				if j := g.index(key); j >= 0 {
					g.Values[j].Active = prior
				}
				return g
			}
		},
		func(ctx context.Context) (Group, error) { return s.api.SetValueActive(ctx, group, key, active) },
	)
}

// mutate runs one optimistic change of group. change returns the new group
// and the function reverting that change on a later copy of the group.
func (s *Store) mutate(
	ctx context.Context,
	group, key, action string,
	change func(Group) (Group, func(Group) Group),
	call reconcile.Call[Group],
) (Group, error) {
	s.mu.RLock()
	_, ok := s.groups[group]
	s.mu.RUnlock()
	if !ok {
		return Group{}, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}

	return reconcile.Run(ctx, s.tracker, mutationID(group, key), call, reconcile.Step[Group]{
		Name: action,
		Apply: func() func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			next, revert := change(s.groups[group].clone())
			s.groups[group] = next
			if revert == nil {
				return nil
			}
			return func() {
				s.mu.Lock()
				defer s.mu.Unlock()
				s.groups[group] = revert(s.groups[group].clone())
			}
		},
		Confirm: func(confirmed Group) {
			if confirmed.Name != group {
				return
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			s.groups[group] = confirmed.clone()
		},
		Fail: func(err error) {
			s.logger.Warn().Err(err).Str("group", group).Str("key", key).Str("action", action).Msg("enum setting rolled back")
		},
	})
}

func mutationID(group, key string) string {
	return group + "/" + key
}
