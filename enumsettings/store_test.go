package enumsettings

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/transport"
)

// mockAPI records calls and lets a test hold the active flip open.
type mockAPI struct {
	mu     sync.Mutex
	groups []Group
	calls  []string
	fail   error
	gate   chan struct{}
}

func newMockAPI() *mockAPI {
	return &mockAPI{groups: []Group{
		{Name: "currency", Values: []Value{
			{Key: "eur", Label: "Euro", Active: true},
			{Key: "usd", Label: "Dollar", Active: true},
		}},
		{Name: "city", Values: []Value{{Key: "lis", Label: "Lisbon", Active: true}}},
	}}
}

func (m *mockAPI) record(call string) error {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	gate, fail := m.gate, m.fail
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return fail
}

func (m *mockAPI) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockAPI) group(name string) Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		if g.Name == name {
			return g.clone()
		}
	}
	return Group{}
}

func (m *mockAPI) ListGroups(ctx context.Context) ([]Group, error) {
	if err := m.record("list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Group, len(m.groups))
	for i, g := range m.groups {
		out[i] = g.clone()
	}
	return out, nil
}

func (m *mockAPI) AddValue(ctx context.Context, group string, v Value) (Group, error) {
	if err := m.record("add " + v.Key); err != nil {
		return Group{}, err
	}
	g := m.group(group)
	g.Values = append(g.Values, v)
	return g, nil
}

func (m *mockAPI) UpdateValue(ctx context.Context, group, key string, v Value) (Group, error) {
	if err := m.record("update " + key); err != nil {
		return Group{}, err
	}
	g := m.group(group)
	if i := g.index(key); i >= 0 {
		g.Values[i] = v
	}
	return g, nil
}

func (m *mockAPI) RemoveValue(ctx context.Context, group, key string) (Group, error) {
	if err := m.record("remove " + key); err != nil {
		return Group{}, err
	}
	g := m.group(group)
	if i := g.index(key); i >= 0 {
		g.Values = append(g.Values[:i], g.Values[i+1:]...)
	}
	return g, nil
}

func (m *mockAPI) SetValueActive(ctx context.Context, group, key string, active bool) (Group, error) {
	if err := m.record("active " + key); err != nil {
		return Group{}, err
	}
	g := m.group(group)
	if i := g.index(key); i >= 0 {
		g.Values[i].Active = active
	}
	return g, nil
}

func loadedStore(t *testing.T, api *mockAPI) *Store {
	t.Helper()
	s := New(api)
	if _, err := s.FetchGroups(context.Background(), false); err != nil {
		t.Fatalf("FetchGroups: %v", err)
	}
	return s
}

func activeOf(t *testing.T, s *Store, group, key string) bool {
	t.Helper()
	g, ok := s.Group(group)
	if !ok {
		t.Fatalf("group %s not cached", group)
	}
	i := g.index(key)
	if i < 0 {
		t.Fatalf("key %s not in %s", key, group)
	}
	return g.Values[i].Active
}

func TestFetchGroups_CachesUntilStale(t *testing.T) {
	api := newMockAPI()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New(api, WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	groups, err := s.FetchGroups(ctx, false)
	if err != nil {
		t.Fatalf("FetchGroups: %v", err)
	}
	if len(groups) != 2 || groups[0].Name != "currency" {
		t.Fatalf("unexpected groups %+v", groups)
	}

	s.FetchGroups(ctx, false)
	if api.callCount() != 1 {
		t.Errorf("expected fresh groups to be served from cache, got %d calls", api.callCount())
	}

	now = now.Add(2 * time.Minute)
	s.FetchGroups(ctx, false)
	s.FetchGroups(ctx, true)
	if api.callCount() != 3 {
		t.Errorf("expected stale and forced loads, got %d calls", api.callCount())
	}
}

func TestFetchGroups_ErrorKeepsStatus(t *testing.T) {
	api := newMockAPI()
	api.fail = cache.NewNetworkError(errors.New("connection refused"), "")
	s := New(api)

	if _, err := s.FetchGroups(context.Background(), false); !cache.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
	if !cache.IsNetwork(s.Err()) {
		t.Errorf("expected status error, got %v", s.Err())
	}
}

func TestSetValueActive_VisibleBeforeResponse(t *testing.T) {
	api := newMockAPI()
	s := loadedStore(t, api)

	api.mu.Lock()
	api.gate = make(chan struct{})
	api.fail = cache.NewServerRejection("currency is locked", 0)
	gate := api.gate
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.SetValueActive(context.Background(), "currency", "eur", false)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !s.Pending("currency", "eur") {
		if time.Now().After(deadline) {
			t.Fatal("mutation never became pending")
		}
		time.Sleep(time.Millisecond)
	}
	if activeOf(t, s, "currency", "eur") {
		t.Error("expected the flip to be visible while the call is pending")
	}

	close(gate)
	err := <-done
	if !cache.IsRejection(err) || cache.Message(err) != "currency is locked" {
		t.Fatalf("unexpected error %v", err)
	}
	if !activeOf(t, s, "currency", "eur") {
		t.Error("expected the flip to be reverted")
	}
	if s.Pending("currency", "eur") {
		t.Error("expected no pending mutation")
	}
	if cache.Message(s.MutationErr("currency", "eur")) != "currency is locked" {
		t.Errorf("unexpected mutation error %v", s.MutationErr("currency", "eur"))
	}
}

func TestSetValueActive_Confirms(t *testing.T) {
	api := newMockAPI()
	s := loadedStore(t, api)

	g, err := s.SetValueActive(context.Background(), "currency", "usd", false)
	if err != nil {
		t.Fatalf("SetValueActive: %v", err)
	}
	if g.Values[1].Active || activeOf(t, s, "currency", "usd") {
		t.Error("expected usd to be inactive")
	}
	if s.MutationErr("currency", "usd") != nil {
		t.Error("expected no mutation error")
	}
}

func TestAddValue_Conflicts(t *testing.T) {
	tests := []struct {
		name  string
		value Value
	}{
		{"empty key", Value{Key: "", Label: "None"}},
		{"blank key", Value{Key: "   ", Label: "None"}},
		{"duplicate key", Value{Key: "eur", Label: "Euro again"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newMockAPI()
			s := loadedStore(t, api)

			_, err := s.AddValue(context.Background(), "currency", tt.value)
			if !cache.IsConflict(err) {
				t.Fatalf("expected validation conflict, got %v", err)
			}
			if api.callCount() != 1 {
				t.Errorf("expected no request after load, got %d calls", api.callCount())
			}
			g, _ := s.Group("currency")
			if len(g.Values) != 2 {
				t.Errorf("expected the group to be unchanged, got %+v", g.Values)
			}
		})
	}
}

func TestAddValue_RollsBack(t *testing.T) {
	api := newMockAPI()
	s := loadedStore(t, api)
	api.fail = cache.NewNetworkError(errors.New("connection refused"), "")

	if _, err := s.AddValue(context.Background(), "currency", Value{Key: "gbp", Label: "Pound"}); !cache.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
	g, _ := s.Group("currency")
	if g.index("gbp") >= 0 || len(g.Values) != 2 {
		t.Errorf("expected gbp to be removed again, got %+v", g.Values)
	}
}

func TestAddValue_UnknownGroup(t *testing.T) {
	s := loadedStore(t, newMockAPI())
	if _, err := s.AddValue(context.Background(), "colour", Value{Key: "red"}); err == nil {
		t.Fatal("expected an error for an unknown group")
	}
}

func TestUpdateAndRemove(t *testing.T) {
	api := newMockAPI()
	s := loadedStore(t, api)
	ctx := context.Background()

	if _, err := s.UpdateValue(ctx, "currency", "usd", Value{Key: "eur", Label: "x"}); !cache.IsConflict(err) {
		t.Errorf("expected rename conflict, got %v", err)
	}

	if _, err := s.UpdateValue(ctx, "currency", "usd", Value{Key: "usd", Label: "US Dollar", Active: true}); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	g, _ := s.Group("currency")
	if g.Values[1].Label != "US Dollar" {
		t.Errorf("unexpected label %q", g.Values[1].Label)
	}

	api.fail = cache.NewServerRejection("in use", 409)
	if _, err := s.RemoveValue(ctx, "currency", "eur"); !cache.IsRejection(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
	g, _ = s.Group("currency")
	if len(g.Values) != 2 || g.Values[0].Key != "eur" {
		t.Errorf("expected eur restored at its index, got %+v", g.Values)
	}

	api.fail = nil
	if _, err := s.RemoveValue(ctx, "currency", "eur"); err != nil {
		t.Fatalf("RemoveValue: %v", err)
	}
	g, _ = s.Group("currency")
	if len(g.Values) != 1 || g.Values[0].Key != "usd" {
		t.Errorf("unexpected values %+v", g.Values)
	}
}

func TestHTTPAPI_Routes(t *testing.T) {
	type seen struct{ method, path string }
	var (
		mu    sync.Mutex
		calls []seen
		body  map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, seen{r.Method, r.URL.Path})
		if r.Method == http.MethodPatch {
			json.NewDecoder(r.Body).Decode(&body)
		}
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			w.Write([]byte(`{"ok":true,"data":[{"name":"currency","values":[{"key":"eur","label":"Euro","active":true}]}]}`))
			return
		}
		w.Write([]byte(`{"ok":true,"data":{"name":"currency","values":[]}}`))
	}))
	defer srv.Close()

	cfg := transport.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.RateLimit = 0
	client, err := transport.New(cfg)
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}
	api := NewHTTPAPI(client, "enum-settings")
	ctx := context.Background()

	groups, err := api.ListGroups(ctx)
	if err != nil || len(groups) != 1 || groups[0].Values[0].Label != "Euro" {
		t.Fatalf("ListGroups: %+v, %v", groups, err)
	}
	api.AddValue(ctx, "currency", Value{Key: "gbp"})
	api.UpdateValue(ctx, "currency", "gbp", Value{Key: "gbp"})
	api.SetValueActive(ctx, "currency", "gbp", false)
	api.RemoveValue(ctx, "currency", "gbp")

	mu.Lock()
	defer mu.Unlock()
	want := []seen{
		{http.MethodGet, "/enum-settings"},
		{http.MethodPost, "/enum-settings/currency/values"},
		{http.MethodPut, "/enum-settings/currency/values/gbp"},
		{http.MethodPatch, "/enum-settings/currency/values/gbp/active"},
		{http.MethodDelete, "/enum-settings/currency/values/gbp"},
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, calls[i], want[i])
		}
	}
	if body["active"] != false {
		t.Errorf("unexpected patch body %v", body)
	}
}
