package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/goliatone/go-collection-cache/cache"
	"github.com/goliatone/go-collection-cache/pkg/testsupport"
)

type ad struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (a ad) CacheID() string { return a.ID }

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL + "/api"
	cfg.RateLimit = 0
	cfg.Breaker.Enabled = false
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func TestList_DecodesEnvelopeAndSendsQuery(t *testing.T) {
	var (
		mu  sync.Mutex
		got *http.Request
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = r
		mu.Unlock()
		writeJSON(w, http.StatusOK, `{"ok":true,"data":{"items":[{"id":"1","title":"a"},{"id":"2","title":"b"}],"total":12,"page":2,"limit":2,"pages":6}}`)
	})

	page, err := NewCollection[ad](c, "ads").FetchPage(context.Background(), cache.Query{
		Filters: map[string]any{"status": "active", "tags": []string{"x", "y"}, "city": ""},
		SortBy:  "createdAt",
		SortDir: cache.SortDesc,
		Page:    2,
		Limit:   2,
	})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.URL.Path != "/api/ads" {
		t.Errorf("path = %s", got.URL.Path)
	}
	q := got.URL.Query()
	if q.Get("page") != "2" || q.Get("limit") != "2" || q.Get("sortBy") != "createdAt" || q.Get("sortDir") != "desc" {
		t.Errorf("unexpected query %v", q)
	}
	if !reflect.DeepEqual(q["tags"], []string{"x", "y"}) || q.Get("status") != "active" || q.Has("city") {
		t.Errorf("unexpected filters %v", q)
	}
	if got.Header.Get(RequestIDHeader) == "" {
		t.Error("expected a request id")
	}

	if len(page.Items) != 2 || page.Items[1].Title != "b" || page.Total != 12 || page.Pages != 6 {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestDo_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(error) bool
		message string
	}{
		{"rejection", http.StatusOK, `{"ok":false,"error":{"message":"Title is required"}}`, cache.IsRejection, "Title is required"},
		{"rejection with status", http.StatusConflict, `{"ok":false,"error":{"message":"duplicate"}}`, cache.IsRejection, "duplicate"},
		{"rejection without message", http.StatusNotFound, `{"ok":false}`, cache.IsRejection, "Not Found"},
		{"not json", http.StatusOK, `<html>oops</html>`, cache.IsRejection, "malformed response envelope"},
		{"missing ok", http.StatusOK, `{"data":{"id":"1"}}`, cache.IsRejection, "malformed response envelope"},
		{"server error envelope", http.StatusBadGateway, `{"ok":false,"error":{"message":"upstream down"}}`, cache.IsRejection, "upstream down"},
		{"ok with error status", http.StatusForbidden, `{"ok":true,"data":null}`, cache.IsRejection, "Forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := Get[ad](context.Background(), c, Path("ads", "1"))
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if got := cache.Message(err); got != tt.message {
				t.Errorf("message = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestDo_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = url
	cfg.Breaker.Enabled = false
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = Get[ad](context.Background(), c, "ads/1")
	if !cache.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestMutations(t *testing.T) {
	type seen struct {
		method, path string
		body         map[string]any
	}
	var (
		mu    sync.Mutex
		calls []seen
	)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		s := seen{method: r.Method, path: r.URL.Path}
		json.NewDecoder(r.Body).Decode(&s.body)
		mu.Lock()
		calls = append(calls, s)
		mu.Unlock()
		if r.Method == http.MethodDelete {
			writeJSON(w, http.StatusOK, `{"ok":true,"data":null}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"ok":true,"data":{"id":"7","title":"saved"}}`)
	})
	ads := NewCollection[ad](c, "ads")
	ctx := context.Background()

	created, err := ads.Create(ctx, map[string]any{"title": "new"})
	if err != nil || created.ID != "7" {
		t.Fatalf("Create: %+v, %v", created, err)
	}
	if _, err := ads.Update(ctx, "7", map[string]any{"title": "saved"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := ads.Action(ctx, "7", "restore", nil); err != nil {
		t.Fatalf("Action: %v", err)
	}
	removed, err := ads.Remove(ctx, "7")
	if err != nil || removed != (ad{}) {
		t.Fatalf("Remove: %+v, %v", removed, err)
	}
	if got, err := ads.FetchByID(ctx, "7"); err != nil || got.Title != "saved" {
		t.Fatalf("FetchByID: %+v, %v", got, err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []struct{ method, path string }{
		{http.MethodPost, "/api/ads"},
		{http.MethodPut, "/api/ads/7"},
		{http.MethodPatch, "/api/ads/7/restore"},
		{http.MethodDelete, "/api/ads/7"},
		{http.MethodGet, "/api/ads/7"},
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(calls))
	}
	for i, w := range want {
		if calls[i].method != w.method || calls[i].path != w.path {
			t.Errorf("call %d = %s %s, want %s %s", i, calls[i].method, calls[i].path, w.method, w.path)
		}
	}
	if calls[0].body["title"] != "new" {
		t.Errorf("unexpected create body %v", calls[0].body)
	}
}

func TestBreaker_OpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, `{"ok":false,"error":{"message":"maintenance"}}`)
	}, func(cfg *Config) {
		cfg.Breaker = BreakerConfig{
			Enabled:      true,
			MaxRequests:  1,
			Timeout:      time.Minute,
			MinRequests:  2,
			FailureRatio: 0.5,
		}
	})

	for i := 0; i < 2; i++ {
		if _, err := Get[ad](context.Background(), c, "ads/1"); !cache.IsRejection(err) {
			t.Fatalf("call %d: expected rejection, got %v", i, err)
		}
	}

	_, err := Get[ad](context.Background(), c, "ads/1")
	if !cache.IsNetwork(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("expected the open circuit to short-cut the request, got %d hits", hits.Load())
	}
}

func TestBreaker_IgnoresRejections(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, `{"ok":false,"error":{"message":"bad input"}}`)
	}, func(cfg *Config) {
		cfg.Breaker = BreakerConfig{Enabled: true, MaxRequests: 1, Timeout: time.Minute, MinRequests: 1, FailureRatio: 0.5}
	})

	for i := 0; i < 5; i++ {
		if _, err := Get[ad](context.Background(), c, "ads/1"); !cache.IsRejection(err) {
			t.Fatalf("call %d: expected rejection, got %v", i, err)
		}
	}
}

func TestRateLimit_ContextCancel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"ok":true,"data":{"id":"1"}}`)
	}, func(cfg *Config) {
		cfg.RateLimit = 0.001
		cfg.Burst = 1
	})

	if _, err := Get[ad](context.Background(), c, "ads/1"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := Get[ad](ctx, c, "ads/1"); !cache.IsNetwork(err) {
		t.Fatalf("expected limiter wait to fail as network error, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   func() Config
		field string
	}{
		{"missing base url", func() Config { return DefaultConfig() }, "BaseURL"},
		{"negative burst", func() Config { c := DefaultConfig(); c.BaseURL = "http://x"; c.Burst = -1; return c }, "Burst"},
		{"bad ratio", func() Config { c := DefaultConfig(); c.BaseURL = "http://x"; c.Breaker.FailureRatio = 2; return c }, "Breaker.FailureRatio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg().Validate()
			cfgErr, ok := err.(*ConfigError)
			if !ok || cfgErr.Field != tt.field {
				t.Errorf("expected ConfigError on %s, got %v", tt.field, err)
			}
		})
	}

	valid := DefaultConfig()
	valid.BaseURL = "http://x"
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEncodeQuery(t *testing.T) {
	when := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("x", 3600))
	var nilPtr *string

	values := EncodeQuery(cache.Query{
		Filters: map[string]any{
			"active": true,
			"price":  12.5,
			"from":   when,
			"ids":    []any{1, "two"},
			"none":   nil,
			"ptr":    nilPtr,
		},
		SortBy: "price",
	})

	want := map[string][]string{
		"active":  {"true"},
		"price":   {"12.5"},
		"from":    {"2024-05-01T09:00:00Z"},
		"ids":     {"1", "two"},
		"sortBy":  {"price"},
		"sortDir": {"asc"},
	}
	if !reflect.DeepEqual(map[string][]string(values), want) {
		t.Errorf("EncodeQuery = %v, want %v", values, want)
	}
}

func TestPath(t *testing.T) {
	if got := Path("ads", "a/b", "like"); got != "ads/a%2Fb/like" {
		t.Errorf("Path = %s", got)
	}
}

func TestList_Fixture(t *testing.T) {
	body := testsupport.LoadFixture(t, testsupport.FixturePath("ads_page.json"))
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, string(body))
	})

	page, err := List[ad](context.Background(), c, "ads", cache.Query{Page: 1, Limit: 3})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	var want struct {
		Data struct {
			Items []ad `json:"items"`
			Total int  `json:"total"`
		} `json:"data"`
	}
	testsupport.LoadFixtureJSON(t, testsupport.FixturePath("ads_page.json"), &want)
	if !reflect.DeepEqual(page.Items, want.Data.Items) || page.Total != want.Data.Total {
		t.Errorf("page = %+v, want items %+v total %d", page, want.Data.Items, want.Data.Total)
	}
}

func TestEncodeQuery_Golden(t *testing.T) {
	q := cache.Query{
		Filters: map[string]any{"status": "active", "city": []string{"Lisbon", "Porto"}, "minPrice": 20, "q": ""},
		SortBy:  "createdAt",
		SortDir: cache.SortDesc,
		Page:    2,
		Limit:   25,
	}
	got := EncodeQuery(q).Encode() + "\n"
	testsupport.CompareWithGolden(t, testsupport.GoldenPath("encode_query.golden"), []byte(got))
}
