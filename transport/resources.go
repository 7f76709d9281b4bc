package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/goliatone/go-collection-cache/cache"
)

type pageData[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

// List fetches one page of the collection at p.
func List[T any](ctx context.Context, c *Client, p string, q cache.Query) (cache.Page[T], error) {
	raw, err := c.Do(ctx, http.MethodGet, p, EncodeQuery(q), nil)
	if err != nil {
		return cache.Page[T]{}, err
	}
	if isNull(raw) {
		return cache.Page[T]{}, cache.NewMalformedEnvelope(fmt.Errorf("list %s: empty data", p), http.StatusOK)
	}

	var data pageData[T]
	if err := json.Unmarshal(raw, &data); err != nil {
		return cache.Page[T]{}, cache.NewMalformedEnvelope(err, http.StatusOK)
	}
	if data.Items == nil {
		data.Items = []T{}
	}
	if data.Page == 0 {
		data.Page = q.Page
	}
	if data.Limit == 0 {
		data.Limit = q.Limit
	}
	if data.Pages == 0 {
		data.Pages = cache.PageCount(data.Total, data.Limit)
	}
	return cache.Page[T]{
		Items: data.Items,
		Total: data.Total,
		Page:  data.Page,
		Limit: data.Limit,
		Pages: data.Pages,
	}, nil
}

// Get fetches the entity at p.
func Get[T any](ctx context.Context, c *Client, p string) (T, error) {
	return send[T](ctx, c, http.MethodGet, p, nil)
}

// Post creates an entity under p.
func Post[T any](ctx context.Context, c *Client, p string, body any) (T, error) {
	return send[T](ctx, c, http.MethodPost, p, body)
}

// Put replaces the entity at p.
func Put[T any](ctx context.Context, c *Client, p string, body any) (T, error) {
	return send[T](ctx, c, http.MethodPut, p, body)
}

// Patch partially updates the entity at p.
func Patch[T any](ctx context.Context, c *Client, p string, body any) (T, error) {
	return send[T](ctx, c, http.MethodPatch, p, body)
}

// Delete removes the entity at p. A null data member yields the zero T.
func Delete[T any](ctx context.Context, c *Client, p string) (T, error) {
	return send[T](ctx, c, http.MethodDelete, p, nil)
}

func send[T any](ctx context.Context, c *Client, method, p string, body any) (T, error) {
	var out T
	raw, err := c.Do(ctx, method, p, nil, body)
	if err != nil {
		return out, err
	}
	if isNull(raw) {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, cache.NewMalformedEnvelope(err, http.StatusOK)
	}
	return out, nil
}

// Path joins a collection endpoint with an id and an optional action:
// Path("ads", "42", "restore") is "ads/42/restore".
func Path(endpoint string, id string, action ...string) string {
	parts := append([]string{endpoint, url.PathEscape(id)}, action...)
	return path.Join(parts...)
}

// EncodeQuery renders q as page, limit, sortBy, sortDir and one parameter per
// filter. Slice filters repeat the parameter; nil and empty filters are skipped.
func EncodeQuery(q cache.Query) url.Values {
	values := url.Values{}
	if q.Page > 0 {
		values.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.SortBy != "" {
		values.Set("sortBy", q.SortBy)
		dir := q.SortDir
		if dir == "" {
			dir = cache.SortAsc
		}
		values.Set("sortDir", string(dir))
	}

	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := reflect.ValueOf(q.Filters[k])
		if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
			continue
		}
		if v.Kind() == reflect.Pointer {
			v = v.Elem()
		}
		if (v.Kind() == reflect.Slice || v.Kind() == reflect.Array) && v.Type().Elem().Kind() != reflect.Uint8 {
			for i := 0; i < v.Len(); i++ {
				if s, ok := formatValue(v.Index(i)); ok {
					values.Add(k, s)
				}
			}
			continue
		}
		if s, ok := formatValue(v); ok {
			values.Set(k, s)
		}
	}
	return values
}

func formatValue(v reflect.Value) (string, bool) {
	if v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	}
	if t, ok := v.Interface().(time.Time); ok {
		return t.UTC().Format(time.RFC3339), true
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String(), true
	}

	switch v.Kind() {
	case reflect.String:
		s := v.String()
		return s, s != ""
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), true
	}

	data, err := json.Marshal(v.Interface())
	if err != nil {
		return "", false
	}
	return string(data), true
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
