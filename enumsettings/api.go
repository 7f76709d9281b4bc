package enumsettings

import (
	"context"
	"net/url"
	"path"

	"github.com/goliatone/go-collection-cache/transport"
)

// API is the server side of the enum settings.
type API interface {
	ListGroups(ctx context.Context) ([]Group, error)
	AddValue(ctx context.Context, group string, v Value) (Group, error)
	UpdateValue(ctx context.Context, group, key string, v Value) (Group, error)
	RemoveValue(ctx context.Context, group, key string) (Group, error)
	SetValueActive(ctx context.Context, group, key string, active bool) (Group, error)
}

// HTTPAPI implements API over the envelope transport:
//
//	GET    <endpoint>
//	POST   <endpoint>/<group>/values
//	PUT    <endpoint>/<group>/values/<key>
//	DELETE <endpoint>/<group>/values/<key>
//	PATCH  <endpoint>/<group>/values/<key>/active
type HTTPAPI struct {
	client   *transport.Client
	endpoint string
}

var _ API = (*HTTPAPI)(nil)

// NewHTTPAPI returns the API rooted at endpoint, e.g. "enum-settings".
func NewHTTPAPI(client *transport.Client, endpoint string) *HTTPAPI {
	return &HTTPAPI{client: client, endpoint: endpoint}
}

func (a *HTTPAPI) values(group string, key ...string) string {
	parts := []string{a.endpoint, url.PathEscape(group), "values"}
	for _, k := range key {
		parts = append(parts, url.PathEscape(k))
	}
	return path.Join(parts...)
}

// ListGroups implements API.
func (a *HTTPAPI) ListGroups(ctx context.Context) ([]Group, error) {
	return transport.Get[[]Group](ctx, a.client, a.endpoint)
}

// AddValue implements API.
func (a *HTTPAPI) AddValue(ctx context.Context, group string, v Value) (Group, error) {
	return transport.Post[Group](ctx, a.client, a.values(group), v)
}

// UpdateValue implements API.
func (a *HTTPAPI) UpdateValue(ctx context.Context, group, key string, v Value) (Group, error) {
	return transport.Put[Group](ctx, a.client, a.values(group, key), v)
}

// RemoveValue implements API.
func (a *HTTPAPI) RemoveValue(ctx context.Context, group, key string) (Group, error) {
	return transport.Delete[Group](ctx, a.client, a.values(group, key))
}

// SetValueActive implements API.
func (a *HTTPAPI) SetValueActive(ctx context.Context, group, key string, active bool) (Group, error) {
	return transport.Patch[Group](ctx, a.client, path.Join(a.values(group, key), "active"), map[string]bool{"active": active})
}
