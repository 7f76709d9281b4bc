package repositorysource

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-collection-cache/cache"
)

// Repository is the part of a go-repository-bun repository a Source reads
// and writes through. Every repository.Repository[T] satisfies it.
type Repository[T any] interface {
	List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error)
	GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error)
	Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error)
	Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error)
	Delete(ctx context.Context, record T) error
}

var _ Repository[any] = repository.Repository[any](nil)

var (
	_ cache.Fetcher[any]       = (*Source[any])(nil)
	_ cache.DetailFetcher[any] = (*Source[any])(nil)
)

// Source serves collection pages straight from a database table.
type Source[T any] struct {
	repo    Repository[T]
	columns map[string]string
	mapper  func(string) string
}

// Option configures a Source.
type Option[T any] func(*Source[T])

// WithColumns restricts filters and sorting to the given query fields and
// maps each one to its column, e.g. {"createdAt": "created_at"}. Any other
// field is rejected with a ValidationConflict.
func WithColumns[T any](columns map[string]string) Option[T] {
	return func(s *Source[T]) {
		s.columns = make(map[string]string, len(columns))
		for field, column := range columns {
			s.columns[field] = column
		}
	}
}

// WithColumnMapper replaces the default snake_case mapping used when no
// column list is configured.
func WithColumnMapper[T any](mapper func(field string) string) Option[T] {
	return func(s *Source[T]) { s.mapper = mapper }
}

// New returns a Source over repo.
func New[T any](repo Repository[T], opts ...Option[T]) *Source[T] {
	s := &Source[T]{repo: repo, mapper: toSnake}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchPage implements cache.Fetcher.
func (s *Source[T]) FetchPage(ctx context.Context, q cache.Query) (cache.Page[T], error) {
	q = q.Normalize(0)
	if !q.InRange() {
		return cache.Page[T]{}, cache.NewValidationConflict(fmt.Sprintf("page %d with limit %d is out of range", q.Page, q.Limit))
	}
	p, err := s.plan(q)
	if err != nil {
		return cache.Page[T]{}, err
	}

	records, total, err := s.repo.List(ctx, p.criteria()...)
	if err != nil {
		return cache.Page[T]{}, fmt.Errorf("repositorysource: list: %w", err)
	}
	return cache.Page[T]{
		Items: records,
		Total: total,
		Page:  q.Page,
		Limit: q.Limit,
		Pages: cache.PageCount(total, q.Limit),
	}, nil
}

// FetchByID implements cache.DetailFetcher.
func (s *Source[T]) FetchByID(ctx context.Context, id string) (T, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("repositorysource: get %s: %w", id, err)
	}
	return record, nil
}

// Create inserts record and returns the stored row.
func (s *Source[T]) Create(ctx context.Context, record T) (T, error) {
	return s.repo.Create(ctx, record)
}

// Update writes record and returns the stored row.
func (s *Source[T]) Update(ctx context.Context, record T) (T, error) {
	return s.repo.Update(ctx, record)
}

// Delete removes record. Soft delete applies when the model supports it.
func (s *Source[T]) Delete(ctx context.Context, record T) error {
	return s.repo.Delete(ctx, record)
}

type clause struct {
	column string
	values []any
}

type plan struct {
	where  []clause
	order  string
	desc   bool
	limit  int
	offset int
}

func (s *Source[T]) column(field string) (string, error) {
	if s.columns != nil {
		column, ok := s.columns[field]
		if !ok {
			return "", cache.NewValidationConflict(fmt.Sprintf("field %q cannot be queried", field))
		}
		return column, nil
	}
	return s.mapper(field), nil
}

// plan translates q into the clauses of one SELECT. Filters are visited in
// key order so the same query always builds the same SQL.
func (s *Source[T]) plan(q cache.Query) (plan, error) {
	p := plan{limit: q.Limit, offset: q.Offset(), desc: q.SortDir == cache.SortDesc}

	fields := make([]string, 0, len(q.Filters))
	for field := range q.Filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		values := filterValues(q.Filters[field])
		if len(values) == 0 {
			continue
		}
		column, err := s.column(field)
		if err != nil {
			return plan{}, err
		}
		p.where = append(p.where, clause{column: column, values: values})
	}

	if q.SortBy != "" {
		column, err := s.column(q.SortBy)
		if err != nil {
			return plan{}, err
		}
		p.order = column
	}
	return p, nil
}

func (p plan) criteria() []repository.SelectCriteria {
	criteria := make([]repository.SelectCriteria, 0, len(p.where)+2)
	for _, c := range p.where {
		c := c
		if len(c.values) == 1 {
			criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
				return sq.Where("? = ?", bun.Ident(c.column), c.values[0])
			})
			continue
		}
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where("? IN (?)", bun.Ident(c.column), bun.In(c.values))
		})
	}

	if p.order != "" {
		dir := "ASC"
		if p.desc {
			dir = "DESC"
		}
		order := p.order
		criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.OrderExpr("? "+dir, bun.Ident(order))
		})
	}

	limit, offset := p.limit, p.offset
	criteria = append(criteria, func(sq *bun.SelectQuery) *bun.SelectQuery {
		return sq.Limit(limit).Offset(offset)
	})
	return criteria
}

// filterValues flattens a filter value. Nil, empty strings and empty lists
// mean no filter, matching how the query key ignores them.
func filterValues(v any) []any {
	if v == nil {
		return nil
	}
	if str, ok := v.(string); ok {
		if str == "" {
			return nil
		}
		return []any{str}
	}
	if _, ok := v.([]byte); ok {
		return []any{v}
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return filterValues(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, filterValues(rv.Index(i).Interface())...)
		}
		return out
	}
	return []any{v}
}
