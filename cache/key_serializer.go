package cache

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// QueryKeyer derives the canonical key of the collection a Query selects.
// Page and Limit never take part in the key, so every page of the same
// filter/sort combination shares one canonical buffer.
type QueryKeyer interface {
	KeyOf(q Query) string
}

// defaultQueryKeyer serializes filters with reflection, sorting map keys so
// that field insertion order never changes the key.
type defaultQueryKeyer struct {
	namespace string
}

// NewQueryKeyer creates the default keyer. namespace prefixes every key and is
// usually the collection name.
func NewQueryKeyer(namespace string) QueryKeyer {
	return &defaultQueryKeyer{namespace: namespace}
}

// KeyOf returns namespace::<xxhash64 of the canonical form>.
func (s *defaultQueryKeyer) KeyOf(q Query) string {
	sum := xxhash.Sum64String(Canonical(q))
	digest := fmt.Sprintf("%016x", sum)
	if s.namespace == "" {
		return digest
	}
	return s.namespace + KeySeparator + digest
}

// Canonical returns the pre-hash canonical form of the identity portion of q.
func Canonical(q Query) string {
	var b strings.Builder
	b.WriteString("filters=")
	b.WriteString(serializeValue(dropEmpty(q.Filters)))
	if q.SortBy != "" {
		dir := strings.ToLower(string(q.SortDir))
		if dir == "" {
			dir = string(SortAsc)
		}
		b.WriteString("|sort=")
		b.WriteString(q.SortBy)
		b.WriteByte(':')
		b.WriteString(dir)
	}
	return b.String()
}

// dropEmpty removes the filters that mean "no filter": nil and "".
func dropEmpty(filters map[string]any) map[string]any {
	out := make(map[string]any, len(filters))
	for k, v := range filters {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr && rv.IsNil() {
			continue
		}
		out[k] = v
	}
	return out
}

// serializeValue handles individual value serialization based on type.
func serializeValue(v any) string {
	if v == nil {
		return "nil"
	}

	rv := reflect.ValueOf(v)
	rt := rv.Type()

	switch rt.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return serializeValue(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil"
		}
		return serializeList("slice", rv)
	case reflect.Array:
		return serializeList("array", rv)
	case reflect.Map:
		if rv.IsNil() {
			return "map:nil"
		}
		return serializeMap(rv)
	case reflect.Struct:
		if _, ok := v.(fmt.Stringer); ok {
			return jsonFallback(v)
		}
		return serializeStruct(rv, rt)
	case reflect.String:
		return strconv.Quote(rv.String())
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%v", v)
	}

	return jsonFallback(v)
}

func serializeList(kind string, rv reflect.Value) string {
	length := rv.Len()
	parts := make([]string, length)
	for i := 0; i < length; i++ {
		parts[i] = serializeValue(rv.Index(i).Interface())
	}
	return fmt.Sprintf("%s[%d]:{%s}", kind, length, strings.Join(parts, ","))
}

// serializeMap emits key=value pairs sorted by serialized key.
func serializeMap(rv reflect.Value) string {
	type pair struct{ k, v string }

	pairs := make([]pair, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, pair{
			k: serializeValue(iter.Key().Interface()),
			v: serializeValue(iter.Value().Interface()),
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.k + "=" + p.v
	}
	return fmt.Sprintf("map[%d]:{%s}", len(parts), strings.Join(parts, ","))
}

// serializeStruct handles struct serialization with exported field names
func serializeStruct(rv reflect.Value, rt reflect.Type) string {
	parts := make([]string, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		parts = append(parts, field.Name+":"+serializeValue(rv.Field(i).Interface()))
	}
	return fmt.Sprintf("struct:{%s}", strings.Join(parts, ","))
}

// jsonFallback serializes values the reflection walk does not model, such as
// time.Time. It never fails: unmarshalable values degrade to their type name.
func jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("fallback:%T", v)
	}
	return "json:" + string(data)
}
