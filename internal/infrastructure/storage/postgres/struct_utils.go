package postgres

import (
	"reflect"
	"sync"
)

// column maps a "db" tag to the field index path inside its struct, embedded
// structs (entity.Document, entity.BaseEntity) included.
type column struct {
	name  string
	index []int
}

var columnCache sync.Map // map[reflect.Type][]column

func columnsOf(t reflect.Type) []column {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	if cached, ok := columnCache.Load(t); ok {
		return cached.([]column)
	}

	var cols []column
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		cols = append(cols, column{name: tag, index: f.Index})
	}

	columnCache.Store(t, cols)
	return cols
}

// ExtractDBColumns returns the "db" column names of T in declaration order.
//
//	cols := ExtractDBColumns[quoteRow]()
//	// ["id", "tenant_id", "version", ..., "status", "lines", "reserved_lines"]
func ExtractDBColumns[T any]() []string {
	cols := columnsOf(reflect.TypeFor[T]())
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

// StructToMap returns column -> value for every "db"-tagged field of v.
// Fields tagged "-" (document lines) are skipped; nil is returned for non-structs.
func StructToMap(v any) map[string]any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	cols := columnsOf(rv.Type())
	out := make(map[string]any, len(cols))
	for _, c := range cols {
		out[c.name] = rv.FieldByIndex(c.index).Interface()
	}
	return out
}
