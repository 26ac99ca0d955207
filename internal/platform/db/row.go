package db

import "fmt"

// Row is a result row addressable by position and by column name.
type Row struct {
	columns []string
	values  []any
	index   map[string]int
}

// NewRow builds a row from parallel column and value slices.
func NewRow(columns []string, values []any) Row {
	index := make(map[string]int, len(columns))
	for i, name := range columns {
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	return Row{columns: columns, values: values, index: index}
}

// Len returns the number of columns.
func (r Row) Len() int { return len(r.values) }

// Columns returns the column names in order.
func (r Row) Columns() []string { return r.columns }

// Values returns the values in column order.
func (r Row) Values() []any { return r.values }

// At returns the nth column value.
func (r Row) At(n int) any {
	if n < 0 || n >= len(r.values) {
		return nil
	}
	return r.values[n]
}

// Get returns the named column value and whether the column exists.
func (r Row) Get(name string) (any, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

// Map returns the row as {column: value}.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i, name := range r.columns {
		m[name] = r.values[i]
	}
	return m
}

// String returns the named column as a string. NULL and missing columns yield "".
func (r Row) String(name string) string {
	v, _ := r.Get(name)
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// Int64 returns the named column as an int64 and false for NULL or non-integer values.
func (r Row) Int64(name string) (int64, bool) {
	v, _ := r.Get(name)
	return toInt64(v)
}

// Bool returns the named column as a bool. Integers are true when equal to 1.
func (r Row) Bool(name string) bool {
	v, _ := r.Get(name)
	switch t := v.(type) {
	case bool:
		return t
	default:
		n, ok := toInt64(t)
		return ok && n == 1
	}
}

// NullableInt returns the named column as *int, nil for NULL. Booleans map to 0 or 1.
func (r Row) NullableInt(name string) *int {
	v, _ := r.Get(name)
	if b, ok := v.(bool); ok {
		n := 0
		if b {
			n = 1
		}
		return &n
	}
	n, ok := toInt64(v)
	if !ok {
		return nil
	}
	i := int(n)
	return &i
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	default:
		return 0, false
	}
}
