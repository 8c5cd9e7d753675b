package batch

import (
	"fmt"
	"strings"
	"time"
)

// ColumnIndex returns the position of column in the row's result set. Names
// match case-insensitively; an exact match wins over a folded one.
func ColumnIndex(row Row, column string) (int, error) {
	columns, err := row.Columns()
	if err != nil {
		return -1, err
	}

	folded := -1
	for i, c := range columns {
		if c == column {
			return i, nil
		}
		if folded < 0 && strings.EqualFold(c, column) {
			folded = i
		}
	}
	if folded < 0 {
		return -1, fmt.Errorf("column %q not found in result set %v", column, columns)
	}
	return folded, nil
}

// Get reads the named column of the current row as a T. NULL yields def.
func Get[T any](row Row, column string, def T) (T, error) {
	i, err := ColumnIndex(row, column)
	if err != nil {
		return def, err
	}
	return GetAt(row, i, def)
}

// GetAt reads column i of the current row as a T. NULL or a negative index
// yields def.
func GetAt[T any](row Row, i int, def T) (T, error) {
	if i < 0 {
		return def, nil
	}
	v, err := row.Value(i)
	if err != nil {
		return def, err
	}
	if v == nil {
		return def, nil
	}

	out, err := Coerce[T](v)
	if err != nil {
		return def, fmt.Errorf("column %d: %w", i, err)
	}
	return out, nil
}

// GetNullable reads the named column as a *T that is nil for NULL.
func GetNullable[T any](row Row, column string) (*T, error) {
	i, err := ColumnIndex(row, column)
	if err != nil {
		return nil, err
	}
	return GetNullableAt[T](row, i)
}

// GetNullableAt reads column i as a *T that is nil for NULL or a negative
// index.
func GetNullableAt[T any](row Row, i int) (*T, error) {
	if i < 0 {
		return nil, nil
	}
	v, err := row.Value(i)
	if err != nil || v == nil {
		return nil, err
	}

	out, err := Coerce[T](v)
	if err != nil {
		return nil, fmt.Errorf("column %d: %w", i, err)
	}
	return &out, nil
}

// GetString reads the named column as text. With defaultIfEmpty an empty
// string is replaced by def as well as NULL.
func GetString(row Row, column, def string, defaultIfEmpty bool) (string, error) {
	s, err := Get(row, column, def)
	if err != nil {
		return def, err
	}
	if defaultIfEmpty && s == "" {
		return def, nil
	}
	return s, nil
}

// GetTime reads the named column as a UTC timestamp and returns it in loc.
// Text values are parsed with layout, or RFC 3339 when layout is empty.
func GetTime(row Row, column string, def time.Time, layout string, loc *time.Location) (time.Time, error) {
	i, err := ColumnIndex(row, column)
	if err != nil {
		return def, err
	}
	v, err := row.Value(i)
	if err != nil || v == nil {
		return def, err
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	var t time.Time
	switch val := v.(type) {
	case time.Time:
		t = val
	case string:
		if layout == "" {
			layout = time.RFC3339Nano
		}
		t, err = time.ParseInLocation(layout, val, time.UTC)
		if err != nil {
			return def, fmt.Errorf("column %q: %w", column, err)
		}
	default:
		return def, fmt.Errorf("column %q: cannot convert %T to time.Time", column, v)
	}

	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc), nil
}

type integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// GetEnum reads the named column into an integer-backed enum. NULL, a value
// that does not convert, or one rejected by valid yields def.
func GetEnum[T integer](row Row, column string, def T, valid func(T) bool) (T, error) {
	i, err := ColumnIndex(row, column)
	if err != nil {
		return def, err
	}
	v, err := row.Value(i)
	if err != nil || v == nil {
		return def, err
	}

	out, err := Coerce[T](v)
	if err != nil {
		return def, nil
	}
	if valid != nil && !valid(out) {
		return def, nil
	}
	return out, nil
}
