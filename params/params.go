// Package params builds statement parameters with the NULL conventions used
// across the batch package: absent values, empty identifiers, zero times and
// empty blobs all become SQL NULL.
package params

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dan-strohschein/sqlbatch/batch"
)

// New creates a parameter. A nil value binds NULL.
func New(name string, value interface{}) batch.Parameter {
	return batch.Param(name, value)
}

// Typed creates a parameter with an explicit database type name.
func Typed(name string, value interface{}, dbType string) batch.Parameter {
	return batch.TypedParam(name, value, dbType)
}

// String creates a text parameter truncated to at most maxLen characters.
// A maxLen of zero or less disables truncation.
func String(name, value string, maxLen int) batch.Parameter {
	if maxLen > 0 && utf8.RuneCountInString(value) > maxLen {
		value = string([]rune(value)[:maxLen])
	}
	return batch.TypedParam(name, value, "nvarchar")
}

// Nullable creates a parameter from a pointer; nil binds NULL.
func Nullable[T any](name string, value *T) batch.Parameter {
	if value == nil {
		return batch.Param(name, nil)
	}
	return batch.Param(name, *value)
}

// UUID creates an identifier parameter. With emptyAsNull, uuid.Nil binds NULL.
func UUID(name string, id uuid.UUID, emptyAsNull bool) batch.Parameter {
	if emptyAsNull && id == uuid.Nil {
		return batch.TypedParam(name, nil, "uniqueidentifier")
	}
	return batch.TypedParam(name, id, "uniqueidentifier")
}

var maxDate = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Time creates a timestamp parameter. The zero time and the 9999-12-31
// sentinel bind NULL.
func Time(name string, t time.Time) batch.Parameter {
	if t.IsZero() || !t.UTC().Before(maxDate) {
		return batch.TypedParam(name, nil, "datetime")
	}
	return batch.TypedParam(name, t, "datetime")
}

// Bytes reads r fully into a binary parameter. A nil reader or empty content
// binds NULL.
func Bytes(name string, r io.Reader) (batch.Parameter, error) {
	if r == nil {
		return batch.TypedParam(name, nil, "varbinary"), nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return batch.Parameter{}, fmt.Errorf("failed to read parameter %s: %w", name, err)
	}
	if len(data) == 0 {
		return batch.TypedParam(name, nil, "varbinary"), nil
	}
	return batch.TypedParam(name, data, "varbinary"), nil
}

// At binds list[index], or def when the list is too short.
func At[T any](name string, list []T, index int, def T) batch.Parameter {
	if index < 0 || index >= len(list) {
		return batch.Param(name, def)
	}
	return batch.Param(name, list[index])
}

// First binds the first element of list, or def when it is empty.
func First[T any](name string, list []T, def T) batch.Parameter {
	return At(name, list, 0, def)
}

// Map binds fn(*value), or NULL when value is nil.
func Map[T, V any](name string, value *T, fn func(T) V) batch.Parameter {
	if value == nil {
		return batch.Param(name, nil)
	}
	return batch.Param(name, fn(*value))
}

// Text binds the String form of a fmt.Stringer such as *strings.Builder.
func Text(name string, s fmt.Stringer) batch.Parameter {
	if s == nil {
		return batch.Param(name, nil)
	}
	return batch.Param(name, s.String())
}

// Format renders one `name="value"` line per parameter, prefixed with the type
// name when one is set. NULL values render as NULL; an empty list renders as
// "None".
func Format(ps []batch.Parameter) string {
	if len(ps) == 0 {
		return "None"
	}

	var b strings.Builder
	for _, p := range ps {
		if p.Type != "" {
			b.WriteString(p.Type)
			b.WriteString(":")
		}
		b.WriteString(p.Name)
		b.WriteString(`="`)
		b.WriteString(batch.FormatValue(p.Value))
		b.WriteString("\"\n")
	}
	return b.String()
}
