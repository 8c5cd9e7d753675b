package batch

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// Scalar captures column 0 of the first row as a T. A NULL or missing row
// leaves the default in place.
type Scalar[T any] struct {
	*Reader

	value   T
	onValue []func(T)
}

// NewScalar creates a scalar command whose default is the zero T.
func NewScalar[T any](text string, params ...Parameter) *Scalar[T] {
	var zero T
	return NewScalarDefault(zero, text, params...)
}

// NewScalarDefault creates a scalar command with an explicit default.
func NewScalarDefault[T any](def T, text string, params ...Parameter) *Scalar[T] {
	s := &Scalar[T]{
		Reader: NewReaderFallback(text, params...),
		value:  def,
	}
	s.Reader.SetFallback(s.capture)
	s.Reader.OnComplete(s.notify)
	return s
}

// OnValue registers a callback that receives the final value once per execution,
// including when no row was returned.
func (s *Scalar[T]) OnValue(fn func(T)) *Scalar[T] {
	s.onValue = append(s.onValue, fn)
	return s
}

// Value returns the captured value. It is meaningful after execution.
func (s *Scalar[T]) Value() T {
	return s.value
}

func (s *Scalar[T]) capture(ctx context.Context, row Row) (bool, error) {
	v, err := row.Value(0)
	if err != nil {
		return false, newStatementError(s.request(), err)
	}
	if v == nil {
		return false, nil
	}

	coerced, err := Coerce[T](v)
	if err != nil {
		return false, newStatementError(s.request(), err)
	}
	s.value = coerced
	return false, nil
}

func (s *Scalar[T]) notify() {
	for _, fn := range s.onValue {
		fn(s.value)
	}
}

// Coerce converts a driver value to T. It handles identical types, sql.Scanner
// targets, numeric and string conversions and []byte text. Numeric
// conversions fail rather than wrap or truncate. A nil v yields the zero T.
func Coerce[T any](v interface{}) (T, error) {
	var out T
	if v == nil {
		return out, nil
	}

	if t, ok := v.(T); ok {
		return t, nil
	}

	target := reflect.ValueOf(&out).Elem()
	if scanner, ok := target.Addr().Interface().(sql.Scanner); ok {
		if err := scanner.Scan(v); err != nil {
			return out, fmt.Errorf("cannot convert %T to %s: %w", v, target.Type(), err)
		}
		return out, nil
	}

	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	src := reflect.ValueOf(v)
	if s, ok := v.(string); ok && target.Kind() != reflect.String {
		return out, parseInto(target, s)
	}

	switch {
	case target.Kind() == reflect.String && src.Kind() != reflect.String:
		if t, ok := v.(time.Time); ok {
			target.SetString(t.Format(time.RFC3339Nano))
			break
		}
		target.SetString(fmt.Sprint(v))
	case target.Kind() == reflect.Bool && numericOrString(src.Kind()) == "number":
		target.SetBool(!src.IsZero())
	case numericOrString(src.Kind()) == "number" && numericOrString(target.Kind()) == "number":
		if err := convertNumber(target, src); err != nil {
			return out, err
		}
	case src.Type().ConvertibleTo(target.Type()) && numericOrString(src.Kind()) == numericOrString(target.Kind()):
		target.Set(src.Convert(target.Type()))
	default:
		return out, fmt.Errorf("cannot convert %T to %s", v, target.Type())
	}
	return out, nil
}

func numericOrString(k reflect.Kind) string {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.String:
		return "string"
	default:
		return k.String()
	}
}

// convertNumber stores src in target, failing when the value does not fit or a
// float would lose its fraction.
func convertNumber(target, src reflect.Value) error {
	overflow := func() error {
		return fmt.Errorf("value %v overflows %s", src.Interface(), target.Type())
	}

	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch src.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if target.OverflowInt(src.Int()) {
				return overflow()
			}
			target.SetInt(src.Int())
		case reflect.Float32, reflect.Float64:
			f := src.Float()
			if f != math.Trunc(f) {
				return fmt.Errorf("value %v has a fractional part and cannot be stored in %s", f, target.Type())
			}
			if f < math.MinInt64 || f >= math.MaxInt64 || target.OverflowInt(int64(f)) {
				return overflow()
			}
			target.SetInt(int64(f))
		default:
			u := src.Uint()
			if u > math.MaxInt64 || target.OverflowInt(int64(u)) {
				return overflow()
			}
			target.SetInt(int64(u))
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		switch src.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n := src.Int()
			if n < 0 || target.OverflowUint(uint64(n)) {
				return overflow()
			}
			target.SetUint(uint64(n))
		case reflect.Float32, reflect.Float64:
			f := src.Float()
			if f != math.Trunc(f) {
				return fmt.Errorf("value %v has a fractional part and cannot be stored in %s", f, target.Type())
			}
			if f < 0 || f >= math.MaxUint64 || target.OverflowUint(uint64(f)) {
				return overflow()
			}
			target.SetUint(uint64(f))
		default:
			if target.OverflowUint(src.Uint()) {
				return overflow()
			}
			target.SetUint(src.Uint())
		}
	case reflect.Float32, reflect.Float64:
		var f float64
		switch src.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(src.Int())
		case reflect.Float32, reflect.Float64:
			f = src.Float()
		default:
			f = float64(src.Uint())
		}
		if target.OverflowFloat(f) {
			return overflow()
		}
		target.SetFloat(f)
	default:
		return fmt.Errorf("cannot convert %s to %s", src.Type(), target.Type())
	}
	return nil
}

func parseInto(target reflect.Value, s string) error {
	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if target.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(s)
			if err != nil {
				return err
			}
			target.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(s, 10, target.Type().Bits())
		if err != nil {
			return err
		}
		target.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, target.Type().Bits())
		if err != nil {
			return err
		}
		target.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, target.Type().Bits())
		if err != nil {
			return err
		}
		target.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		target.SetBool(b)
	default:
		if target.Type() == reflect.TypeOf(time.Time{}) {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return err
			}
			target.Set(reflect.ValueOf(t))
			return nil
		}
		return fmt.Errorf("cannot convert string to %s", target.Type())
	}
	return nil
}
