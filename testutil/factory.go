package testutil

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dan-strohschein/sqlbatch/batch"
)

// Row is a set of column values produced by a factory.
type Row map[string]interface{}

// Option overrides values of a row before it is built.
type Option func(Row)

// WithField sets a single column.
func WithField(name string, value interface{}) Option {
	return func(r Row) { r[name] = value }
}

// WithFields sets several columns.
func WithFields(fields Row) Option {
	return func(r Row) {
		for k, v := range fields {
			r[k] = v
		}
	}
}

// Params converts a row into parameters named @<column>, ordered by column
// name so generated statement text is stable.
func (r Row) Params() []batch.Parameter {
	columns := make([]string, 0, len(r))
	for c := range r {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	params := make([]batch.Parameter, len(columns))
	for i, c := range columns {
		params[i] = batch.Param("@"+c, r[c])
	}
	return params
}

// Factory builds rows from defaults. A default may be a generator
// (func() string, func() int64, func() time.Time or func() interface{})
// evaluated once per row.
type Factory struct {
	defaults Row
}

// NewFactory creates a factory with the given defaults.
func NewFactory(defaults Row) *Factory {
	return &Factory{defaults: defaults}
}

// Build creates one row with options applied over the defaults.
func (f *Factory) Build(options ...Option) Row {
	row := make(Row, len(f.defaults))
	for k, v := range f.defaults {
		row[k] = v
	}
	for _, opt := range options {
		opt(row)
	}

	for k, v := range row {
		switch gen := v.(type) {
		case func() string:
			row[k] = gen()
		case func() int64:
			row[k] = gen()
		case func() time.Time:
			row[k] = gen()
		case func() interface{}:
			row[k] = gen()
		}
	}
	return row
}

// BuildList creates count rows.
func (f *Factory) BuildList(count int, options ...Option) []Row {
	rows := make([]Row, count)
	for i := range rows {
		rows[i] = f.Build(options...)
	}
	return rows
}

// NewUserFactory builds rows for a Users(Name, Email, Active, CreatedAt) table.
func NewUserFactory() *Factory {
	return NewFactory(Row{
		"Name":      SequenceName,
		"Email":     SequenceEmail,
		"Active":    true,
		"CreatedAt": func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	})
}

var (
	nameSequence  uint64
	emailSequence uint64
)

// SequenceName generates unique names.
func SequenceName() string {
	return fmt.Sprintf("user%d", atomic.AddUint64(&nameSequence, 1))
}

// SequenceEmail generates unique email addresses.
func SequenceEmail() string {
	return fmt.Sprintf("user%d@example.com", atomic.AddUint64(&emailSequence, 1))
}
