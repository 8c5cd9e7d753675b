package sqlgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dan-strohschein/sqlbatch/batch"
)

func columnList(d Dialect, ps []batch.Parameter) string {
	cols := make([]string, len(ps))
	for i, p := range ps {
		cols[i] = d.Quote(column(p.Name))
	}
	return strings.Join(cols, ",")
}

func valueList(d Dialect, ps []batch.Parameter) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = d.Placeholder(p.Name)
	}
	return strings.Join(names, ",")
}

func assignments(d Dialect, ps []batch.Parameter) string {
	sets := make([]string, len(ps))
	for i, p := range ps {
		sets[i] = d.Quote(column(p.Name)) + "=" + d.Placeholder(p.Name)
	}
	return strings.Join(sets, ",")
}

func withParams(ps []batch.Parameter, extra ...batch.Parameter) []batch.Parameter {
	out := make([]batch.Parameter, 0, len(ps)+len(extra))
	out = append(out, ps...)
	return append(out, extra...)
}

// InsertText renders INSERT INTO table (cols) VALUES (params).
func InsertText(d Dialect, table string, ps ...batch.Parameter) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.Quote(table), columnList(d, ps), valueList(d, ps))
}

// UpdateText renders UPDATE table SET col=param,... WHERE key=param.
func UpdateText(d Dialect, table string, key batch.Parameter, ps ...batch.Parameter) string {
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s=%s",
		d.Quote(table), assignments(d, ps), d.Quote(column(key.Name)), d.Placeholder(key.Name))
}

// Insert creates a command inserting every parameter into table.
func Insert(d Dialect, table string, ps ...batch.Parameter) *batch.Command {
	return batch.NewCommand(InsertText(d, table, ps...), ps...)
}

// Update creates a command updating the parameter columns of the row matching key.
func Update(d Dialect, table string, key batch.Parameter, ps ...batch.Parameter) *batch.Command {
	return batch.NewCommand(UpdateText(d, table, key, ps...), withParams(ps, key)...)
}

// Delete creates a command deleting the rows matching key.
func Delete(d Dialect, table string, key batch.Parameter) *batch.Command {
	text := fmt.Sprintf("DELETE FROM %s WHERE %s=%s", d.Quote(table), d.Quote(column(key.Name)), d.Placeholder(key.Name))
	return batch.NewCommand(text, key)
}

// InsertReturning registers an insert on e and returns a scalar that captures
// the generated value of keyColumn. MSSQL uses OUTPUT and SQLite uses
// RETURNING. MySQL has neither, so the insert is followed by a
// SELECT LAST_INSERT_ID() on the same transaction.
func InsertReturning[T any](e *batch.Executor, d Dialect, table, keyColumn string, ps ...batch.Parameter) *batch.Scalar[T] {
	key := d.Quote(column(keyColumn))

	var s *batch.Scalar[T]
	switch d {
	case MSSQL:
		text := fmt.Sprintf("INSERT INTO %s (%s) OUTPUT Inserted.%s VALUES (%s)",
			d.Quote(table), columnList(d, ps), key, valueList(d, ps))
		s = batch.NewScalar[T](text, ps...)
	case MySQL:
		e.Register(Insert(d, table, ps...))
		s = batch.NewScalar[T]("SELECT LAST_INSERT_ID()")
	default:
		s = batch.NewScalar[T](InsertText(d, table, ps...)+" RETURNING "+key, ps...)
	}
	e.Register(s)
	return s
}

// Save creates an insert-or-update keyed by a uuid. When *id is uuid.Nil a new
// id is generated, stored in *id and inserted with the other columns;
// otherwise the row with that id is updated.
func Save(d Dialect, table string, id *uuid.UUID, keyName string, ps ...batch.Parameter) *batch.Command {
	if *id == uuid.Nil {
		*id = uuid.New()
		all := withParams(ps, batch.Param(keyName, *id))
		return batch.NewCommand(InsertText(d, table, all...), all...)
	}
	return Update(d, table, batch.Param(keyName, *id), ps...)
}

// SaveKey creates an insert when key is nil or has a nil value, leaving the
// key to the database, and an update of the row matching key otherwise.
func SaveKey(d Dialect, table string, key *batch.Parameter, ps ...batch.Parameter) *batch.Command {
	if key == nil || key.Value == nil {
		return Insert(d, table, ps...)
	}
	return Update(d, table, *key, ps...)
}
