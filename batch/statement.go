// Package batch runs parameterized SQL statements as one atomic transaction.
//
// Statements are registered with an Executor, which opens a connection and a
// transaction, binds every statement, runs them strictly in order and commits.
// Any failure rolls the whole batch back. A running statement may register
// further statements on the same executor; those are bound and executed before
// the batch completes.
//
//	exec := batch.NewExecutor("sqlite3://file:app.db", nil)
//	exec.RegisterText("INSERT INTO [Users] ([Name]) VALUES (@Name)", batch.Param("@Name", "Alice"))
//	count := batch.RegisterScalar(exec, 0, "SELECT COUNT(*) FROM [Users]")
//	results, err := exec.Execute()
package batch

import (
	"context"

	"github.com/dan-strohschein/sqlbatch/driver"
)

// Statement is a parameterized SQL unit with deferred binding. This is the
// basic, synchronous capability.
type Statement interface {
	// Initialize binds the statement to an open connection and transaction.
	// It performs no I/O.
	Initialize(conn driver.Conn, tx driver.Tx)

	// Execute runs the statement and returns its result count.
	Execute() (int, error)
}

// ContextStatement is a Statement that can also run under a context, so the
// caller can cancel or bound it.
type ContextStatement interface {
	Statement

	ExecuteContext(ctx context.Context) (int, error)
}

// Parameter is a named statement parameter. Names carry the dialect marker,
// for example "@Name".
type Parameter = driver.Param

// Row is the current row handed to reader handlers.
type Row = driver.Row

// Param creates a parameter.
func Param(name string, value interface{}) Parameter {
	return Parameter{Name: name, Value: value}
}

// TypedParam creates a parameter with an explicit database type name.
func TypedParam(name string, value interface{}, dbType string) Parameter {
	return Parameter{Name: name, Value: value, Type: dbType}
}
