// Package driver defines the relational capabilities the batch layer consumes:
// opening a connection, beginning a transaction, executing parameterized
// statements and iterating a row cursor. Implementations live in sub-packages.
package driver

import (
	"context"
	"fmt"
	"time"
)

// CommandKind tells the driver how to interpret a request's text.
type CommandKind int

const (
	// Text is a plain SQL statement.
	Text CommandKind = iota
	// StoredProcedure names a procedure to call with the request parameters.
	StoredProcedure
)

// String returns the string representation of the command kind.
func (k CommandKind) String() string {
	switch k {
	case Text:
		return "TEXT"
	case StoredProcedure:
		return "STORED_PROCEDURE"
	default:
		return "UNKNOWN"
	}
}

// Param is a single named statement parameter.
// Names usually carry the dialect marker, e.g. "@name".
type Param struct {
	Name  string
	Value interface{}

	// Type is an optional explicit database type name (e.g. "NVARCHAR").
	Type string
}

// Request is everything a driver needs to run one statement.
type Request struct {
	Text    string
	Kind    CommandKind
	Timeout time.Duration
	Params  []Param
}

// IsolationLevel represents transaction isolation levels.
type IsolationLevel int

const (
	// LevelDefault uses the server's default isolation.
	LevelDefault IsolationLevel = iota
	// ReadUncommitted allows dirty reads.
	ReadUncommitted
	// ReadCommitted prevents dirty reads.
	ReadCommitted
	// RepeatableRead prevents non-repeatable reads.
	RepeatableRead
	// Serializable provides full isolation.
	Serializable
)

// String returns the string representation of the isolation level.
func (l IsolationLevel) String() string {
	switch l {
	case LevelDefault:
		return "DEFAULT"
	case ReadUncommitted:
		return "READ UNCOMMITTED"
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "UNKNOWN"
	}
}

// ParseIsolationLevel converts a string such as "read committed" to an IsolationLevel.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	switch normalizeLevel(s) {
	case "", "DEFAULT":
		return LevelDefault, nil
	case "READ UNCOMMITTED":
		return ReadUncommitted, nil
	case "READ COMMITTED":
		return ReadCommitted, nil
	case "REPEATABLE READ":
		return RepeatableRead, nil
	case "SERIALIZABLE":
		return Serializable, nil
	default:
		return LevelDefault, fmt.Errorf("unknown isolation level %q", s)
	}
}

// TxOptions configures a transaction.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

// Connector opens connections for a single data source.
type Connector interface {
	// Connect opens a new exclusive connection.
	Connect(ctx context.Context) (Conn, error)
}

// Conn is an open connection owned by exactly one caller.
type Conn interface {
	// BeginTx starts a transaction on the connection.
	BeginTx(ctx context.Context, opts TxOptions) (Tx, error)

	// Close releases the connection.
	Close() error
}

// Tx is an open transaction. Statements bound to it run strictly one at a time.
type Tx interface {
	// Exec runs a non-query and returns the affected-row count.
	Exec(ctx context.Context, req Request) (int64, error)

	// Query runs a row-returning statement and opens a cursor over its rows.
	Query(ctx context.Context, req Request) (Cursor, error)

	Commit() error
	Rollback() error
}

// Row is the current row of a cursor.
type Row interface {
	// Columns returns the column names of the result set.
	Columns() ([]string, error)

	// Scan copies the columns of the current row into dest.
	Scan(dest ...interface{}) error

	// Value returns column i of the current row, nil for SQL NULL.
	Value(i int) (interface{}, error)
}

// Cursor iterates the rows produced by Tx.Query.
type Cursor interface {
	Row

	// RecordsAffected is the driver's affected-row signal at the time the cursor
	// was opened, or -1 when the driver does not report one.
	RecordsAffected() int

	// Next advances to the next row. It returns false once the rows are exhausted.
	Next(ctx context.Context) (bool, error)

	// Close releases the cursor. It is safe to call more than once.
	Close(ctx context.Context) error
}
