// Package mock provides a scripted in-memory driver for testing code built on
// the batch package. Every call is recorded in a journal so tests can assert on
// ordering, and expectations keyed by statement text control what each
// statement returns.
package mock

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dan-strohschein/sqlbatch/driver"
)

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("mock: transaction has already been committed or rolled back")

var (
	driverCounter atomic.Int64
	registry      sync.Map // map[string]*Driver
)

func init() {
	driver.Register("mock", func(connStr, dsn string) (driver.Connector, error) {
		value, ok := registry.Load(dsn)
		if !ok {
			return nil, fmt.Errorf("mock: no driver named %q", dsn)
		}
		return value.(*Driver), nil
	})
}

// Driver is a scripted driver.Connector.
type Driver struct {
	name string

	mu           sync.Mutex
	expectations map[string]*Expectation
	journal      []string
	requests     []driver.Request
	txOptions    []driver.TxOptions

	connectErr     error
	beginErr       error
	commitErr      error
	rollbackErr    error
	cursorCloseErr error
	execDelay      time.Duration

	openConns atomic.Int32
}

// New creates a driver and registers it under mock://<name>.
func New() *Driver {
	d := &Driver{
		name:         fmt.Sprintf("db%d", driverCounter.Add(1)),
		expectations: make(map[string]*Expectation),
		journal:      make([]string, 0),
	}
	registry.Store(d.name, d)
	return d
}

// ConnString returns the connection string that resolves to this driver.
func (d *Driver) ConnString() string {
	return "mock://" + d.name
}

// On returns the expectation for the given statement text, creating it if needed.
// Statements without an expectation affect zero rows and return no rows.
func (d *Driver) On(text string) *Expectation {
	d.mu.Lock()
	defer d.mu.Unlock()

	exp, ok := d.expectations[text]
	if !ok {
		exp = &Expectation{text: text, records: -1}
		d.expectations[text] = exp
	}
	return exp
}

// FailConnect makes Connect return err.
func (d *Driver) FailConnect(err error) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr = err
	return d
}

// FailBegin makes BeginTx return err.
func (d *Driver) FailBegin(err error) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beginErr = err
	return d
}

// FailCommit makes Commit return err.
func (d *Driver) FailCommit(err error) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commitErr = err
	return d
}

// FailRollback makes Rollback return err.
func (d *Driver) FailRollback(err error) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollbackErr = err
	return d
}

// FailCursorClose makes closing any cursor return err.
func (d *Driver) FailCursorClose(err error) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cursorCloseErr = err
	return d
}

// WithExecDelay delays every Exec and Query, honouring context cancellation.
func (d *Driver) WithExecDelay(delay time.Duration) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execDelay = delay
	return d
}

// Journal returns a copy of the recorded events.
func (d *Driver) Journal() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	journal := make([]string, len(d.journal))
	copy(journal, d.journal)
	return journal
}

// Requests returns a copy of every request passed to Exec or Query.
func (d *Driver) Requests() []driver.Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	requests := make([]driver.Request, len(d.requests))
	copy(requests, d.requests)
	return requests
}

// TxOptions returns the options of every transaction begun so far.
func (d *Driver) TxOptions() []driver.TxOptions {
	d.mu.Lock()
	defer d.mu.Unlock()

	opts := make([]driver.TxOptions, len(d.txOptions))
	copy(opts, d.txOptions)
	return opts
}

// OpenConnections returns the number of connections that have not been closed.
func (d *Driver) OpenConnections() int {
	return int(d.openConns.Load())
}

// Reset clears the journal, expectations and configured failures.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.expectations = make(map[string]*Expectation)
	d.journal = make([]string, 0)
	d.requests = nil
	d.txOptions = nil
	d.connectErr = nil
	d.beginErr = nil
	d.commitErr = nil
	d.rollbackErr = nil
	d.cursorCloseErr = nil
	d.execDelay = 0
}

func (d *Driver) record(event string) {
	d.mu.Lock()
	d.journal = append(d.journal, event)
	d.mu.Unlock()
}

// Connect implements driver.Connector.
func (d *Driver) Connect(ctx context.Context) (driver.Conn, error) {
	d.mu.Lock()
	err := d.connectErr
	d.mu.Unlock()

	if err != nil {
		d.record("connect-failed")
		return nil, err
	}

	d.record("connect")
	d.openConns.Add(1)
	return &conn{driver: d}, nil
}

type conn struct {
	driver *Driver
	closed bool
}

func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if c.closed {
		return nil, fmt.Errorf("mock: connection is closed")
	}

	c.driver.mu.Lock()
	err := c.driver.beginErr
	c.driver.txOptions = append(c.driver.txOptions, opts)
	c.driver.mu.Unlock()

	if err != nil {
		c.driver.record("begin-failed")
		return nil, err
	}

	c.driver.record("begin")
	return &tx{driver: c.driver}, nil
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.driver.openConns.Add(-1)
	c.driver.record("close")
	return nil
}

type tx struct {
	driver *Driver
	done   bool
}

func (t *tx) lookup(ctx context.Context, kind string, req driver.Request) (*Expectation, error) {
	if t.done {
		return nil, ErrTxDone
	}

	d := t.driver
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.journal = append(d.journal, kind+" "+req.Text)
	exp := d.expectations[req.Text]
	delay := d.execDelay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if exp != nil {
		exp.calls.Add(1)
		if exp.err != nil {
			return nil, exp.err
		}
	}
	return exp, nil
}

func (t *tx) Exec(ctx context.Context, req driver.Request) (int64, error) {
	exp, err := t.lookup(ctx, "exec", req)
	if err != nil {
		return 0, err
	}
	if exp == nil {
		return 0, nil
	}
	return exp.affected, nil
}

func (t *tx) Query(ctx context.Context, req driver.Request) (driver.Cursor, error) {
	exp, err := t.lookup(ctx, "query", req)
	if err != nil {
		return nil, err
	}

	c := &cursor{driver: t.driver, pos: -1, records: -1}
	if exp != nil {
		c.exp = exp
		c.records = exp.records
		c.columns = exp.columns
		c.rows = exp.rows
	}
	return c, nil
}

func (t *tx) Commit() error {
	if t.done {
		return ErrTxDone
	}

	t.driver.mu.Lock()
	err := t.driver.commitErr
	t.driver.mu.Unlock()

	if err != nil {
		t.driver.record("commit-failed")
		return err
	}

	t.done = true
	t.driver.record("commit")
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return ErrTxDone
	}

	t.driver.mu.Lock()
	err := t.driver.rollbackErr
	t.driver.mu.Unlock()

	t.done = true
	if err != nil {
		t.driver.record("rollback-failed")
		return err
	}

	t.driver.record("rollback")
	return nil
}

// Expectation scripts the outcome of one statement text.
type Expectation struct {
	text     string
	affected int64
	err      error
	records  int
	columns  []string
	rows     [][]interface{}
	readErr  error
	calls    atomic.Int32
	rowsRead atomic.Int32
}

// Affects sets the affected-row count returned by Exec.
func (e *Expectation) Affects(n int64) *Expectation {
	e.affected = n
	return e
}

// Fails makes Exec and Query return err.
func (e *Expectation) Fails(err error) *Expectation {
	e.err = err
	return e
}

// Returns scripts the cursor produced by Query.
func (e *Expectation) Returns(recordsAffected int, columns []string, rows ...[]interface{}) *Expectation {
	e.records = recordsAffected
	e.columns = columns
	e.rows = rows
	return e
}

// FailRead makes Value and Scan on the statement's cursor return err.
func (e *Expectation) FailRead(err error) *Expectation {
	e.readErr = err
	return e
}

// Calls returns how many times the statement was executed.
func (e *Expectation) Calls() int {
	return int(e.calls.Load())
}

// RowsRead returns how many rows were advanced to across all cursors.
func (e *Expectation) RowsRead() int {
	return int(e.rowsRead.Load())
}

type cursor struct {
	driver  *Driver
	exp     *Expectation
	records int
	columns []string
	rows    [][]interface{}
	pos     int
	closed  bool
}

func (c *cursor) RecordsAffected() int { return c.records }

func (c *cursor) Columns() ([]string, error) {
	return c.columns, nil
}

func (c *cursor) Next(ctx context.Context) (bool, error) {
	if c.closed {
		return false, fmt.Errorf("mock: cursor is closed")
	}
	if c.pos+1 >= len(c.rows) {
		c.pos = len(c.rows)
		return false, nil
	}
	c.pos++
	if c.exp != nil {
		c.exp.rowsRead.Add(1)
	}
	return true, nil
}

func (c *cursor) current() ([]interface{}, error) {
	if c.closed {
		return nil, fmt.Errorf("mock: cursor is closed")
	}
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil, fmt.Errorf("mock: no current row")
	}
	if c.exp != nil && c.exp.readErr != nil {
		return nil, c.exp.readErr
	}
	return c.rows[c.pos], nil
}

func (c *cursor) Value(i int) (interface{}, error) {
	row, err := c.current()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(row) {
		return nil, fmt.Errorf("mock: column index %d out of range", i)
	}
	return row[i], nil
}

func (c *cursor) Scan(dest ...interface{}) error {
	row, err := c.current()
	if err != nil {
		return err
	}
	if len(dest) != len(row) {
		return fmt.Errorf("mock: expected %d destination arguments in Scan, not %d", len(row), len(dest))
	}

	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return fmt.Errorf("mock: column %d: %w", i, err)
		}
	}
	return nil
}

func (c *cursor) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true

	c.driver.mu.Lock()
	err := c.driver.cursorCloseErr
	c.driver.mu.Unlock()

	if err != nil {
		c.driver.record("close-cursor-failed")
		return err
	}
	c.driver.record("close-cursor")
	return nil
}

func assign(dest, value interface{}) error {
	target := reflect.ValueOf(dest)
	if target.Kind() != reflect.Ptr || target.IsNil() {
		return fmt.Errorf("destination is not a non-nil pointer")
	}
	elem := target.Elem()

	if value == nil {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}

	v := reflect.ValueOf(value)
	switch {
	case v.Type().AssignableTo(elem.Type()):
		elem.Set(v)
	case v.Type().ConvertibleTo(elem.Type()):
		elem.Set(v.Convert(elem.Type()))
	default:
		return fmt.Errorf("cannot assign %T to %s", value, elem.Type())
	}
	return nil
}
