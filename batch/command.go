package batch

import (
	"context"
	"time"

	"github.com/dan-strohschein/sqlbatch/driver"
)

// Command is a statement that runs as a non-query and reports the driver's
// affected-row count.
type Command struct {
	text    string
	kind    driver.CommandKind
	timeout time.Duration
	params  []Parameter

	conn driver.Conn
	tx   driver.Tx
}

// NewCommand creates a text command.
func NewCommand(text string, params ...Parameter) *Command {
	return &Command{text: text, kind: driver.Text, params: params}
}

// NewProcedure creates a command that calls a stored procedure.
func NewProcedure(name string, params ...Parameter) *Command {
	return &Command{text: name, kind: driver.StoredProcedure, params: params}
}

// SetKind changes how the command text is interpreted.
func (c *Command) SetKind(kind driver.CommandKind) *Command {
	c.kind = kind
	return c
}

// SetTimeout bounds each execution of the command. Zero means no limit.
func (c *Command) SetTimeout(timeout time.Duration) *Command {
	c.timeout = timeout
	return c
}

// AddParams appends parameters.
func (c *Command) AddParams(params ...Parameter) *Command {
	c.params = append(c.params, params...)
	return c
}

func (c *Command) Text() string             { return c.text }
func (c *Command) Kind() driver.CommandKind { return c.kind }
func (c *Command) Timeout() time.Duration   { return c.timeout }
func (c *Command) Params() []Parameter      { return c.params }

// Initialized reports whether the command has been bound to a transaction.
func (c *Command) Initialized() bool { return c.tx != nil }

func (c *Command) request() driver.Request {
	return driver.Request{Text: c.text, Kind: c.kind, Timeout: c.timeout, Params: c.params}
}

func (c *Command) applyDefaultTimeout(d time.Duration) {
	if c.timeout == 0 {
		c.timeout = d
	}
}

// Initialize binds the command to conn and tx.
func (c *Command) Initialize(conn driver.Conn, tx driver.Tx) {
	c.conn = conn
	c.tx = tx
}

// Execute runs the command synchronously.
func (c *Command) Execute() (int, error) {
	return c.exec(context.Background())
}

// ExecuteContext runs the command under ctx.
func (c *Command) ExecuteContext(ctx context.Context) (int, error) {
	return c.exec(ctx)
}

func (c *Command) exec(ctx context.Context) (int, error) {
	req := c.request()
	if c.tx == nil {
		return 0, newStatementError(req, ErrNotInitialized)
	}

	n, err := c.tx.Exec(ctx, req)
	if err != nil {
		return 0, newStatementError(req, err)
	}
	return int(n), nil
}

// timeoutDefaulter is implemented by statements that accept the executor's
// default timeout.
type timeoutDefaulter interface {
	applyDefaultTimeout(d time.Duration)
}

// requester exposes the driver request of a statement for hooks and logging.
type requester interface {
	request() driver.Request
}
