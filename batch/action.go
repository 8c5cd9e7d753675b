package batch

import (
	"github.com/dan-strohschein/sqlbatch/driver"
)

// Action adapts a plain function into a basic, synchronous statement. It is
// useful for work that must happen at a fixed point inside a batch, such as
// registering follow-up statements that depend on earlier results.
type Action struct {
	fn   func(conn driver.Conn, tx driver.Tx) (int, error)
	conn driver.Conn
	tx   driver.Tx
}

// NewAction creates an Action.
func NewAction(fn func(conn driver.Conn, tx driver.Tx) (int, error)) *Action {
	return &Action{fn: fn}
}

// Then creates an Action that runs fn and reports result 1.
func Then(fn func() error) *Action {
	return NewAction(func(driver.Conn, driver.Tx) (int, error) {
		if err := fn(); err != nil {
			return 0, err
		}
		return 1, nil
	})
}

// Initialize binds the action to conn and tx.
func (a *Action) Initialize(conn driver.Conn, tx driver.Tx) {
	a.conn = conn
	a.tx = tx
}

// Execute runs the function.
func (a *Action) Execute() (int, error) {
	if a.tx == nil {
		return 0, newStatementError(driver.Request{Text: "<action>"}, ErrNotInitialized)
	}
	return a.fn(a.conn, a.tx)
}
