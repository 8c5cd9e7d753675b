package batch

import (
	"context"
	"errors"

	"github.com/dan-strohschein/sqlbatch/driver"
)

// RowFunc handles one row and reports whether iteration should continue.
type RowFunc func(ctx context.Context, row Row) (bool, error)

// Reader is a command that opens a cursor and hands each row to a handler
// until the rows are exhausted or the handler stops.
type Reader struct {
	*Command

	handler  RowFunc
	fallback RowFunc

	recordsAffected int
	onComplete      []func()
}

func stopImmediately(ctx context.Context, row Row) (bool, error) { return false, nil }

func newReader(handler RowFunc, text string, params []Parameter) *Reader {
	return &Reader{
		Command:  NewCommand(text, params...),
		handler:  handler,
		fallback: stopImmediately,
	}
}

// NewReader creates a reader whose handler returns false to stop.
func NewReader(fn func(Row) bool, text string, params ...Parameter) *Reader {
	return newReader(func(ctx context.Context, row Row) (bool, error) {
		return fn(row), nil
	}, text, params)
}

// NewReaderContext creates a reader whose handler receives the execution
// context and may fail.
func NewReaderContext(fn RowFunc, text string, params ...Parameter) *Reader {
	return newReader(fn, text, params)
}

// NewReaderEach creates a reader that visits every row.
func NewReaderEach(fn func(Row), text string, params ...Parameter) *Reader {
	return newReader(func(ctx context.Context, row Row) (bool, error) {
		fn(row)
		return true, nil
	}, text, params)
}

// NewReaderEachContext creates a reader that visits every row with the
// execution context; a handler error stops iteration and fails the statement.
func NewReaderEachContext(fn func(context.Context, Row) error, text string, params ...Parameter) *Reader {
	return newReader(func(ctx context.Context, row Row) (bool, error) {
		if err := fn(ctx, row); err != nil {
			return false, err
		}
		return true, nil
	}, text, params)
}

// NewReaderFallback creates a reader without a handler. Rows go to the
// fallback, which stops immediately unless replaced with SetFallback.
func NewReaderFallback(text string, params ...Parameter) *Reader {
	return newReader(nil, text, params)
}

// SetFallback replaces the handler used when none was registered.
func (r *Reader) SetFallback(fn RowFunc) *Reader {
	if fn == nil {
		fn = stopImmediately
	}
	r.fallback = fn
	return r
}

// OnComplete registers a callback fired after the rows have been read.
// Callbacks fire in registration order.
func (r *Reader) OnComplete(fn func()) *Reader {
	r.onComplete = append(r.onComplete, fn)
	return r
}

// RecordsAffected is the driver's affected-row signal captured when the cursor
// was opened, not the number of rows handled.
func (r *Reader) RecordsAffected() int {
	return r.recordsAffected
}

// Execute opens the cursor and reads rows synchronously.
func (r *Reader) Execute() (int, error) {
	return r.read(context.Background(), false)
}

// ExecuteContext opens the cursor and reads rows under ctx. Cancelling ctx
// stops the iteration between rows as if the handler had returned false.
func (r *Reader) ExecuteContext(ctx context.Context) (int, error) {
	return r.read(ctx, true)
}

func (r *Reader) read(ctx context.Context, poll bool) (int, error) {
	req := r.request()
	if r.tx == nil {
		return 0, newStatementError(req, ErrNotInitialized)
	}

	cur, err := r.tx.Query(ctx, req)
	if err != nil {
		return 0, newStatementError(req, err)
	}
	r.recordsAffected = cur.RecordsAffected()

	closeCtx := context.WithoutCancel(ctx)
	if err := r.drain(ctx, cur, poll); err != nil {
		cur.Close(closeCtx)
		return 0, err
	}
	if err := cur.Close(closeCtx); err != nil {
		return 0, newStatementError(req, err)
	}

	for _, fn := range r.onComplete {
		fn()
	}
	return r.recordsAffected, nil
}

func (r *Reader) drain(ctx context.Context, cur driver.Cursor, poll bool) error {
	handler := r.handler
	if handler == nil {
		handler = r.fallback
	}

	for {
		if poll && ctx.Err() != nil {
			return nil
		}

		ok, err := cur.Next(ctx)
		if err != nil {
			if poll && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return newStatementError(r.request(), err)
		}
		if !ok {
			return nil
		}

		more, err := handler(ctx, cur)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}
