package batch

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dan-strohschein/sqlbatch/driver"
)

// Executor owns a batch of statements and runs them in one transaction.
//
// An Executor runs one batch at a time. The batch is cleared when Execute
// returns, so the same Executor can be reused for the next batch.
type Executor struct {
	connStr string
	opts    Options
	logger  Logger

	mu         sync.Mutex
	statements []Statement

	stateMgr  *StateManager
	running   atomic.Bool
	debugMode atomic.Bool

	hooks   []Hook
	hooksMu sync.RWMutex

	stats       executorStats
	lastTraceID atomic.Value // string
}

// NewExecutor creates an executor for connStr ("scheme://dsn").
// If opts is nil, default options are used.
func NewExecutor(connStr string, opts *Options) *Executor {
	if opts == nil {
		defaultOpts := DefaultOptions()
		opts = &defaultOpts
	}

	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(opts.LogLevel, nil)
	}

	e := &Executor{
		connStr:  connStr,
		opts:     *opts,
		logger:   logger,
		stateMgr: NewStateManager(),
	}
	e.debugMode.Store(opts.DebugMode)
	e.lastTraceID.Store("")

	if opts.OnStateChange != nil {
		e.stateMgr.OnStateChange(opts.OnStateChange)
	}
	for _, hook := range opts.Hooks {
		e.RegisterHook(hook)
	}

	return e
}

// Register appends statements to the batch and returns the index of the last
// one. A nil statement is a placeholder slot that reports 1 without executing.
// Statements may be registered while the batch is executing; they run after
// the statements already registered.
func (e *Executor) Register(stmts ...Statement) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.statements = append(e.statements, stmts...)
	return len(e.statements) - 1
}

// RegisterText registers a Command built from text and params.
func (e *Executor) RegisterText(text string, params ...Parameter) int {
	return e.Register(NewCommand(text, params...))
}

// RegisterScalar registers a scalar command with the given default and
// returns it so its value can be read after execution.
func RegisterScalar[T any](e *Executor, def T, text string, params ...Parameter) *Scalar[T] {
	s := NewScalarDefault(def, text, params...)
	e.Register(s)
	return s
}

// Len returns the number of statements currently in the batch.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.statements)
}

func (e *Executor) statementAt(i int) (Statement, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if i >= len(e.statements) {
		return nil, false
	}
	return e.statements[i], true
}

func (e *Executor) clear() {
	e.mu.Lock()
	e.statements = nil
	e.mu.Unlock()
}

// State returns the executor state.
func (e *Executor) State() ExecutorState {
	return e.stateMgr.State()
}

// OnStateChange registers a handler called on every state transition.
func (e *Executor) OnStateChange(handler StateChangeHandler) {
	e.stateMgr.OnStateChange(handler)
}

// ExecuteStatement registers stmt and executes the batch.
func (e *Executor) ExecuteStatement(stmt Statement) ([]int, error) {
	e.Register(stmt)
	return e.Execute()
}

// Execute runs the batch synchronously and returns one result per statement
// in execution order.
func (e *Executor) Execute() ([]int, error) {
	return e.run(context.Background(), false)
}

// ExecuteContext runs the batch under ctx. Statements implementing
// ContextStatement receive ctx; others run through Execute. A cancelled ctx
// stops the batch before the next statement starts and rolls it back.
func (e *Executor) ExecuteContext(ctx context.Context) ([]int, error) {
	return e.run(ctx, true)
}

func (e *Executor) run(ctx context.Context, useCtx bool) (results []int, err error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrInvalidState("Execute", Idle, e.stateMgr.State())
	}
	defer e.running.Store(false)
	defer e.clear()

	traceID := uuid.NewString()
	e.lastTraceID.Store(traceID)
	logger := e.logger.WithFields(String("trace_id", traceID))
	start := time.Now()
	e.stats.batches.Add(1)

	if useCtx {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	connector, err := driver.Open(e.connStr)
	if err != nil {
		return nil, newTransactionError("E_OPEN_FAILED", "failed to resolve connection string", traceID, Idle, err)
	}

	conn, err := connector.Connect(ctx)
	if err != nil {
		return nil, newTransactionError("E_CONNECT_FAILED", "failed to open connection", traceID, Idle, err)
	}
	defer conn.Close()
	e.transition(ConnectionOpen, nil, traceID)

	tx, err := conn.BeginTx(ctx, driver.TxOptions{Isolation: e.opts.Isolation, ReadOnly: e.opts.ReadOnly})
	if err != nil {
		txErr := newTransactionError("E_BEGIN_FAILED", "failed to begin transaction", traceID, ConnectionOpen, err)
		e.transition(Idle, txErr, traceID)
		return nil, txErr
	}
	e.transition(TransactionOpen, nil, traceID)

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			e.stats.rollbacks.Add(1)
			e.stateMgr.reset()
			panic(r)
		}
	}()

	logger.Debug("batch started", Int("statements", e.Len()), String("isolation", e.opts.Isolation.String()))

	results, err = e.executeAll(ctx, useCtx, conn, tx, traceID)
	if err == nil {
		if commitErr := tx.Commit(); commitErr != nil {
			err = newTransactionError("E_COMMIT_FAILED", "failed to commit transaction", traceID, Executing, commitErr)
		}
	}

	if err != nil {
		e.rollback(tx, logger, err)
		e.transition(RolledBack, err, traceID)
		e.transition(Idle, nil, traceID)
		return nil, err
	}

	e.stats.commits.Add(1)
	e.transition(Committed, nil, traceID)
	e.transition(Idle, nil, traceID)
	logger.Debug("batch committed", Int("statements", len(results)), Duration("duration", time.Since(start)))
	return results, nil
}

func (e *Executor) executeAll(ctx context.Context, useCtx bool, conn driver.Conn, tx driver.Tx, traceID string) ([]int, error) {
	e.transition(Binding, nil, traceID)

	initial := e.Len()
	for i := 0; i < initial; i++ {
		if stmt, _ := e.statementAt(i); !isNil(stmt) {
			e.bind(stmt, conn, tx)
		}
	}

	e.transition(Executing, nil, traceID)

	hooks := e.snapshotHooks()
	results := make([]int, 0, initial)
	for i := 0; ; i++ {
		stmt, ok := e.statementAt(i)
		if !ok {
			break
		}
		if isNil(stmt) {
			results = append(results, 1)
			continue
		}
		if i >= initial {
			e.bind(stmt, conn, tx)
		}
		if useCtx {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		n, err := e.executeOne(ctx, useCtx, i, stmt, hooks, traceID)
		if err != nil {
			return nil, err
		}
		results = append(results, n)
	}

	return results, nil
}

func (e *Executor) bind(stmt Statement, conn driver.Conn, tx driver.Tx) {
	if e.opts.DefaultTimeout > 0 {
		if d, ok := stmt.(timeoutDefaulter); ok {
			d.applyDefaultTimeout(e.opts.DefaultTimeout)
		}
	}
	stmt.Initialize(conn, tx)
}

func (e *Executor) executeOne(ctx context.Context, useCtx bool, index int, stmt Statement, hooks []Hook, traceID string) (int, error) {
	hookCtx := &HookContext{
		Statement: stmt,
		Index:     index,
		TraceID:   traceID,
		StartTime: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
	if r, ok := stmt.(requester); ok {
		req := r.request()
		hookCtx.Query = req.Text
		hookCtx.Params = req.Params
	}

	if e.debugMode.Load() {
		fields := []Field{
			String("trace_id", traceID),
			Int("index", index),
			String("query", hookCtx.Query),
		}
		for _, p := range hookCtx.Params {
			fields = append(fields, String(p.Name, FormatValue(p.Value)))
		}
		e.logger.Debug("statement execution detail", fields...)
	}

	if err := e.runBeforeHooks(ctx, hooks, hookCtx); err != nil {
		return 0, err
	}

	var n int
	var err error
	if cs, ok := stmt.(ContextStatement); ok && useCtx {
		n, err = cs.ExecuteContext(ctx)
	} else {
		n, err = stmt.Execute()
	}
	e.stats.statements.Add(1)

	hookCtx.Result = n
	hookCtx.Error = err
	hookCtx.Duration = time.Since(hookCtx.StartTime)
	if afterErr := e.runAfterHooks(ctx, hooks, hookCtx); afterErr != nil && err == nil {
		err = afterErr
	}

	return n, err
}

// rollback attempts a rollback. A rollback failure is logged and swallowed so
// the error that triggered it reaches the caller.
func (e *Executor) rollback(tx driver.Tx, logger Logger, cause error) {
	e.stats.rollbacks.Add(1)
	if err := tx.Rollback(); err != nil {
		e.stats.rollbackFailures.Add(1)
		logger.Warn("rollback failed",
			Error("error", err),
			String("cause", FormatError(cause, false)))
		return
	}
	logger.Warn("batch rolled back", String("cause", FormatError(cause, false)))
}

func (e *Executor) transition(to ExecutorState, err error, traceID string) {
	meta := map[string]interface{}{
		"trace_id":   traceID,
		"statements": e.Len(),
	}
	if terr := e.stateMgr.TransitionTo(to, err, meta); terr != nil {
		e.logger.Error("executor state error", Error("error", terr), String("trace_id", traceID))
	}
}

func isNil(stmt Statement) bool {
	if stmt == nil {
		return true
	}
	rv := reflect.ValueOf(stmt)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

// Execute runs a single statement in its own transaction and returns its result.
func Execute(stmt Statement, connStr string) (int, error) {
	return ExecuteContext(context.Background(), stmt, connStr)
}

// ExecuteContext is Execute under ctx.
func ExecuteContext(ctx context.Context, stmt Statement, connStr string) (int, error) {
	e := NewExecutor(connStr, nil)
	e.Register(stmt)

	results, err := e.ExecuteContext(ctx)
	if err != nil {
		return 0, err
	}
	return results[0], nil
}

// ExecuteText runs one text command with the given timeout in its own transaction.
func ExecuteText(connStr, text string, timeout time.Duration, params ...Parameter) (int, error) {
	return Execute(NewCommand(text, params...).SetTimeout(timeout), connStr)
}
