package batch

import (
	"context"
	"strings"
	"time"
)

// HookContext describes one statement execution inside a batch.
type HookContext struct {
	// Statement is the statement about to run.
	Statement Statement

	// Query and Params are empty for statements that are not commands.
	Query  string
	Params []Parameter

	// Index is the position of the statement in the batch.
	Index int

	// TraceID identifies the batch run. All statements of one run share it.
	TraceID string

	StartTime time.Time

	// Metadata lets a hook pass data from Before to After.
	Metadata map[string]interface{}

	// Result, Error and Duration are set before After runs.
	Result   int
	Error    error
	Duration time.Duration
}

// StatementType classifies the statement text (query, mutation, schema, procedure).
func (h *HookContext) StatementType() string {
	return inferStatementType(h.Query)
}

// Hook observes statement execution.
type Hook interface {
	// Name returns the unique name of this hook.
	Name() string

	// Before runs before the statement. Returning an error aborts the
	// statement and rolls the batch back.
	Before(ctx context.Context, hookCtx *HookContext) error

	// After runs after the statement, even if it failed. An error from After
	// fails a statement that had otherwise succeeded.
	After(ctx context.Context, hookCtx *HookContext) error
}

// RegisterHook adds a hook to the executor's chain. Hooks run in FIFO order.
// A hook with the same name replaces the earlier one in place.
func (e *Executor) RegisterHook(hook Hook) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()

	for i, h := range e.hooks {
		if h.Name() == hook.Name() {
			e.hooks[i] = hook
			e.logger.Debug("hook replaced", String("hook", hook.Name()))
			return
		}
	}

	e.hooks = append(e.hooks, hook)
	e.logger.Debug("hook registered", String("hook", hook.Name()), Int("order", len(e.hooks)-1))
}

// UnregisterHook removes a hook by name and reports whether it was found.
func (e *Executor) UnregisterHook(name string) bool {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()

	for i, h := range e.hooks {
		if h.Name() == name {
			e.hooks = append(e.hooks[:i], e.hooks[i+1:]...)
			e.logger.Debug("hook unregistered", String("hook", name))
			return true
		}
	}
	return false
}

// Hooks returns the names of the registered hooks in execution order.
func (e *Executor) Hooks() []string {
	e.hooksMu.RLock()
	defer e.hooksMu.RUnlock()

	names := make([]string, len(e.hooks))
	for i, h := range e.hooks {
		names[i] = h.Name()
	}
	return names
}

func (e *Executor) snapshotHooks() []Hook {
	e.hooksMu.RLock()
	defer e.hooksMu.RUnlock()

	hooks := make([]Hook, len(e.hooks))
	copy(hooks, e.hooks)
	return hooks
}

func (e *Executor) runBeforeHooks(ctx context.Context, hooks []Hook, hookCtx *HookContext) error {
	for _, hook := range hooks {
		if err := hook.Before(ctx, hookCtx); err != nil {
			e.logger.Debug("hook aborted statement",
				String("hook", hook.Name()),
				Int("index", hookCtx.Index),
				Error("error", err))
			return err
		}
	}
	return nil
}

// runAfterHooks runs every After hook and returns the last error.
func (e *Executor) runAfterHooks(ctx context.Context, hooks []Hook, hookCtx *HookContext) error {
	var lastErr error
	for _, hook := range hooks {
		if err := hook.After(ctx, hookCtx); err != nil {
			e.logger.Debug("hook returned error in After",
				String("hook", hook.Name()),
				Int("index", hookCtx.Index),
				Error("error", err))
			lastErr = err
		}
	}
	return lastErr
}

func inferStatementType(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "unknown"
	}

	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "SHOW", "PRAGMA":
		return "query"
	case "INSERT", "UPDATE", "DELETE", "MERGE", "REPLACE", "UPSERT":
		return "mutation"
	case "CREATE", "ALTER", "DROP", "TRUNCATE":
		return "schema"
	case "CALL", "EXEC", "EXECUTE":
		return "procedure"
	default:
		return "unknown"
	}
}
