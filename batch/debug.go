package batch

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

type executorStats struct {
	batches          atomic.Int64
	commits          atomic.Int64
	rollbacks        atomic.Int64
	rollbackFailures atomic.Int64
	statements       atomic.Int64
}

// Stats is a snapshot of executor counters.
type Stats struct {
	Batches          int64
	Commits          int64
	Rollbacks        int64
	RollbackFailures int64
	Statements       int64
}

// Stats returns a snapshot of the executor counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Batches:          e.stats.batches.Load(),
		Commits:          e.stats.commits.Load(),
		Rollbacks:        e.stats.rollbacks.Load(),
		RollbackFailures: e.stats.rollbackFailures.Load(),
		Statements:       e.stats.statements.Load(),
	}
}

// EnableDebugMode logs each statement with its parameters.
func (e *Executor) EnableDebugMode() {
	e.debugMode.Store(true)
	e.logger.Info("debug mode enabled")
}

// DisableDebugMode disables debug mode.
func (e *Executor) DisableDebugMode() {
	e.debugMode.Store(false)
	e.logger.Info("debug mode disabled")
}

// IsDebugMode returns whether debug mode is currently enabled.
func (e *Executor) IsDebugMode() bool {
	return e.debugMode.Load()
}

// DebugInfo returns a snapshot of executor state for debugging.
func (e *Executor) DebugInfo() map[string]interface{} {
	stats := e.Stats()

	info := map[string]interface{}{
		"connection":  RedactConnString(e.connStr),
		"state":       e.State().String(),
		"debugMode":   e.IsDebugMode(),
		"pending":     e.Len(),
		"hooks":       e.Hooks(),
		"lastTraceId": e.lastTraceID.Load(),
		"stats": map[string]interface{}{
			"batches":          stats.Batches,
			"commits":          stats.Commits,
			"rollbacks":        stats.Rollbacks,
			"rollbackFailures": stats.RollbackFailures,
			"statements":       stats.Statements,
		},
		"options": map[string]interface{}{
			"defaultTimeout": e.opts.DefaultTimeout.String(),
			"isolation":      e.opts.Isolation.String(),
			"readOnly":       e.opts.ReadOnly,
		},
	}

	if e.IsDebugMode() {
		history := e.stateMgr.History()
		transitions := make([]map[string]interface{}, 0, len(history))
		for _, t := range history {
			entry := map[string]interface{}{
				"from":     t.From.String(),
				"to":       t.To.String(),
				"duration": t.Duration.String(),
			}
			if t.Error != nil {
				entry["error"] = t.Error.Error()
			}
			transitions = append(transitions, entry)
		}
		info["lastBatch"] = transitions
	}

	return info
}

// DumpDebugInfoJSON returns DebugInfo as formatted JSON.
func (e *Executor) DumpDebugInfoJSON() string {
	bytes, err := json.MarshalIndent(e.DebugInfo(), "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal debug info: %s"}`, err.Error())
	}
	return string(bytes)
}
