package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// LoggingHook logs every statement of a batch.
type LoggingHook struct {
	logger       Logger
	logParams    bool
	logDurations bool
}

// NewLoggingHook creates a logging hook. Parameter values are only logged when
// logParams is set.
func NewLoggingHook(logger Logger, logParams, logDurations bool) *LoggingHook {
	return &LoggingHook{
		logger:       logger,
		logParams:    logParams,
		logDurations: logDurations,
	}
}

func (h *LoggingHook) Name() string {
	return "logging"
}

func (h *LoggingHook) Before(ctx context.Context, hookCtx *HookContext) error {
	fields := []Field{
		String("trace_id", hookCtx.TraceID),
		Int("index", hookCtx.Index),
		String("query", hookCtx.Query),
		String("fingerprint", Fingerprint(hookCtx.Query)),
	}
	if h.logParams {
		for _, p := range hookCtx.Params {
			fields = append(fields, String("param"+p.Name, FormatValue(p.Value)))
		}
	}
	h.logger.Debug("executing statement", fields...)
	return nil
}

func (h *LoggingHook) After(ctx context.Context, hookCtx *HookContext) error {
	fields := []Field{
		String("trace_id", hookCtx.TraceID),
		Int("index", hookCtx.Index),
		String("statement_type", hookCtx.StatementType()),
	}

	if h.logDurations {
		fields = append(fields, Duration("duration", hookCtx.Duration))
	}

	if hookCtx.Error != nil {
		fields = append(fields, Error("error", hookCtx.Error))
		h.logger.Error("statement failed", fields...)
		return nil
	}

	fields = append(fields, Int("result", hookCtx.Result))
	h.logger.Debug("statement completed", fields...)
	return nil
}

// SlowStatementHook warns about statements slower than a threshold.
type SlowStatementHook struct {
	logger    Logger
	threshold time.Duration
	slow      atomic.Int64
}

// NewSlowStatementHook creates a hook that logs statements slower than threshold.
func NewSlowStatementHook(logger Logger, threshold time.Duration) *SlowStatementHook {
	return &SlowStatementHook{logger: logger, threshold: threshold}
}

func (h *SlowStatementHook) Name() string {
	return "slow_statement"
}

func (h *SlowStatementHook) Before(ctx context.Context, hookCtx *HookContext) error {
	return nil
}

func (h *SlowStatementHook) After(ctx context.Context, hookCtx *HookContext) error {
	if hookCtx.Duration < h.threshold {
		return nil
	}

	h.slow.Add(1)
	h.logger.Warn("slow statement",
		String("trace_id", hookCtx.TraceID),
		String("query", hookCtx.Query),
		String("fingerprint", Fingerprint(hookCtx.Query)),
		Duration("duration", hookCtx.Duration),
		Duration("threshold", h.threshold))
	return nil
}

// SlowCount returns how many slow statements were seen.
func (h *SlowStatementHook) SlowCount() int64 {
	return h.slow.Load()
}

var statementTypes = [...]string{"query", "mutation", "schema", "procedure", "unknown"}

func statementTypeIndex(t string) int {
	for i, name := range statementTypes {
		if name == t {
			return i
		}
	}
	return len(statementTypes) - 1
}

// MetricsHook aggregates statement counts per statement type, affected rows
// and durations across batches. Negative results (readers) are not counted
// as affected rows.
type MetricsHook struct {
	byType  [len(statementTypes)]atomic.Uint64
	errors  atomic.Uint64
	rows    atomic.Int64
	totalNs atomic.Int64

	mu          sync.Mutex
	slowest     time.Duration
	slowestText string
}

// NewMetricsHook creates a metrics hook.
func NewMetricsHook() *MetricsHook {
	return &MetricsHook{}
}

func (h *MetricsHook) Name() string {
	return "metrics"
}

func (h *MetricsHook) Before(ctx context.Context, hookCtx *HookContext) error {
	return nil
}

func (h *MetricsHook) After(ctx context.Context, hookCtx *HookContext) error {
	h.byType[statementTypeIndex(hookCtx.StatementType())].Add(1)
	h.totalNs.Add(int64(hookCtx.Duration))

	if hookCtx.Error != nil {
		h.errors.Add(1)
	} else if hookCtx.Result > 0 {
		h.rows.Add(int64(hookCtx.Result))
	}

	h.mu.Lock()
	if hookCtx.Duration > h.slowest {
		h.slowest = hookCtx.Duration
		h.slowestText = hookCtx.Query
	}
	h.mu.Unlock()
	return nil
}

// Count returns how many statements of the given type (query, mutation,
// schema, procedure or unknown) ran.
func (h *MetricsHook) Count(statementType string) uint64 {
	return h.byType[statementTypeIndex(statementType)].Load()
}

// Stats returns a snapshot of the metrics.
func (h *MetricsHook) Stats() map[string]interface{} {
	stats := make(map[string]interface{}, len(statementTypes)+7)

	var total uint64
	for i, name := range statementTypes {
		n := h.byType[i].Load()
		stats[name+"_statements"] = n
		total += n
	}

	dur := time.Duration(h.totalNs.Load())
	var avg time.Duration
	if total > 0 {
		avg = dur / time.Duration(total)
	}

	h.mu.Lock()
	slowest, slowestText := h.slowest, h.slowestText
	h.mu.Unlock()

	stats["total_statements"] = total
	stats["total_errors"] = h.errors.Load()
	stats["rows_affected"] = h.rows.Load()
	stats["total_duration_ms"] = float64(dur) / float64(time.Millisecond)
	stats["avg_duration_ms"] = float64(avg) / float64(time.Millisecond)
	stats["slowest_ms"] = float64(slowest) / float64(time.Millisecond)
	stats["slowest_statement"] = slowestText
	return stats
}

// Reset clears all metrics.
func (h *MetricsHook) Reset() {
	for i := range h.byType {
		h.byType[i].Store(0)
	}
	h.errors.Store(0)
	h.rows.Store(0)
	h.totalNs.Store(0)

	h.mu.Lock()
	h.slowest, h.slowestText = 0, ""
	h.mu.Unlock()
}
