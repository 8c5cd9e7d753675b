package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dan-strohschein/sqlbatch/batch"
	"github.com/dan-strohschein/sqlbatch/driver"
)

// Recorder collects events from recording statements and hooks in order.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// Add appends an event.
func (r *Recorder) Add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// RecordingStatement is a statement that records when it is bound and run.
// Run, when set, is called on execution; otherwise Result is returned.
type RecordingStatement struct {
	Name   string
	Result int
	Err    error
	Run    func(ctx context.Context) (int, error)

	rec  *Recorder
	conn driver.Conn
	tx   driver.Tx
}

// NewRecordingStatement creates a statement reporting result or err.
func NewRecordingStatement(rec *Recorder, name string, result int, err error) *RecordingStatement {
	return &RecordingStatement{Name: name, Result: result, Err: err, rec: rec}
}

// Initialize records the binding.
func (s *RecordingStatement) Initialize(conn driver.Conn, tx driver.Tx) {
	s.conn, s.tx = conn, tx
	s.rec.Add("init %s", s.Name)
}

// Bound reports whether Initialize was called with a transaction.
func (s *RecordingStatement) Bound() bool {
	return s.tx != nil
}

// Execute records the run.
func (s *RecordingStatement) Execute() (int, error) {
	return s.ExecuteContext(context.Background())
}

// ExecuteContext records the run under ctx.
func (s *RecordingStatement) ExecuteContext(ctx context.Context) (int, error) {
	s.rec.Add("exec %s", s.Name)
	if s.Run != nil {
		return s.Run(ctx)
	}
	return s.Result, s.Err
}

// RecordingHook records Before and After calls with statement index, text and
// outcome. BeforeErr, when set, aborts every statement.
type RecordingHook struct {
	HookName  string
	BeforeErr error

	rec *Recorder
}

// NewRecordingHook creates a hook writing to rec.
func NewRecordingHook(rec *Recorder, name string) *RecordingHook {
	return &RecordingHook{HookName: name, rec: rec}
}

func (h *RecordingHook) Name() string { return h.HookName }

func (h *RecordingHook) Before(ctx context.Context, hookCtx *batch.HookContext) error {
	h.rec.Add("%s before %d %s", h.HookName, hookCtx.Index, hookCtx.Query)
	return h.BeforeErr
}

func (h *RecordingHook) After(ctx context.Context, hookCtx *batch.HookContext) error {
	outcome := fmt.Sprintf("result=%d", hookCtx.Result)
	if hookCtx.Error != nil {
		outcome = "error"
	}
	h.rec.Add("%s after %d %s", h.HookName, hookCtx.Index, outcome)
	return nil
}

// TestLogger is a batch.Logger that writes to the test log.
type TestLogger struct {
	t      testing.TB
	fields []batch.Field
}

// NewTestLogger creates a logger bound to t.
func NewTestLogger(t testing.TB) *TestLogger {
	return &TestLogger{t: t}
}

func (l *TestLogger) log(level, msg string, fields []batch.Field) {
	l.t.Helper()
	all := append(append([]batch.Field(nil), l.fields...), fields...)
	line := level + " " + msg
	for _, f := range all {
		line += fmt.Sprintf(" %s=%v", f.Key, f.Value)
	}
	l.t.Log(line)
}

func (l *TestLogger) Debug(msg string, fields ...batch.Field) { l.log("DEBUG", msg, fields) }
func (l *TestLogger) Info(msg string, fields ...batch.Field)  { l.log("INFO", msg, fields) }
func (l *TestLogger) Warn(msg string, fields ...batch.Field)  { l.log("WARN", msg, fields) }
func (l *TestLogger) Error(msg string, fields ...batch.Field) { l.log("ERROR", msg, fields) }

func (l *TestLogger) WithFields(fields ...batch.Field) batch.Logger {
	return &TestLogger{t: l.t, fields: append(append([]batch.Field(nil), l.fields...), fields...)}
}
