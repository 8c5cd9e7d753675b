package batch

import (
	"context"
	"sync"

	"github.com/dan-strohschein/sqlbatch/driver"
)

// recordingStatement appends its lifecycle to a shared event list.
type recordingStatement struct {
	name   string
	result int
	events *[]string
	err    error
}

func (s *recordingStatement) Initialize(conn driver.Conn, tx driver.Tx) {
	*s.events = append(*s.events, "init "+s.name)
}

func (s *recordingStatement) Execute() (int, error) {
	*s.events = append(*s.events, "exec "+s.name)
	return s.result, s.err
}

// contextStatement also records when it is dispatched through ExecuteContext.
type contextStatement struct {
	recordingStatement
}

func (s *contextStatement) ExecuteContext(ctx context.Context) (int, error) {
	*s.events = append(*s.events, "execctx "+s.name)
	return s.result, s.err
}

type logEntry struct {
	level  string
	msg    string
	fields map[string]interface{}
}

// recordingLogger keeps every entry in memory.
type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
	base    []Field
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (l *recordingLogger) add(level, msg string, fields []Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m := make(map[string]interface{})
	for _, f := range l.base {
		m[f.Key] = f.Value
	}
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	*l.entries = append(*l.entries, logEntry{level: level, msg: msg, fields: m})
}

func (l *recordingLogger) Debug(msg string, fields ...Field) { l.add("DEBUG", msg, fields) }
func (l *recordingLogger) Info(msg string, fields ...Field)  { l.add("INFO", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields ...Field)  { l.add("WARN", msg, fields) }
func (l *recordingLogger) Error(msg string, fields ...Field) { l.add("ERROR", msg, fields) }

func (l *recordingLogger) WithFields(fields ...Field) Logger {
	base := append(append([]Field{}, l.base...), fields...)
	return &recordingLogger{mu: l.mu, entries: l.entries, base: base}
}

func (l *recordingLogger) find(level, msg string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range *l.entries {
		if e.level == level && e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
