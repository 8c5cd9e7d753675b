package batch

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a string to a LogLevel, defaulting to INFO.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, val string) Field      { return Field{Key: key, Value: val} }
func Int(key string, val int) Field     { return Field{Key: key, Value: val} }
func Int64(key string, val int64) Field { return Field{Key: key, Value: val} }
func Bool(key string, val bool) Field   { return Field{Key: key, Value: val} }
func Duration(key string, val time.Duration) Field {
	return Field{Key: key, Value: val.String()}
}
func Error(key string, err error) Field {
	if err == nil {
		return Field{Key: key, Value: nil}
	}
	return Field{Key: key, Value: err.Error()}
}

// Logger is the interface for structured logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// jsonLogger writes one JSON object per line.
type jsonLogger struct {
	out        io.Writer
	mu         *sync.Mutex
	minLevel   LogLevel
	baseFields []Field
}

// NewLogger creates a JSON logger with the given level and output.
// A nil output writes to stderr.
func NewLogger(level string, output io.Writer) Logger {
	if output == nil {
		output = os.Stderr
	}

	return &jsonLogger{
		out:      output,
		mu:       &sync.Mutex{},
		minLevel: ParseLogLevel(level),
	}
}

func (l *jsonLogger) Debug(msg string, fields ...Field) { l.log(DEBUG, msg, fields) }
func (l *jsonLogger) Info(msg string, fields ...Field)  { l.log(INFO, msg, fields) }
func (l *jsonLogger) Warn(msg string, fields ...Field)  { l.log(WARN, msg, fields) }
func (l *jsonLogger) Error(msg string, fields ...Field) { l.log(ERROR, msg, fields) }

func (l *jsonLogger) WithFields(fields ...Field) Logger {
	base := make([]Field, 0, len(l.baseFields)+len(fields))
	base = append(base, l.baseFields...)
	base = append(base, fields...)

	return &jsonLogger{
		out:        l.out,
		mu:         l.mu,
		minLevel:   l.minLevel,
		baseFields: base,
	}
}

func (l *jsonLogger) log(level LogLevel, msg string, fields []Field) {
	if level < l.minLevel {
		return
	}

	entry := make(map[string]interface{}, len(l.baseFields)+len(fields)+3)
	for _, f := range l.baseFields {
		entry[f.Key] = redact(f)
	}
	for _, f := range fields {
		entry[f.Key] = redact(f)
	}
	entry["timestamp"] = time.Now().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["message"] = msg

	line, err := json.Marshal(entry)
	if err != nil {
		line = []byte(`{"level":"ERROR","message":"failed to marshal log entry"}`)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(line, '\n'))
}

var sensitiveKeys = map[string]bool{
	"password":          true,
	"pwd":               true,
	"secret":            true,
	"token":             true,
	"connection_string": true,
	"conn":              true,
}

// redact masks values for sensitive keys and strips credentials out of
// connection strings.
func redact(f Field) interface{} {
	if !sensitiveKeys[strings.ToLower(f.Key)] {
		return f.Value
	}
	if s, ok := f.Value.(string); ok && strings.Contains(s, "://") {
		return RedactConnString(s)
	}
	return "[REDACTED]"
}

// RedactConnString hides the user info part of a scheme://dsn connection string.
func RedactConnString(connStr string) string {
	idx := strings.Index(connStr, "://")
	if idx < 0 {
		return "[REDACTED]"
	}
	rest := connStr[idx+3:]
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return connStr
	}
	return connStr[:idx+3] + "****" + rest[at:]
}

type noopLogger struct{}

func (n noopLogger) Debug(msg string, fields ...Field) {}
func (n noopLogger) Info(msg string, fields ...Field)  {}
func (n noopLogger) Warn(msg string, fields ...Field)  {}
func (n noopLogger) Error(msg string, fields ...Field) {}
func (n noopLogger) WithFields(fields ...Field) Logger { return n }

// NewNoopLogger creates a logger that discards all output.
func NewNoopLogger() Logger {
	return noopLogger{}
}

// logrusLogger adapts a logrus logger to Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps a logrus logger. A nil logger uses logrus.StandardLogger.
func NewLogrusLogger(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) with(fields []Field) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}
	data := make(logrus.Fields, len(fields))
	for _, f := range fields {
		data[f.Key] = redact(f)
	}
	return l.entry.WithFields(data)
}

func (l *logrusLogger) Debug(msg string, fields ...Field) { l.with(fields).Debug(msg) }
func (l *logrusLogger) Info(msg string, fields ...Field)  { l.with(fields).Info(msg) }
func (l *logrusLogger) Warn(msg string, fields ...Field)  { l.with(fields).Warn(msg) }
func (l *logrusLogger) Error(msg string, fields ...Field) { l.with(fields).Error(msg) }

func (l *logrusLogger) WithFields(fields ...Field) Logger {
	return &logrusLogger{entry: l.with(fields)}
}
