package batch

import (
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/cespare/xxhash"

	sqldriver "github.com/dan-strohschein/sqlbatch/driver"
)

// ErrNotInitialized is the cause of a StatementError raised when a statement
// runs before Initialize bound it to a connection and transaction.
var ErrNotInitialized = errors.New("statement executed before it was initialized")

// StatementError is the single failure kind for statement execution. It carries
// the statement text and every bound parameter so a failure can be diagnosed
// from the log line alone.
type StatementError struct {
	Code        string                 `json:"code"`
	Type        string                 `json:"type"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Query       string                 `json:"query"`
	Params      []sqldriver.Param      `json:"-"`
	Fingerprint string                 `json:"fingerprint"`
	Cause       error                  `json:"cause,omitempty"`
	StackTrace  []string               `json:"stack_trace,omitempty"`
	Timestamp   time.Time              `json:"timestamp,omitempty"`
}

func newStatementError(req sqldriver.Request, cause error) *StatementError {
	code := "E_STATEMENT_FAILED"
	if errors.Is(cause, ErrNotInitialized) {
		code = "E_NOT_INITIALIZED"
	}

	msg := "statement failed"
	if cause != nil {
		msg = cause.Error()
	}

	return &StatementError{
		Code:    code,
		Type:    "STATEMENT_ERROR",
		Message: msg,
		Details: map[string]interface{}{
			"kind":        req.Kind.String(),
			"param_count": len(req.Params),
		},
		Query:       req.Text,
		Params:      req.Params,
		Fingerprint: Fingerprint(req.Text),
		Cause:       cause,
		StackTrace:  captureStackTrace(),
		Timestamp:   time.Now(),
	}
}

// Error renders the error for log capture: message, query, one line per
// parameter, the cause and the stack where the failure was wrapped.
func (e *StatementError) Error() string {
	var b strings.Builder

	b.WriteString("StatementError: ")
	b.WriteString(e.Message)
	b.WriteString("\nQuery: ")
	b.WriteString(e.Query)
	for _, p := range e.Params {
		b.WriteString("\n\t")
		b.WriteString(p.Name)
		b.WriteString("=")
		b.WriteString(quoteValue(p.Value))
	}
	b.WriteString("\n")

	if e.Cause != nil {
		b.WriteString(" ---> ")
		b.WriteString(e.Cause.Error())
		b.WriteString("\n")
	}

	for _, frame := range e.StackTrace {
		b.WriteString("   at ")
		b.WriteString(frame)
		b.WriteString("\n")
	}

	return b.String()
}

// FormatError formats the error based on debug mode.
func (e *StatementError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (query: %s, caused by: %s)", e.Code, e.Message, e.Query, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s (query: %s)", e.Code, e.Message, e.Query)
	}

	params := make(map[string]string, len(e.Params))
	for _, p := range e.Params {
		params[p.Name] = FormatValue(p.Value)
	}

	errorData := map[string]interface{}{
		"code":        e.Code,
		"type":        e.Type,
		"message":     e.Message,
		"query":       e.Query,
		"fingerprint": e.Fingerprint,
	}

	if len(params) > 0 {
		errorData["params"] = params
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *StatementError) Unwrap() error {
	return e.Cause
}

// TransactionError reports a failure to open, begin or commit the batch
// transaction.
type TransactionError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	TraceID    string                 `json:"trace_id,omitempty"`
	State      string                 `json:"state,omitempty"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

// Error implements the error interface.
func (e *TransactionError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *TransactionError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (batch: %s, caused by: %s)", e.Code, e.Message, e.TraceID, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s (batch: %s)", e.Code, e.Message, e.TraceID)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}

	if e.TraceID != "" {
		errorData["trace_id"] = e.TraceID
	}

	if e.State != "" {
		errorData["state"] = e.State
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	if !e.Timestamp.IsZero() {
		errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *TransactionError) Unwrap() error {
	return e.Cause
}

func newTransactionError(code, message, traceID string, state ExecutorState, cause error) *TransactionError {
	return &TransactionError{
		Code:       code,
		Type:       "TRANSACTION_ERROR",
		Message:    message,
		TraceID:    traceID,
		State:      state.String(),
		Cause:      cause,
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// StateError represents invalid executor state for an operation.
type StateError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details"`
	StackTrace []string               `json:"stack_trace,omitempty"`
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *StateError) FormatError(debugMode bool) string {
	if !debugMode {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
		"details": e.Details,
	}

	if len(e.StackTrace) > 0 {
		errorData["stack_trace"] = e.StackTrace
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// ErrInvalidState creates a StateError for operations attempted in the wrong state.
func ErrInvalidState(operation string, required, actual ExecutorState) error {
	return &StateError{
		Code:    "INVALID_STATE",
		Type:    "STATE_ERROR",
		Message: fmt.Sprintf("%s requires %s state, currently %s", operation, required, actual),
		Details: map[string]interface{}{
			"operation":     operation,
			"requiredState": required.String(),
			"currentState":  actual.String(),
		},
		StackTrace: captureStackTrace(),
	}
}

// Fingerprint returns a stable short hash of a statement text, used to group
// log lines and errors by statement.
func Fingerprint(text string) string {
	sum := xxhash.Sum64String(strings.Join(strings.Fields(text), " "))
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(sum >> (56 - 8*i))
	}
	return hex.EncodeToString(buf[:])
}

// FormatValue renders a parameter value for diagnostics. Nil, SQL NULL wrappers
// and nil pointers render as NULL.
func FormatValue(v interface{}) string {
	if !reflectValue(v).IsValid() {
		return "NULL"
	}
	if valuer, ok := v.(driver.Valuer); ok {
		val, err := valuer.Value()
		if err != nil {
			return fmt.Sprintf("<%v>", err)
		}
		v = val
	}

	rv := reflectValue(v)
	if !rv.IsValid() {
		return "NULL"
	}

	switch val := rv.Interface().(type) {
	case string:
		return val
	case []byte:
		return "0x" + hex.EncodeToString(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func quoteValue(v interface{}) string {
	if isNullValue(v) {
		return "NULL"
	}
	return "'" + FormatValue(v) + "'"
}

func isNullValue(v interface{}) bool {
	if !reflectValue(v).IsValid() {
		return true
	}
	if valuer, ok := v.(driver.Valuer); ok {
		val, err := valuer.Value()
		return err == nil && val == nil
	}
	return false
}

// reflectValue dereferences pointers, returning the zero Value for nil.
func reflectValue(v interface{}) reflect.Value {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}

// captureStackTrace captures the current stack trace for error reporting.
func captureStackTrace() []string {
	const maxDepth = 32
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(3, pcs)

	frames := make([]string, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()
		frames = append(frames, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}

	return frames
}

// FormatError is a helper to format any error with debug mode support.
func FormatError(err error, debugMode bool) string {
	if err == nil {
		return ""
	}

	type debugFormatter interface {
		FormatError(bool) string
	}

	var formatter debugFormatter
	if errors.As(err, &formatter) {
		return formatter.FormatError(debugMode)
	}

	return err.Error()
}
