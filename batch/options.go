package batch

import (
	"time"

	"github.com/dan-strohschein/sqlbatch/driver"
)

// Options configures an Executor.
type Options struct {
	// Logger is the logger implementation to use.
	// If nil, a JSON logger at LogLevel writing to stderr is used.
	Logger Logger

	// LogLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR).
	// Default: "WARN"
	LogLevel string

	// DebugMode logs every statement with its parameters and makes DebugInfo
	// include the last batch's state history.
	// Default: false
	DebugMode bool

	// DefaultTimeout applies to commands that do not set their own timeout.
	// Zero leaves the driver default in place.
	DefaultTimeout time.Duration

	// Isolation is the isolation level of the batch transaction.
	// Default: driver.LevelDefault
	Isolation driver.IsolationLevel

	// ReadOnly begins the batch transaction as read-only.
	ReadOnly bool

	// OnStateChange is called for every executor state transition.
	OnStateChange StateChangeHandler

	// Hooks are registered in order when the executor is created.
	Hooks []Hook
}

// DefaultOptions returns Options with default values.
func DefaultOptions() Options {
	return Options{
		LogLevel:  "WARN",
		DebugMode: false,
		Isolation: driver.LevelDefault,
		ReadOnly:  false,
	}
}
