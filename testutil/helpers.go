// Package testutil provides helpers for tests that run batches against a
// real SQLite database or the mock driver.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dan-strohschein/sqlbatch/batch"
	_ "github.com/dan-strohschein/sqlbatch/driver/sqldb"
)

var tableCounter uint64

// SQLiteConn returns a connection string for a fresh SQLite file removed when
// the test ends.
func SQLiteConn(t testing.TB) string {
	t.Helper()
	return "sqlite3://" + filepath.Join(t.TempDir(), "test.db")
}

// NewExecutor creates an executor for connStr that logs nothing unless the
// test runs verbosely.
func NewExecutor(t testing.TB, connStr string) *batch.Executor {
	t.Helper()
	opts := batch.DefaultOptions()
	opts.Logger = batch.NewNoopLogger()
	if testing.Verbose() {
		opts.Logger = NewTestLogger(t)
		opts.DebugMode = true
	}
	return batch.NewExecutor(connStr, &opts)
}

// MustExec runs texts as one batch and fails the test on error.
func MustExec(t testing.TB, connStr string, texts ...string) []int {
	t.Helper()
	e := NewExecutor(t, connStr)
	for _, text := range texts {
		e.RegisterText(text)
	}
	results, err := e.Execute()
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	return results
}

// Count returns the integer result of a COUNT query.
func Count(t testing.TB, connStr, text string, params ...batch.Parameter) int64 {
	t.Helper()
	e := NewExecutor(t, connStr)
	n := batch.RegisterScalar[int64](e, -1, text, params...)
	if _, err := e.Execute(); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n.Value()
}

// TableName generates a unique table name: <prefix>_<unix>_<n>.
func TableName(prefix string) string {
	if prefix == "" {
		prefix = "test"
	}
	n := atomic.AddUint64(&tableCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().Unix(), n)
}

// WithTimeout creates a context cancelled after timeout (10s by default) or
// when the test ends.
func WithTimeout(t testing.TB, timeout ...time.Duration) context.Context {
	t.Helper()

	d := 10 * time.Second
	if len(timeout) > 0 {
		d = timeout[0]
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

// WaitFor polls condition until it holds or timeout elapses.
func WaitFor(t testing.TB, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}

	t.Errorf("condition not met within timeout %v", timeout)
	return false
}
