package migration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dan-strohschein/sqlbatch/batch"
)

// EnvLockTimeout overrides the stale lock timeout, for example "30m".
const EnvLockTimeout = "SQLBATCH_LOCK_TIMEOUT"

// DefaultLockFile is the lock file name used inside the migrations directory.
const DefaultLockFile = ".sqlbatch_migration.lock"

// TODO: a file lock only coordinates runners sharing a filesystem. Add a
// database-backed lock (sp_getapplock on MSSQL, GET_LOCK on MySQL) behind the
// same Acquire/Release calls.

// LockMetadata identifies the holder of a migration lock.
type LockMetadata struct {
	Holder    string    `json:"holder"`
	Hostname  string    `json:"hostname"`
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// MigrationLock serializes migration runs with an exclusively created file.
type MigrationLock struct {
	lockPath     string
	staleTimeout time.Duration
	maxRetries   int
	retryBackoff time.Duration
	logger       batch.Logger
}

// NewMigrationLock creates a lock at path. A zero timeout reads
// SQLBATCH_LOCK_TIMEOUT and falls back to one hour.
func NewMigrationLock(path string, timeout time.Duration) (*MigrationLock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path cannot be empty")
	}

	if timeout == 0 {
		var err error
		if timeout, err = parseLockTimeout(os.Getenv(EnvLockTimeout)); err != nil {
			return nil, err
		}
	}

	return &MigrationLock{
		lockPath:     path,
		staleTimeout: timeout,
		logger:       batch.NewNoopLogger(),
	}, nil
}

// LockPath returns the lock file used for migrations in dir.
func LockPath(dir string) string {
	return filepath.Join(dir, DefaultLockFile)
}

// Path returns the lock file path.
func (l *MigrationLock) Path() string {
	return l.lockPath
}

// SetLogger sets the logger used for contention and stale lock warnings.
func (l *MigrationLock) SetLogger(logger batch.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// SetRetry configures retries with exponential backoff, capped at a minute.
func (l *MigrationLock) SetRetry(maxRetries int, backoff time.Duration) error {
	switch {
	case maxRetries < 0 || maxRetries > 10:
		return fmt.Errorf("maxRetries must be between 0 and 10, got %d", maxRetries)
	case backoff < 0 || backoff > time.Minute:
		return fmt.Errorf("backoff must be between 0 and 1m, got %s", backoff)
	}

	l.maxRetries = maxRetries
	l.retryBackoff = backoff
	return nil
}

// AcquireLock creates the lock file. A lock older than the stale timeout is
// removed first.
func (l *MigrationLock) AcquireLock() error {
	meta := currentHolder()

	for attempt := 0; ; attempt++ {
		err := l.create(meta)
		if err == nil || !errors.Is(err, os.ErrExist) {
			return err
		}

		if l.isLockStale() {
			held, _ := l.readLockMetadata()
			l.logger.Warn("removing stale migration lock",
				batch.String("path", l.lockPath),
				batch.String("holder", held.describe()),
				batch.Duration("stale_after", l.staleTimeout))
			if err := l.ReleaseLock(); err != nil {
				return err
			}
			continue
		}

		held, _ := l.readLockMetadata()
		if attempt >= l.maxRetries {
			return lockConflict(l.lockPath, held)
		}

		backoff := l.retryBackoff << uint(attempt)
		if backoff > time.Minute {
			backoff = time.Minute
		}
		l.logger.Info("migration lock busy, retrying",
			batch.String("holder", held.describe()),
			batch.Duration("backoff", backoff),
			batch.Int("attempt", attempt+1),
			batch.Int("max_retries", l.maxRetries))
		time.Sleep(backoff)
	}
}

func (l *MigrationLock) create(meta *LockMetadata) error {
	file, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return err
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer file.Close()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err == nil {
		_, err = file.Write(data)
	}
	if err != nil {
		os.Remove(l.lockPath)
		return fmt.Errorf("failed to write lock metadata: %w", err)
	}
	return nil
}

// ReleaseLock removes the lock file. Releasing an absent lock is not an error.
func (l *MigrationLock) ReleaseLock() error {
	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// ForceUnlock removes a lock left by a dead process on this host.
func (l *MigrationLock) ForceUnlock() error {
	meta, err := l.readLockMetadata()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		l.logger.Warn("forcing unlock without metadata validation", batch.Error("error", err))
		return l.ReleaseLock()
	}

	host, _ := os.Hostname()
	if host != "" && meta.Hostname != "" && host != meta.Hostname {
		return fmt.Errorf("cannot force unlock: lock held on different host (%s), current host is %s", meta.Hostname, host)
	}
	if isProcessActive(meta.PID) {
		return fmt.Errorf("cannot force unlock: process %d appears to be active on this host", meta.PID)
	}

	l.logger.Warn("force unlocking migration lock", batch.String("holder", meta.describe()))
	return l.ReleaseLock()
}

func (l *MigrationLock) isLockStale() bool {
	info, err := os.Stat(l.lockPath)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > l.staleTimeout
}

func (l *MigrationLock) readLockMetadata() (*LockMetadata, error) {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return &LockMetadata{}, err
	}

	var meta LockMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return &LockMetadata{}, fmt.Errorf("failed to unmarshal lock metadata: %w", err)
	}
	return &meta, nil
}

func (m *LockMetadata) describe() string {
	if m == nil || m.Holder == "" {
		return "unknown"
	}
	return fmt.Sprintf("%s@%s (PID %d)", m.Holder, m.Hostname, m.PID)
}

func currentHolder() *LockMetadata {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		user = "unknown"
	}

	return &LockMetadata{
		Holder:    user,
		Hostname:  host,
		PID:       os.Getpid(),
		Timestamp: time.Now(),
	}
}

func lockConflict(path string, held *LockMetadata) error {
	age := time.Duration(0)
	if !held.Timestamp.IsZero() {
		age = time.Since(held.Timestamp).Round(time.Second)
	}
	return newError(CodeLocked,
		fmt.Sprintf("migration lock is held by %s since %s ago; wait for it to finish or force unlock a stuck run", held.describe(), age),
		map[string]interface{}{"path": path, "holder": held.Holder, "hostname": held.Hostname, "pid": held.PID}, nil)
}

func parseLockTimeout(value string) (time.Duration, error) {
	if value == "" {
		return time.Hour, nil
	}

	timeout, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value '%s': %w", EnvLockTimeout, value, err)
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", EnvLockTimeout, timeout)
	}
	return timeout, nil
}

// isProcessActive is a best-effort liveness check using signal 0.
func isProcessActive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
