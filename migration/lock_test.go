package migration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLock(t *testing.T, timeout time.Duration) *MigrationLock {
	t.Helper()
	lock, err := NewMigrationLock(LockPath(t.TempDir()), timeout)
	if err != nil {
		t.Fatalf("NewMigrationLock failed: %v", err)
	}
	return lock
}

func TestLock_AcquireAndRelease(t *testing.T) {
	lock := newTestLock(t, time.Hour)

	if err := lock.AcquireLock(); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	data, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("lock file not created: %v", err)
	}
	var meta LockMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("invalid metadata: %v", err)
	}
	if meta.PID != os.Getpid() {
		t.Errorf("expected PID %d, got %d", os.Getpid(), meta.PID)
	}

	if err := lock.ReleaseLock(); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file must be removed after release")
	}
	if err := lock.ReleaseLock(); err != nil {
		t.Errorf("releasing twice must succeed: %v", err)
	}
}

func TestLock_Conflict(t *testing.T) {
	first := newTestLock(t, time.Hour)
	second, _ := NewMigrationLock(first.Path(), time.Hour)

	if err := first.AcquireLock(); err != nil {
		t.Fatalf("first AcquireLock failed: %v", err)
	}
	defer first.ReleaseLock()

	if err := second.AcquireLock(); !HasCode(err, CodeLocked) {
		t.Errorf("expected lock conflict, got %v", err)
	}
}

func TestLock_StaleLockIsReplaced(t *testing.T) {
	lock := newTestLock(t, time.Minute)

	if err := os.WriteFile(lock.Path(), []byte(`{"holder":"ghost","pid":1}`), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(lock.Path(), old, old); err != nil {
		t.Fatal(err)
	}

	if err := lock.AcquireLock(); err != nil {
		t.Fatalf("stale lock must be replaced: %v", err)
	}
	defer lock.ReleaseLock()

	held, err := lock.readLockMetadata()
	if err != nil || held.PID != os.Getpid() {
		t.Errorf("expected our metadata, got %+v, %v", held, err)
	}
}

func TestLock_RetryWaitsForRelease(t *testing.T) {
	holder := newTestLock(t, time.Hour)
	waiter, _ := NewMigrationLock(holder.Path(), time.Hour)
	if err := waiter.SetRetry(5, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	if err := holder.AcquireLock(); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		holder.ReleaseLock()
	}()

	if err := waiter.AcquireLock(); err != nil {
		t.Fatalf("waiter must acquire after release: %v", err)
	}
	waiter.ReleaseLock()
}

func TestLock_ConcurrentAcquireHasOneWinner(t *testing.T) {
	path := LockPath(t.TempDir())

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock, _ := NewMigrationLock(path, time.Hour)
			if lock.AcquireLock() == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestLock_SetRetryBounds(t *testing.T) {
	lock := newTestLock(t, time.Hour)

	for _, tc := range []struct {
		retries int
		backoff time.Duration
	}{{-1, 0}, {11, 0}, {1, -time.Second}, {1, 2 * time.Minute}} {
		if err := lock.SetRetry(tc.retries, tc.backoff); err == nil {
			t.Errorf("SetRetry(%d, %s) must fail", tc.retries, tc.backoff)
		}
	}
	if err := lock.SetRetry(3, time.Second); err != nil {
		t.Errorf("valid retry settings rejected: %v", err)
	}
}

func TestLock_Timeout(t *testing.T) {
	t.Setenv(EnvLockTimeout, "")
	lock, err := NewMigrationLock(filepath.Join(t.TempDir(), "x.lock"), 0)
	if err != nil || lock.staleTimeout != time.Hour {
		t.Errorf("expected one hour default, got %v, %v", lock, err)
	}

	t.Setenv(EnvLockTimeout, "15m")
	if lock, _ := NewMigrationLock("x.lock", 0); lock.staleTimeout != 15*time.Minute {
		t.Errorf("expected env timeout, got %s", lock.staleTimeout)
	}

	for _, bad := range []string{"soon", "-5m"} {
		t.Setenv(EnvLockTimeout, bad)
		if _, err := NewMigrationLock("x.lock", 0); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}

	if _, err := NewMigrationLock("", time.Hour); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestLock_ForceUnlockDeadProcess(t *testing.T) {
	lock := newTestLock(t, time.Hour)
	host, _ := os.Hostname()

	data, _ := json.Marshal(LockMetadata{Holder: "ghost", Hostname: host, PID: -1})
	if err := os.WriteFile(lock.Path(), data, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := lock.ForceUnlock(); err != nil {
		t.Fatalf("ForceUnlock failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock must be removed")
	}

	if err := lock.AcquireLock(); err != nil {
		t.Fatal(err)
	}
	defer lock.ReleaseLock()
	if err := lock.ForceUnlock(); err == nil {
		t.Error("a lock held by a live process must not be forced")
	}
}
