package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	dataDir := t.TempDir()

	l, err := Acquire(dataDir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = l.Release() }()

	data, err := os.ReadFile(filepath.Join(dataDir, "LOCK"))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if !strings.Contains(string(data), "pid=") {
		t.Errorf("lock file = %q, want pid line", data)
	}
	if got := parsePID(string(data)); got != os.Getpid() {
		t.Errorf("parsePID = %d, want %d", got, os.Getpid())
	}
}

func TestSecondDaemonIsRejectedWithHolderPID(t *testing.T) {
	dataDir := t.TempDir()

	l1, err := Acquire(dataDir)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(dataDir)
	if err == nil {
		t.Fatal("second Acquire() should fail while the data dir is held")
	}
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("error = %T (%v), want *LockHeldError", err, err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("LockHeldError.PID = %d, want holder pid %d", held.PID, os.Getpid())
	}
	if !strings.Contains(held.Error(), "LOCK") {
		t.Errorf("error %q should name the lock path", held.Error())
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dataDir := t.TempDir()

	l, err := Acquire(dataDir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	l2, err := Acquire(dataDir)
	if err != nil {
		t.Fatalf("reacquire after release error = %v", err)
	}
	_ = l2.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	l, err := Acquire(t.TempDir())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}

	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}
