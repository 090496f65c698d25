//go:build unix

package namedlock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestName(t *testing.T) {
	cases := map[string]string{
		"/opt/Build/bin/buildserver":         "opt_build_bin_buildserver.lock",
		`C:\Program Files\Build\buildserver`: "c__program files_build_buildserver.lock",
	}
	for in, want := range cases {
		if got := Name(in); got != want {
			t.Errorf("Name(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAcquireRelease(t *testing.T) {
	locker := NewFileLocker(t.TempDir(), 5*time.Millisecond, nil)

	lock, err := locker.Acquire(context.Background(), "server.lock", time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release must be a no-op, got %v", err)
	}

	again, err := locker.Acquire(context.Background(), "server.lock", time.Second)
	if err != nil {
		t.Fatalf("re-Acquire after release failed: %v", err)
	}
	again.Release()
}

func TestAcquireContendedTimesOut(t *testing.T) {
	locker := NewFileLocker(t.TempDir(), 5*time.Millisecond, nil)

	held, err := locker.Acquire(context.Background(), "server.lock", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	start := time.Now()
	_, err = locker.Acquire(context.Background(), "server.lock", 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expect ErrTimeout, got %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("gave up before the timeout")
	}
}

func TestAcquireWaitsForRelease(t *testing.T) {
	locker := NewFileLocker(t.TempDir(), 5*time.Millisecond, nil)

	held, err := locker.Acquire(context.Background(), "server.lock", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		held.Release()
	}()

	lock, err := locker.Acquire(context.Background(), "server.lock", 5*time.Second)
	if err != nil {
		t.Fatalf("expect the lock after release, got %v", err)
	}
	lock.Release()
}

func TestAcquireDifferentNamesDoNotContend(t *testing.T) {
	locker := NewFileLocker(t.TempDir(), 5*time.Millisecond, nil)

	a, err := locker.Acquire(context.Background(), "a.lock", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()
	b, err := locker.Acquire(context.Background(), "b.lock", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("independent names must not contend: %v", err)
	}
	b.Release()
}
