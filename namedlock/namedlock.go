// Package namedlock provides a cross-process mutual-exclusion lock keyed by name.
//
// Clients racing to start a compiler server take the lock named after the
// server's path, so only one of them decides to spawn a new process at a
// time. The lock is advisory and best effort: if it cannot be created the
// caller proceeds without it.
package namedlock

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrTimeout is returned when another process held the lock for the whole wait.
var ErrTimeout = errors.New("namedlock: timed out waiting for lock")

// Releaser releases an acquired lock. Release is safe to call more than once.
type Releaser interface {
	Release() error
}

// Locker acquires named locks.
type Locker interface {
	Acquire(ctx context.Context, name string, timeout time.Duration) (Releaser, error)
}

// Name turns a server path into a lock name: separators and drive colons
// become underscores and the result is lower-cased, since server paths are
// compared case-insensitively.
func Name(serverPath string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(serverPath)
	return strings.ToLower(strings.TrimLeft(name, "_")) + ".lock"
}
