//go:build unix

package namedlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// FileLocker implements Locker with flock(2) on files in one directory.
// The kernel drops a flock when its holder exits, so a crashed client
// cannot leave the lock held.
type FileLocker struct {
	dir      string
	interval time.Duration
	log      *zap.Logger
}

// NewFileLocker creates lock files under dir, polling every interval while contended.
func NewFileLocker(dir string, interval time.Duration, log *zap.Logger) *FileLocker {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileLocker{dir: dir, interval: interval, log: log}
}

type fileLock struct {
	once sync.Once
	file *os.File
	log  *zap.Logger
	err  error
}

func (l *fileLock) Release() error {
	l.once.Do(func() {
		// Closing the descriptor drops the flock.
		l.err = l.file.Close()
		l.log.Debug("lock released", zap.String("path", l.file.Name()))
	})
	return l.err
}

// Acquire takes the lock, waiting up to timeout if another process holds it.
// ErrTimeout reports contention; any other error means the lock could not be
// created at all.
func (f *FileLocker) Acquire(ctx context.Context, name string, timeout time.Duration) (Releaser, error) {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return nil, fmt.Errorf("namedlock: create lock directory: %w", err)
	}
	path := filepath.Join(f.dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("namedlock: open %s: %w", path, err)
	}
	log := f.log.With(zap.String("path", path))

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	deadline := time.Now().Add(timeout)

	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			log.Debug("lock acquired")
			return &fileLock{file: file, log: log}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			file.Close()
			return nil, fmt.Errorf("namedlock: flock %s: %w", path, err)
		}
		if !time.Now().Before(deadline) {
			file.Close()
			log.Debug("lock wait timed out", zap.Duration("timeout", timeout))
			return nil, ErrTimeout
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			file.Close()
			return nil, ctx.Err()
		}
	}
}
