//go:build !unix

package namedlock

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// FileLocker is unavailable on this platform; Acquire always fails, which
// callers treat as "proceed without mutual exclusion".
type FileLocker struct{}

func NewFileLocker(string, time.Duration, *zap.Logger) *FileLocker { return &FileLocker{} }

func (*FileLocker) Acquire(context.Context, string, time.Duration) (Releaser, error) {
	return nil, errors.New("namedlock: file locks are not supported on this platform")
}
