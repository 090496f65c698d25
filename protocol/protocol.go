// Package protocol implements exact-size framed I/O over a client/server channel.
//
// The channel is a byte stream, so a frame is only meaningful if it is read and
// written in whole. Every call on a Framer transfers exactly the requested
// number of bytes or reports failure; there is no buffering across calls and
// no retry at this layer. Retry policy lives in the transport package.
//
// Request frame (all integers little-endian):
//
//	┌──────────┬─────────┬──────────┬──────────┬─────────────────────────────────┐
//	│ u32 size │ version │ language │ argCount │ {id, index, count, u16[count]}… │
//	└──────────┴─────────┴──────────┴──────────┴─────────────────────────────────┘
//
// Response frame:
//
//	┌──────────┬──────┬──────────┬──────┬────────────────┬─────────────────────┐
//	│ i32 size │ type │ exitCode │ utf8 │ count + output │ count + errorOutput │
//	└──────────┴──────┴──────────┴──────┴────────────────┴─────────────────────┘
package protocol

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ErrShortWrite is returned when the channel accepted fewer bytes than requested.
var ErrShortWrite = errors.New("protocol: short write")

// Framer performs exact-size reads and writes on one channel.
// It is not safe for concurrent use; one client owns one channel.
type Framer struct {
	rw  io.ReadWriter
	log *zap.Logger
}

// NewFramer wraps rw. A nil logger disables diagnostics.
func NewFramer(rw io.ReadWriter, log *zap.Logger) *Framer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Framer{rw: rw, log: log}
}

// Write sends buf in a single write. A partial transfer is a failure.
func (f *Framer) Write(buf []byte) error {
	n, err := f.rw.Write(buf)
	if err != nil {
		f.log.Debug("pipe write failed", zap.Int("requested", len(buf)), zap.Int("written", n), zap.Error(err))
		return fmt.Errorf("protocol: write %d bytes: %w", len(buf), err)
	}
	if n != len(buf) {
		f.log.Debug("pipe write incomplete", zap.Int("requested", len(buf)), zap.Int("written", n))
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(buf))
	}
	f.log.Debug("pipe write succeeded", zap.Int("bytes", n))
	return nil
}

// Read returns exactly n bytes from the channel. Read(0) never touches the channel.
// Hitting end of stream before n bytes is a failure (io.ErrUnexpectedEOF or io.EOF).
func (f *Framer) Read(n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}
	if n < 0 {
		return nil, fmt.Errorf("protocol: invalid read size %d", n)
	}

	buf := make([]byte, n)
	got, err := io.ReadFull(f.rw, buf)
	if err != nil {
		f.log.Debug("pipe read failed", zap.Int("requested", n), zap.Int("read", got), zap.Error(err))
		return nil, fmt.Errorf("protocol: read %d bytes: %w", n, err)
	}
	f.log.Debug("pipe read succeeded", zap.Int("bytes", got))
	return buf, nil
}
