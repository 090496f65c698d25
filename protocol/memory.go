package protocol

import (
	"bytes"
	"errors"
)

// ErrReadUnsupported is returned by MemoryPipe.Read.
var ErrReadUnsupported = errors.New("protocol: memory pipe does not support reads")

// MemoryPipe accumulates everything written to it. It exists to check the
// exact bytes an encoder produces; it cannot be read from.
type MemoryPipe struct {
	buf    bytes.Buffer
	writes int
}

func (m *MemoryPipe) Write(p []byte) (int, error) {
	m.writes++
	return m.buf.Write(p)
}

func (m *MemoryPipe) Read([]byte) (int, error) {
	return 0, ErrReadUnsupported
}

// Bytes returns everything written so far.
func (m *MemoryPipe) Bytes() []byte { return m.buf.Bytes() }

// Writes returns the number of Write calls made.
func (m *MemoryPipe) Writes() int { return m.writes }
