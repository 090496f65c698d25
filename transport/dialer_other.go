//go:build !unix

package transport

import (
	"context"
	"errors"
	"net"
)

var errUnsupported = errors.New("transport: unix sockets are not supported on this platform")

// UnixDialer is unavailable on this platform.
type UnixDialer struct {
	UID uint32
}

func NewUnixDialer() UnixDialer { return UnixDialer{} }

func (UnixDialer) Dial(context.Context, string, int) (net.Conn, error) {
	return nil, errUnsupported
}

func PrepareDir(string) error { return errUnsupported }
