//go:build unix

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// UnixDialer connects to Unix domain sockets and only returns a connection
// whose listener is the requested server process running as UID.
type UnixDialer struct {
	UID uint32
}

// NewUnixDialer returns a dialer that trusts servers running as this process's effective user.
func NewUnixDialer() UnixDialer {
	return UnixDialer{UID: uint32(os.Geteuid())}
}

func (d UnixDialer) Dial(ctx context.Context, address string, pid int) (net.Conn, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "unix", address)
	if err != nil {
		return nil, classify(err)
	}
	if err := verifyPeer(conn.(*net.UnixConn), address, pid, d.UID); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrUntrustedPeer, address, err)
	}
	return conn, nil
}

// classify maps socket errors onto the connector's retry conditions.
// A socket file with no listener behind it is treated like a missing one:
// the server is either still starting or already gone.
func classify(err error) error {
	switch {
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ECONNREFUSED):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, unix.EAGAIN):
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}

// PrepareDir creates the pipe directory if needed and refuses it unless it
// is a real directory owned by this user with no group or other access.
func PrepareDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("transport: create %s: %w", dir, err)
	}

	var st unix.Stat_t
	if err := unix.Lstat(dir, &st); err != nil {
		return fmt.Errorf("transport: stat %s: %w", dir, err)
	}
	switch {
	case st.Mode&unix.S_IFMT != unix.S_IFDIR:
		return fmt.Errorf("%w: %s is not a directory", ErrUnsafeDir, dir)
	case st.Uid != uint32(os.Geteuid()):
		return fmt.Errorf("%w: %s is owned by uid %d", ErrUnsafeDir, dir, st.Uid)
	case st.Mode&0o077 != 0:
		return fmt.Errorf("%w: %s has mode %o", ErrUnsafeDir, dir, st.Mode&0o777)
	}
	return nil
}
