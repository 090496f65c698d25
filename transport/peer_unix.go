//go:build unix && !linux

package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// verifyPeer checks the owner of the socket file. Peer pids are not
// available here; PrepareDir keeps other users from planting sockets.
func verifyPeer(conn *net.UnixConn, address string, pid int, uid uint32) error {
	var st unix.Stat_t
	if err := unix.Lstat(address, &st); err != nil {
		return fmt.Errorf("stat socket: %w", err)
	}
	if st.Uid != uid {
		return fmt.Errorf("socket owned by uid %d, want %d", st.Uid, uid)
	}
	return nil
}
