package transport

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// verifyPeer checks the credentials the listener had when it called listen(2).
func verifyPeer(conn *net.UnixConn, address string, pid int, uid uint32) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return err
	}
	if credErr != nil {
		return fmt.Errorf("read peer credentials: %w", credErr)
	}
	if int(cred.Pid) != pid {
		return fmt.Errorf("listener is pid %d, want %d", cred.Pid, pid)
	}
	if cred.Uid != uid {
		return fmt.Errorf("listener runs as uid %d, want %d", cred.Uid, uid)
	}
	return nil
}
