//go:build unix

package registry

import "golang.org/x/sys/unix"

// CurrentIdentity returns the identity of this process. The real uid is the
// owning user; an effective uid of 0 counts as elevated.
func CurrentIdentity() (Identity, error) {
	return Identity{
		UID:      uint32(unix.Getuid()),
		Elevated: unix.Geteuid() == 0,
	}, nil
}

// identityFromUids builds an Identity from a real/effective/... uid list.
func identityFromUids(uids []uint32) (Identity, bool) {
	if len(uids) < 2 {
		return Identity{}, false
	}
	return Identity{UID: uids[0], Elevated: uids[1] == 0}, true
}
