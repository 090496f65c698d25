//go:build !unix

package registry

import "errors"

// CurrentIdentity cannot be determined on this platform.
func CurrentIdentity() (Identity, error) {
	return Identity{}, errors.New("registry: process identity is not supported on this platform")
}

func identityFromUids([]uint32) (Identity, bool) { return Identity{}, false }
