// Package registry finds compiler server processes a client may trust, and
// starts new ones.
//
// A running process is only a usable server if BOTH its executable is the
// expected server binary AND it runs as the same user with the same
// elevation as the client. The second check is a security boundary: a
// client must never hand its sources and command line to a server owned by
// another principal, even if that server answers on the expected address.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Identity is the security identity of a process: owning user and elevation.
type Identity struct {
	UID      uint32
	Elevated bool
}

// Instance is the identity record of one candidate server process.
// It is only meaningful during a single discovery.
type Instance struct {
	PID int
	Exe string
	Identity
}

// ProcessLister enumerates the processes on this machine.
type ProcessLister interface {
	Processes(ctx context.Context) ([]Instance, error)
}

// ServerPath returns the expected server location: the server executable
// name in the client executable's directory.
func ServerPath(clientExe, serverName string) string {
	return filepath.Join(filepath.Dir(clientExe), serverName)
}

// SamePath compares executable paths case-insensitively after cleaning.
func SamePath(a, b string) bool {
	return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
}

// Registry discovers server instances owned by the current identity.
type Registry struct {
	lister ProcessLister
	self   Identity
	log    *zap.Logger
}

// NewRegistry creates a registry that only trusts processes matching self.
func NewRegistry(lister ProcessLister, self Identity, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{lister: lister, self: self, log: log}
}

// Discover returns the running processes that are serverPath AND share the
// current identity, in enumeration order.
func (r *Registry) Discover(ctx context.Context, serverPath string) ([]Instance, error) {
	processes, err := r.lister.Processes(ctx)
	if err != nil {
		r.log.Debug("process enumeration failed", zap.Error(err))
		return nil, fmt.Errorf("registry: enumerate processes: %w", err)
	}

	instances := make([]Instance, 0)
	for _, p := range processes {
		if !SamePath(p.Exe, serverPath) {
			continue
		}
		if p.Identity != r.self {
			r.log.Debug("skipping server with foreign identity",
				zap.Int("pid", p.PID), zap.Uint32("uid", p.UID), zap.Bool("elevated", p.Elevated))
			continue
		}
		instances = append(instances, p)
	}

	r.log.Debug("discovered servers", zap.String("path", serverPath), zap.Int("count", len(instances)))
	return instances, nil
}
