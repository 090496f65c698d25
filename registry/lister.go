package registry

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// SystemLister enumerates real processes. Processes whose executable or
// owner cannot be read (typically other users' processes) are skipped.
type SystemLister struct {
	log *zap.Logger
}

func NewSystemLister(log *zap.Logger) *SystemLister {
	if log == nil {
		log = zap.NewNop()
	}
	return &SystemLister{log: log}
}

func (l *SystemLister) Processes(ctx context.Context) ([]Instance, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	instances := make([]Instance, 0, len(procs))
	for _, p := range procs {
		exe, err := p.ExeWithContext(ctx)
		if err != nil || exe == "" {
			continue
		}
		raw, err := p.UidsWithContext(ctx)
		if err != nil {
			l.log.Debug("cannot read process owner", zap.Int32("pid", p.Pid), zap.Error(err))
			continue
		}
		uids := make([]uint32, len(raw))
		for i, uid := range raw {
			uids[i] = uint32(uid)
		}
		identity, ok := identityFromUids(uids)
		if !ok {
			continue
		}
		instances = append(instances, Instance{PID: int(p.Pid), Exe: exe, Identity: identity})
	}
	return instances, nil
}
