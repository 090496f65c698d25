package registry

import (
	"context"
	"errors"
	"testing"
)

type fakeLister struct {
	procs []Instance
	err   error
}

func (f *fakeLister) Processes(context.Context) ([]Instance, error) {
	return f.procs, f.err
}

const serverPath = "/opt/build/bin/buildserver"

func TestServerPath(t *testing.T) {
	if got := ServerPath("/opt/build/bin/csc", "buildserver"); got != serverPath {
		t.Fatalf("unexpected server path %q", got)
	}
}

func TestSamePath(t *testing.T) {
	if !SamePath("/opt/Build/bin/../bin/BuildServer", serverPath) {
		t.Error("expect case-insensitive match after cleaning")
	}
	if SamePath("/opt/build/bin/buildserver2", serverPath) {
		t.Error("different file names must not match")
	}
}

func TestDiscoverFiltersPathAndIdentity(t *testing.T) {
	self := Identity{UID: 1000}
	lister := &fakeLister{procs: []Instance{
		{PID: 10, Exe: "/usr/bin/bash", Identity: self},
		{PID: 11, Exe: serverPath, Identity: Identity{UID: 1001}},                 // other user
		{PID: 12, Exe: serverPath, Identity: Identity{UID: 1000, Elevated: true}}, // elevated
		{PID: 13, Exe: "/OPT/build/bin/buildserver", Identity: self},
		{PID: 14, Exe: "/tmp/buildserver", Identity: self}, // same name, wrong directory
		{PID: 15, Exe: serverPath, Identity: self},
	}}

	instances, err := NewRegistry(lister, self, nil).Discover(context.Background(), serverPath)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(instances) != 2 || instances[0].PID != 13 || instances[1].PID != 15 {
		t.Fatalf("expect pids 13 and 15, got %+v", instances)
	}
}

func TestDiscoverElevatedClientSkipsUnelevatedServer(t *testing.T) {
	self := Identity{UID: 1000, Elevated: true}
	lister := &fakeLister{procs: []Instance{
		{PID: 20, Exe: serverPath, Identity: Identity{UID: 1000}},
	}}

	instances, err := NewRegistry(lister, self, nil).Discover(context.Background(), serverPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 0 {
		t.Fatalf("expect no trusted servers, got %+v", instances)
	}
}

func TestDiscoverEnumerationError(t *testing.T) {
	boom := errors.New("proc unavailable")
	_, err := NewRegistry(&fakeLister{err: boom}, Identity{}, nil).Discover(context.Background(), serverPath)
	if !errors.Is(err, boom) {
		t.Fatalf("expect enumeration error, got %v", err)
	}
}

func TestServerProcessExitCode(t *testing.T) {
	p := NewServerProcess(99)
	if _, exited := p.ExitCode(); exited {
		t.Fatal("new process must not report an exit")
	}
	p.MarkExited(3)
	if code, exited := p.ExitCode(); !exited || code != 3 {
		t.Fatalf("expect exit code 3, got %d/%v", code, exited)
	}
}
