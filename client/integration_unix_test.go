//go:build unix

package client

import (
	"buildpipe/message"
	"buildpipe/middleware"
	"buildpipe/namedlock"
	"buildpipe/registry"
	"buildpipe/server"
	"buildpipe/transport"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

const baseName = "bp-"

type upperCompiler struct{}

func (upperCompiler) Compile(ctx context.Context, req *message.Request) *message.CompletedResponse {
	return &message.CompletedResponse{
		ExitCode:   0,
		Utf8Output: req.Utf8Output(),
		Output:     strings.ToUpper(strings.Join(req.CommandLine(), " ")),
	}
}

// inProcessLauncher starts a real server in this process, so its pid is ours.
type inProcessLauncher struct {
	t    *testing.T
	dir  string
	pid  int
	mu   sync.Mutex
	runs int
}

func (l *inProcessLauncher) Launch(ctx context.Context, path string) (*registry.ServerProcess, error) {
	l.mu.Lock()
	l.runs++
	l.mu.Unlock()

	svr := server.NewServer(-1, nil)
	svr.Register(message.CSharpCompile, upperCompiler{})
	svr.Use(middleware.LoggingMiddleware(nil))

	address := transport.Address(l.dir, baseName, l.pid)
	go func() {
		// Listen late so the connector has to retry "not found".
		time.Sleep(150 * time.Millisecond)
		svr.Serve(context.Background(), address)
	}()
	l.t.Cleanup(func() { svr.Shutdown(time.Second) })
	return registry.NewServerProcess(l.pid), nil
}

func TestIntegrationSpawnThenReuse(t *testing.T) {
	dir := t.TempDir()
	launcher := &inProcessLauncher{t: t, dir: dir, pid: os.Getpid()}
	disc := &fakeDiscoverer{}

	c := NewClient(testServerPath, testTimeouts, Dependencies{
		Registry:  disc,
		Launcher:  launcher,
		Connector: transport.NewConnector(dir, baseName, 20*time.Millisecond, 3, nil),
		Locker:    namedlock.NewFileLocker(dir, 10*time.Millisecond, nil),
	}, nil)

	req := message.NewRequest(message.CSharpCompile, dir, []string{"/utf8output", "a.cs"})
	resp, err := c.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("first compilation: %v", err)
	}
	if resp.Output != "/UTF8OUTPUT A.CS" || !resp.Utf8Output {
		t.Fatalf("unexpected response %+v", resp)
	}

	// The spawned server is now discoverable and must be reused.
	disc.instances = []registry.Instance{{PID: os.Getpid(), Exe: testServerPath}}
	if _, err := c.Run(context.Background(), req); err != nil {
		t.Fatalf("second compilation: %v", err)
	}
	if launcher.runs != 1 {
		t.Fatalf("expect the running server to be reused, got %d launches", launcher.runs)
	}
}

func TestIntegrationNoServer(t *testing.T) {
	dir := t.TempDir()
	c := NewClient(testServerPath, testTimeouts, Dependencies{
		Registry:  &fakeDiscoverer{},
		Launcher:  &fakeLauncher{nextPID: 9000},
		Connector: transport.NewConnector(dir, baseName, 10*time.Millisecond, 3, nil),
		Locker:    namedlock.NewFileLocker(dir, 10*time.Millisecond, nil),
	}, nil)
	c.newTimeout = 100 * time.Millisecond

	_, err := c.Run(context.Background(), testRequest())
	if err == nil || !strings.Contains(err.Error(), "could not connect") {
		t.Fatalf("expect connect failure, got %v", err)
	}
}
