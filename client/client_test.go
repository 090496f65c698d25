package client

import (
	"buildpipe/codec"
	"buildpipe/config"
	"buildpipe/errs"
	"buildpipe/message"
	"buildpipe/namedlock"
	"buildpipe/protocol"
	"buildpipe/registry"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

const testServerPath = "/opt/build/bin/buildserver"

var testTimeouts = config.TimeoutConfig{
	ExistingProcess: 2 * time.Second,
	NewProcess:      60 * time.Second,
}

// ---- fakes ----

type fakeLocker struct {
	mu       sync.Mutex
	err      error
	held     bool
	acquires int
	releases int
}

type fakeLock struct{ l *fakeLocker }

func (f fakeLock) Release() error {
	f.l.mu.Lock()
	defer f.l.mu.Unlock()
	f.l.held = false
	f.l.releases++
	return nil
}

func (l *fakeLocker) Acquire(ctx context.Context, name string, timeout time.Duration) (namedlock.Releaser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if l.err != nil {
		return nil, l.err
	}
	l.held = true
	return fakeLock{l}, nil
}

func (l *fakeLocker) isHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

type fakeDiscoverer struct {
	instances []registry.Instance
	calls     int
}

func (d *fakeDiscoverer) Discover(context.Context, string) ([]registry.Instance, error) {
	d.calls++
	return d.instances, nil
}

type fakeLauncher struct {
	nextPID  int
	err      error
	exitCode *int
	launches int
}

func (l *fakeLauncher) Launch(context.Context, string) (*registry.ServerProcess, error) {
	l.launches++
	if l.err != nil {
		return nil, l.err
	}
	proc := registry.NewServerProcess(l.nextPID)
	if l.exitCode != nil {
		proc.MarkExited(*l.exitCode)
	}
	l.nextPID++
	return proc, nil
}

// serveFunc plays the server end of one connection.
type serveFunc func(conn net.Conn)

type fakeConnector struct {
	mu      sync.Mutex
	servers map[int][]serveFunc // consumed one per Open
	opened  []int
	budgets []time.Duration
}

func (c *fakeConnector) Open(ctx context.Context, pid int, budget time.Duration) (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = append(c.opened, pid)
	c.budgets = append(c.budgets, budget)

	queue := c.servers[pid]
	if len(queue) == 0 {
		return nil, errors.New("pipe not found")
	}
	serve := queue[0]
	c.servers[pid] = queue[1:]

	client, server := net.Pipe()
	go func() {
		defer server.Close()
		serve(server)
	}()
	return client, nil
}

// respond answers one request with a Completed response echoing the command line.
func respond(t *testing.T, check func()) serveFunc {
	return func(conn net.Conn) {
		f := protocol.NewFramer(conn, nil)
		req, err := codec.ReadRequest(f)
		if err != nil {
			t.Errorf("server failed to read request: %v", err)
			return
		}
		if check != nil {
			check()
		}
		codec.WriteResponse(f, &message.CompletedResponse{
			ExitCode:   0,
			Utf8Output: req.Utf8Output(),
			Output:     strings.Join(req.CommandLine(), " "),
		})
	}
}

func mismatch() serveFunc {
	return func(conn net.Conn) {
		f := protocol.NewFramer(conn, nil)
		if _, err := codec.ReadRequest(f); err == nil {
			codec.WriteMismatchedVersion(f)
		}
	}
}

// hangUp closes the channel without reading, so the client's write fails.
func hangUp() serveFunc {
	return func(conn net.Conn) {}
}

type harness struct {
	locker    *fakeLocker
	registry  Discoverer
	launcher  *fakeLauncher
	connector *fakeConnector
}

func newHarness() *harness {
	return &harness{
		locker:    &fakeLocker{},
		registry:  &fakeDiscoverer{},
		launcher:  &fakeLauncher{nextPID: 100},
		connector: &fakeConnector{servers: map[int][]serveFunc{}},
	}
}

func (h *harness) client() *Client {
	return NewClient(testServerPath, testTimeouts, Dependencies{
		Registry:  h.registry,
		Launcher:  h.launcher,
		Connector: h.connector,
		Locker:    h.locker,
	}, nil)
}

func testRequest() *message.Request {
	return message.NewRequest(message.CSharpCompile, "/src", []string{"/utf8output", "hello.cs"})
}

// ---- tests ----

func TestRunUsesExistingServer(t *testing.T) {
	h := newHarness()
	h.registry = &fakeDiscoverer{instances: []registry.Instance{{PID: 5, Exe: testServerPath}}}
	h.connector.servers[5] = []serveFunc{respond(t, func() {
		if h.locker.isHeld() {
			t.Error("lock must be released before the channel is used")
		}
	})}

	resp, err := h.client().Run(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if resp.Output != "/utf8output hello.cs" || !resp.Utf8Output {
		t.Fatalf("unexpected response %+v", resp)
	}
	if h.launcher.launches != 0 {
		t.Errorf("expect no launch, got %d", h.launcher.launches)
	}
	if h.connector.budgets[0] != testTimeouts.ExistingProcess {
		t.Errorf("expect existing-process budget, got %v", h.connector.budgets[0])
	}
	if h.locker.releases != 1 || h.locker.isHeld() {
		t.Errorf("expect exactly one release, got %d (held=%v)", h.locker.releases, h.locker.isHeld())
	}
}

func TestRunTriesServersInOrder(t *testing.T) {
	h := newHarness()
	h.registry = &fakeDiscoverer{instances: []registry.Instance{{PID: 5}, {PID: 6}, {PID: 7}}}
	h.connector.servers[6] = []serveFunc{respond(t, nil)}
	h.connector.servers[7] = []serveFunc{respond(t, nil)}

	if _, err := h.client().Run(context.Background(), testRequest()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := h.connector.opened; len(got) != 2 || got[0] != 5 || got[1] != 6 {
		t.Fatalf("expect attempts on 5 then 6 only, got %v", got)
	}
}

func TestRunRejectsServerOfAnotherUser(t *testing.T) {
	h := newHarness()
	self := registry.Identity{UID: 1000}
	lister := staticLister{
		{PID: 7, Exe: testServerPath, Identity: registry.Identity{UID: 0}},
	}
	h.registry = registry.NewRegistry(lister, self, nil)
	// The foreign server would happily answer; it must never be asked.
	h.connector.servers[7] = []serveFunc{respond(t, nil)}
	h.connector.servers[100] = []serveFunc{respond(t, nil)}

	if _, err := h.client().Run(context.Background(), testRequest()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, pid := range h.connector.opened {
		if pid == 7 {
			t.Fatal("connected to a server owned by another user")
		}
	}
	if h.launcher.launches != 1 {
		t.Errorf("expect a new server to be launched, got %d launches", h.launcher.launches)
	}
}

type staticLister []registry.Instance

func (s staticLister) Processes(context.Context) ([]registry.Instance, error) { return s, nil }

func TestRunSpawnsWhenNoServer(t *testing.T) {
	h := newHarness()
	h.connector.servers[100] = []serveFunc{respond(t, func() {
		if h.locker.isHeld() {
			t.Error("lock must be released once the new server is connected")
		}
	})}

	if _, err := h.client().Run(context.Background(), testRequest()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if h.launcher.launches != 1 {
		t.Fatalf("expect 1 launch, got %d", h.launcher.launches)
	}
	if h.connector.budgets[0] != testTimeouts.NewProcess {
		t.Errorf("expect new-process budget, got %v", h.connector.budgets[0])
	}
}

func TestRunLockTimeoutFallsBackWithoutLock(t *testing.T) {
	h := newHarness()
	h.locker.err = namedlock.ErrTimeout
	disc := &fakeDiscoverer{instances: []registry.Instance{{PID: 5}}}
	h.registry = disc
	h.connector.servers[100] = []serveFunc{respond(t, nil)}

	if _, err := h.client().Run(context.Background(), testRequest()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if disc.calls != 0 {
		t.Errorf("discovery runs only under the lock, got %d calls", disc.calls)
	}
	if h.launcher.launches != 1 {
		t.Errorf("expect one unlocked launch, got %d", h.launcher.launches)
	}
}

func TestRunLockCreationFailureDegrades(t *testing.T) {
	h := newHarness()
	h.locker.err = errors.New("read-only file system")
	h.registry = &fakeDiscoverer{instances: []registry.Instance{{PID: 5}}}
	h.connector.servers[5] = []serveFunc{respond(t, nil)}

	if _, err := h.client().Run(context.Background(), testRequest()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if h.launcher.launches != 0 {
		t.Errorf("expect the existing server to be used, got %d launches", h.launcher.launches)
	}
}

func TestRunConnectFailure(t *testing.T) {
	h := newHarness()

	_, err := h.client().Run(context.Background(), testRequest())
	if errs.KindOf(err) != errs.ConnectFailed {
		t.Fatalf("expect connect failure, got %v", err)
	}
	if h.launcher.launches != 2 {
		t.Errorf("expect a locked and an unlocked launch, got %d", h.launcher.launches)
	}
	if h.locker.isHeld() || h.locker.releases != 1 {
		t.Errorf("lock must be released on failure (releases=%d)", h.locker.releases)
	}
}

func TestRunLaunchFailure(t *testing.T) {
	h := newHarness()
	h.launcher.err = errors.New("exec format error")

	_, err := h.client().Run(context.Background(), testRequest())
	if errs.KindOf(err) != errs.ConnectFailed {
		t.Fatalf("expect connect failure, got %v", err)
	}
	if len(h.connector.opened) != 0 {
		t.Errorf("nothing to connect to, got %v", h.connector.opened)
	}
}

func TestRunServerCrashed(t *testing.T) {
	h := newHarness()
	code := 134
	h.launcher.exitCode = &code

	_, err := h.client().Run(context.Background(), testRequest())
	if errs.KindOf(err) != errs.ServerCrashed {
		t.Fatalf("expect server crashed, got %v", err)
	}
	if !strings.Contains(err.Error(), "134") {
		t.Errorf("expect the exit code in the message, got %q", err)
	}
}

func TestRunVersionMismatchIsTerminal(t *testing.T) {
	h := newHarness()
	h.registry = &fakeDiscoverer{instances: []registry.Instance{{PID: 5}}}
	h.connector.servers[5] = []serveFunc{mismatch(), respond(t, nil)}

	resp, err := h.client().Run(context.Background(), testRequest())
	if resp != nil || errs.KindOf(err) != errs.VersionMismatch {
		t.Fatalf("expect version mismatch, got %+v / %v", resp, err)
	}
	if len(h.connector.opened) != 1 {
		t.Errorf("version mismatch must not be retried, got opens %v", h.connector.opened)
	}
}

func TestRunWriteFailureRetriesOnce(t *testing.T) {
	h := newHarness()
	h.registry = &fakeDiscoverer{instances: []registry.Instance{{PID: 5}}}
	h.connector.servers[5] = []serveFunc{hangUp(), respond(t, nil)}

	if _, err := h.client().Run(context.Background(), testRequest()); err != nil {
		t.Fatalf("expect the retry to succeed, got %v", err)
	}
	if len(h.connector.opened) != 2 {
		t.Errorf("expect 2 connections, got %v", h.connector.opened)
	}
	if h.locker.acquires != 2 || h.locker.isHeld() {
		t.Errorf("each attempt must acquire and release the lock (acquires=%d)", h.locker.acquires)
	}
}

func TestRunWriteFailureTwiceFails(t *testing.T) {
	h := newHarness()
	h.registry = &fakeDiscoverer{instances: []registry.Instance{{PID: 5}}}
	h.connector.servers[5] = []serveFunc{hangUp(), hangUp(), respond(t, nil)}

	_, err := h.client().Run(context.Background(), testRequest())
	if errs.KindOf(err) != errs.WriteFailed {
		t.Fatalf("expect write failure, got %v", err)
	}
	if len(h.connector.opened) != 2 {
		t.Errorf("expect exactly one retry, got opens %v", h.connector.opened)
	}
}

func TestRunUnencodableRequestContactsNoServer(t *testing.T) {
	h := newHarness()
	h.registry = &fakeDiscoverer{instances: []registry.Instance{{PID: 5}}}
	h.connector.servers[5] = []serveFunc{respond(t, nil)}

	req := message.NewRequest(message.CSharpCompile, "/src", []string{"caf\xe9.cs"})
	_, err := h.client().Run(context.Background(), req)
	if errs.KindOf(err) != errs.InvalidArgument {
		t.Fatalf("expect invalid argument, got %v", err)
	}
	if h.locker.acquires != 0 || h.launcher.launches != 0 || len(h.connector.opened) != 0 {
		t.Fatalf("no server may be contacted (acquires=%d launches=%d opens=%v)",
			h.locker.acquires, h.launcher.launches, h.connector.opened)
	}
}
