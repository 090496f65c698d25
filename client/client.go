// Package client implements the session orchestrator: find or start a
// compiler server, open a channel to it, send one request, decode one response.
//
// Connection policy:
//
//	TryWithLock    take the named lock (degrade to no lock if it cannot be created),
//	               try every trusted running server with the short timeout,
//	               else spawn one and connect with the long timeout
//	TryWithoutLock one unlocked spawn + connect, no further retry
//	Compile        write request, read response
//
// A request that cannot be written is retried once against a freshly
// discovered server; every other failure is terminal.
package client

import (
	"buildpipe/codec"
	"buildpipe/config"
	"buildpipe/errs"
	"buildpipe/message"
	"buildpipe/namedlock"
	"buildpipe/protocol"
	"buildpipe/registry"
	"buildpipe/transport"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Discoverer returns the trusted running servers at a path.
type Discoverer interface {
	Discover(ctx context.Context, serverPath string) ([]registry.Instance, error)
}

// Opener opens a channel to a server by pid within a time budget.
type Opener interface {
	Open(ctx context.Context, pid int, budget time.Duration) (net.Conn, error)
}

// Dependencies are the collaborators a Client drives.
type Dependencies struct {
	Registry  Discoverer
	Launcher  registry.Launcher
	Connector Opener
	Locker    namedlock.Locker
}

// Client runs compilations on a shared server.
type Client struct {
	serverPath      string
	existingTimeout time.Duration
	newTimeout      time.Duration
	deps            Dependencies
	log             *zap.Logger
}

// NewClient creates a client for the server at serverPath.
func NewClient(serverPath string, timeouts config.TimeoutConfig, deps Dependencies, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		serverPath:      serverPath,
		existingTimeout: timeouts.ExistingProcess,
		newTimeout:      timeouts.NewProcess,
		deps:            deps,
		log:             log,
	}
}

// New wires a Client with the real process registry, launcher, socket
// connector and file lock. The server is expected next to clientExe.
func New(cfg *config.Config, clientExe string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	self, err := registry.CurrentIdentity()
	if err != nil {
		return nil, errs.Wrap(errs.IdentityFailed, "cannot determine the identity of the current process", err)
	}
	if err := transport.PrepareDir(cfg.Pipe.Dir); err != nil {
		return nil, errs.Wrap(errs.InsecureChannel, "refusing to use the pipe directory", err)
	}

	deps := Dependencies{
		Registry:  registry.NewRegistry(registry.NewSystemLister(log), self, log),
		Launcher:  registry.NewExecLauncher(log, serverArgs(cfg)...),
		Connector: transport.NewConnector(cfg.Pipe.Dir, cfg.Pipe.BaseName, cfg.Timeouts.RetryInterval, cfg.Timeouts.MinAttempts, log),
		Locker:    namedlock.NewFileLocker(cfg.Pipe.Dir, cfg.Timeouts.RetryInterval, log),
	}
	serverPath := registry.ServerPath(clientExe, cfg.Server.Executable)
	return NewClient(serverPath, cfg.Timeouts, deps, log), nil
}

// serverArgs points a spawned server at the client's configuration file.
func serverArgs(cfg *config.Config) []string {
	if cfg.Source == "" {
		return nil
	}
	return []string{"--config", cfg.Source}
}

// Run sends req to a server and returns its response. Any error is terminal
// for this invocation and carries an errs.Kind. A request that cannot be
// encoded fails before any server is contacted.
func (c *Client) Run(ctx context.Context, req *message.Request) (*message.CompletedResponse, error) {
	payload, err := codec.EncodeRequest(req)
	if err != nil {
		c.log.Info("request cannot be encoded", zap.Error(err))
		return nil, errs.Wrap(errs.InvalidArgument, "cannot encode the compiler request", err)
	}

	resp, err := c.attempt(ctx, req, payload)
	if errs.Is(err, errs.WriteFailed) {
		c.log.Info("request write failed, retrying once with a fresh server", zap.Error(err))
		resp, err = c.attempt(ctx, req, payload)
	}
	if err != nil {
		c.log.Info("compilation failed", zap.String("kind", string(errs.KindOf(err))), zap.Error(err))
		return nil, err
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, req *message.Request, payload []byte) (*message.CompletedResponse, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return c.exchange(conn, req, payload)
}

// connect runs TryWithLock, then TryWithoutLock.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	conn, proc, err := c.tryWithLock(ctx)
	if conn != nil {
		return conn, nil
	}
	c.log.Debug("locked attempt produced no channel, trying without lock", zap.Error(err))

	conn, unlocked, err := c.spawnAndConnect(ctx)
	if conn != nil {
		return conn, nil
	}
	if unlocked != nil {
		proc = unlocked
	}
	return nil, c.connectFailure(proc, err)
}

func (c *Client) tryWithLock(ctx context.Context) (net.Conn, *registry.ServerProcess, error) {
	lock, err := c.deps.Locker.Acquire(ctx, namedlock.Name(c.serverPath), c.newTimeout)
	switch {
	case errors.Is(err, namedlock.ErrTimeout):
		c.log.Debug("timed out waiting for server lock")
		return nil, nil, err
	case err != nil:
		c.log.Debug("cannot create server lock, continuing without it", zap.Error(err))
		lock = nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if lock == nil {
				return
			}
			if err := lock.Release(); err != nil {
				c.log.Debug("failed to release server lock", zap.Error(err))
			}
		})
	}
	defer release()

	instances, err := c.deps.Registry.Discover(ctx, c.serverPath)
	if err != nil {
		c.log.Debug("server discovery failed", zap.Error(err))
	}
	for _, inst := range instances {
		conn, err := c.deps.Connector.Open(ctx, inst.PID, c.existingTimeout)
		if err == nil {
			c.log.Debug("connected to existing server", zap.Int("pid", inst.PID))
			release()
			return conn, nil, nil
		}
		c.log.Debug("existing server did not accept", zap.Int("pid", inst.PID), zap.Error(err))
	}

	conn, proc, err := c.spawnAndConnect(ctx)
	if conn != nil {
		release()
	}
	return conn, proc, err
}

// spawnAndConnect starts a new server and connects with the new-process budget.
func (c *Client) spawnAndConnect(ctx context.Context) (net.Conn, *registry.ServerProcess, error) {
	proc, err := c.deps.Launcher.Launch(ctx, c.serverPath)
	if err != nil {
		c.log.Debug("failed to start server", zap.String("path", c.serverPath), zap.Error(err))
		return nil, nil, err
	}

	conn, err := c.deps.Connector.Open(ctx, proc.PID, c.newTimeout)
	if err != nil {
		c.log.Debug("could not connect to new server", zap.Int("pid", proc.PID), zap.Error(err))
		return nil, proc, err
	}
	c.log.Debug("connected to new server", zap.Int("pid", proc.PID))
	return conn, proc, nil
}

func (c *Client) connectFailure(proc *registry.ServerProcess, cause error) error {
	if proc != nil {
		if code, exited := proc.ExitCode(); exited {
			return errs.Wrap(errs.ServerCrashed,
				fmt.Sprintf("compiler server process %d exited with code %d", proc.PID, code), cause)
		}
	}
	return errs.Wrap(errs.ConnectFailed, "could not connect to the compiler server", cause)
}

func (c *Client) exchange(conn net.Conn, req *message.Request, payload []byte) (*message.CompletedResponse, error) {
	f := protocol.NewFramer(conn, c.log)

	if err := codec.WritePayload(f, payload); err != nil {
		return nil, errs.Wrap(errs.WriteFailed, "failed to send the request to the compiler server", err)
	}

	resp, err := codec.ReadResponse(f)
	if err != nil {
		if errs.Is(err, errs.VersionMismatch) {
			c.log.Error("client and server protocol versions differ; check the installation",
				zap.Int32("client_version", req.ProtocolVersion), zap.String("server", c.serverPath))
		}
		return nil, err
	}
	return resp, nil
}
