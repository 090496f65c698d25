package registry

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// ServerProcess is a server this client started.
type ServerProcess struct {
	PID int

	mu       sync.Mutex
	exited   bool
	exitCode int
}

// NewServerProcess tracks a started process by pid.
func NewServerProcess(pid int) *ServerProcess {
	return &ServerProcess{PID: pid}
}

// MarkExited records the process exit code.
func (p *ServerProcess) MarkExited(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited, p.exitCode = true, code
}

// ExitCode reports the exit code if the process has already exited.
func (p *ServerProcess) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

// Launcher starts a new server process.
type Launcher interface {
	Launch(ctx context.Context, serverPath string) (*ServerProcess, error)
}

// ExecLauncher starts the server detached from the client: no standard
// streams, its own session, and its own directory as working directory.
type ExecLauncher struct {
	Args []string
	log  *zap.Logger
}

func NewExecLauncher(log *zap.Logger, args ...string) *ExecLauncher {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecLauncher{Args: args, log: log}
}

func (l *ExecLauncher) Launch(ctx context.Context, serverPath string) (*ServerProcess, error) {
	// exec.Command, not CommandContext: the server must outlive this client.
	cmd := exec.Command(serverPath, l.Args...)
	cmd.Dir = filepath.Dir(serverPath)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		l.log.Debug("server launch failed", zap.String("path", serverPath), zap.Error(err))
		return nil, fmt.Errorf("registry: start %s: %w", serverPath, err)
	}

	proc := NewServerProcess(cmd.Process.Pid)
	l.log.Debug("server launched", zap.String("path", serverPath), zap.Int("pid", proc.PID))

	// Reap the child so a crash can be reported with its exit code.
	go func() {
		err := cmd.Wait()
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		proc.MarkExited(code)
		l.log.Debug("server exited", zap.Int("pid", proc.PID), zap.Error(err))
	}()
	return proc, nil
}
