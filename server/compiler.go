package server

import (
	"buildpipe/config"
	"buildpipe/message"
	"buildpipe/middleware"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Languages the server knows how to name in configuration.
var Languages = []message.Language{message.CSharpCompile, message.VisualBasicCompile}

// waitDelay bounds how long a killed compiler's children may hold its output open.
const waitDelay = time.Second

// ExecCompiler runs an external compiler command per request.
type ExecCompiler struct {
	command string
	args    []string // Prepended to the request's command line
	log     *zap.Logger
}

// NewExecCompiler creates a compiler that runs command with args followed by
// the client's command-line arguments.
func NewExecCompiler(command string, args []string, log *zap.Logger) *ExecCompiler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecCompiler{command: command, args: args, log: log}
}

// Compile runs the compiler in the request's current directory, with LIB set
// when the client forwarded it, and returns its exit code and captured output.
func (c *ExecCompiler) Compile(ctx context.Context, req *message.Request) *message.CompletedResponse {
	dir, ok := req.Lookup(message.CurrentDirectory)
	if !ok {
		return middleware.Failure("request has no current directory")
	}

	args := append(append([]string{}, c.args...), req.CommandLine()...)
	cmd := exec.CommandContext(ctx, c.command, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	if lib, ok := req.Lookup(message.LibEnvVariable); ok {
		cmd.Env = append(os.Environ(), "LIB="+lib)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log.Debug("running compiler", zap.String("command", c.command), zap.Strings("args", args), zap.String("dir", dir))
	err := cmd.Run()

	resp := &message.CompletedResponse{
		Utf8Output:  req.Utf8Output(),
		Output:      stdout.String(),
		ErrorOutput: stderr.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() != nil:
		resp.ExitCode = 1
		resp.ErrorOutput += fmt.Sprintf("compilation cancelled: %v\n", ctx.Err())
	case errors.As(err, &exitErr):
		resp.ExitCode = int32(exitErr.ExitCode())
	default:
		c.log.Warn("failed to start compiler", zap.String("command", c.command), zap.Error(err))
		return middleware.Failure(fmt.Sprintf("cannot run compiler %s: %v", c.command, err))
	}
	return resp
}

// NewExecCompilers builds one ExecCompiler per configured language. Unknown
// language names are a configuration error.
func NewExecCompilers(compilers map[string]config.CompilerConfig, log *zap.Logger) (map[message.Language]Compiler, error) {
	byName := make(map[string]message.Language, len(Languages))
	for _, lang := range Languages {
		byName[lang.String()] = lang
	}

	result := make(map[message.Language]Compiler, len(compilers))
	for name, cc := range compilers {
		lang, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("server: unknown language %q in compilers", name)
		}
		if cc.Command == "" {
			return nil, fmt.Errorf("server: empty command for language %q", name)
		}
		result[lang] = NewExecCompiler(cc.Command, cc.Args, log)
	}
	return result, nil
}
