package cli

import (
	"buildpipe/client"
	"buildpipe/cmdline"
	"buildpipe/config"
	"buildpipe/console"
	"buildpipe/errs"
	"buildpipe/logging"
	"buildpipe/message"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// EnvLib is forwarded to the server so the compiler resolves references the
// same way it would in the client's environment.
const EnvLib = "LIB"

var clientNames = map[message.Language]string{
	message.CSharpCompile:      "csc",
	message.VisualBasicCompile: "vbc",
}

// NewClientCommand returns the compiler client command for lang. Every token
// after the program name is a compiler argument, so Cobra does no flag parsing.
func NewClientCommand(lang message.Language) *cobra.Command {
	name := clientNames[lang]
	return &cobra.Command{
		Use:                name + " [options] <source files>",
		Short:              fmt.Sprintf("Compile %s sources on a shared compiler server", lang),
		Version:            Version,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := RunClient(cmd.Context(), lang, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
}

// RunClient compiles args on a server and prints the result. It returns the
// compiler's exit code, or an error when no compilation took place.
func RunClient(ctx context.Context, lang message.Language, args []string, stdout, stderr io.Writer) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return 1, errs.Wrap(errs.ConfigInvalid, "invalid configuration", err)
	}

	log, closeLog, err := logging.New(cfg.Logging.File, cfg.Logging.Level, lang.String())
	if err != nil {
		log, closeLog = zap.NewNop(), func() error { return nil }
	}
	defer closeLog()

	parsed, err := cmdline.Parse(args)
	if err != nil {
		return 1, err
	}

	req, err := buildRequest(lang, parsed)
	if err != nil {
		return 1, err
	}

	exe, err := os.Executable()
	if err != nil {
		return 1, errs.Wrap(errs.ConnectFailed, "cannot locate the client executable", err)
	}
	c, err := client.New(cfg, exe, log)
	if err != nil {
		return 1, err
	}

	resp, err := c.Run(ctx, req)
	if err != nil {
		return 1, err
	}

	w, err := console.NewWriter(stdout, stderr, cfg.Console.Encoding)
	if err != nil {
		return 1, errs.Wrap(errs.ConfigInvalid, "invalid console encoding", err)
	}
	if err := w.Write(resp); err != nil {
		log.Debug("failed to print compiler output", zap.Error(err))
	}
	return int(resp.ExitCode), nil
}

func buildRequest(lang message.Language, parsed cmdline.Parsed) (*message.Request, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "cannot determine the current directory", err)
	}

	var opts []message.RequestOption
	if lib, ok := os.LookupEnv(EnvLib); ok {
		opts = append(opts, message.WithLibEnv(lib))
	}
	if parsed.HasKeepAlive {
		opts = append(opts, message.WithKeepAlive(parsed.KeepAlive))
	}
	return message.NewRequest(lang, cwd, parsed.Args, opts...), nil
}
