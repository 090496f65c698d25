package cli

import (
	"buildpipe/config"
	"buildpipe/errs"
	"buildpipe/logging"
	"buildpipe/middleware"
	"buildpipe/server"
	"buildpipe/transport"
	"context"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// shutdownGrace bounds the wait for in-flight compilations on exit.
const shutdownGrace = 30 * time.Second

// NewServerCommand returns the compiler server command. Clients start it
// detached; it can also be run by hand with an explicit keep-alive.
func NewServerCommand() *cobra.Command {
	var (
		configFile string
		keepAlive  time.Duration
	)

	cmd := &cobra.Command{
		Use:           "buildserver",
		Short:         "Shared compiler server for csc and vbc clients",
		Version:       Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				configFile = os.Getenv(config.EnvConfig)
			}
			cfg, err := config.Load(configFile)
			if err != nil {
				return errs.Wrap(errs.ConfigInvalid, "invalid configuration", err)
			}
			if cmd.Flags().Changed("keep-alive") {
				cfg.Server.IdleTimeout = keepAlive
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return RunServer(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "YAML configuration file (default $"+config.EnvConfig+")")
	cmd.Flags().DurationVar(&keepAlive, "keep-alive", 0, "idle period before the server exits; negative keeps it running")
	return cmd
}

// RunServer serves compilations on this process's address until ctx is done
// or the server has been idle for its keep-alive period.
func RunServer(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log, closeLog, err := logging.New(cfg.Logging.File, cfg.Logging.Level, "server")
	if err != nil {
		log, closeLog = zap.NewNop(), func() error { return nil }
	}
	defer closeLog()

	compilers, err := server.NewExecCompilers(cfg.Server.Compilers, log)
	if err != nil {
		return errs.Wrap(errs.ConfigInvalid, "invalid compiler configuration", err)
	}

	svr := server.NewServer(cfg.Server.IdleTimeout, log)
	for lang, c := range compilers {
		svr.Register(lang, c)
	}
	svr.Use(middleware.LoggingMiddleware(log))
	if r := cfg.Server.MaxRequestsPerSecond; r > 0 {
		svr.Use(middleware.RateLimitMiddleware(r, int(math.Ceil(r))))
	}
	if cfg.Server.CompileTimeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.Server.CompileTimeout))
	}

	if err := transport.PrepareDir(cfg.Pipe.Dir); err != nil {
		return errs.Wrap(errs.InsecureChannel, "refusing to use the pipe directory", err)
	}
	address := transport.Address(cfg.Pipe.Dir, cfg.Pipe.BaseName, os.Getpid())

	serveErr := svr.Serve(ctx, address)
	if err := svr.Shutdown(shutdownGrace); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
	if serveErr != nil {
		log.Error("compiler server stopped", zap.Error(serveErr))
		return serveErr
	}
	log.Info("compiler server stopped")
	return nil
}
