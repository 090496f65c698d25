package middleware

import (
	"buildpipe/message"
	"context"
	"time"

	"go.uber.org/zap"
)

func LoggingMiddleware(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.CompletedResponse {
			start := time.Now()
			dir, _ := req.Lookup(message.CurrentDirectory)
			log.Info("compilation started",
				zap.Stringer("language", req.Language),
				zap.String("dir", dir),
				zap.Int("args", len(req.CommandLine())))

			resp := next(ctx, req)

			fields := []zap.Field{
				zap.Stringer("language", req.Language),
				zap.Int32("exit_code", resp.ExitCode),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.ExitCode != 0 {
				log.Warn("compilation failed", fields...)
			} else {
				log.Info("compilation finished", fields...)
			}
			return resp
		}
	}
}
