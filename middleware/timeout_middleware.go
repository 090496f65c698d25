package middleware

import (
	"buildpipe/message"
	"context"
	"time"
)

// TimeOutMiddleware bounds a compilation. The handler receives the deadline
// through ctx and is expected to kill its compiler process when it passes.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.CompletedResponse {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.CompletedResponse, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return Failure("compilation timed out after " + timeout.String())
			}
		}
	}
}
