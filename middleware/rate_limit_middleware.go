package middleware

import (
	"buildpipe/message"
	"context"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件.
// Rejected compilations fail with exit code 1 rather than queueing.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.CompletedResponse {
			if !limiter.Allow() {
				return Failure("compiler server is busy: rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
