// Package middleware wraps the server's compile handler with cross-cutting
// behavior. A middleware never fails the connection: every outcome is a
// CompletedResponse the client can print.
package middleware

import (
	"buildpipe/message"
	"context"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.CompletedResponse

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Failure is the response for a compilation the server refused or abandoned.
func Failure(msg string) *message.CompletedResponse {
	return &message.CompletedResponse{
		ExitCode:    1,
		ErrorOutput: msg + "\n",
	}
}
