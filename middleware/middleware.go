// Package middleware provides the dispatcher-side interception chain.
// A HandlerFunc consumes an inbound Request message and produces its
// terminal Response or Error message.
package middleware

import (
	"context"

	"muxrpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Message) *message.Message

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one. Chain(A, B, C)(h) wraps as A(B(C(h))):
// A sees the request first and the response last.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
