package middleware

import (
	"context"
	"time"

	"muxrpc/message"
	"muxrpc/rpcerror"
)

// Timeout bounds handler execution. The handler goroutine keeps running
// after the deadline, but its result is discarded and the caller gets a
// TimeoutError.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Message, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.NewError(req.ID, rpcerror.CodeTimeoutError, "request timed out", nil)
			}
		}
	}
}
