// Package server implements the server side of muxrpc: the Dispatcher
// resolving incoming wire identifiers to handlers, and the Server driving it
// over accepted TCP connections.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → per request: go handleRequest (parallel processing)
//	    → Dispatcher.Dispatch → middleware chain → handler → write response
//	  → per stream start: go handleStream
//	    → Dispatcher.DispatchStream → handler emits → StreamData… → StreamEnd|StreamError
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"muxrpc/message"
	"muxrpc/middleware"
	"muxrpc/naming"
	"muxrpc/rpcerror"
)

// Handler serves one unary method: ordered opaque parameters in, one opaque
// result out. A nil result denotes a void return.
type Handler func(ctx context.Context, params []json.RawMessage) (json.RawMessage, error)

// StreamHandler serves one streaming method. It emits values through send,
// in order; returning nil ends the stream gracefully, returning an error
// ends it with a StreamError. send fails once the stream is terminated or
// the connection is gone, at which point the handler should return.
type StreamHandler func(ctx context.Context, params []json.RawMessage, send func(data json.RawMessage) error) error

// Dispatcher maintains the handler table. It is the collaborator surface a
// stub generator populates; handlers are registered under semantic names and
// resolved from wire identifiers through the naming registry, falling back
// to the literal "Service.Method" form for unmapped identifiers.
type Dispatcher struct {
	names  *naming.Registry
	logger *slog.Logger

	mu             sync.RWMutex
	handlers       map[string]Handler
	streamHandlers map[string]StreamHandler
	services       map[string]bool

	middlewares []middleware.Middleware
	chain       middleware.HandlerFunc
}

// NewDispatcher builds a dispatcher. A nil registry disables mapping:
// wire identifiers are the literal semantic names.
func NewDispatcher(names *naming.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		names:          names,
		logger:         logger.With("component", "dispatcher"),
		handlers:       make(map[string]Handler),
		streamHandlers: make(map[string]StreamHandler),
		services:       make(map[string]bool),
	}
	d.chain = d.handleRequest
	return d
}

// Use appends a middleware to the unary chain, applied in registration order.
func (d *Dispatcher) Use(mw middleware.Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, mw)
	d.chain = middleware.Chain(d.middlewares...)(d.handleRequest)
}

// Register binds a unary handler to (service, method) and, when mapping is
// enabled, registers the pair in the naming registry.
func (d *Dispatcher) Register(service, method string, h Handler) error {
	if err := d.registerName(service, method); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[naming.FallbackID(service, method)] = h
	d.services[service] = true
	return nil
}

// RegisterStream binds a streaming handler to (service, method).
func (d *Dispatcher) RegisterStream(service, method string, h StreamHandler) error {
	if err := d.registerName(service, method); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streamHandlers[naming.FallbackID(service, method)] = h
	d.services[service] = true
	return nil
}

func (d *Dispatcher) registerName(service, method string) error {
	if d.names == nil {
		return nil
	}
	_, err := d.names.Register(service, method)
	return err
}

// resolveKey maps an incoming wire identifier to the handler-table key:
// the semantic "Service.Method" name when the registry knows the id, the
// literal identifier otherwise.
func (d *Dispatcher) resolveKey(wireID string) string {
	if d.names != nil {
		if service, method, ok := d.names.ResolveName(wireID); ok {
			return naming.FallbackID(service, method)
		}
	}
	return wireID
}

// Dispatch routes one Request through the middleware chain to its handler
// and returns the terminal Response or Error, always correlated by the
// request's messageId. It never panics: handler panics become InternalError.
func (d *Dispatcher) Dispatch(ctx context.Context, req *message.Message) *message.Message {
	d.mu.RLock()
	chain := d.chain
	d.mu.RUnlock()
	return chain(ctx, req)
}

// handleRequest is the innermost HandlerFunc wrapped by the middleware chain.
func (d *Dispatcher) handleRequest(ctx context.Context, req *message.Message) (resp *message.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic", "methodId", req.Method, "panic", r)
			resp = message.NewError(req.ID, rpcerror.CodeInternalError, "internal server error", nil)
		}
	}()

	key := d.resolveKey(req.Method)

	d.mu.RLock()
	h, ok := d.handlers[key]
	d.mu.RUnlock()
	if !ok {
		return message.NewError(req.ID, d.notFoundCode(key), fmt.Sprintf("no handler for %q", key), nil)
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		return errorMessage(req.ID, err)
	}
	return message.NewResponse(req.ID, result)
}

// DispatchStream drives one stream: handler values become StreamData in
// production order, then exactly one terminal StreamEnd or StreamError.
// Emission stops immediately after the terminal message, and stops early
// when send reports the connection gone.
func (d *Dispatcher) DispatchStream(ctx context.Context, start *message.Message, send func(*message.Message) error) {
	key := d.resolveKey(start.Method)

	d.mu.RLock()
	h, ok := d.streamHandlers[key]
	d.mu.RUnlock()
	if !ok {
		err := message.NewStreamError(start.StreamID, d.notFoundCode(key), fmt.Sprintf("no stream handler for %q", key), nil)
		if sendErr := send(err); sendErr != nil {
			d.logger.Warn("failed to send stream error", "streamId", start.StreamID, "error", sendErr)
		}
		return
	}

	em := &emitter{streamID: start.StreamID, send: send}

	var handlerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("stream handler panic", "methodId", start.Method, "panic", r)
				handlerErr = rpcerror.New(rpcerror.CodeInternalError, "internal server error")
			}
		}()
		handlerErr = h(ctx, start.Params, em.emit)
	}()

	em.terminate(handlerErr)
}

// emitter serializes a stream's emission and enforces the single-terminal
// invariant. Once terminated (or once the connection write fails) every
// further emit is refused.
type emitter struct {
	streamID string
	send     func(*message.Message) error

	mu     sync.Mutex
	closed bool
}

func (e *emitter) emit(data json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return rpcerror.ErrStreamClosed
	}
	if err := e.send(message.NewStreamData(e.streamID, data)); err != nil {
		// Connection observed gone mid-stream: stop and release.
		e.closed = true
		return fmt.Errorf("emit stream data: %v: %w", err, rpcerror.ErrConnectionLost)
	}
	return nil
}

func (e *emitter) terminate(handlerErr error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true

	var terminal *message.Message
	if handlerErr != nil {
		terminal = streamErrorMessage(e.streamID, handlerErr)
	} else {
		terminal = message.NewStreamEnd(e.streamID)
	}
	// Terminal delivery is best-effort: if the connection is gone the
	// client's transport fails the stream on its own.
	_ = e.send(terminal)
}

// notFoundCode distinguishes an unknown service from an unknown method on a
// known service.
func (d *Dispatcher) notFoundCode(key string) rpcerror.Code {
	service, _, found := strings.Cut(key, ".")
	if !found {
		return rpcerror.CodeMethodNotFound
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.services[service] {
		return rpcerror.CodeServiceNotFound
	}
	return rpcerror.CodeMethodNotFound
}

// errorMessage converts a handler failure to the terminal wire Error,
// mapping unclassified errors to InternalError.
func errorMessage(id string, err error) *message.Message {
	return message.NewError(id, rpcerror.CodeOf(err), err.Error(), errorDetails(err))
}

func streamErrorMessage(streamID string, err error) *message.Message {
	return message.NewStreamError(streamID, rpcerror.CodeOf(err), err.Error(), errorDetails(err))
}

func errorDetails(err error) json.RawMessage {
	var re *rpcerror.Error
	if errors.As(err, &re) {
		return re.Details
	}
	return nil
}
