// Package client implements the call/stream multiplexer: many concurrent
// calls and streams share one Transport, correlated by messageId and
// streamId.
//
// The key structure: each in-flight call or stream has a pending entry keyed
// by its correlation id. One dispatch goroutine consumes the Transport
// subscription and completes or feeds the matching entry; callers suspend on
// their own entry, never on each other.
//
//	goroutine-1 ──Call(id=a)──┐
//	goroutine-2 ──Call(id=b)──┼──→ one Transport ──→ Server
//	goroutine-3 ─Stream(id=s)─┘
//
//	dispatch:  ←── response(id=b) → calls[b].done ← outcome → goroutine-2 wakes up
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"muxrpc/codec"
	"muxrpc/message"
	"muxrpc/naming"
	"muxrpc/rpcerror"
	"muxrpc/transport"
)

// Mux multiplexes calls and streams over a single Transport.
type Mux struct {
	transport *transport.Transport
	names     *naming.Registry
	codec     codec.Codec
	logger    *slog.Logger

	// One mutex guards both pending tables; the dispatch goroutine and every
	// call-initiating goroutine insert and remove through it.
	mu      sync.Mutex
	calls   map[string]*pendingCall
	streams map[string]*pendingStream
	closed  bool

	sub *transport.Subscription
}

// pendingCall is the bookkeeping for one in-flight call. The dispatch loop
// completes it by sending exactly one outcome on done.
type pendingCall struct {
	id        string
	createdAt time.Time
	done      chan callOutcome // buffered, never blocks the dispatch loop
}

type callOutcome struct {
	result json.RawMessage
	err    error
}

// Option configures a Mux.
type Option func(*Mux)

// WithCodec overrides the payload codec (JSON by default).
func WithCodec(c codec.Codec) Option {
	return func(m *Mux) { m.codec = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mux) { m.logger = l }
}

// NewMux wires a multiplexer to a Transport and a name registry. A nil
// registry disables mapping: semantic names go on the wire verbatim.
// The Mux subscribes to the Transport immediately and starts its dispatch
// loop; it also registers a disconnect hook so every pending entry fails
// the instant the connection is lost.
func NewMux(t *transport.Transport, names *naming.Registry, opts ...Option) *Mux {
	m := &Mux{
		transport: t,
		names:     names,
		codec:     &codec.JSONCodec{},
		logger:    slog.Default(),
		calls:     make(map[string]*pendingCall),
		streams:   make(map[string]*pendingStream),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "mux")

	m.sub = t.Subscribe()
	t.NotifyDisconnect(m.failAllPending)
	go m.dispatchLoop()
	return m
}

// resolve maps a semantic name to its wire identifier, falling back to the
// literal "Service.Method" form when no mapping exists.
func (m *Mux) resolve(service, method string) (string, string) {
	if m.names != nil {
		if id, ok := m.names.ResolveID(service, method); ok {
			return service, id
		}
	}
	return service, naming.FallbackID(service, method)
}

// Call invokes a unary method and suspends until the matching Response or
// Error arrives, the timeout elapses, or ctx is cancelled — exactly one
// outcome. A timeout of zero means ctx alone bounds the call.
func (m *Mux) Call(ctx context.Context, service, method string, params []json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	svc, wireID := m.resolve(service, method)
	req := message.NewRequest(svc, wireID, params, false)

	pc := &pendingCall{
		id:        req.ID,
		createdAt: time.Now(),
		done:      make(chan callOutcome, 1),
	}

	// Register before sending so a fast response cannot race the entry.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, rpcerror.ErrTransportClosed
	}
	m.calls[req.ID] = pc
	m.mu.Unlock()

	if err := m.transport.Send(req); err != nil {
		m.removeCall(req.ID)
		return nil, err
	}

	select {
	case out := <-pc.done:
		return out.result, out.err
	case <-ctx.Done():
		// Remove the entry first; a late match after removal is discarded
		// by the dispatch loop.
		m.removeCall(req.ID)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("call %s.%s: %w", service, method, rpcerror.ErrTimeout)
		}
		return nil, ctx.Err()
	}
}

// CallValue is Call with codec-encoded arguments and a decoded reply.
func (m *Mux) CallValue(ctx context.Context, service, method string, args []any, reply any, timeout time.Duration) error {
	params, err := codec.EncodeAll(m.codec, args...)
	if err != nil {
		return rpcerror.Errorf(rpcerror.CodeSerializationError, "encode parameters: %v", err)
	}
	result, err := m.Call(ctx, service, method, params, timeout)
	if err != nil {
		return err
	}
	if reply == nil || result == nil {
		return nil
	}
	if err := m.codec.Decode(result, reply); err != nil {
		return rpcerror.Errorf(rpcerror.CodeSerializationError, "decode result: %v", err)
	}
	return nil
}

// Stream invokes a streaming method and returns the lazy single-consumer
// result sequence. Values arrive as the server produces them; the stream
// terminates exactly once, matching the server's terminal message, or when
// the consumer cancels.
func (m *Mux) Stream(ctx context.Context, service, method string, params []json.RawMessage) (*Stream, error) {
	svc, wireID := m.resolve(service, method)
	streamID := message.NewID()
	start := message.NewStreamStart(streamID, svc, wireID, params)

	ps := newPendingStream(streamID, m)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, rpcerror.ErrTransportClosed
	}
	m.streams[streamID] = ps
	m.mu.Unlock()

	if err := m.transport.Send(start); err != nil {
		m.removeStream(streamID)
		return nil, err
	}

	return &Stream{ctx: ctx, p: ps}, nil
}

// dispatchLoop is the single consumer of the Transport subscription. It must
// never block: call outcomes go to buffered channels, stream data into
// unbounded queues. Messages with no pending entry (late responses, data for
// cancelled streams) are discarded here.
func (m *Mux) dispatchLoop() {
	for msg := range m.sub.C {
		if msg.IsStreamMessage() {
			m.dispatchStream(msg)
			continue
		}
		m.dispatchCall(msg)
	}
	// Subscription completed: permanent transport closure.
	m.Close()
}

func (m *Mux) dispatchCall(msg *message.Message) {
	m.mu.Lock()
	pc, ok := m.calls[msg.ID]
	if ok {
		delete(m.calls, msg.ID)
	}
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("discarding message with no pending call", "messageId", msg.ID, "type", string(msg.Type))
		return
	}

	switch msg.Type {
	case message.TypeResponse:
		pc.done <- callOutcome{result: msg.Result}
	case message.TypeError:
		pc.done <- callOutcome{err: msg.Err()}
	default:
		pc.done <- callOutcome{err: rpcerror.Errorf(rpcerror.CodeInternalError,
			"unexpected %s message for call %s", msg.Type, msg.ID)}
	}
}

func (m *Mux) dispatchStream(msg *message.Message) {
	m.mu.Lock()
	ps, ok := m.streams[msg.StreamID]
	terminal := msg.IsTerminal()
	if ok && terminal {
		delete(m.streams, msg.StreamID)
	}
	m.mu.Unlock()
	if !ok {
		m.logger.Debug("discarding message for unknown stream", "streamId", msg.StreamID, "type", string(msg.Type))
		return
	}

	switch msg.Type {
	case message.TypeStreamData:
		ps.push(msg.Data)
	case message.TypeStreamEnd:
		ps.finish(nil)
	case message.TypeStreamError:
		ps.finish(msg.Err())
	}
}

// failAllPending fails every pending call and stream with a connection
// error. Invoked by the Transport the instant a disconnect is detected.
func (m *Mux) failAllPending(cause error) {
	m.mu.Lock()
	calls := m.calls
	streams := m.streams
	m.calls = make(map[string]*pendingCall)
	m.streams = make(map[string]*pendingStream)
	m.mu.Unlock()

	if len(calls)+len(streams) > 0 {
		m.logger.Warn("failing pending entries on disconnect",
			"calls", len(calls), "streams", len(streams))
	}
	for _, pc := range calls {
		pc.done <- callOutcome{err: cause}
	}
	for _, ps := range streams {
		ps.finish(cause)
	}
}

// Pending reports the number of in-flight calls and streams.
func (m *Mux) Pending() (calls, streams int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls), len(m.streams)
}

// Close fails everything pending and detaches from the Transport. The
// Transport itself is left to its owner.
func (m *Mux) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.failAllPending(rpcerror.ErrTransportClosed)
	m.sub.Cancel()
	return nil
}

func (m *Mux) removeCall(id string) {
	m.mu.Lock()
	delete(m.calls, id)
	m.mu.Unlock()
}

func (m *Mux) removeStream(id string) {
	m.mu.Lock()
	delete(m.streams, id)
	m.mu.Unlock()
}
