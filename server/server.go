package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"muxrpc/message"
	"muxrpc/naming"
	"muxrpc/protocol"
)

// Server accepts connections and feeds their traffic to a Dispatcher.
// Each connection has a single reading goroutine (frame boundaries require
// sequential reads) and one goroutine per request or stream, all sharing a
// per-connection write mutex so response frames never interleave.
type Server struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
	listener   net.Listener
	wg         sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown   atomic.Bool    // Set during shutdown to suppress Accept errors

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	store       *naming.Store // optional mapping publication
	mappingName string
	mappingTTL  int64
}

// NewServer wraps a dispatcher.
func NewServer(d *Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		dispatcher: d,
		logger:     logger.With("component", "server"),
		conns:      make(map[net.Conn]struct{}),
	}
}

// PublishMapping makes Serve publish the dispatcher's exported name mapping
// to the store under the given name, so independently built clients can load
// the exact identifiers this server generated.
func (svr *Server) PublishMapping(store *naming.Store, name string, ttl int64) {
	svr.store = store
	svr.mappingName = name
	svr.mappingTTL = ttl
}

// Serve listens on the given address and enters the accept loop. It returns
// nil after Shutdown, or the accept error otherwise.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	svr.listener = listener

	if svr.store != nil && svr.dispatcher.names != nil {
		doc := svr.dispatcher.names.Export()
		if err := svr.store.Publish(context.Background(), svr.mappingName, doc, svr.mappingTTL); err != nil {
			svr.logger.Warn("failed to publish name mapping", "error", err)
		}
	}

	svr.logger.Info("serving", "address", listener.Addr().String())
	for {
		conn, err := listener.Accept()
		if err != nil {
			// During shutdown, listener.Close() makes Accept fail; the flag
			// distinguishes intentional close from a real error.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the bound listen address, once serving.
func (svr *Server) Addr() net.Addr {
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// handleConn reads frames sequentially and dispatches each request or stream
// to its own goroutine. writeMu is shared by every writer on this connection.
func (svr *Server) handleConn(conn net.Conn) {
	svr.connMu.Lock()
	svr.conns[conn] = struct{}{}
	svr.connMu.Unlock()
	defer func() {
		svr.connMu.Lock()
		delete(svr.conns, conn)
		svr.connMu.Unlock()
		conn.Close()
	}()

	writeMu := &sync.Mutex{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel() // stops in-flight stream handlers when the conn drops

	for {
		ft, body, err := protocol.Decode(conn)
		if err != nil {
			return // Connection closed or protocol error
		}

		switch ft {
		case protocol.FramePing:
			writeMu.Lock()
			err = protocol.Encode(conn, protocol.FramePong, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
			continue
		case protocol.FramePong:
			continue
		}

		msg, err := message.Decode(body)
		if err != nil {
			svr.logger.Warn("dropping undecodable message", "error", err)
			continue
		}

		switch msg.Type {
		case message.TypeRequest:
			// Parallel processing: a slow handler must not block later
			// requests on the same connection.
			go svr.handleRequest(ctx, msg, conn, writeMu)
		case message.TypeStreamStart:
			go svr.handleStream(ctx, msg, conn, writeMu)
		default:
			svr.logger.Warn("unexpected inbound message type", "type", string(msg.Type), "messageId", msg.ID)
		}
	}
}

func (svr *Server) writeMessage(conn net.Conn, writeMu *sync.Mutex, m *message.Message) error {
	body, err := message.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	return protocol.Encode(conn, protocol.FrameData, body)
}

func (svr *Server) handleRequest(ctx context.Context, req *message.Message, conn net.Conn, writeMu *sync.Mutex) {
	svr.wg.Add(1)
	defer svr.wg.Done()

	resp := svr.dispatcher.Dispatch(ctx, req)
	if err := svr.writeMessage(conn, writeMu, resp); err != nil {
		svr.logger.Warn("failed to write response", "messageId", req.ID, "error", err)
	}
}

func (svr *Server) handleStream(ctx context.Context, start *message.Message, conn net.Conn, writeMu *sync.Mutex) {
	svr.wg.Add(1)
	defer svr.wg.Done()

	svr.dispatcher.DispatchStream(ctx, start, func(m *message.Message) error {
		return svr.writeMessage(conn, writeMu, m)
	})
}

// Shutdown closes the listener, waits for in-flight requests and streams to
// finish up to the timeout, then force-closes whatever connections remain.
func (svr *Server) Shutdown(timeout time.Duration) error {
	// Set the flag before closing, so the Accept error is recognized as
	// intentional.
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for in-flight requests to finish")
	}

	svr.connMu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.connMu.Unlock()
	return err
}
