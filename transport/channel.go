// Package transport owns the connection to a peer: an abstract bidirectional
// message channel plus the Transport lifecycle around it (connect/disconnect,
// keep-alive, bounded reconnection, inbound broadcast).
//
// The Channel interface is the seam to the networking collaborator: anything
// that can move whole messages in both directions can carry this system. The
// default implementation is a TCP connection with the package protocol's
// framing.
package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"muxrpc/message"
	"muxrpc/protocol"
)

// Channel is one established bidirectional message pipe.
//
// Send and Close may be called from any goroutine. Receive must be called
// from a single goroutine; the Transport's read loop is that goroutine.
type Channel interface {
	// Send writes one message, preserving call order.
	Send(m *message.Message) error
	// Receive blocks for the next inbound message. Returns an error on
	// channel loss; never recovers after that.
	Receive() (*message.Message, error)
	// Ping probes peer liveness and waits for the acknowledgment.
	// Requires Receive to be pumped concurrently, since the ack arrives
	// on the read path.
	Ping(ctx context.Context) error
	// Close tears the channel down. Safe to call repeatedly.
	Close() error
}

// Dialer establishes a fresh Channel. The Transport calls it on every
// connect and reconnect attempt.
type Dialer func(ctx context.Context) (Channel, error)

// TCPDialer returns a Dialer producing frame-protocol channels over TCP.
func TCPDialer(addr string) Dialer {
	return func(ctx context.Context) (Channel, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return NewTCPChannel(conn), nil
	}
}

// TCPChannel carries messages over one net.Conn using the binary frame
// protocol. Ping/pong frames are handled inside Receive and never surface
// to the caller.
type TCPChannel struct {
	conn    net.Conn
	writeMu sync.Mutex // Frames from concurrent senders must not interleave
	pongCh  chan struct{}
	closed  atomic.Bool
}

// NewTCPChannel wraps an established connection. The server side uses this
// directly on accepted connections.
func NewTCPChannel(conn net.Conn) *TCPChannel {
	return &TCPChannel{
		conn:   conn,
		pongCh: make(chan struct{}, 1),
	}
}

func (c *TCPChannel) Send(m *message.Message) error {
	body, err := message.Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.Encode(c.conn, protocol.FrameData, body)
}

// Receive reads frames until a data frame arrives. Inbound pings are answered
// with pongs; inbound pongs wake a waiting Ping call.
func (c *TCPChannel) Receive() (*message.Message, error) {
	for {
		ft, body, err := protocol.Decode(c.conn)
		if err != nil {
			return nil, err
		}
		switch ft {
		case protocol.FramePing:
			c.writeMu.Lock()
			err := protocol.Encode(c.conn, protocol.FramePong, nil)
			c.writeMu.Unlock()
			if err != nil {
				return nil, err
			}
		case protocol.FramePong:
			select {
			case c.pongCh <- struct{}{}:
			default:
			}
		case protocol.FrameData:
			return message.Decode(body)
		}
	}
}

// Ping sends a probe frame and waits for the pong routed through Receive.
func (c *TCPChannel) Ping(ctx context.Context) error {
	// Drain a stale pong so we only accept an ack for this probe.
	select {
	case <-c.pongCh:
	default:
	}

	c.writeMu.Lock()
	err := protocol.Encode(c.conn, protocol.FramePing, nil)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-c.pongCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *TCPChannel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
