package client

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"muxrpc/rpcerror"
)

// pendingStream is the multiplexer's bookkeeping for one open stream. The
// dispatch loop pushes into an unbounded queue so it never blocks on a slow
// consumer; Recv drains the queue at the consumer's pace.
type pendingStream struct {
	id        string
	createdAt time.Time
	mux       *Mux

	mu     sync.Mutex
	buf    []json.RawMessage
	done   bool
	err    error
	notify chan struct{} // single-consumer wake signal, capacity 1
}

func newPendingStream(id string, m *Mux) *pendingStream {
	return &pendingStream{
		id:        id,
		createdAt: time.Now(),
		mux:       m,
		notify:    make(chan struct{}, 1),
	}
}

func (p *pendingStream) push(data json.RawMessage) {
	p.mu.Lock()
	if !p.done {
		p.buf = append(p.buf, data)
	}
	p.mu.Unlock()
	p.wake()
}

// finish records the terminal outcome. Only the first terminal wins; data
// already buffered stays readable before a graceful end.
func (p *pendingStream) finish(err error) {
	p.mu.Lock()
	if !p.done {
		p.done = true
		p.err = err
	}
	p.mu.Unlock()
	p.wake()
}

func (p *pendingStream) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Stream is the lazy, single-consumer view of a server stream. Values are
// produced by Recv in the order the server sent them.
type Stream struct {
	ctx       context.Context
	p         *pendingStream
	closeOnce sync.Once
}

// Recv returns the next stream value. It suspends while the stream is open
// and empty, returns io.EOF after a graceful end, and returns the terminal
// error after an abnormal end. Cancelling ctx closes the stream.
func (s *Stream) Recv() (json.RawMessage, error) {
	for {
		s.p.mu.Lock()
		if len(s.p.buf) > 0 {
			v := s.p.buf[0]
			s.p.buf = s.p.buf[1:]
			s.p.mu.Unlock()
			return v, nil
		}
		if s.p.done {
			err := s.p.err
			s.p.mu.Unlock()
			if err == nil {
				return nil, io.EOF
			}
			return nil, err
		}
		s.p.mu.Unlock()

		select {
		case <-s.p.notify:
		case <-s.ctx.Done():
			s.Close()
			return nil, s.ctx.Err()
		}
	}
}

// RecvValue decodes the next stream value into v with the Mux's codec.
func (s *Stream) RecvValue(v any) error {
	data, err := s.Recv()
	if err != nil {
		return err
	}
	if err := s.p.mux.codec.Decode(data, v); err != nil {
		return rpcerror.Errorf(rpcerror.CodeSerializationError, "decode stream value: %v", err)
	}
	return nil
}

// Close cancels the stream locally: the pending entry is removed and any
// late data for this streamId is discarded at the dispatch loop. No cancel
// message goes upstream. Idempotent and non-blocking.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.p.mux.removeStream(s.p.id)
		s.p.finish(rpcerror.ErrStreamClosed)
	})
	return nil
}
