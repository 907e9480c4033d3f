package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muxrpc/message"
	"muxrpc/rpcerror"
)

// scriptChannel is an in-memory Channel the tests feed directly.
type scriptChannel struct {
	in      chan *message.Message
	out     chan *message.Message
	pingErr atomic.Bool
	closed  chan struct{}
	once    sync.Once
}

func newScriptChannel() *scriptChannel {
	return &scriptChannel{
		in:     make(chan *message.Message, 16),
		out:    make(chan *message.Message, 16),
		closed: make(chan struct{}),
	}
}

func (c *scriptChannel) Send(m *message.Message) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	case c.out <- m:
		return nil
	}
}

func (c *scriptChannel) Receive() (*message.Message, error) {
	select {
	case <-c.closed:
		return nil, io.ErrClosedPipe
	case m, ok := <-c.in:
		if !ok {
			return nil, io.ErrClosedPipe
		}
		return m, nil
	}
}

func (c *scriptChannel) Ping(ctx context.Context) error {
	if c.pingErr.Load() {
		return context.DeadlineExceeded
	}
	return nil
}

func (c *scriptChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func fastConfig() Config {
	return Config{
		DialTimeout:       time.Second,
		KeepAliveInterval: time.Hour, // keep-alive disabled unless a test wants it
		KeepAliveTimeout:  time.Second,
		MaxReconnects:     2,
		ReconnectDelay:    10 * time.Millisecond,
	}
}

func TestConnectLifecycle(t *testing.T) {
	ch := newScriptChannel()
	tr := New(func(ctx context.Context) (Channel, error) { return ch, nil }, fastConfig(), nil)

	assert.Equal(t, StateDisconnected, tr.State())
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, StateConnected, tr.State())

	// Idempotent while connected.
	require.NoError(t, tr.Connect(context.Background()))

	require.NoError(t, tr.Disconnect())
	assert.Equal(t, StateDisconnected, tr.State())
	// Safe to call repeatedly.
	require.NoError(t, tr.Disconnect())

	err := tr.Send(message.NewStreamEnd("s1"))
	assert.ErrorIs(t, err, rpcerror.ErrNotConnected)
}

func TestConnectFailureIsConnectionError(t *testing.T) {
	tr := New(func(ctx context.Context) (Channel, error) {
		return nil, errors.New("peer unreachable")
	}, fastConfig(), nil)

	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, rpcerror.ErrNotConnected)
	assert.Equal(t, StateDisconnected, tr.State())
}

func TestBroadcastFromPointOfSubscription(t *testing.T) {
	ch := newScriptChannel()
	tr := New(func(ctx context.Context) (Channel, error) { return ch, nil }, fastConfig(), nil)
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()

	first := tr.Subscribe()
	defer first.Cancel()

	ch.in <- message.NewStreamEnd("before")
	m := <-first.C
	assert.Equal(t, "before", m.StreamID)

	// A later subscriber does not see replayed history.
	second := tr.Subscribe()
	defer second.Cancel()
	ch.in <- message.NewStreamEnd("after")

	assert.Equal(t, "after", (<-first.C).StreamID)
	assert.Equal(t, "after", (<-second.C).StreamID)
}

func TestDisconnectFailsPendingAndReconnectsUpToLimit(t *testing.T) {
	var dials atomic.Int32
	first := newScriptChannel()
	tr := New(func(ctx context.Context) (Channel, error) {
		if dials.Add(1) == 1 {
			return first, nil
		}
		return nil, errors.New("still down")
	}, fastConfig(), nil)

	notified := make(chan error, 1)
	tr.NotifyDisconnect(func(err error) { notified <- err })

	require.NoError(t, tr.Connect(context.Background()))
	sub := tr.Subscribe()

	// Simulate channel loss.
	close(first.in)

	select {
	case err := <-notified:
		assert.ErrorIs(t, err, rpcerror.ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("disconnect callback never fired")
	}

	// Bounded retries, then permanent failure.
	require.Eventually(t, func() bool { return tr.State() == StateFailed },
		time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), dials.Load()) // 1 connect + MaxReconnects retries

	// Permanent closure completes the broadcast.
	_, open := <-sub.C
	assert.False(t, open)
}

func TestReconnectRestoresConnection(t *testing.T) {
	var dials atomic.Int32
	channels := []*scriptChannel{newScriptChannel(), newScriptChannel()}
	tr := New(func(ctx context.Context) (Channel, error) {
		return channels[dials.Add(1)-1], nil
	}, fastConfig(), nil)

	require.NoError(t, tr.Connect(context.Background()))
	sub := tr.Subscribe()
	defer sub.Cancel()

	close(channels[0].in)

	require.Eventually(t, func() bool { return tr.State() == StateConnected && dials.Load() == 2 },
		time.Second, 5*time.Millisecond)

	// The subscription survives the reconnect.
	channels[1].in <- message.NewStreamEnd("again")
	select {
	case m := <-sub.C:
		assert.Equal(t, "again", m.StreamID)
	case <-time.After(time.Second):
		t.Fatal("subscription did not survive reconnect")
	}
	tr.Disconnect()
}

func TestKeepAliveForcesDisconnect(t *testing.T) {
	ch := newScriptChannel()
	ch.pingErr.Store(true)
	cfg := fastConfig()
	cfg.KeepAliveInterval = 20 * time.Millisecond
	cfg.KeepAliveTimeout = 10 * time.Millisecond
	cfg.MaxReconnects = 1

	var dials atomic.Int32
	tr := New(func(ctx context.Context) (Channel, error) {
		if dials.Add(1) == 1 {
			return ch, nil
		}
		return nil, errors.New("down")
	}, cfg, nil)

	notified := make(chan error, 1)
	tr.NotifyDisconnect(func(err error) { notified <- err })

	require.NoError(t, tr.Connect(context.Background()))

	select {
	case err := <-notified:
		assert.ErrorIs(t, err, rpcerror.ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("unacknowledged probe did not force a disconnect")
	}
	tr.Disconnect()
}
