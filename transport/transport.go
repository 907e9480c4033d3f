package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"muxrpc/message"
	"muxrpc/rpcerror"
)

// State is the connection lifecycle state of a Transport. It is owned
// exclusively by the Transport; everything else only observes it.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateFailed is terminal: reconnect attempts are exhausted.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config holds the tunables of one Transport.
type Config struct {
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	KeepAliveTimeout  time.Duration `yaml:"keep_alive_timeout"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
}

// DefaultConfig returns the defaults applied wherever a field is zero.
func DefaultConfig() Config {
	return Config{
		DialTimeout:       5 * time.Second,
		KeepAliveInterval: 30 * time.Second,
		KeepAliveTimeout:  10 * time.Second,
		MaxReconnects:     3,
		ReconnectDelay:    time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = def.KeepAliveInterval
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = def.KeepAliveTimeout
	}
	if c.MaxReconnects < 0 {
		c.MaxReconnects = def.MaxReconnects
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	return c
}

// Subscription is one live view of the inbound message flow, from the point
// of subscription onward. C completes only on permanent transport closure;
// it survives reconnects.
type Subscription struct {
	C  <-chan *message.Message
	id int
	t  *Transport
}

// Cancel detaches the subscription. Idempotent.
func (s *Subscription) Cancel() {
	s.t.unsubscribe(s.id)
}

// Transport owns one physical bidirectional channel and its lifecycle:
// a background read loop broadcasting inbound messages, a keep-alive probe
// on idle connections, and bounded reconnection on unexpected disconnects.
type Transport struct {
	dial   Dialer
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	state        State
	ch           Channel
	gen          int // connection generation; stale loops detect it changed
	closed       bool
	subs         map[int]chan *message.Message
	nextSub      int
	onDisconnect []func(error)
	lastActivity time.Time
}

// New builds a Transport over the given dialer. Call Connect to establish
// the channel.
func New(dial Dialer, cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		dial:   dial,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "transport"),
		subs:   make(map[int]chan *message.Message),
	}
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect establishes the channel. Idempotent if already connected or
// connecting. A Failed transport can be revived by an explicit Connect.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	// Reconnecting counts as in progress: the retry loop owns the dial.
	if t.state == StateConnected || t.state == StateConnecting || t.state == StateReconnecting {
		t.mu.Unlock()
		return nil
	}
	t.state = StateConnecting
	t.closed = false
	t.mu.Unlock()

	if err := t.establish(ctx); err != nil {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		return fmt.Errorf("connect: %v: %w", err, rpcerror.ErrNotConnected)
	}
	return nil
}

// establish dials a fresh channel and starts its read and keep-alive loops.
func (t *Transport) establish(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	ch, err := t.dial(dctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		ch.Close()
		return rpcerror.ErrTransportClosed
	}
	t.ch = ch
	t.gen++
	gen := t.gen
	t.state = StateConnected
	t.lastActivity = time.Now()
	t.mu.Unlock()

	go t.readLoop(ch, gen)
	go t.keepAliveLoop(ch, gen)
	return nil
}

// Send enqueues one message in call order. Fails when not connected.
func (t *Transport) Send(m *message.Message) error {
	t.mu.Lock()
	if t.state != StateConnected || t.ch == nil {
		t.mu.Unlock()
		return rpcerror.ErrNotConnected
	}
	ch := t.ch
	t.mu.Unlock()

	if err := ch.Send(m); err != nil {
		return fmt.Errorf("send: %v: %w", err, rpcerror.ErrConnectionLost)
	}
	t.touch()
	return nil
}

// Subscribe attaches a new live view of inbound messages. Messages received
// before the subscription are not replayed.
func (t *Transport) Subscribe() *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := make(chan *message.Message, 128)
	t.nextSub++
	id := t.nextSub
	if t.closed || t.state == StateFailed {
		close(c)
	} else {
		t.subs[id] = c
	}
	return &Subscription{C: c, id: id, t: t}
}

func (t *Transport) unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.subs[id]; ok {
		delete(t.subs, id)
		close(c)
	}
}

// NotifyDisconnect registers a callback fired the instant a disconnect is
// detected (before any reconnect attempt) and on explicit teardown. The
// multiplexer uses it to fail every pending entry immediately.
func (t *Transport) NotifyDisconnect(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = append(t.onDisconnect, fn)
}

// Disconnect tears the transport down and releases resources. Safe to call
// repeatedly. Subscriber channels are closed; pending-entry owners are
// notified through the disconnect callbacks.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.state = StateDisconnected
	t.gen++ // invalidate running loops
	ch := t.ch
	t.ch = nil
	callbacks := append([]func(error){}, t.onDisconnect...)
	subs := t.subs
	t.subs = make(map[int]chan *message.Message)
	t.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	for _, fn := range callbacks {
		fn(rpcerror.ErrTransportClosed)
	}
	for _, c := range subs {
		close(c)
	}
	return nil
}

// readLoop runs for the lifetime of one connection, broadcasting every
// inbound message to the current subscribers. A receive error means the
// channel is gone; the loop reports the disconnect and exits.
func (t *Transport) readLoop(ch Channel, gen int) {
	for {
		m, err := ch.Receive()
		if err != nil {
			t.handleDisconnect(gen, err)
			return
		}
		t.touch()

		// Sends happen under the lock and channels are only closed after
		// removal from t.subs under the same lock, so a broadcast can never
		// hit a closed channel. The send is non-blocking: a subscriber that
		// stops draining its buffer loses messages, loudly.
		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		for id, c := range t.subs {
			select {
			case c <- m:
			default:
				t.logger.Error("subscriber not draining, dropping message",
					"subscriber", id, "messageId", m.ID)
			}
		}
		t.mu.Unlock()
	}
}

// keepAliveLoop probes the peer whenever the connection has been idle for a
// full interval. An unacknowledged probe forces a disconnect, which feeds
// the normal reconnect path.
func (t *Transport) keepAliveLoop(ch Channel, gen int) {
	ticker := time.NewTicker(t.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for range ticker.C {
		t.mu.Lock()
		stale := gen != t.gen
		idle := time.Since(t.lastActivity) >= t.cfg.KeepAliveInterval
		t.mu.Unlock()
		if stale {
			return
		}
		if !idle {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.KeepAliveTimeout)
		err := ch.Ping(ctx)
		cancel()
		if err != nil {
			t.logger.Warn("keep-alive probe unacknowledged", "error", err)
			t.handleDisconnect(gen, fmt.Errorf("keep-alive: %v: %w", err, rpcerror.ErrConnectionLost))
			return
		}
		t.touch()
	}
}

// handleDisconnect reacts to a lost channel: it fails every pending entry via
// the disconnect callbacks, then starts the bounded reconnect sequence.
// Only the first report for a given connection generation wins.
func (t *Transport) handleDisconnect(gen int, cause error) {
	t.mu.Lock()
	if gen != t.gen || t.closed {
		t.mu.Unlock()
		return
	}
	t.gen++
	ch := t.ch
	t.ch = nil
	t.state = StateReconnecting
	callbacks := append([]func(error){}, t.onDisconnect...)
	t.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	t.logger.Warn("connection lost", "error", cause)

	// No assumption of delivery continuity across a reconnect: everything
	// pending fails now.
	wrapped := fmt.Errorf("%v: %w", cause, rpcerror.ErrConnectionLost)
	for _, fn := range callbacks {
		fn(wrapped)
	}

	go t.reconnect()
}

// reconnect retries establish up to MaxReconnects times with ReconnectDelay
// between attempts, then gives up permanently.
func (t *Transport) reconnect() {
	for attempt := 1; attempt <= t.cfg.MaxReconnects; attempt++ {
		time.Sleep(t.cfg.ReconnectDelay)

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		err := t.establish(context.Background())
		if err == nil {
			t.logger.Info("reconnected", "attempt", attempt)
			return
		}
		t.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.state = StateFailed
	subs := t.subs
	t.subs = make(map[int]chan *message.Message)
	t.mu.Unlock()

	t.logger.Error("reconnect attempts exhausted, transport failed")
	// Permanent closure: complete the inbound broadcast.
	for _, c := range subs {
		close(c)
	}
}

func (t *Transport) touch() {
	t.mu.Lock()
	t.lastActivity = time.Now()
	t.mu.Unlock()
}
