package transport

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"muxrpc/message"
)

func TestTCPChannelSendReceive(t *testing.T) {
	a, b := net.Pipe()
	left := NewTCPChannel(a)
	right := NewTCPChannel(b)
	defer left.Close()
	defer right.Close()

	sent := message.NewRequest("UserService", "abc123", []json.RawMessage{json.RawMessage(`{"name":"Ann"}`)}, false)

	errCh := make(chan error, 1)
	go func() { errCh <- left.Send(sent) }()

	got, err := right.Receive()
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if got.ID != sent.ID || got.Method != "abc123" {
		t.Fatalf("message did not survive the channel: %+v", got)
	}
}

func TestTCPChannelPing(t *testing.T) {
	a, b := net.Pipe()
	left := NewTCPChannel(a)
	right := NewTCPChannel(b)
	defer left.Close()
	defer right.Close()

	// Both sides must pump Receive: the peer answers the ping inside its
	// Receive loop, and the pong is routed back through ours.
	go func() { right.Receive() }()
	go func() { left.Receive() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := left.Ping(ctx); err != nil {
		t.Fatalf("ping not acknowledged: %v", err)
	}
}

func TestTCPChannelReceiveFailsAfterClose(t *testing.T) {
	a, b := net.Pipe()
	left := NewTCPChannel(a)
	right := NewTCPChannel(b)

	left.Close()
	if _, err := right.Receive(); err == nil {
		t.Fatal("expected receive error after peer close")
	}
	// Close is idempotent
	if err := left.Close(); err != nil {
		t.Fatal(err)
	}
}
