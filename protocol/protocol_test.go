package protocol

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeFrame(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"type":"request","messageId":"m1","methodId":"a1b2c3"}`)

	if err := Encode(&buf, FrameData, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	ft, decoded, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ft != FrameData {
		t.Fatalf("frame type: got %d, want %d", ft, FrameData)
	}
	if !bytes.Equal(decoded, body) {
		t.Fatalf("body mismatch: got %q, want %q", decoded, body)
	}
}

func TestPingPongFramesHaveNoBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, FramePing, nil); err != nil {
		t.Fatal(err)
	}
	if err := Encode(&buf, FramePong, nil); err != nil {
		t.Fatal(err)
	}

	for _, want := range []FrameType{FramePing, FramePong} {
		ft, body, err := Decode(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if ft != want {
			t.Fatalf("frame type: got %d, want %d", ft, want)
		}
		if body != nil {
			t.Fatalf("expected empty body, got %d bytes", len(body))
		}
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	good := func() []byte {
		var buf bytes.Buffer
		Encode(&buf, FrameData, []byte("x"))
		return buf.Bytes()
	}

	// Corrupt the magic number
	frame := good()
	frame[0] = 'h'
	if _, _, err := Decode(bytes.NewReader(frame)); err == nil {
		t.Error("expected error for invalid magic number")
	}

	// Corrupt the version
	frame = good()
	frame[3] = 0x7f
	if _, _, err := Decode(bytes.NewReader(frame)); err == nil {
		t.Error("expected error for unsupported version")
	}

	// Corrupt the frame type
	frame = good()
	frame[4] = 0x7f
	if _, _, err := Decode(bytes.NewReader(frame)); err == nil {
		t.Error("expected error for unsupported frame type")
	}

	// Truncated body
	frame = good()
	if _, _, err := Decode(bytes.NewReader(frame[:len(frame)-1])); err == nil {
		t.Error("expected error for truncated body")
	}
}
