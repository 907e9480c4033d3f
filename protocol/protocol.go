// Package protocol implements the binary framing used by the default TCP
// channel.
//
// It solves TCP's sticky packet problem by using a fixed-size 9-byte header
// followed by a variable-length body. The receiver reads the header first to
// determine the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5         9
//	┌──────┬──┬──┬─────────┬───────────────┐
//	│magic │v │ft│ bodyLen │    body ...    │
//	│ mxr  │01│  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴─────────┴───────────────┘
//
// Data frames carry one encoded wire message as body. Ping and pong frames
// have no body; a pong answers a ping so the keep-alive probe can tell a live
// peer from a dead connection.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "mxr" (muxrpc). Used to quickly identify whether the
// incoming data is a valid frame, rejecting non-protocol connections
// (e.g., HTTP clients hitting the wrong port).
const (
	MagicByte1 byte = 0x6d // 'm'
	MagicByte2 byte = 0x78 // 'x'
	MagicByte3 byte = 0x72 // 'r'
	Version    byte = 0x01
	HeaderSize int  = 9 // 3 (magic) + 1 (version) + 1 (frameType) + 4 (bodyLen)

	// MaxBodyLen bounds the body allocation so a corrupt or hostile length
	// field cannot exhaust memory.
	MaxBodyLen uint32 = 16 << 20
)

// FrameType distinguishes message, ping, and pong frames.
type FrameType byte

const (
	FrameData FrameType = 0 // Body is one encoded wire message
	FramePing FrameType = 1 // Keep-alive probe (no body)
	FramePong FrameType = 2 // Probe acknowledgment (no body)
)

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same
// writer, otherwise frames from different messages will interleave and
// corrupt the stream.
func Encode(w io.Writer, ft FrameType, body []byte) error {
	buf := make([]byte, HeaderSize)
	copy(buf[0:3], []byte{MagicByte1, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(ft)
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(body)))

	if _, err := w.Write(buf); err != nil {
		return err
	}
	// Body may be nil for ping/pong frames
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, and frame type. Uses io.ReadFull to
// guarantee exactly N bytes are read, preventing partial reads.
func Decode(r io.Reader) (FrameType, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return 0, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return 0, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return 0, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}

	ft := FrameType(headerBuf[4])
	if ft != FrameData && ft != FramePing && ft != FramePong {
		return 0, nil, fmt.Errorf("unsupported frame type: %d", headerBuf[4])
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[5:9])
	if bodyLen > MaxBodyLen {
		return 0, nil, fmt.Errorf("frame body too large: %d", bodyLen)
	}
	if bodyLen == 0 {
		return ft, nil, nil
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return ft, body, nil
}
