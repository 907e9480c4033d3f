// Package codec is the serialization collaborator: it encodes and decodes the
// opaque payload values (parameters, results, stream data) carried inside
// wire messages. The message envelope itself is always the self-describing
// JSON record defined in package message; only payloads go through a Codec.
package codec

import "encoding/json"

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
)

// Codec turns language values into opaque encoded payloads and back.
type Codec interface {
	Encode(v any) (json.RawMessage, error)
	Decode(data json.RawMessage, v any) error
	Type() CodecType
}

// GetCodec returns the codec for the given type. Unknown types fall back to
// JSON, the default payload encoding.
func GetCodec(codecType CodecType) Codec {
	return &JSONCodec{}
}

// EncodeAll encodes an ordered parameter list with the given codec.
func EncodeAll(c Codec, values ...any) ([]json.RawMessage, error) {
	params := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		data, err := c.Encode(v)
		if err != nil {
			return nil, err
		}
		params = append(params, data)
	}
	return params, nil
}
