// Package codec adapts serialization libraries to the shapes the protocol needs.
//
// A codec turns one value into bytes and back. The protocol layer only ever
// hands it plain values (arrays, maps, numbers, strings, nil), so any codec that
// round-trips those can carry the wire format. Each codec is self-delimiting:
// a stream decoder reads exactly one value per Decode call, so no extra length
// prefix is written between messages. Writers encode to bytes first and write
// each message with a single Write.
package codec

import (
	"fmt"
	"io"
	"strings"
)

type CodecType byte

const (
	CodecTypeMsgpack CodecType = 0
	CodecTypeJSON    CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeMsgpack:
		return "msgpack"
	case CodecTypeJSON:
		return "json"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}

// Decoder reads a sequence of values from a stream.
type Decoder interface {
	Decode(v any) error
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	NewDecoder(r io.Reader) Decoder
	Type() CodecType
}

// GetCodec returns the codec for codecType. Unknown types fall back to msgpack.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return NewMsgpackCodec()
}

// ParseType maps a configuration name to a CodecType.
func ParseType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "msgpack":
		return CodecTypeMsgpack, nil
	case "json":
		return CodecTypeJSON, nil
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}
