package codec

import (
	"io"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// MsgpackCodec serializes values with MessagePack.
// Pros: compact binary form, keeps integers and floats apart, any key type in maps.
// Cons: not human-readable.
type MsgpackCodec struct {
	handle *codec.MsgpackHandle
}

// NewMsgpackCodec returns a codec that writes the str/bin types of the current
// msgpack format and decodes raw strings into Go strings rather than []byte.
func NewMsgpackCodec() *MsgpackCodec {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	h.RawToString = true
	return &MsgpackCodec{handle: h}
}

func (c *MsgpackCodec) Encode(v any) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, c.handle).Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *MsgpackCodec) Decode(data []byte, v any) error {
	return codec.NewDecoderBytes(data, c.handle).Decode(v)
}

func (c *MsgpackCodec) NewDecoder(r io.Reader) Decoder {
	return codec.NewDecoder(r, c.handle)
}

func (c *MsgpackCodec) Type() CodecType {
	return CodecTypeMsgpack
}
