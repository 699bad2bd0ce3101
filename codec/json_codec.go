package codec

import (
	"encoding/json"
	"io"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Pros: human-readable, easy to debug with a terminal.
// Cons: every number decodes as float64, map keys must be strings, binary data becomes base64.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) NewDecoder(r io.Reader) Decoder {
	return json.NewDecoder(r)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
