package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgpack-rpc/message"
)

func TestMsgpackCodec(t *testing.T) {
	c := GetCodec(CodecTypeMsgpack)
	require.Equal(t, CodecTypeMsgpack, c.Type())

	data, err := c.Encode([]any{0, 1, "add", []any{5, 7}})
	require.NoError(t, err)

	var decoded any
	require.NoError(t, c.Decode(data, &decoded))

	arr, ok := decoded.([]any)
	require.True(t, ok, "expected array, got %T", decoded)
	require.Len(t, arr, 4)

	method, ok := arr[2].(string)
	require.True(t, ok, "raw strings must decode as string, got %T", arr[2])
	assert.Equal(t, "add", method)

	params := arr[3].([]any)
	a, _ := message.ToInt64(params[0])
	b, _ := message.ToInt64(params[1])
	assert.Equal(t, int64(12), a+b)
}

func TestMsgpackKeepsFloats(t *testing.T) {
	c := NewMsgpackCodec()
	data, err := c.Encode([]any{102.1})
	require.NoError(t, err)

	var decoded []any
	require.NoError(t, c.Decode(data, &decoded))
	assert.Equal(t, 102.1, decoded[0])
}

func TestJSONCodec(t *testing.T) {
	c := GetCodec(CodecTypeJSON)
	require.Equal(t, CodecTypeJSON, c.Type())

	data, err := c.Encode([]any{2, "temperature", []any{102.1}})
	require.NoError(t, err)

	var decoded []any
	require.NoError(t, c.Decode(data, &decoded))
	assert.Equal(t, []any{float64(2), "temperature", []any{102.1}}, decoded)
}

// A stream decoder must split concatenated values no matter how the bytes are chunked.
func TestStreamDecoderAcrossChunks(t *testing.T) {
	for _, typ := range []CodecType{CodecTypeMsgpack, CodecTypeJSON} {
		t.Run(typ.String(), func(t *testing.T) {
			c := GetCodec(typ)
			var stream bytes.Buffer
			for i := 0; i < 3; i++ {
				data, err := c.Encode([]any{1, i, nil, "result"})
				require.NoError(t, err)
				stream.Write(data)
			}

			dec := c.NewDecoder(&oneByteReader{r: &stream})
			for i := 0; i < 3; i++ {
				var v []any
				require.NoError(t, dec.Decode(&v))
				id, ok := message.ToInt64(v[1])
				require.True(t, ok)
				assert.Equal(t, int64(i), id)
				assert.Equal(t, "result", v[3])
			}
		})
	}
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("JSON")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeJSON, typ)

	typ, err = ParseType("")
	require.NoError(t, err)
	assert.Equal(t, CodecTypeMsgpack, typ)

	_, err = ParseType("gob")
	assert.Error(t, err)
}

// oneByteReader simulates a socket delivering one byte per read.
type oneByteReader struct {
	r io.Reader
}

func (o *oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}
