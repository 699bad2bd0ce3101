// Package protocol implements the message multiplexer for msgpack-rpc.
//
// There is no header or length prefix: every message is exactly one codec value,
// a positional array whose first element is the type tag. The codec's own
// framing tells the receiver where one message ends and the next begins.
//
//	Request:      [0, id:uint32, method:string, params:array]
//	Response:     [1, id:uint32, error:any|nil, result:any|nil]
//	Notification: [2, method:string, params:array]
//
// A Multiplexer owns one stream. Any number of goroutines may Send; exactly one
// goroutine may Recv. Envelopes are delivered in the order the peer wrote them.
package protocol

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"

	"msgpack-rpc/codec"
	"msgpack-rpc/message"
)

const readBufferSize = 32 * 1024

// Multiplexer serializes outbound envelopes and deserializes inbound ones on a single stream.
type Multiplexer struct {
	rwc   io.ReadWriteCloser
	codec codec.Codec
	dec   codec.Decoder

	// Write lock: concurrent responders and callers share one stream, so each
	// message must be written whole or not at all.
	sending sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewMultiplexer wraps rwc. A nil codec selects msgpack.
func NewMultiplexer(rwc io.ReadWriteCloser, c codec.Codec) *Multiplexer {
	if c == nil {
		c = codec.GetCodec(codec.CodecTypeMsgpack)
	}
	return &Multiplexer{
		rwc:   rwc,
		codec: c,
		// A buffered reader absorbs partial reads and reads that carry several messages.
		dec: c.NewDecoder(bufio.NewReaderSize(rwc, readBufferSize)),
	}
}

// Codec returns the codec used on this stream.
func (m *Multiplexer) Codec() codec.Codec {
	return m.codec
}

// Send encodes env and writes it to the stream in a single Write.
// A value the codec rejects yields an *EncodeError and writes nothing.
func (m *Multiplexer) Send(env *message.Envelope) error {
	wire, err := ToWire(env)
	if err != nil {
		return err
	}
	body, err := m.codec.Encode(wire)
	if err != nil {
		return &EncodeError{Err: err}
	}

	m.sending.Lock()
	defer m.sending.Unlock()
	_, err = m.rwc.Write(body)
	return err
}

// Recv blocks until the next envelope arrives.
// It returns io.EOF when the peer closed the stream cleanly between messages,
// a *DecodeError for malformed input, or the underlying read error.
func (m *Multiplexer) Recv() (*message.Envelope, error) {
	var raw any
	if err := m.dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isNetError(err) {
			return nil, err
		}
		return nil, &DecodeError{Reason: "malformed " + m.codec.Type().String() + " data", Err: err}
	}
	return FromWire(raw)
}

// Close closes the underlying stream. It is safe to call more than once.
func (m *Multiplexer) Close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.rwc.Close()
	})
	return m.closeErr
}

// isNetError separates transport failures from malformed data so that a
// reset or a closed socket is not reported as a decode error.
func isNetError(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
