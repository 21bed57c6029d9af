package codec

import (
	"io"

	"github.com/wlmx/msn/msnp2p/common"
)

// EncoderOption is a constructor option function for the Encoder type.
type EncoderOption func(*Encoder)

// WithEncoderMaximumPayloadLength sets the largest payload Encode will
// write. If bytes is smaller than 1, the limit reverts to
// DefaultMaximumPayloadLength.
func WithEncoderMaximumPayloadLength(bytes int) EncoderOption {
	return func(e *Encoder) {
		if bytes < 1 {
			bytes = DefaultMaximumPayloadLength
		}
		e.maxPayload = bytes
	}
}

// Encoder writes command units to a stream transport, one frame per
// command.
type Encoder struct {
	w          io.Writer
	maxPayload int
}

// NewEncoder delivers a new encoder.
func NewEncoder(w io.Writer, opts ...EncoderOption) *Encoder {
	e := &Encoder{w: w, maxPayload: DefaultMaximumPayloadLength}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode writes the frame for the command. Payloads above the configured
// ceiling are refused rather than sent, since a conforming peer would drop
// the connection on receipt.
func (e *Encoder) Encode(cmd common.Command) error {
	frame := cmd.WireFormat()
	if payloadLen := len(frame) - common.LengthPrefixLength; payloadLen > e.maxPayload {
		return OversizeFrameError(payloadLen)
	}
	_, err := e.w.Write(frame)
	return err
}
