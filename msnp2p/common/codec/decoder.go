// Package codec implements MSNP2P frame reading and writing: the length
// prefixed framing that carries command units over a stream transport, and
// the classification of frame payloads into commands.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/pkg/errors"

	"github.com/wlmx/msn/msnp2p/common"
)

const (
	// DefaultMaximumPayloadLength is the default sanity ceiling on the
	// declared payload length of a frame. Signalling payloads (SLP invites
	// with message bodies) run to a few KiB; a prefix above the ceiling
	// means the peer and the decoder no longer agree on framing, so the
	// stream cannot be trusted further.
	DefaultMaximumPayloadLength = 8192

	// DefaultMaximumBufferedLength bounds the tail a default decoder
	// retains between Feed calls: one length prefix plus one maximum
	// payload.
	DefaultMaximumBufferedLength = common.LengthPrefixLength + DefaultMaximumPayloadLength
)

// OversizeFrameError is returned by Decoder.Feed when a length prefix
// exceeds the decoder's payload ceiling. It is fatal to the stream; the
// decoder discards its buffered state and the connection should be torn
// down.
type OversizeFrameError int

func (e OversizeFrameError) Error() string {
	return fmt.Sprintf("codec: declared payload length %d exceeds ceiling", int(e))
}

// MalformedPayloadHandler is invoked when a complete frame payload fails
// classification and is dropped. Framing is unaffected; the handler exists
// so the session layer can log or count the event.
type MalformedPayloadHandler func(err error, payload []byte)

// DecoderOption is a constructor option function for the Decoder type.
type DecoderOption func(*Decoder)

// WithPacketDecoder defines the transport packet decoder used to build data
// commands. Default value is common.NewPacketDecoder().
func WithPacketDecoder(pd common.PacketDecoder) DecoderOption {
	return func(d *Decoder) {
		d.packets = pd
	}
}

// WithMalformedPayloadHandler defines the handler invoked for dropped
// payloads. The default handler logs the length and leading bytes.
func WithMalformedPayloadHandler(h MalformedPayloadHandler) DecoderOption {
	return func(d *Decoder) {
		d.onMalformed = h
	}
}

// WithMaximumPayloadLength sets the sanity ceiling on declared payload
// lengths. If bytes is smaller than 1, the ceiling reverts to
// DefaultMaximumPayloadLength.
func WithMaximumPayloadLength(bytes int) DecoderOption {
	return func(d *Decoder) {
		if bytes < 1 {
			bytes = DefaultMaximumPayloadLength
		}
		d.maxPayload = bytes
	}
}

// Decoder reconstructs command units from a stream of chunks. A chunk
// boundary can fall anywhere; whatever trails the last complete frame is
// retained and prepended to the next chunk, so the tail never exceeds one
// length prefix plus the payload ceiling. One decoder serves exactly one
// connection and is not safe for concurrent use.
type Decoder struct {
	incomplete  []byte
	packets     common.PacketDecoder
	onMalformed MalformedPayloadHandler
	maxPayload  int
}

// NewDecoder delivers a new decoder.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		packets:     common.NewPacketDecoder(),
		onMalformed: defaultMalformedPayloadHandler,
		maxPayload:  DefaultMaximumPayloadLength,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func defaultMalformedPayloadHandler(err error, payload []byte) {
	head := payload
	if len(head) > 16 {
		head = head[:16]
	}
	log.Printf("MSNP2P-MalformedPayload len:%d head:%s err:%v\n", len(payload), hex.EncodeToString(head), err)
}

// Feed consumes the next chunk of the stream and delivers the commands whose
// frames completed with it, in stream order. expectingNonce tells the
// classifier whether the enclosing handshake is inside the nonce-expecting
// window; the caller owns that state.
//
// A non-nil error reports framing corruption (OversizeFrameError). Commands
// decoded before the corrupt prefix are still returned, buffered state is
// discarded, and no further input should be fed.
func (d *Decoder) Feed(chunk []byte, expectingNonce bool) ([]common.Command, error) {
	work := chunk
	if len(d.incomplete) > 0 {
		work = append(d.incomplete, chunk...)
	}
	d.incomplete = nil

	var out []common.Command
	cursor := 0
	for {
		remaining := len(work) - cursor
		if remaining < common.LengthPrefixLength {
			d.stash(work[cursor:])
			return out, nil
		}

		payloadLen := int(binary.LittleEndian.Uint32(work[cursor:]))
		if payloadLen > d.maxPayload {
			return out, OversizeFrameError(payloadLen)
		}
		if remaining < common.LengthPrefixLength+payloadLen {
			d.stash(work[cursor:])
			return out, nil
		}

		payload := work[cursor+common.LengthPrefixLength : cursor+common.LengthPrefixLength+payloadLen]
		cmd, err := d.classify(payload, expectingNonce)
		if err != nil {
			d.onMalformed(err, payload)
		} else {
			out = append(out, cmd)
		}
		cursor += common.LengthPrefixLength + payloadLen
	}
}

// Buffered delivers the size of the retained tail.
func (d *Decoder) Buffered() int {
	return len(d.incomplete)
}

// classify builds the command for a complete frame payload.
//
// The keep-alive marker is matched first. A 16-byte payload is a nonce only
// inside the nonce-expecting window; outside it, 16 bytes parse as a
// transport packet like any other payload. Everything else is data.
func (d *Decoder) classify(payload []byte, expectingNonce bool) (common.Command, error) {
	if bytes.Equal(payload, common.FooPayload()) {
		return common.Foo(), nil
	}

	if expectingNonce && len(payload) == common.NonceLength {
		var nonce [common.NonceLength]byte
		copy(nonce[:], payload)
		return common.Nonce(nonce), nil
	}

	pkt, err := d.packets.Parse(payload)
	if err != nil {
		return common.Command{}, errors.Wrap(err, "malformed transport packet payload")
	}
	return common.Data(pkt), nil
}

// stash retains the unconsumed tail in storage the decoder owns, so callers
// remain free to reuse their chunk buffers between Feed calls.
func (d *Decoder) stash(tail []byte) {
	if len(tail) == 0 {
		d.incomplete = nil
		return
	}
	d.incomplete = append(make([]byte, 0, len(tail)), tail...)
}
