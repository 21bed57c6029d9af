package common

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// The transport packet is the unit carried by a data frame:
//
//	uint8_t  header length   total header size, minimum 8
//	uint8_t  operation code
//	uint16_t payload length  big endian, bytes following the header
//	uint32_t sequence number big endian
//	uint8_t[] extensions     header length - 8 bytes of type/length/value pairs
//	uint8_t[] payload        opaque to this layer
//
// The payload is carried verbatim; interpreting it belongs to the layers
// above.

// FixedHeaderLength is the size of the fixed portion of a transport packet
// header, and so the smallest buffer Parse will accept.
const FixedHeaderLength = 8

// Decode failure causes reported by PacketDecoder implementations.
var (
	ErrTruncatedHeader     = errors.New("transport packet header truncated")
	ErrBadHeaderLength     = errors.New("transport packet header length invalid")
	ErrLengthMismatch      = errors.New("transport packet lengths inconsistent")
	ErrMalformedExtensions = errors.New("transport packet header extensions malformed")
)

// TransportPacket is a decoded MSNP2P transport unit.
type TransportPacket struct {
	OperationCode  uint8
	SequenceNumber uint32

	// HeaderExtensions holds the raw type/length/value region of the header,
	// header length - 8 bytes. Empty for the common 8-byte header.
	HeaderExtensions []byte

	// Payload holds the declared payload verbatim.
	Payload []byte
}

// HeaderLength delivers the value the header length octet takes when the
// packet is serialised.
func (p *TransportPacket) HeaderLength() int {
	return FixedHeaderLength + len(p.HeaderExtensions)
}

// Bytes re-serialises the packet. For a packet produced by Parse the result
// equals the input octet for octet.
func (p *TransportPacket) Bytes() []byte {
	hl := p.HeaderLength()
	if hl > 0xFF {
		panic(fmt.Sprintf("BUG: header extensions too long: %d", len(p.HeaderExtensions)))
	}
	buf := make([]byte, hl+len(p.Payload))
	buf[0] = uint8(hl)
	buf[1] = p.OperationCode
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(p.Payload)))
	binary.BigEndian.PutUint32(buf[4:8], p.SequenceNumber)
	copy(buf[FixedHeaderLength:], p.HeaderExtensions)
	copy(buf[hl:], p.Payload)
	return buf
}

// PacketDecoder parses transport packets out of frame payloads. The codec
// depends on this interface rather than the implementation so that the frame
// reader can be exercised against a stub.
type PacketDecoder interface {
	// Parse fully decodes a frame payload into a transport packet.
	Parse(data []byte) (*TransportPacket, error)

	// DeclaredPayloadLength peeks the payload length field of the leading
	// header bytes without decoding the rest of the packet. It is consistent
	// with Parse on input Parse accepts.
	DeclaredPayloadLength(data []byte) (int, error)
}

// NewPacketDecoder delivers the production transport packet decoder.
func NewPacketDecoder() PacketDecoder {
	return &packetDecoder{}
}

type packetDecoder struct{}

func (packetDecoder) Parse(data []byte) (*TransportPacket, error) {
	if len(data) < FixedHeaderLength {
		return nil, errors.Wrapf(ErrTruncatedHeader, "have %d bytes, need %d", len(data), FixedHeaderLength)
	}

	hl := int(data[0])
	if hl < FixedHeaderLength {
		return nil, errors.Wrapf(ErrBadHeaderLength, "declared %d, minimum %d", hl, FixedHeaderLength)
	}
	if hl > len(data) {
		return nil, errors.Wrapf(ErrTruncatedHeader, "header length %d exceeds %d available", hl, len(data))
	}

	declared := int(binary.BigEndian.Uint16(data[2:4]))
	if hl+declared != len(data) {
		return nil, errors.Wrapf(ErrLengthMismatch, "header %d + payload %d != buffer %d", hl, declared, len(data))
	}

	extensions := data[FixedHeaderLength:hl]
	if err := validateExtensions(extensions); err != nil {
		return nil, err
	}

	return &TransportPacket{
		OperationCode:    data[1],
		SequenceNumber:   binary.BigEndian.Uint32(data[4:8]),
		HeaderExtensions: append([]byte(nil), extensions...),
		Payload:          append([]byte(nil), data[hl:]...),
	}, nil
}

func (packetDecoder) DeclaredPayloadLength(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, errors.Wrapf(ErrTruncatedHeader, "have %d bytes, need 4", len(data))
	}
	return int(binary.BigEndian.Uint16(data[2:4])), nil
}

// validateExtensions checks the structure of the header extension region:
// type/length/value triples, where a zero type octet starts padding that must
// run to the end of the region.
func validateExtensions(extensions []byte) error {
	for i := 0; i < len(extensions); {
		if extensions[i] == 0 {
			for _, b := range extensions[i:] {
				if b != 0 {
					return errors.Wrap(ErrMalformedExtensions, "non-zero byte inside padding")
				}
			}
			return nil
		}
		if i+1 >= len(extensions) {
			return errors.Wrap(ErrMalformedExtensions, "extension type without length")
		}
		i += 2 + int(extensions[i+1])
		if i > len(extensions) {
			return errors.Wrap(ErrMalformedExtensions, "extension value exceeds header")
		}
	}
	return nil
}
