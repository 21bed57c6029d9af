// Package common defines the MSNP2P wire data model shared by the codec and
// session layers.
package common

import "encoding/binary"

// Defines the command units carried by MSNP2P frames.

const (
	// LengthPrefixLength is the size of the little-endian length prefix that
	// precedes every frame payload.
	LengthPrefixLength = 4

	// NonceLength is the size of the nonce exchanged while a direct
	// connection is being established.
	NonceLength = 16
)

// FooPayload delivers the payload of the keep-alive marker frame: the ASCII
// bytes "foo" followed by a NUL.
func FooPayload() []byte {
	return []byte{'f', 'o', 'o', 0x00}
}

type commandKind int

const (
	kindInvalid commandKind = iota
	kindFoo
	kindNonce
	kindData
)

// Command represents a single command unit reconstructed from the byte
// stream. Exactly one of the three variants (foo, nonce, data) holds for any
// value produced by the codec; the zero Command satisfies none of them.
type Command struct {
	kind   commandKind
	nonce  [NonceLength]byte
	packet *TransportPacket
}

// Foo delivers the keep-alive marker command.
func Foo() Command {
	return Command{kind: kindFoo}
}

// Nonce delivers a nonce command carrying the supplied bytes.
func Nonce(nonce [NonceLength]byte) Command {
	return Command{kind: kindNonce, nonce: nonce}
}

// Data delivers a data command carrying the supplied transport packet, which
// must be non-nil.
func Data(pkt *TransportPacket) Command {
	return Command{kind: kindData, packet: pkt}
}

// IsFoo reports whether the command is the keep-alive marker.
func (c Command) IsFoo() bool {
	return c.kind == kindFoo
}

// NonceValue delivers the nonce carried by a nonce command. The second return
// value is false for the other variants.
func (c Command) NonceValue() ([NonceLength]byte, bool) {
	return c.nonce, c.kind == kindNonce
}

// Packet delivers the transport packet carried by a data command. The second
// return value is false for the other variants.
func (c Command) Packet() (*TransportPacket, bool) {
	if c.kind != kindData {
		return nil, false
	}
	return c.packet, true
}

// Payload renders the frame payload of the command.
func (c Command) Payload() []byte {
	switch c.kind {
	case kindFoo:
		return FooPayload()
	case kindNonce:
		return append([]byte(nil), c.nonce[:]...)
	case kindData:
		return c.packet.Bytes()
	}
	return nil
}

// WireFormat renders the complete frame for the command, length prefix
// included. Feeding the result to a decoder reproduces the command.
func (c Command) WireFormat() []byte {
	payload := c.Payload()
	frame := make([]byte, LengthPrefixLength+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[LengthPrefixLength:], payload)
	return frame
}
