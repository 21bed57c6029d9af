package client

import (
	"encoding/hex"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/wlmx/msn/msnp2p/common"
)

// SessionTrace defines a structure for handling trace events raised over the
// life of a direct-connect session.
type SessionTrace struct {
	// ConnectStart is called before dialling the peer.
	ConnectStart func(target string)

	// ConnectDone is called when the dial attempt completes, with err
	// indicating whether it was successful.
	ConnectDone func(target string, err error, d time.Duration)

	// HandshakeDone is called once the peer nonce has been received and the
	// session can carry transport packets.
	HandshakeDone func(target string, peerNonce uuid.UUID, d time.Duration)

	// FooReceived is called when the peer sends the keep-alive marker.
	FooReceived func(target string)

	// NonceReceived is called when the peer nonce arrives.
	NonceReceived func(target string, nonce uuid.UUID)

	// PacketReceived is called for every inbound transport packet, before it
	// is handed to the session handler.
	PacketReceived func(target string, pkt *common.TransportPacket)

	// MalformedPayload is called when a complete frame payload failed
	// classification and was dropped. The session continues.
	MalformedPayload func(target string, err error, payload []byte)

	// FramingError is called when the inbound stream is no longer trusted.
	// The session is torn down afterwards.
	FramingError func(target string, err error)

	// ReadDone is called after a read from the underlying transport.
	ReadDone func(buf []byte, c int, err error, d time.Duration)

	// WriteDone is called after a write to the underlying transport.
	WriteDone func(buf []byte, c int, err error, d time.Duration)

	// ConnectionClosed is called after the transport connection has been
	// closed, with err indicating any error condition.
	ConnectionClosed func(target string, err error)

	// Error is called after an error condition has been detected.
	Error func(context, target string, err error)
}

// DefaultLoggingHooks provides a default logging hook to report errors.
var DefaultLoggingHooks = &SessionTrace{
	Error: func(context, target string, err error) {
		log.Printf("MSNP2P-Error context:%s target:%s err:%v\n", context, target, err)
	},
	MalformedPayload: func(target string, err error, payload []byte) {
		head := payload
		if len(head) > 16 {
			head = head[:16]
		}
		log.Printf("MSNP2P-MalformedPayload target:%s len:%d head:%s err:%v\n",
			target, len(payload), hex.EncodeToString(head), err)
	},
	FramingError: func(target string, err error) {
		log.Printf("MSNP2P-FramingError target:%s err:%v\n", target, err)
	},
}

// DiagnosticLoggingHooks provides a set of hooks that log all events.
var DiagnosticLoggingHooks = &SessionTrace{
	ConnectStart: func(target string) {
		log.Printf("MSNP2P-ConnectStart target:%s\n", target)
	},
	ConnectDone: func(target string, err error, d time.Duration) {
		log.Printf("MSNP2P-ConnectDone target:%s err:%v took:%dms\n", target, err, d.Milliseconds())
	},
	HandshakeDone: func(target string, peerNonce uuid.UUID, d time.Duration) {
		log.Printf("MSNP2P-HandshakeDone target:%s nonce:%s took:%dms\n", target, peerNonce, d.Milliseconds())
	},
	FooReceived: func(target string) {
		log.Printf("MSNP2P-FooReceived target:%s\n", target)
	},
	NonceReceived: func(target string, nonce uuid.UUID) {
		log.Printf("MSNP2P-NonceReceived target:%s nonce:%s\n", target, nonce)
	},
	PacketReceived: func(target string, pkt *common.TransportPacket) {
		log.Printf("MSNP2P-PacketReceived target:%s op:%d seq:%d len:%d\n",
			target, pkt.OperationCode, pkt.SequenceNumber, len(pkt.Payload))
	},
	MalformedPayload: DefaultLoggingHooks.MalformedPayload,
	FramingError:     DefaultLoggingHooks.FramingError,
	ReadDone: func(buf []byte, c int, err error, d time.Duration) {
		log.Printf("MSNP2P-ReadDone len:%d err:%v took:%dms\n", c, err, d.Milliseconds())
	},
	WriteDone: func(buf []byte, c int, err error, d time.Duration) {
		log.Printf("MSNP2P-WriteDone len:%d err:%v took:%dms\n", c, err, d.Milliseconds())
	},
	ConnectionClosed: func(target string, err error) {
		log.Printf("MSNP2P-ConnectionClosed target:%s err:%v\n", target, err)
	},
	Error: DefaultLoggingHooks.Error,
}

// NoOpLoggingHooks provides a set of hooks that do nothing.
var NoOpLoggingHooks = &SessionTrace{
	ConnectStart:     func(target string) {},
	ConnectDone:      func(target string, err error, d time.Duration) {},
	HandshakeDone:    func(target string, peerNonce uuid.UUID, d time.Duration) {},
	FooReceived:      func(target string) {},
	NonceReceived:    func(target string, nonce uuid.UUID) {},
	PacketReceived:   func(target string, pkt *common.TransportPacket) {},
	MalformedPayload: func(target string, err error, payload []byte) {},
	FramingError:     func(target string, err error) {},
	ReadDone:         func(buf []byte, c int, err error, d time.Duration) {},
	WriteDone:        func(buf []byte, c int, err error, d time.Duration) {},
	ConnectionClosed: func(target string, err error) {},
	Error:            func(context, target string, err error) {},
}
