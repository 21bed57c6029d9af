// Package client implements the initiating side of an MSNP2P direct
// connection: the transport handshake (keep-alive marker and nonce
// exchange) and the framed transport packet stream that follows it.
package client

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/wlmx/msn/msnp2p/common"
	"github.com/wlmx/msn/msnp2p/common/codec"
)

// Handler is the interface that needs to be supported by the callback
// provided when a session is instantiated.
type Handler interface {
	// HandlePacket is called for every inbound transport packet, in stream
	// order. A HandlePacket invocation blocks the receipt of further
	// packets; it is the responsibility of the Handler implementation to
	// return in a timely fashion.
	HandlePacket(pkt *common.TransportPacket)
}

// Session represents an established direct connection to a peer.
type Session interface {
	// Send writes a transport packet to the peer.
	Send(pkt *common.TransportPacket) error

	// LocalNonce delivers the nonce this session presented to the peer.
	LocalNonce() uuid.UUID

	// PeerNonce delivers the nonce received from the peer, once the
	// handshake has completed.
	PeerNonce() (uuid.UUID, bool)

	// Close closes the session and the underlying connection. Closing a
	// session that is already closed is a no-op.
	Close() error
}

// ErrSessionClosed is returned by Send after the session has been closed or
// torn down.
var ErrSessionClosed = errors.New("session closed")

type sesImpl struct {
	conn    net.Conn
	dec     *codec.Decoder
	enc     *codec.Encoder
	cfg     *sessionConfig
	trace   *SessionTrace
	handler Handler
	target  string
	started time.Time

	mu        sync.Mutex
	peerNonce uuid.UUID
	gotNonce  bool
	closed    bool
}

// NewSession runs the initiator handshake over an established connection and
// delivers a Session. The keep-alive marker and the local nonce are written
// immediately; the peer nonce is collected asynchronously by the read loop
// and surfaced through PeerNonce and the HandshakeDone trace hook.
func NewSession(conn net.Conn, handler Handler, opts ...SessionOption) (Session, error) {
	return newSession(conn, handler, resolveConfig(opts))
}

func newSession(conn net.Conn, handler Handler, cfg *sessionConfig) (Session, error) {
	s := &sesImpl{
		conn:    conn,
		cfg:     cfg,
		trace:   cfg.trace,
		handler: handler,
		target:  conn.RemoteAddr().String(),
		started: time.Now(),
	}
	s.enc = codec.NewEncoder(&traceWriter{w: conn, trace: s.trace})
	s.dec = codec.NewDecoder(
		codec.WithPacketDecoder(cfg.packets),
		codec.WithMalformedPayloadHandler(func(err error, payload []byte) {
			s.trace.MalformedPayload(s.target, err, payload)
		}))

	if err := s.sendHandshake(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go s.handleIncoming()

	return s, nil
}

// sendHandshake writes the opening frames of a direct connection: the
// keep-alive marker, then the local nonce.
func (s *sesImpl) sendHandshake() error {
	if err := s.enc.Encode(common.Foo()); err != nil {
		return errors.Wrap(err, "failed to send keep-alive marker")
	}
	if err := s.enc.Encode(common.Nonce([common.NonceLength]byte(s.cfg.localNonce))); err != nil {
		return errors.Wrap(err, "failed to send nonce")
	}
	return nil
}

// handleIncoming drives the read loop. It owns the nonce-expecting window:
// the window opens with the session and closes when the peer nonce arrives.
func (s *sesImpl) handleIncoming() {
	var err error
	buf := make([]byte, s.cfg.readBufferSize)
	expectingNonce := true

	for {
		var n int
		begin := time.Now()
		n, err = s.conn.Read(buf)
		s.trace.ReadDone(buf, n, err, time.Since(begin))
		if err != nil {
			break
		}

		cmds, ferr := s.dec.Feed(buf[:n], expectingNonce)
		for _, cmd := range cmds {
			expectingNonce = s.dispatch(cmd, expectingNonce)
		}
		if ferr != nil {
			s.trace.FramingError(s.target, ferr)
			err = ferr
			break
		}
	}

	s.teardown(err)
}

func (s *sesImpl) dispatch(cmd common.Command, expectingNonce bool) bool {
	if cmd.IsFoo() {
		s.trace.FooReceived(s.target)
		return expectingNonce
	}

	if nonce, ok := cmd.NonceValue(); ok {
		peer := uuid.UUID(nonce)
		s.mu.Lock()
		s.peerNonce = peer
		s.gotNonce = true
		s.mu.Unlock()
		s.trace.NonceReceived(s.target, peer)
		s.trace.HandshakeDone(s.target, peer, time.Since(s.started))
		return false
	}

	if pkt, ok := cmd.Packet(); ok {
		s.trace.PacketReceived(s.target, pkt)
		s.handler.HandlePacket(pkt)
	}
	return expectingNonce
}

func (s *sesImpl) Send(pkt *common.TransportPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.enc.Encode(common.Data(pkt))
}

func (s *sesImpl) LocalNonce() uuid.UUID {
	return s.cfg.localNonce
}

func (s *sesImpl) PeerNonce() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerNonce, s.gotNonce
}

func (s *sesImpl) Close() error {
	s.teardown(nil)
	return nil
}

// teardown closes the connection exactly once. err carries the condition
// that ended the session; io.EOF is a normal remote close.
func (s *sesImpl) teardown(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.conn.Close()
	if errors.Is(err, io.EOF) {
		err = nil
	}
	s.trace.ConnectionClosed(s.target, err)
}

// traceWriter reports writes to the session trace on their way to the
// transport.
type traceWriter struct {
	w     io.Writer
	trace *SessionTrace
}

func (tw *traceWriter) Write(p []byte) (int, error) {
	begin := time.Now()
	n, err := tw.w.Write(p)
	tw.trace.WriteDone(p, n, err, time.Since(begin))
	return n, err
}
