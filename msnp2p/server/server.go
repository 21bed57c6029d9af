// Package server implements the listening side of MSNP2P direct
// connections: a TCP listener that runs the responder handshake on each
// accepted connection and delivers inbound transport packets to a handler.
package server

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wlmx/msn/msnp2p/common"
	"github.com/wlmx/msn/msnp2p/common/codec"
)

// Server provides an interface for accepting direct connections.
// This is only defined because it will facilitate unit testing of calling
// code that might want to mock the server factory.
type Server interface {
	io.Closer

	// Addr delivers the listener address, useful when listening on an
	// ephemeral port.
	Addr() net.Addr
}

// Handler is the interface that needs to be supported by the callback
// provided when a server is instantiated.
type Handler interface {
	// HandlePacket is called for every transport packet received on the
	// connection the handler was created for, in stream order. Note that a
	// HandlePacket invocation will block the receipt of further packets on
	// that connection. It is the responsibility of the Handler
	// implementation to return in a timely fashion.
	HandlePacket(pkt *common.TransportPacket)
}

// Sender writes transport packets back to the peer of the connection a
// handler serves. It is safe for concurrent use.
type Sender interface {
	Send(pkt *common.TransportPacket) error
}

// HandlerFactory delivers the Handler for a newly accepted connection. The
// sender can be retained by the handler to write packets back to the peer.
type HandlerFactory func(remoteAddr net.Addr, sender Sender) Handler

type serverImpl struct {
	listener net.Listener
	config   *serverConfig
	factory  HandlerFactory

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// Close stops the listener and drops every active connection.
func (s *serverImpl) Close() error {
	err := s.listener.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
	return err
}

func (s *serverImpl) Addr() net.Addr {
	return s.listener.Addr()
}

// Launches a goroutine to accept connections.
func (s *serverImpl) handleConnections() {
	go func() {
		s.config.hooks.StartListening(s.listener.Addr())
		err := s.listen()
		s.config.hooks.StopListening(s.listener.Addr(), err)
	}()
}

// Processes incoming connections.
func (s *serverImpl) listen() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		s.config.hooks.Accepted(conn.RemoteAddr())
		go s.serve(conn)
	}
}

// serve drives one accepted connection: responder handshake, then the
// transport packet stream. The responder answers the peer's nonce with its
// own, and only then treats 16-byte payloads as data. Keep-alive markers are
// accepted at any point; one is not required before the nonce.
func (s *serverImpl) serve(conn net.Conn) {
	s.track(conn)
	defer s.untrack(conn)

	sender := &connSender{enc: codec.NewEncoder(conn)}
	handler := s.factory(conn.RemoteAddr(), sender)
	dec := codec.NewDecoder(
		codec.WithMalformedPayloadHandler(func(err error, payload []byte) {
			s.config.hooks.Error(conn.RemoteAddr(), err)
		}))

	err := s.serveLoop(conn, handler, sender, dec)
	_ = conn.Close()
	if err == io.EOF {
		err = nil
	}
	s.config.hooks.SessionEnded(conn.RemoteAddr(), err)
}

func (s *serverImpl) serveLoop(conn net.Conn, handler Handler, sender *connSender, dec *codec.Decoder) error {
	buf := make([]byte, s.config.readBufferSize)
	expectingNonce := true

	for {
		if s.config.readTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.config.readTimeout)); err != nil {
				return err
			}
		}
		n, err := conn.Read(buf)
		if err != nil {
			return err
		}

		cmds, ferr := dec.Feed(buf[:n], expectingNonce)
		for _, cmd := range cmds {
			if expectingNonce, err = s.dispatch(conn, cmd, handler, sender, expectingNonce); err != nil {
				return err
			}
		}
		if ferr != nil {
			s.config.hooks.Error(conn.RemoteAddr(), ferr)
			return ferr
		}
	}
}

func (s *serverImpl) dispatch(conn net.Conn, cmd common.Command, handler Handler, sender *connSender,
	expectingNonce bool) (bool, error) {
	if cmd.IsFoo() {
		return expectingNonce, nil
	}

	if nonce, ok := cmd.NonceValue(); ok {
		s.config.hooks.NonceReceived(conn.RemoteAddr(), uuid.UUID(nonce))
		err := sender.sendNonce([common.NonceLength]byte(s.config.localNonce()))
		return false, err
	}

	if pkt, ok := cmd.Packet(); ok {
		handler.HandlePacket(pkt)
	}
	return expectingNonce, nil
}

func (s *serverImpl) track(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		// Closed already; drop the late arrival.
		_ = conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
}

func (s *serverImpl) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// connSender serialises writes from the serve loop and from handlers that
// retained it.
type connSender struct {
	mu  sync.Mutex
	enc *codec.Encoder
}

func (cs *connSender) Send(pkt *common.TransportPacket) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.enc.Encode(common.Data(pkt))
}

func (cs *connSender) sendNonce(nonce [common.NonceLength]byte) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.enc.Encode(common.Nonce(nonce))
}
