// Package testserver provides an in-process direct-connect peer for
// 'on-board' testing of the client and codec layers.
package testserver

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"

	"github.com/google/uuid"
	assert "github.com/stretchr/testify/require"

	"github.com/wlmx/msn/msnp2p/common"
	"github.com/wlmx/msn/msnp2p/server"
)

// TestP2PServer represents a direct-connect peer that can be used for
// 'on-board' testing. It accepts localhost connections on an ephemeral port
// (available via Address()), runs the responder handshake and records every
// transport packet it receives, per connection.
type TestP2PServer struct {
	srv  server.Server
	tctx assert.TestingT

	mu       sync.Mutex
	cond     *sync.Cond
	sessions []*SessionHandler
	echo     bool
}

// NewTestP2PServer creates a new TestP2PServer.
// tctx will be used for handling failures; if the supplied value is nil, a
// default test context will be used.
func NewTestP2PServer(tctx assert.TestingT) *TestP2PServer {
	ts := &TestP2PServer{}
	ts.cond = sync.NewCond(&ts.mu)

	if tctx == nil {
		// Default test context to built-in implementation.
		tctx = ts
	}
	ts.tctx = tctx

	srv, err := server.NewServer(context.Background(), "127.0.0.1:0", ts.newFactory(),
		server.Hooks(ts.hooks()))
	assert.NoError(tctx, err, "Failed to start test P2P server")
	ts.srv = srv

	return ts
}

// WithEcho makes the server reflect every received transport packet back to
// the peer that sent it.
func (ts *TestP2PServer) WithEcho() *TestP2PServer {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.echo = true
	return ts
}

// Address delivers the address client sessions should dial.
func (ts *TestP2PServer) Address() string {
	return ts.srv.Addr().String()
}

// Close stops the listener.
func (ts *TestP2PServer) Close() {
	_ = ts.srv.Close()
}

// WaitSession blocks until at least one connection has been accepted, and
// delivers the handler of the most recent one.
func (ts *TestP2PServer) WaitSession() *SessionHandler {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for len(ts.sessions) == 0 {
		ts.cond.Wait()
	}
	return ts.sessions[len(ts.sessions)-1]
}

// SessionCount delivers the number of connections accepted so far.
func (ts *TestP2PServer) SessionCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.sessions)
}

func (ts *TestP2PServer) newFactory() server.HandlerFactory {
	return func(remoteAddr net.Addr, sender server.Sender) server.Handler {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		sh := newSessionHandler(remoteAddr, sender, ts.echo)
		ts.sessions = append(ts.sessions, sh)
		ts.cond.Broadcast()
		return sh
	}
}

func (ts *TestP2PServer) hooks() *server.ServerHooks {
	return &server.ServerHooks{
		NonceReceived: func(remoteAddr net.Addr, nonce uuid.UUID) {
			if sh := ts.handlerFor(remoteAddr); sh != nil {
				sh.setPeerNonce(nonce)
			}
		},
	}
}

func (ts *TestP2PServer) handlerFor(remoteAddr net.Addr) *SessionHandler {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, sh := range ts.sessions {
		if sh.remoteAddr.String() == remoteAddr.String() {
			return sh
		}
	}
	return nil
}

// Errorf provides testing.T compatibility if a test context is not provided
// when the test server is created.
func (ts *TestP2PServer) Errorf(format string, args ...interface{}) {
	fmt.Printf(format, args...)
}

// FailNow provides testing.T compatibility if a test context is not provided
// when the test server is created.
func (ts *TestP2PServer) FailNow() {
	runtime.Goexit()
}

// SessionHandler records what one connection received.
type SessionHandler struct {
	remoteAddr net.Addr
	sender     server.Sender
	echo       bool

	mu        sync.Mutex
	cond      *sync.Cond
	packets   []*common.TransportPacket
	peerNonce uuid.UUID
	gotNonce  bool
}

func newSessionHandler(remoteAddr net.Addr, sender server.Sender, echo bool) *SessionHandler {
	sh := &SessionHandler{remoteAddr: remoteAddr, sender: sender, echo: echo}
	sh.cond = sync.NewCond(&sh.mu)
	return sh
}

// HandlePacket implements server.Handler.
func (sh *SessionHandler) HandlePacket(pkt *common.TransportPacket) {
	sh.mu.Lock()
	sh.packets = append(sh.packets, pkt)
	sh.cond.Broadcast()
	sh.mu.Unlock()

	if sh.echo {
		_ = sh.sender.Send(pkt)
	}
}

// Send writes a transport packet to the connection's peer.
func (sh *SessionHandler) Send(pkt *common.TransportPacket) error {
	return sh.sender.Send(pkt)
}

// WaitPackets blocks until at least n packets have been received, and
// delivers them.
func (sh *SessionHandler) WaitPackets(n int) []*common.TransportPacket {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for len(sh.packets) < n {
		sh.cond.Wait()
	}
	out := make([]*common.TransportPacket, len(sh.packets))
	copy(out, sh.packets)
	return out
}

// WaitNonce blocks until the peer's nonce has arrived, and delivers it.
func (sh *SessionHandler) WaitNonce() uuid.UUID {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	for !sh.gotNonce {
		sh.cond.Wait()
	}
	return sh.peerNonce
}

// PacketCount delivers the number of packets received so far.
func (sh *SessionHandler) PacketCount() int {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.packets)
}

func (sh *SessionHandler) setPeerNonce(nonce uuid.UUID) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.peerNonce = nonce
	sh.gotNonce = true
	sh.cond.Broadcast()
}
