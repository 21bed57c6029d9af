package server

import (
	"log"
	"net"

	"github.com/google/uuid"
)

// ServerHooks defines a structure for handling server hook events.
type ServerHooks struct {
	// StartListening is called when the server is about to start accepting
	// connections.
	StartListening func(addr net.Addr)

	// StopListening is called when the server has stopped accepting
	// connections.
	StopListening func(addr net.Addr, err error)

	// Accepted is called when a connection has been accepted.
	Accepted func(remoteAddr net.Addr)

	// NonceReceived is called when a peer's nonce arrives, before the
	// server's nonce is sent in reply.
	NonceReceived func(remoteAddr net.Addr, nonce uuid.UUID)

	// SessionEnded is called after a connection has been closed, with err
	// indicating any error condition.
	SessionEnded func(remoteAddr net.Addr, err error)

	// Error is called after an error condition has been detected.
	Error func(remoteAddr net.Addr, err error)
}

// DefaultServerHooks provides a default logging hook to report server errors.
var DefaultServerHooks = &ServerHooks{
	Error: func(remoteAddr net.Addr, err error) {
		log.Printf("Error peer:%v err:%v\n", remoteAddr, err)
	},
	SessionEnded: func(remoteAddr net.Addr, err error) {
		if err != nil {
			log.Printf("SessionEnded peer:%v err:%v\n", remoteAddr, err)
		}
	},
}

// DiagnosticServerHooks provides a set of default diagnostic server hooks.
var DiagnosticServerHooks = &ServerHooks{
	StartListening: func(addr net.Addr) {
		log.Printf("StartListening address:%s\n", addr)
	},
	StopListening: func(addr net.Addr, err error) {
		log.Printf("StopListening address:%s err:%v\n", addr, err)
	},
	Accepted: func(remoteAddr net.Addr) {
		log.Printf("Accepted peer:%s\n", remoteAddr)
	},
	NonceReceived: func(remoteAddr net.Addr, nonce uuid.UUID) {
		log.Printf("NonceReceived peer:%s nonce:%s\n", remoteAddr, nonce)
	},
	SessionEnded: func(remoteAddr net.Addr, err error) {
		log.Printf("SessionEnded peer:%s err:%v\n", remoteAddr, err)
	},
	Error: func(remoteAddr net.Addr, err error) {
		log.Printf("Error peer:%v err:%v\n", remoteAddr, err)
	},
}

// NoOpServerHooks provides a set of server hooks that do nothing.
var NoOpServerHooks = &ServerHooks{
	StartListening: func(addr net.Addr) {},
	StopListening:  func(addr net.Addr, err error) {},
	Accepted:       func(remoteAddr net.Addr) {},
	NonceReceived:  func(remoteAddr net.Addr, nonce uuid.UUID) {},
	SessionEnded:   func(remoteAddr net.Addr, err error) {},
	Error:          func(remoteAddr net.Addr, err error) {},
}
