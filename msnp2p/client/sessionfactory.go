package client

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/imdario/mergo"

	"github.com/wlmx/msn/msnp2p/common"
)

// Dial establishes a TCP connection to the peer's direct-connect endpoint
// and runs the initiator handshake over it.
func Dial(ctx context.Context, target string, handler Handler, opts ...SessionOption) (Session, error) {
	cfg := resolveConfig(opts)

	conn, err := newConnection(ctx, target, cfg)
	if err != nil {
		cfg.trace.Error("Network Connection", target, err)
		return nil, err
	}

	return newSession(conn, handler, cfg)
}

// newConnection delivers a new TCP connection to the supplied target.
func newConnection(ctx context.Context, target string, cfg *sessionConfig) (conn net.Conn, err error) {
	defer func(begin time.Time) {
		cfg.trace.ConnectDone(target, err, time.Since(begin))
	}(time.Now())
	cfg.trace.ConnectStart(target)

	var d net.Dialer
	return d.DialContext(ctx, "tcp", target)
}

// SessionOption implements options for configuring session behaviour.
type SessionOption func(*sessionConfig)

// ReadBufferSize defines the size of the transport read buffer.
// Default value is 2048.
func ReadBufferSize(bytes int) SessionOption {
	return func(c *sessionConfig) {
		if bytes > 0 {
			c.readBufferSize = bytes
		}
	}
}

// LocalNonce defines the nonce presented to the peer during the handshake.
// Default value is a freshly generated one.
func LocalNonce(nonce uuid.UUID) SessionOption {
	return func(c *sessionConfig) {
		c.localNonce = nonce
	}
}

// PacketDecoder defines the transport packet decoder used for inbound data
// frames. Default value is common.NewPacketDecoder().
func PacketDecoder(pd common.PacketDecoder) SessionOption {
	return func(c *sessionConfig) {
		c.packets = pd
	}
}

// LoggingHooks defines a set of logging hooks to be used by the session.
// Default value is DefaultLoggingHooks.
func LoggingHooks(trace *SessionTrace) SessionOption {
	return func(c *sessionConfig) {
		c.trace = trace
	}
}

type sessionConfig struct {
	readBufferSize int
	localNonce     uuid.UUID
	packets        common.PacketDecoder
	trace          *SessionTrace
}

func resolveConfig(opts []SessionOption) *sessionConfig {
	cfg := &sessionConfig{
		readBufferSize: 2048,
		localNonce:     uuid.New(),
		packets:        common.NewPacketDecoder(),
		trace:          DefaultLoggingHooks,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	_ = mergo.Merge(cfg.trace, NoOpLoggingHooks)
	return cfg
}
