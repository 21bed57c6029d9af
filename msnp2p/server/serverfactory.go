package server

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/imdario/mergo"
)

// NewServer starts a server listening for direct connections on the
// supplied address. The handler factory is invoked once per accepted
// connection.
func NewServer(ctx context.Context, address string, factory HandlerFactory, opts ...ServerOption) (Server, error) {
	config := defaultConfig
	for _, opt := range opts {
		opt(&config)
	}

	_ = mergo.Merge(config.hooks, NoOpServerHooks)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		config.hooks.Error(nil, err)
		return nil, err
	}

	s := &serverImpl{listener: listener, config: &config, factory: factory, conns: map[net.Conn]struct{}{}}
	s.handleConnections()
	return s, nil
}

// ServerOption implements options for configuring server behaviour.
type ServerOption func(*serverConfig)

// ReadBufferSize defines the size of the per-connection read buffer.
// Default value is 2048.
func ReadBufferSize(bytes int) ServerOption {
	return func(c *serverConfig) {
		if bytes > 0 {
			c.readBufferSize = bytes
		}
	}
}

// ReadTimeout defines how long a connection may stay silent between reads
// before it is dropped. Zero, the default, means no timeout.
func ReadTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.readTimeout = d
	}
}

// LocalNonce defines the nonce the server presents on every connection.
// Default behaviour generates a fresh nonce per connection.
func LocalNonce(nonce uuid.UUID) ServerOption {
	return func(c *serverConfig) {
		c.localNonce = func() uuid.UUID { return nonce }
	}
}

// Hooks defines a set of server hooks to be used by the server.
// Default value is DefaultServerHooks.
func Hooks(hooks *ServerHooks) ServerOption {
	return func(c *serverConfig) {
		c.hooks = hooks
	}
}

type serverConfig struct {
	readBufferSize int
	readTimeout    time.Duration
	localNonce     func() uuid.UUID
	hooks          *ServerHooks
}

var defaultConfig = serverConfig{
	readBufferSize: 2048,
	localNonce:     uuid.New,
	hooks:          DefaultServerHooks,
}
