package server

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/arloliu/go-astm/astm"
	"github.com/arloliu/go-astm/dispatch"
	"github.com/arloliu/go-astm/dump"
	"github.com/arloliu/go-astm/logger"
)

// Defaults.
const (
	DefaultAddress         = ":3000"
	DefaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds the configuration of a Server.
type ServerConfig struct {
	// address is the TCP listen address used by ListenAndServe.
	address string

	// sessionOpts and dispatchOpts are applied to every connection before
	// the per-connection logger, metrics and dump writer.
	sessionOpts  []astm.SessionOption
	dispatchOpts []dispatch.Option

	// dumpDir enables raw byte dumps when not empty.
	dumpDir         string
	dumpCompression dump.Compression

	// shutdownTimeout bounds how long Shutdown waits for sessions to end
	// before their sockets are closed.
	shutdownTimeout time.Duration

	// statsInterval enables periodic metric logging when positive.
	statsInterval time.Duration

	// maxConnections limits concurrent connections; 0 means unlimited.
	maxConnections int

	logger logger.Logger
}

// NewServerConfig creates a server configuration listening on address.
func NewServerConfig(address string, opts ...ServerOption) (*ServerConfig, error) {
	if address == "" {
		address = DefaultAddress
	}

	cfg := &ServerConfig{
		address:         address,
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Address returns the listen address.
func (cfg *ServerConfig) Address() string { return cfg.address }

// ShutdownTimeout returns the graceful shutdown bound.
func (cfg *ServerConfig) ShutdownTimeout() time.Duration { return cfg.shutdownTimeout }

// ServerOption configures a ServerConfig.
type ServerOption interface {
	apply(*ServerConfig) error
}

type serverOptFunc func(*ServerConfig) error

func (f serverOptFunc) apply(cfg *ServerConfig) error { return f(cfg) }

// WithSessionOptions adds options applied to every connection's session.
func WithSessionOptions(opts ...astm.SessionOption) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		cfg.sessionOpts = append(cfg.sessionOpts, opts...)

		return nil
	})
}

// WithDispatchOptions adds options applied to every connection's dispatcher.
func WithDispatchOptions(opts ...dispatch.Option) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		cfg.dispatchOpts = append(cfg.dispatchOpts, opts...)

		return nil
	})
}

// WithDump enables raw byte dumps of every connection into dir.
func WithDump(dir string, c dump.Compression) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		cfg.dumpDir = dir
		cfg.dumpCompression = c

		return nil
	})
}

// WithShutdownTimeout sets how long Shutdown waits for sessions to end.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if d <= 0 {
			return fmt.Errorf("server: shutdown timeout must be positive, got %v", d)
		}
		cfg.shutdownTimeout = d

		return nil
	})
}

// WithStatsInterval logs connection and session metrics every d. Zero
// disables it.
func WithStatsInterval(d time.Duration) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if d < 0 {
			return fmt.Errorf("server: stats interval must not be negative, got %v", d)
		}
		cfg.statsInterval = d

		return nil
	})
}

// WithMaxConnections limits the number of concurrent connections. Zero means
// unlimited.
func WithMaxConnections(n int) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if n < 0 {
			return fmt.Errorf("server: max connections must not be negative, got %d", n)
		}
		cfg.maxConnections = n

		return nil
	})
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return serverOptFunc(func(cfg *ServerConfig) error {
		if l == nil {
			return errors.New("server: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

func (cfg *ServerConfig) connSessionOptions(extra ...astm.SessionOption) []astm.SessionOption {
	return append(slices.Clip(cfg.sessionOpts), extra...)
}

func (cfg *ServerConfig) connDispatchOptions(extra ...dispatch.Option) []dispatch.Option {
	return append(slices.Clip(cfg.dispatchOpts), extra...)
}
