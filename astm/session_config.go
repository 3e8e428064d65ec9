package astm

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/arloliu/go-astm/logger"
)

// Default timing and retry values (ASTM E1381 §6.5).
const (
	DefaultCharTimeout    = 15 * time.Second
	DefaultReceiveTimeout = 30 * time.Second
	DefaultPollInterval   = 50 * time.Millisecond
	DefaultRetryLimit     = 6
)

// Range limits for the options below.
const (
	MinCharTimeout    = 10 * time.Millisecond
	MaxCharTimeout    = 60 * time.Second
	MinReceiveTimeout = 50 * time.Millisecond
	MaxReceiveTimeout = 10 * time.Minute
	MaxRetryLimit     = 31
)

// SessionConfig holds the configuration of a receiver session.
type SessionConfig struct {
	charTimeout    time.Duration
	receiveTimeout time.Duration
	pollInterval   time.Duration
	retryLimit     int

	logger  logger.Logger
	dump    io.Writer
	metrics *SessionMetrics
}

// NewSessionConfig creates a session configuration with E1381 defaults and
// applies opts in order.
func NewSessionConfig(opts ...SessionOption) (*SessionConfig, error) {
	cfg := &SessionConfig{
		charTimeout:    DefaultCharTimeout,
		receiveTimeout: DefaultReceiveTimeout,
		pollInterval:   DefaultPollInterval,
		retryLimit:     DefaultRetryLimit,
		logger:         logger.GetLogger(),
		metrics:        &SessionMetrics{},
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// CharTimeout returns the inter-character timeout within a frame.
func (cfg *SessionConfig) CharTimeout() time.Duration { return cfg.charTimeout }

// ReceiveTimeout returns the maximum wait for the next frame or EOT.
func (cfg *SessionConfig) ReceiveTimeout() time.Duration { return cfg.receiveTimeout }

// RetryLimit returns the number of consecutive NAKs for one frame that abort the session.
func (cfg *SessionConfig) RetryLimit() int { return cfg.retryLimit }

// Metrics returns the metrics sink shared by sessions created from this config.
func (cfg *SessionConfig) Metrics() *SessionMetrics { return cfg.metrics }

// GetLogger returns the configured logger.
func (cfg *SessionConfig) GetLogger() logger.Logger { return cfg.logger }

// --- SessionOption ---

// SessionOption is a functional option for configuring a SessionConfig.
type SessionOption interface {
	apply(*SessionConfig) error
}

type sessionOptFunc func(*SessionConfig) error

func (f sessionOptFunc) apply(cfg *SessionConfig) error { return f(cfg) }

// WithCharTimeout sets the inter-character timeout within a frame.
func WithCharTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d < MinCharTimeout || d > MaxCharTimeout {
			return fmt.Errorf("astm: char timeout %v out of range [%v, %v]", d, MinCharTimeout, MaxCharTimeout)
		}
		cfg.charTimeout = d

		return nil
	})
}

// WithReceiveTimeout sets how long an established transmission waits for
// the next frame or EOT before it is considered aborted.
func WithReceiveTimeout(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d < MinReceiveTimeout || d > MaxReceiveTimeout {
			return fmt.Errorf("astm: receive timeout %v out of range [%v, %v]", d, MinReceiveTimeout, MaxReceiveTimeout)
		}
		cfg.receiveTimeout = d

		return nil
	})
}

// WithPollInterval sets the read deadline used while idle to observe
// context cancellation.
func WithPollInterval(d time.Duration) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if d <= 0 {
			return errors.New("astm: poll interval must be positive")
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithRetryLimit sets the number of consecutive NAKs for the same frame
// after which the session is aborted. Must be in [1, 31].
func WithRetryLimit(n int) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if n < 1 || n > MaxRetryLimit {
			return fmt.Errorf("astm: retry limit %d out of range [1, %d]", n, MaxRetryLimit)
		}
		cfg.retryLimit = n

		return nil
	})
}

// WithLogger sets the logger for the session.
func WithLogger(l logger.Logger) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if l == nil {
			return errors.New("astm: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithDump sets a writer receiving a copy of every byte read from the wire.
// The writer must not block; write errors are ignored by the session.
func WithDump(w io.Writer) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		cfg.dump = w

		return nil
	})
}

// WithMetrics sets a shared metrics sink.
func WithMetrics(m *SessionMetrics) SessionOption {
	return sessionOptFunc(func(cfg *SessionConfig) error {
		if m == nil {
			return errors.New("astm: metrics must not be nil")
		}
		cfg.metrics = m

		return nil
	})
}
