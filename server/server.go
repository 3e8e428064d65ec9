// Package server accepts instrument connections and runs one ASTM session
// with its own dispatcher per connection. The committer passed to NewServer
// is the only state shared between connections.
//
// Shutdown stops accepting, cancels all sessions and waits up to the
// shutdown timeout. A session notices cancellation between bytes; a commit
// already running finishes on a context detached from cancellation. Sockets
// still open when the timeout expires are closed.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-astm/astm"
	"github.com/arloliu/go-astm/dispatch"
	"github.com/arloliu/go-astm/dump"
	"github.com/arloliu/go-astm/internal/pool"
	"github.com/arloliu/go-astm/internal/task"
	"github.com/arloliu/go-astm/logger"
)

// Sentinel errors.
var (
	ErrServerStarted = errors.New("server: already started")
	ErrServerClosed  = errors.New("server: closed")
	ErrCommitterNil  = errors.New("server: committer is nil")
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// ConnInfo describes an active connection.
type ConnInfo struct {
	ID        string
	Remote    string
	Since     time.Time
	LineState astm.State
}

type connection struct {
	id      string
	conn    net.Conn
	since   time.Time
	session atomic.Pointer[astm.Session]
}

func (c *connection) info() ConnInfo {
	ci := ConnInfo{ID: c.id, Remote: c.conn.RemoteAddr().String(), Since: c.since}
	if s := c.session.Load(); s != nil {
		ci.LineState = s.State()
	}

	return ci
}

// Server is the connection supervisor.
type Server struct {
	cfg       *ServerConfig
	committer dispatch.Committer
	logger    logger.Logger
	metrics   *astm.SessionMetrics

	state    atomicOpState
	served   atomic.Bool
	conns    *xsync.MapOf[string, *connection]
	accepted atomic.Uint64
	rejected atomic.Uint64

	mu       sync.Mutex
	listener net.Listener

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewServer creates a server committing closed batches with committer. A nil
// cfg uses NewServerConfig defaults.
func NewServer(cfg *ServerConfig, committer dispatch.Committer) (*Server, error) {
	if committer == nil {
		return nil, ErrCommitterNil
	}

	if cfg == nil {
		var err error
		if cfg, err = NewServerConfig(""); err != nil {
			return nil, err
		}
	}

	return &Server{
		cfg:       cfg,
		committer: committer,
		logger:    cfg.logger,
		metrics:   &astm.SessionMetrics{},
		conns:     xsync.NewMapOf[string, *connection](),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// ListenAndServe listens on the configured TCP address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.cfg.address)
	if err != nil {
		s.logger.Error("server: failed to listen", "address", s.cfg.address, "error", err)
		return fmt.Errorf("server: listen %s: %w", s.cfg.address, err)
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Shutdown is called,
// then shuts down gracefully and returns nil. Serve takes ownership of ln
// and may be called once.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.served.CompareAndSwap(false, true) {
		return ErrServerStarted
	}

	select {
	case <-s.stopCh:
		_ = ln.Close()
		close(s.doneCh)

		return ErrServerClosed
	default:
	}

	s.state.toOpening()

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	taskMgr := task.NewManager(ctx, s.logger)

	if err := taskMgr.Start("accept", func() bool { return s.acceptOnce(taskMgr, ln) }); err != nil {
		_ = ln.Close()
		s.state.toClosed()
		close(s.doneCh)

		return fmt.Errorf("server: start accept loop: %w", err)
	}

	if s.cfg.statsInterval > 0 {
		_ = taskMgr.StartInterval("stats", s.logStats, s.cfg.statsInterval)
	}

	s.state.toOpened()
	s.logger.Info("server: accepting connections", "address", ln.Addr().String())

	select {
	case <-ctx.Done():
	case <-s.stopCh:
	}

	s.shutdown(taskMgr, ln)

	return nil
}

// Shutdown stops the server and waits until it has shut down or ctx is done.
// When ctx ends first, all remaining sockets are closed and ctx's error is
// returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if !s.served.Load() {
		return nil
	}

	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		s.closeConnections()
		return ctx.Err()
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// State returns the operational state.
func (s *Server) State() OpState {
	return s.state.Get()
}

// Metrics returns the session metrics aggregated over all connections.
func (s *Server) Metrics() *astm.SessionMetrics {
	return s.metrics
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	return s.conns.Size()
}

// Connections describes the open connections, oldest first.
func (s *Server) Connections() []ConnInfo {
	infos := make([]ConnInfo, 0, s.conns.Size())
	s.conns.Range(func(_ string, c *connection) bool {
		infos = append(infos, c.info())
		return true
	})

	sort.Slice(infos, func(i, j int) bool { return infos[i].Since.Before(infos[j].Since) })

	return infos
}

func (s *Server) shutdown(taskMgr *task.Manager, ln net.Listener) {
	s.state.toClosing()
	s.logger.Info("server: shutting down", "activeConnections", s.ActiveConnections())

	_ = ln.Close()
	taskMgr.Stop()

	if !taskMgr.WaitTimeout(s.cfg.shutdownTimeout) {
		s.logger.Warn("server: shutdown timeout, closing remaining connections",
			"timeout", s.cfg.shutdownTimeout.String(),
			"activeConnections", s.ActiveConnections(),
		)
		s.closeConnections()

		if !taskMgr.WaitTimeout(s.cfg.shutdownTimeout) {
			s.logger.Error("server: tasks still running after connections were closed",
				"taskCount", taskMgr.TaskCount(),
			)
		}
	}

	s.state.toClosed()
	s.logger.Info("server: stopped")
	close(s.doneCh)
}

func (s *Server) closeConnections() {
	s.conns.Range(func(_ string, c *connection) bool {
		_ = c.conn.Close()
		return true
	})
}

// acceptOnce accepts a single connection. It returns false when the loop
// should end.
func (s *Server) acceptOnce(taskMgr *task.Manager, ln net.Listener) bool {
	var backoff time.Duration

	for {
		conn, err := ln.Accept()
		if err == nil {
			s.startConnection(taskMgr, conn)
			return true
		}

		if errors.Is(err, net.ErrClosed) || taskMgr.Context().Err() != nil {
			return false
		}

		backoff = min(max(2*backoff, minAcceptBackoff), maxAcceptBackoff)
		s.logger.Warn("server: accept failed, retrying", "error", err, "backoff", backoff.String())

		if !pool.Sleep(taskMgr.Context().Done(), backoff) {
			return false
		}
	}
}

func (s *Server) startConnection(taskMgr *task.Manager, conn net.Conn) {
	if s.cfg.maxConnections > 0 && s.conns.Size() >= s.cfg.maxConnections {
		s.rejected.Add(1)
		s.logger.Warn("server: connection limit reached, rejecting",
			"remote", conn.RemoteAddr().String(),
			"maxConnections", s.cfg.maxConnections,
		)
		_ = conn.Close()

		return
	}

	c := &connection{id: uuid.NewString(), conn: conn, since: time.Now()}
	s.conns.Store(c.id, c)
	s.accepted.Add(1)

	err := taskMgr.Go("conn-"+c.id, func(ctx context.Context) {
		defer s.conns.Delete(c.id)
		defer conn.Close()

		s.serveConn(ctx, c)
	})
	if err != nil {
		s.conns.Delete(c.id)
		_ = conn.Close()
	}
}

func (s *Server) serveConn(ctx context.Context, c *connection) {
	l := s.logger.With("connID", c.id, "remote", c.conn.RemoteAddr().String())
	l.Info("server: connection accepted")

	disp, err := dispatch.New(s.committer, s.cfg.connDispatchOptions(dispatch.WithLogger(l))...)
	if err != nil {
		l.Error("server: create dispatcher", "error", err)
		return
	}

	sessOpts := s.cfg.connSessionOptions(astm.WithLogger(l), astm.WithMetrics(s.metrics))

	if dumpOut := s.openDump(c.id, l); dumpOut != nil {
		defer func() {
			if err := dumpOut.Close(); err != nil {
				l.Warn("server: close dump", "error", err)
			}
		}()
		sessOpts = append(sessOpts, astm.WithDump(dump.BestEffort(dumpOut, l)))
	}

	cfg, err := astm.NewSessionConfig(sessOpts...)
	if err != nil {
		l.Error("server: invalid session configuration", "error", err)
		return
	}

	sess, err := astm.NewSession(c.conn, disp, cfg)
	if err != nil {
		l.Error("server: create session", "error", err)
		return
	}
	c.session.Store(sess)

	if err := sess.Serve(ctx); err != nil {
		l.Warn("server: session aborted", "error", err)
		return
	}

	l.Info("server: connection closed", "duration", time.Since(c.since).String())
}

// openDump opens the dump file for a connection. Failure is logged and the
// connection is served without a dump.
func (s *Server) openDump(connID string, l logger.Logger) io.WriteCloser {
	if s.cfg.dumpDir == "" {
		return nil
	}

	w, err := dump.Open(s.cfg.dumpDir, connID, s.cfg.dumpCompression)
	if err != nil {
		l.Warn("server: dump disabled for connection", "error", err)
		return nil
	}

	return w
}

func (s *Server) logStats() bool {
	m := s.metrics
	s.logger.Info("server: stats",
		"activeConnections", s.ActiveConnections(),
		"acceptedConnections", s.accepted.Load(),
		"rejectedConnections", s.rejected.Load(),
		"transmissions", m.TransmissionCount.Load(),
		"frames", m.FrameRecvCount.Load(),
		"naks", m.FrameNakCount.Load(),
		"messages", m.MessageCount.Load(),
		"discardedMessages", m.DiscardedMessageCount.Load(),
		"aborts", m.AbortCount.Load(),
	)

	return true
}
