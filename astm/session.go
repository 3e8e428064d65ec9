package astm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-astm/logger"
)

// MessageReceiver consumes the messages assembled by a Session.
//
// ReceiveMessage is called once per final (ETX) frame with the text of all
// frames since the previous final frame. A non-nil error aborts the session.
// EndTransmission is called when the sender ends, restarts or abandons a
// transmission; any partially received state must be discarded.
//
// Both methods are called from the session goroutine with a context that is
// not cancelled by session shutdown.
type MessageReceiver interface {
	ReceiveMessage(ctx context.Context, msg []byte) error
	EndTransmission(ctx context.Context)
}

// State is the line state of a receiver session.
type State int32

const (
	// StateIdle waits for ENQ.
	StateIdle State = iota
	// StateEstablished receives frames of an accepted transmission.
	StateEstablished
	// StateClosing is entered on EOT until the receiver has been notified.
	StateClosing
)

// String returns a string representation of the state.
func (st State) String() string {
	switch st {
	case StateIdle:
		return "idle"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("unknown(%d)", int32(st))
	}
}

// Session implements the receiving side of the E1381 low-level protocol on a
// single connection.
//
// A Session is not goroutine-safe except for State. Serve must be called once;
// it returns when the peer disconnects, the context is cancelled or the
// session aborts.
type Session struct {
	conn     net.Conn
	reader   *bufio.Reader
	cfg      *SessionConfig
	logger   logger.Logger
	metrics  *SessionMetrics
	receiver MessageReceiver

	state  atomic.Int32
	served atomic.Bool

	expected     int // frame number expected next
	lastAccepted int // frame number of the last accepted frame, -1 if none
	retries      int // consecutive NAKs for the current frame
	partial      []byte
}

// NewSession creates a receiver session on conn delivering messages to r.
// A nil cfg uses the defaults of NewSessionConfig.
func NewSession(conn net.Conn, r MessageReceiver, cfg *SessionConfig) (*Session, error) {
	if r == nil {
		return nil, ErrReceiverNil
	}

	if cfg == nil {
		var err error
		if cfg, err = NewSessionConfig(); err != nil {
			return nil, err
		}
	}

	var src io.Reader = conn
	if cfg.dump != nil {
		src = io.TeeReader(conn, quietWriter{cfg.dump})
	}

	s := &Session{
		conn:         conn,
		reader:       bufio.NewReaderSize(src, MaxFrameSize+1),
		cfg:          cfg,
		logger:       cfg.logger,
		metrics:      cfg.metrics,
		receiver:     r,
		lastAccepted: -1,
	}

	return s, nil
}

// State returns the current line state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Metrics returns the metrics sink of the session.
func (s *Session) Metrics() *SessionMetrics {
	return s.metrics
}

// Serve runs the session until the peer closes the connection (nil error),
// ctx is cancelled (nil error) or the session aborts.
//
// Abort errors wrap ErrRetryLimitExceeded or ErrSessionAborted. Serve does not
// close the connection.
func (s *Session) Serve(ctx context.Context) error {
	if !s.served.CompareAndSwap(false, true) {
		return ErrSessionNotFresh
	}

	for {
		if ctx.Err() != nil {
			s.abandon(ctx, "shutdown")

			return nil
		}

		var err error

		switch s.State() {
		case StateIdle:
			err = s.pollIdle(ctx)
		default:
			err = s.receiveNext(ctx)
		}

		if err == nil {
			continue
		}

		if isConnClosedError(err) || isConnResetError(err) {
			s.logger.Debug("astm: connection closed by peer", "state", s.State().String())
			s.abandon(ctx, "connection closed")

			return nil
		}

		return err
	}
}

// pollIdle reads a single byte with a short deadline and opens a transmission
// on ENQ. Other bytes are ignored.
func (s *Session) pollIdle(ctx context.Context) error {
	b, err := s.readByte(s.cfg.pollInterval)
	if err != nil {
		if isTimeoutError(err) {
			return nil
		}

		return err
	}

	if b != ENQ {
		s.logger.Debug("astm: unexpected byte in idle state", "byte", fmt.Sprintf("0x%02X", b))

		return nil
	}

	return s.establish(ctx)
}

// establish accepts a transmission: ACK the ENQ and expect frame 1.
// The line state is Established before the peer can observe the ACK.
func (s *Session) establish(_ context.Context) error {
	s.resetFrames()
	s.state.Store(int32(StateEstablished))

	if err := s.writeByte(ACK); err != nil {
		s.state.Store(int32(StateIdle))

		return fmt.Errorf("astm: send ACK to ENQ: %w", err)
	}

	s.metrics.incTransmissionCount()

	s.logger.Debug("astm: transmission established")

	return nil
}

// receiveNext waits up to the receive timeout for the next frame, EOT or ENQ.
func (s *Session) receiveNext(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.receiveTimeout)

	for {
		if ctx.Err() != nil {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.logger.Warn("astm: receive timeout, transmission aborted",
				"timeout", s.cfg.receiveTimeout.String(),
				"partialBytes", len(s.partial),
			)
			s.abandon(ctx, ErrReceiveTimeout.Error())

			return nil
		}

		b, err := s.readByte(min(remaining, s.cfg.pollInterval))
		if err != nil {
			if isTimeoutError(err) {
				continue
			}

			return err
		}

		switch b {
		case STX:
			return s.receiveFrame(ctx)

		case EOT:
			s.state.Store(int32(StateClosing))
			s.logger.Debug("astm: end of transmission", "partialBytes", len(s.partial))
			s.abandon(ctx, "EOT")

			return nil

		case ENQ:
			s.logger.Info("astm: ENQ while established, restarting transmission")
			s.abandon(ctx, "restart")

			return s.establish(ctx)

		default:
			s.logger.Debug("astm: ignored byte between frames", "byte", fmt.Sprintf("0x%02X", b))
		}
	}
}

// receiveFrame reads the remainder of a frame whose STX has been consumed,
// validates it and answers ACK or NAK.
func (s *Session) receiveFrame(ctx context.Context) error {
	raw, err := s.readFrame()
	s.metrics.incFrameRecvCount()

	if err != nil {
		if !isTimeoutError(err) {
			return err
		}

		return s.reject(ctx, fmt.Errorf("%w: %w", ErrCharTimeout, err))
	}

	frame, err := DecodeFrame(raw)
	if err != nil {
		return s.reject(ctx, err)
	}

	switch {
	case frame.Seq == s.expected:
		return s.accept(ctx, frame)

	case frame.Seq == s.lastAccepted:
		// The sender did not see our ACK and retransmitted.
		s.metrics.incDuplicateFrameCount()
		s.retries = 0
		s.logger.Debug("astm: duplicate frame acknowledged and discarded", "frameNumber", frame.Seq)

		return s.ack()

	default:
		return s.reject(ctx, fmt.Errorf("%w: got %d, want %d", ErrFrameNumber, frame.Seq, s.expected))
	}
}

// accept ACKs a valid frame, buffers its text and forwards a completed message.
func (s *Session) accept(ctx context.Context, frame *Frame) error {
	if err := s.ack(); err != nil {
		return err
	}

	s.partial = append(s.partial, frame.Text...)
	s.lastAccepted = frame.Seq
	s.expected = NextFrameNumber(frame.Seq)
	s.retries = 0

	if !frame.Final {
		return nil
	}

	msg := s.partial
	s.partial = nil
	s.metrics.incMessageCount()

	if err := s.receiver.ReceiveMessage(context.WithoutCancel(ctx), msg); err != nil {
		s.metrics.incAbortCount()
		s.logger.Warn("astm: receiver rejected message, aborting session", "error", err)
		s.abandon(ctx, "receiver error")

		return fmt.Errorf("%w: %w", ErrSessionAborted, err)
	}

	return nil
}

// reject NAKs an invalid frame and aborts once the retry limit is reached.
func (s *Session) reject(ctx context.Context, cause error) error {
	s.retries++
	s.metrics.incFrameNakCount()

	s.logger.Debug("astm: frame rejected",
		"error", cause,
		"retry", s.retries,
		"maxRetry", s.cfg.retryLimit,
	)

	if err := s.writeByte(NAK); err != nil {
		return fmt.Errorf("astm: send NAK: %w", err)
	}

	if s.retries >= s.cfg.retryLimit {
		s.metrics.incAbortCount()
		s.logger.Warn("astm: frame retry limit reached, aborting session",
			"retries", s.retries,
			"error", cause,
		)
		s.abandon(ctx, "retry limit")

		return fmt.Errorf("%w: %w", ErrRetryLimitExceeded, cause)
	}

	return nil
}

// abandon drops any partial message, notifies the receiver when a
// transmission was open and returns to idle.
func (s *Session) abandon(ctx context.Context, reason string) {
	if s.State() == StateIdle {
		return
	}

	if len(s.partial) > 0 {
		s.metrics.incDiscardedMessageCount()
		s.logger.Debug("astm: partial message discarded", "reason", reason, "bytes", len(s.partial))
	}

	s.receiver.EndTransmission(context.WithoutCancel(ctx))
	s.resetFrames()
	s.state.Store(int32(StateIdle))
}

func (s *Session) resetFrames() {
	s.expected = FirstFrameNumber
	s.lastAccepted = -1
	s.retries = 0
	s.partial = nil
}

func (s *Session) ack() error {
	if err := s.writeByte(ACK); err != nil {
		return fmt.Errorf("astm: send ACK: %w", err)
	}
	s.metrics.incFrameAckCount()

	return nil
}

// --- Low-level I/O helpers ---

// readByte reads a single byte with the given timeout.
func (s *Session) readByte(timeout time.Duration) (byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}

	return s.reader.ReadByte()
}

// readFrame reads from after STX through LF, applying the inter-character
// timeout to each byte. Bytes beyond MaxFrameSize are consumed but not kept,
// which makes DecodeFrame reject the frame.
func (s *Session) readFrame() ([]byte, error) {
	buf := make([]byte, 0, MaxFrameSize+1)
	buf = append(buf, STX)

	for {
		b, err := s.readByte(s.cfg.charTimeout)
		if err != nil {
			return nil, err
		}

		if len(buf) <= MaxFrameSize {
			buf = append(buf, b)
		}

		if b == LF {
			return buf, nil
		}
	}
}

// writeByte writes a single handshake byte (ACK or NAK).
func (s *Session) writeByte(b byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.charTimeout)); err != nil {
		return err
	}

	_, err := s.conn.Write([]byte{b})

	return err
}

// quietWriter discards write errors of a dump sink so that a failing dump
// never breaks the session.
type quietWriter struct {
	w io.Writer
}

func (q quietWriter) Write(p []byte) (int, error) {
	_, _ = q.w.Write(p)

	return len(p), nil
}

// --- Helpers ---

func isTimeoutError(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnClosedError(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

func isConnResetError(err error) bool {
	return strings.Contains(err.Error(), "connection reset by peer")
}
