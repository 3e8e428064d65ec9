package astm

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-astm/logger"
)

const testWait = 2 * time.Second

// newTestSessionConfig creates a SessionConfig with short timeouts suitable for tests.
func newTestSessionConfig(t *testing.T, opts ...SessionOption) *SessionConfig {
	t.Helper()

	defaults := []SessionOption{
		WithCharTimeout(500 * time.Millisecond),
		WithReceiveTimeout(2 * time.Second),
		WithPollInterval(10 * time.Millisecond),
		WithLogger(logger.NewSlogWriter(io.Discard, logger.DebugLevel, false, false)),
	}

	cfg, err := NewSessionConfig(append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestSessionConfig: %v", err)
	}

	return cfg
}

// testSession bundles a running Session with the remote end of its pipe.
type testSession struct {
	sess   *Session
	remote net.Conn
	recv   *chanReceiver
	done   chan error
	cancel context.CancelFunc
}

// startTestSession serves a Session on the local end of net.Pipe().
func startTestSession(t *testing.T, cfg *SessionConfig) *testSession {
	t.Helper()

	local, remote := net.Pipe()
	recv := newChanReceiver()

	sess, err := NewSession(local, recv, cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testSession{sess: sess, remote: remote, recv: recv, done: make(chan error, 1), cancel: cancel}

	go func() {
		ts.done <- sess.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		_ = local.Close()
		_ = remote.Close()
	})

	return ts
}

// chanReceiver is a MessageReceiver that publishes messages on channels.
type chanReceiver struct {
	msgs chan []byte
	ends chan struct{}

	mu  sync.Mutex
	err error
}

func newChanReceiver() *chanReceiver {
	return &chanReceiver{
		msgs: make(chan []byte, 16),
		ends: make(chan struct{}, 16),
	}
}

func (r *chanReceiver) ReceiveMessage(_ context.Context, msg []byte) error {
	r.msgs <- append([]byte(nil), msg...)

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

func (r *chanReceiver) EndTransmission(_ context.Context) {
	r.ends <- struct{}{}
}

func (r *chanReceiver) failWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// waitMessage waits for the next delivered message.
func waitMessage(t *testing.T, r *chanReceiver) []byte {
	t.Helper()

	select {
	case msg := <-r.msgs:
		return msg
	case <-time.After(testWait):
		t.Fatal("timed out waiting for message")
	}

	return nil
}

// waitEnd waits for the next EndTransmission notification.
func waitEnd(t *testing.T, r *chanReceiver) {
	t.Helper()

	select {
	case <-r.ends:
	case <-time.After(testWait):
		t.Fatal("timed out waiting for end of transmission")
	}
}

// assertNoMessage fails if a message is delivered within d.
func assertNoMessage(t *testing.T, r *chanReceiver, d time.Duration) {
	t.Helper()

	select {
	case msg := <-r.msgs:
		t.Fatalf("unexpected message %q", msg)
	case <-time.After(d):
	}
}

// waitDone waits for Serve to return.
func waitDone(t *testing.T, ts *testSession) error {
	t.Helper()

	select {
	case err := <-ts.done:
		return err
	case <-time.After(testWait):
		t.Fatal("timed out waiting for session to end")
	}

	return nil
}

// mustEncode encodes a frame, failing the test on error.
func mustEncode(t *testing.T, seq int, text string, final bool) []byte {
	t.Helper()

	raw, err := Encode(seq, []byte(text), final)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	return raw
}

// mustWrite writes data to w, failing the test on error.
func mustWrite(t *testing.T, w io.Writer, data []byte) {
	t.Helper()

	if _, err := w.Write(data); err != nil {
		t.Fatalf("mustWrite: %v", err)
	}
}

// readOneByte reads exactly 1 byte from conn within testWait.
func readOneByte(t *testing.T, conn net.Conn) byte {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(testWait))

	buf := make([]byte, 1)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("readOneByte: %v", err)
	}

	return buf[0]
}

// openTransmission sends ENQ and expects ACK.
func openTransmission(t *testing.T, conn net.Conn) {
	t.Helper()

	mustWrite(t, conn, []byte{ENQ})
	if b := readOneByte(t, conn); b != ACK {
		t.Fatalf("expected ACK to ENQ, got 0x%02X", b)
	}
}

// sendFrame writes a frame and returns the single reply byte.
func sendFrame(t *testing.T, conn net.Conn, raw []byte) byte {
	t.Helper()

	mustWrite(t, conn, raw)

	return readOneByte(t, conn)
}

// syncBuffer is a goroutine-safe bytes.Buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]byte(nil), b.buf.Bytes()...)
}
