package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-astm/astm"
	"github.com/arloliu/go-astm/dispatch"
	"github.com/arloliu/go-astm/logger"
)

var sampleMessage = []byte(strings.Join([]string{
	"H|\\^&|||Sofia^1.3.0|||||||P|E 1394-97|20240101103000",
	"P|1|4711",
	"O|1|S-123||SARS",
	"R|1|^^^SARS|negative|||||F||||20240101100000",
	"L|1|N",
}, "\r") + "\r")

func discardLogger() logger.Logger {
	return logger.NewSlogWriter(io.Discard, logger.DebugLevel, false, false)
}

// batchSink is a committer publishing every batch on a channel. When block
// is set, commits wait until it is closed.
type batchSink struct {
	batches chan *dispatch.Batch
	started chan struct{}
	block   chan struct{}

	mu      sync.Mutex
	ctxErrs []error
}

func newBatchSink() *batchSink {
	return &batchSink{
		batches: make(chan *dispatch.Batch, 16),
		started: make(chan struct{}, 16),
	}
}

func (s *batchSink) CommitBatch(ctx context.Context, b *dispatch.Batch) error {
	s.started <- struct{}{}

	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	s.mu.Unlock()

	s.batches <- b

	return nil
}

func (s *batchSink) waitBatch(t *testing.T) *dispatch.Batch {
	t.Helper()

	select {
	case b := <-s.batches:
		return b
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for committed batch")
		return nil
	}
}

// testServer is a running server on a loopback listener.
type testServer struct {
	*Server
	addr   string
	served chan error
}

func startTestServer(t *testing.T, committer dispatch.Committer, opts ...ServerOption) *testServer {
	t.Helper()

	defaults := []ServerOption{
		WithLogger(discardLogger()),
		WithShutdownTimeout(2 * time.Second),
		WithSessionOptions(
			astm.WithCharTimeout(500*time.Millisecond),
			astm.WithReceiveTimeout(2*time.Second),
			astm.WithPollInterval(10*time.Millisecond),
		),
		WithDispatchOptions(dispatch.WithLocation(time.UTC)),
	}

	cfg, err := NewServerConfig("127.0.0.1:0", append(defaults, opts...)...)
	require.NoError(t, err)

	srv, err := NewServer(cfg, committer)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ts := &testServer{Server: srv, addr: ln.Addr().String(), served: make(chan error, 1)}
	go func() { ts.served <- srv.Serve(context.Background(), ln) }()

	require.Eventually(t, srv.state.IsOpened, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return ts
}

func (ts *testServer) waitServed(t *testing.T) error {
	t.Helper()

	select {
	case err := <-ts.served:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
		return nil
	}
}

// instrument is the sending side of an ASTM link.
type instrument struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialInstrument(t *testing.T, addr string) *instrument {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &instrument{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (i *instrument) write(b []byte) {
	i.t.Helper()

	_, err := i.conn.Write(b)
	require.NoError(i.t, err)
}

func (i *instrument) expect(want byte) {
	i.t.Helper()

	require.NoError(i.t, i.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	got, err := i.r.ReadByte()
	require.NoError(i.t, err)
	require.Equalf(i.t, want, got, "want 0x%02X, got 0x%02X", want, got)
}

// open sends ENQ and waits for the ACK.
func (i *instrument) open() {
	i.t.Helper()

	i.write([]byte{astm.ENQ})
	i.expect(astm.ACK)
}

// send transmits msg as one complete transmission.
func (i *instrument) send(msg []byte) {
	i.t.Helper()

	i.open()
	for _, f := range astm.SplitMessage(astm.FirstFrameNumber, msg) {
		i.write(f.Pack())
		i.expect(astm.ACK)
	}
	i.write([]byte{astm.EOT})
}

// expectClosed waits until the server closes the connection.
func (i *instrument) expectClosed() {
	i.t.Helper()

	require.NoError(i.t, i.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err := i.r.ReadByte()
	require.Error(i.t, err)

	var netErr net.Error
	if errors.As(err, &netErr) {
		require.False(i.t, netErr.Timeout(), "connection was not closed")
	}
}

func dialInstrumentErr(addr string) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, 500*time.Millisecond)
}
