package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/arloliu/go-astm/logger"
)

var testReceipt = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// recordingCommitter captures committed batches.
type recordingCommitter struct {
	batches []*Batch
	err     error
}

func (c *recordingCommitter) CommitBatch(_ context.Context, b *Batch) error {
	c.batches = append(c.batches, b)

	return c.err
}

// newTestDispatcher creates a Dispatcher with a fixed clock, UTC record
// times and a permissive mock logger.
func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *recordingCommitter, *logger.MockLogger) {
	t.Helper()

	c := &recordingCommitter{}
	ml := logger.NewMockLogger().AllowAll()

	defaults := []Option{
		WithLogger(ml),
		WithLocation(time.UTC),
		WithClock(func() time.Time { return testReceipt }),
	}

	d, err := New(c, append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return d, c, ml
}

// feed sends each record as its own message and returns the first error.
func feed(d *Dispatcher, records ...string) error {
	for _, r := range records {
		if err := d.ReceiveMessage(context.Background(), []byte(r+"\r")); err != nil {
			return err
		}
	}

	return nil
}

// message joins records into one CR-separated message.
func message(records ...string) []byte {
	return []byte(strings.Join(records, "\r") + "\r")
}

const (
	recHeader   = "H|\\^&|||Sofia^1.3.0|||||||P|E 1394-97|20240101103000"
	recPatient  = "P|1|4711"
	recOrder    = "O|1|S-123||SARS"
	recComment  = "C|1||check"
	recSARSNeg  = "R|1|^^^SARS|negative|||||F||||20240101100000"
	recFluPos   = "R|2|^^^FLU A|positive|||||F||||20240101100500"
	recTerm     = "L|1|N"
	recCalPass  = "R|1|^^^POS|Passed|||||F||||20240101090000"
	recCalFail  = "R|1|^^^POS|failed|||||F||||20240101090000"
	recCassette = "R|1|^^^CB CASS| passed |||||F||||20240101090000"
)

var errCommit = errors.New("store down")
