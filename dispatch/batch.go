package dispatch

import (
	"context"
	"time"

	"github.com/arloliu/go-astm/record"
)

// Batch is the unit of commit: one header, one patient, one order and the
// results that followed them, closed by a terminator.
type Batch struct {
	// Header is nil for a batch opened implicitly by a patient record.
	Header *record.Header
	// Timestamp is the header timestamp, or the receipt time when the header
	// carries none.
	Timestamp  time.Time
	ReceivedAt time.Time

	Patient *record.Patient
	// PatientID is the normalized patient reference.
	PatientID string
	Order     *record.Order
	Results   []*record.Result
	Private   bool

	// Fingerprint is set when the batch is closed.
	Fingerprint Fingerprint

	fp *fingerprinter
	// context lines replayed into the fingerprint of a follow-up batch
	headerRaw  []byte
	patientRaw []byte
}

func newBatch(h *record.Header, receivedAt time.Time) *Batch {
	b := &Batch{
		Header:     h,
		Timestamp:  receivedAt,
		ReceivedAt: receivedAt,
		fp:         newFingerprinter(),
	}

	if h != nil && !h.Timestamp.IsZero() {
		b.Timestamp = h.Timestamp
	}

	return b
}

// next closes b and returns a batch continuing under the same header. When
// keepPatient is set the patient context carries over as well.
func (b *Batch) next(keepPatient bool) *Batch {
	b.Fingerprint = b.fp.sum()

	n := &Batch{
		Header:     b.Header,
		Timestamp:  b.Timestamp,
		ReceivedAt: b.ReceivedAt,
		fp:         newFingerprinter(),
		headerRaw:  b.headerRaw,
	}
	if n.headerRaw != nil {
		n.fp.add(n.headerRaw)
	}

	if keepPatient {
		n.Patient = b.Patient
		n.PatientID = b.PatientID
		n.patientRaw = b.patientRaw
		n.fp.add(n.patientRaw)
	}

	return n
}

// Analytes returns the analyte names of the results in arrival order.
func (b *Batch) Analytes() []string {
	names := make([]string, len(b.Results))
	for i, r := range b.Results {
		names[i] = r.Analyte
	}

	return names
}

// Committer persists a closed batch. It is called exactly once per batch.
type Committer interface {
	CommitBatch(ctx context.Context, b *Batch) error
}

// CommitterFunc adapts a function to the Committer interface.
type CommitterFunc func(ctx context.Context, b *Batch) error

// CommitBatch calls f(ctx, b).
func (f CommitterFunc) CommitBatch(ctx context.Context, b *Batch) error {
	return f(ctx, b)
}
