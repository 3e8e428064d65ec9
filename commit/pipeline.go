// Package commit writes closed batches to the store.
//
// For every result of a batch the pipeline decides, in order: whether the
// result is stale, which lab template it maps to, whether and with which
// position it is billed, and whether the billing ledger already holds it.
// It then writes the lab entry followed by the billing entry. Each decision
// is recorded as a ResultOutcome; nothing is retried and a failure of one
// result does not stop the others.
//
// Every write is its own statement. A re-delivered batch is recognized by the
// billing probe only; lab entries are not deduplicated.
package commit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-astm/dispatch"
	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/record"
	"github.com/arloliu/go-astm/store"
)

// Sentinel errors.
var (
	ErrPatientNotFound = errors.New("commit: patient not found")
	ErrStoreNil        = errors.New("commit: store is nil")
)

const clockLayout = "15:04"

// Pipeline commits batches. It is safe for concurrent use; each Commit
// checks out its own store connection.
type Pipeline struct {
	store       store.Store
	staleness   time.Duration
	author      string
	sarsAnalyte string
	sarsCode    string
	logger      logger.Logger
	recorder    Recorder
	now         func() time.Time
}

var _ dispatch.Committer = (*Pipeline)(nil)

// New creates a pipeline writing to st.
func New(st store.Store, opts ...Option) (*Pipeline, error) {
	if st == nil {
		return nil, ErrStoreNil
	}

	p := &Pipeline{
		store:       st,
		staleness:   DefaultStaleness,
		author:      DefaultAuthor,
		sarsAnalyte: DefaultSARSAnalyte,
		sarsCode:    DefaultSARSOverrideCode,
		logger:      logger.GetLogger(),
		now:         time.Now,
	}

	for _, opt := range opts {
		if err := opt.apply(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// CommitBatch implements dispatch.Committer.
func (p *Pipeline) CommitBatch(ctx context.Context, b *dispatch.Batch) error {
	_, err := p.Commit(ctx, b)

	return err
}

// Commit writes b and returns its outcome. The returned error is the
// batch-fatal error (also stored in BatchOutcome.Err); per-result problems
// are reported in the outcome only.
func (p *Pipeline) Commit(ctx context.Context, b *dispatch.Batch) (*BatchOutcome, error) {
	out := &BatchOutcome{
		Fingerprint: b.Fingerprint,
		Patient:     b.PatientID,
		Private:     b.Private,
		CommittedAt: p.now(),
	}
	l := p.logger.With("patient", b.PatientID, "fingerprint", b.Fingerprint.String())

	defer p.finish(l, out)

	conn, err := p.store.Acquire(ctx)
	if err != nil {
		out.Err = fmt.Errorf("commit: acquire store connection: %w", err)

		return out, out.Err
	}
	defer conn.Release()

	exists, err := conn.PatientExists(b.PatientID)
	if err != nil {
		out.Err = fmt.Errorf("commit: patient lookup: %w", err)

		return out, out.Err
	}
	if !exists {
		out.Err = fmt.Errorf("%w: %q", ErrPatientNotFound, b.PatientID)

		return out, out.Err
	}

	bc := &batchCommit{p: p, conn: conn, batch: b, logger: l}
	for _, r := range b.Results {
		out.Results = append(out.Results, bc.result(r))
	}

	out.LabNote, out.BillingNote = bc.notes(out.Results)

	return out, nil
}

// finish logs the outcome and hands it to the recorder.
func (p *Pipeline) finish(l logger.Logger, out *BatchOutcome) {
	if out.Err != nil {
		l.Error("commit: batch failed", "error", out.Err)
	} else {
		l.Info("commit: batch committed",
			"results", len(out.Results),
			"written", out.Count(StatusWritten),
			"private", out.Count(StatusSkippedPrivate),
			"duplicate", out.Count(StatusSkippedDuplicate),
			"noMapping", out.Count(StatusSkippedNoMapping),
			"stale", out.Count(StatusSkippedStale),
			"failed", out.Count(StatusFailed),
		)
	}

	if p.recorder != nil {
		if err := p.recorder.Record(out); err != nil {
			l.Warn("commit: failed to record outcome", "error", err)
		}
	}
}

// batchCommit holds the per-Commit state.
type batchCommit struct {
	p      *Pipeline
	conn   store.Conn
	batch  *dispatch.Batch
	logger logger.Logger

	feeLooked   bool
	feeSchedule string
	feeErr      error
}

// result commits a single result.
func (bc *batchCommit) result(r *record.Result) ResultOutcome {
	ro := ResultOutcome{Seq: r.Seq, Analyte: r.Analyte, CompletedAt: r.CompletedAt}
	l := bc.logger.With("analyte", r.Analyte, "seq", r.Seq)

	if age := bc.batch.Timestamp.Sub(r.CompletedAt); age > bc.p.staleness {
		ro.Status = StatusSkippedStale
		ro.Reason = fmt.Sprintf("completed %s before header", age.Round(time.Minute))
		l.Warn("commit: stale result ignored", "completedAt", r.CompletedAt, "age", age.String())

		return ro
	}

	tmpl, err := bc.conn.LabTemplate(r.Analyte)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ro.Status = StatusSkippedNoMapping
			ro.Reason = "no lab template"
			l.Warn("commit: no lab template for analyte")

			return ro
		}

		return failed(l, ro, err)
	}

	ro.ShortName = tmpl.ShortName
	if ro.ShortName == "" {
		ro.ShortName = r.Analyte
	}

	date := r.CompletedAt.Format(store.DateLayout)

	billing := true
	switch {
	case bc.batch.Private:
		billing = false
		ro.Reason = "private batch"
	case tmpl.ServiceCode == "":
		billing = false
		ro.Reason = "lab template has no service code"
	}

	var entry string
	if billing {
		pos, err := bc.position(r, tmpl)
		if err != nil {
			billing = false
			ro.Reason = "no billing position: " + err.Error()
			l.Warn("commit: billing skipped", "error", err)
		} else {
			ro.Position = pos
			entry = r.CompletedAt.Format(clockLayout) + " " + pos

			dup, err := bc.conn.BillingEntryExists(bc.batch.PatientID, date, entry)
			if err != nil {
				return failed(l, ro, err)
			}
			if dup {
				ro.Status = StatusSkippedDuplicate
				ro.Reason = fmt.Sprintf("billing entry %q exists on %s", entry, date)
				l.Warn("commit: duplicate ignored", "date", date, "entry", entry)

				return ro
			}
		}
	}

	err = bc.conn.InsertLabEntry(store.LabEntry{
		PatientID: bc.batch.PatientID,
		Date:      date,
		Group:     tmpl.Group,
		ShortName: tmpl.ShortName,
		Value:     r.Value,
	})
	if err != nil {
		return failed(l, ro, err)
	}
	ro.LabWritten = true
	l.Info("commit: lab entry written", "date", date, "shortName", tmpl.ShortName, "value", r.Value)

	if billing {
		err = bc.conn.InsertBillingEntry(store.BillingEntry{
			PatientID: bc.batch.PatientID,
			Date:      date,
			Kind:      store.KindLab,
			Author:    bc.p.author,
			Text:      entry,
		})
		if err != nil {
			return failed(l, ro, err)
		}
		ro.BillingWritten = true
		l.Info("commit: billing entry written", "date", date, "entry", entry)
	}

	ro.Status = StatusWritten
	if bc.batch.Private {
		ro.Status = StatusSkippedPrivate
	}

	return ro
}

// position determines the billing position of a result.
func (bc *batchCommit) position(r *record.Result, tmpl *store.LabTemplate) (string, error) {
	if bc.p.sarsCode != "" && r.Analyte == bc.p.sarsAnalyte && GuessPositive(r.Value) {
		bc.logger.Info("commit: positive SARS result, position overridden", "position", bc.p.sarsCode)

		return bc.p.sarsCode, nil
	}

	if !bc.feeLooked {
		bc.feeLooked = true
		bc.feeSchedule, bc.feeErr = bc.conn.FeeSchedule(bc.batch.PatientID)
	}
	if bc.feeErr != nil {
		return "", bc.feeErr
	}

	pos, err := bc.conn.BillingPosition(bc.feeSchedule, tmpl.ServiceCode)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(pos), nil
}

// notes writes the lab and billing summary notes and returns their texts.
func (bc *batchCommit) notes(results []ResultOutcome) (string, string) {
	var (
		labNames, positions []string
		labFirst, billFirst time.Time
	)

	for _, ro := range results {
		if ro.LabWritten {
			labNames = append(labNames, ro.ShortName)
			labFirst = earliest(labFirst, ro.CompletedAt)
		}
		if ro.BillingWritten {
			positions = append(positions, ro.Position)
			billFirst = earliest(billFirst, ro.CompletedAt)
		}
	}

	var labNote, billingNote string
	if len(labNames) > 0 {
		labNote = bc.note(labFirst, "Labor: "+strings.Join(labNames, ", "))
	}
	if len(positions) > 0 {
		billingNote = bc.note(billFirst, "Leistungen: "+strings.Join(positions, ", "))
	}

	return labNote, billingNote
}

// note writes one summary note and returns its text, or "" if the write failed.
func (bc *batchCommit) note(at time.Time, body string) string {
	text := at.Format(clockLayout) + " " + body

	err := bc.conn.InsertBillingEntry(store.BillingEntry{
		PatientID: bc.batch.PatientID,
		Date:      at.Format(store.DateLayout),
		Kind:      store.KindText,
		Author:    bc.p.author,
		Text:      text,
	})
	if err != nil {
		bc.logger.Error("commit: summary note not written", "note", text, "error", err)

		return ""
	}

	return text
}

func failed(l logger.Logger, ro ResultOutcome, err error) ResultOutcome {
	ro.Status = StatusFailed
	ro.Reason = err.Error()
	l.Error("commit: result failed", "error", err, "labWritten", ro.LabWritten)

	return ro
}

func earliest(cur, t time.Time) time.Time {
	if cur.IsZero() || t.Before(cur) {
		return t
	}

	return cur
}
