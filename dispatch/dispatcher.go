// Package dispatch groups decoded records into batches and hands each closed
// batch to a Committer.
//
// A Dispatcher follows the record sequence H, P, O, R..., L of one batch:
//
//	Start --H--> Ready --P--> ReadyForOrder --O--> ReadyForResult --R--> ReadyForResult
//	Ready, ReadyForOrder, ReadyForResult --L--> Start
//
// Comments are accepted in any state and have no effect. What happens to
// records arriving out of sequence is decided by the SequencingPolicy.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/arloliu/go-astm/astm"
	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/record"
)

// Dispatcher is the per-connection batch state machine. It implements
// astm.MessageReceiver.
//
// A Dispatcher is not goroutine-safe; it is driven by a single session.
type Dispatcher struct {
	committer  Committer
	policy     SequencingPolicy
	logger     logger.Logger
	decoder    record.Decoder
	privateTag string
	idWidth    int
	now        func() time.Time

	state State
	batch *Batch
}

var _ astm.MessageReceiver = (*Dispatcher)(nil)

// New creates a Dispatcher that commits closed batches through c.
func New(c Committer, opts ...Option) (*Dispatcher, error) {
	if c == nil {
		return nil, ErrCommitterNil
	}

	d := &Dispatcher{
		committer:  c,
		policy:     HardFail,
		logger:     logger.GetLogger(),
		privateTag: DefaultPrivateTag,
		now:        time.Now,
	}

	for _, opt := range opts {
		if err := opt.apply(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// State returns the current sequencing state.
func (d *Dispatcher) State() State {
	return d.state
}

// Batch returns the open batch, or nil in StateStart.
func (d *Dispatcher) Batch() *Batch {
	return d.batch
}

// ReceiveMessage decodes every record of msg and dispatches it. Records that
// fail to decode are logged and dropped. A sequencing violation under the
// HardFail policy stops processing and is returned.
func (d *Dispatcher) ReceiveMessage(ctx context.Context, msg []byte) error {
	for _, line := range d.decoder.DecodeMessage(msg) {
		if line.Err != nil {
			d.logger.Error("dispatch: record dropped", "error", line.Err, "record", string(line.Raw), "state", d.state.String())

			continue
		}

		if h, ok := line.Record.(*record.Header); ok {
			d.decoder.Delimiters = h.Delimiters
		}

		if err := d.Dispatch(ctx, line.Record, line.Raw); err != nil {
			return err
		}
	}

	return nil
}

// EndTransmission abandons the open batch without committing it.
func (d *Dispatcher) EndTransmission(_ context.Context) {
	if d.batch != nil {
		d.logger.Warn("dispatch: transmission ended with open batch, batch abandoned",
			"state", d.state.String(),
			"patient", d.batch.PatientID,
			"results", len(d.batch.Results),
		)
	}

	d.reset()
}

// Dispatch applies one decoded record. raw is the record line as received;
// it is part of the batch fingerprint.
func (d *Dispatcher) Dispatch(ctx context.Context, rec record.Record, raw []byte) error {
	switch r := rec.(type) {
	case *record.Header:
		return d.onHeader(r, raw)
	case *record.Patient:
		return d.onPatient(ctx, r, raw)
	case *record.Order:
		return d.onOrder(ctx, r, raw)
	case *record.Comment:
		d.onComment(r, raw)

		return nil
	case *record.Result:
		return d.onResult(r, raw)
	case *record.Terminator:
		return d.onTerminator(ctx, r, raw)
	default:
		d.logger.Error("dispatch: unsupported record", "record", string(raw))

		return nil
	}
}

func (d *Dispatcher) onHeader(h *record.Header, raw []byte) error {
	if d.state != StateStart {
		if err := d.violation(record.TypeHeader, raw); err != nil {
			return err
		}

		d.logger.Warn("dispatch: header inside open batch discarded", "record", string(raw))

		return nil
	}

	d.batch = newBatch(h, d.now())
	d.batch.fp.add(raw)
	d.batch.headerRaw = bytes.Clone(raw)
	d.state = StateReady

	d.logger.Debug("dispatch: batch opened",
		"sender", h.Sender.Name,
		"timestamp", d.batch.Timestamp,
	)

	return nil
}

func (d *Dispatcher) onPatient(ctx context.Context, p *record.Patient, raw []byte) error {
	if d.state != StateReady {
		if err := d.violation(record.TypePatient, raw); err != nil {
			return err
		}

		switch {
		case d.batch == nil:
			d.batch = newBatch(nil, d.now())
			d.logger.Warn("dispatch: patient without header, opened implicit batch", "record", string(raw))
		case d.batch.Patient != nil:
			d.logger.Warn("dispatch: patient override, closing batch of previous patient",
				"previous", d.batch.PatientID,
				"results", len(d.batch.Results),
				"record", string(raw),
			)
			d.rollOver(ctx, false)
		}
	}

	d.batch.fp.add(raw)
	d.batch.patientRaw = bytes.Clone(raw)
	d.batch.Patient = p
	d.batch.PatientID = NormalizePatientID(p.PracticeID, d.idWidth)
	d.state = StateReadyForOrder

	return nil
}

func (d *Dispatcher) onOrder(ctx context.Context, o *record.Order, raw []byte) error {
	if d.state != StateReadyForOrder {
		if err := d.violation(record.TypeOrder, raw); err != nil {
			return err
		}

		switch {
		case d.batch == nil || d.batch.Patient == nil:
			d.logger.Warn("dispatch: order without patient dropped", "record", string(raw))

			return nil
		case len(d.batch.Results) > 0:
			d.logger.Warn("dispatch: order override, closing batch of previous order",
				"patient", d.batch.PatientID,
				"results", len(d.batch.Results),
				"record", string(raw),
			)
			d.rollOver(ctx, true)
		}
	}

	d.batch.fp.add(raw)
	d.batch.Order = o
	d.batch.Private = IsPrivate(o.SampleID, d.privateTag)
	d.state = StateReadyForResult

	return nil
}

func (d *Dispatcher) onComment(c *record.Comment, raw []byte) {
	if d.batch != nil {
		d.batch.fp.add(raw)
	}

	d.logger.Info("dispatch: comment", "text", c.Text, "state", d.state.String())
}

func (d *Dispatcher) onResult(r *record.Result, raw []byte) error {
	if d.state != StateReadyForResult {
		if err := d.violation(record.TypeResult, raw); err != nil {
			return err
		}
	}

	if d.batch == nil || d.batch.Patient == nil || d.batch.Order == nil {
		d.logger.Warn("dispatch: result without patient and order dropped", "analyte", r.Analyte)

		return nil
	}

	d.batch.fp.add(raw)
	d.batch.Results = append(d.batch.Results, r)

	return nil
}

func (d *Dispatcher) onTerminator(ctx context.Context, _ *record.Terminator, raw []byte) error {
	if d.state == StateStart {
		if err := d.violation(record.TypeTerminator, raw); err != nil {
			return err
		}

		if d.batch == nil {
			d.logger.Warn("dispatch: terminator without batch ignored")

			return nil
		}
	}

	b := d.batch
	b.fp.add(raw)
	b.Fingerprint = b.fp.sum()
	d.reset()

	d.finish(ctx, b)

	return nil
}

// rollOver closes the open batch, commits it and continues in a fresh batch
// under the same header.
func (d *Dispatcher) rollOver(ctx context.Context, keepPatient bool) {
	prev := d.batch
	d.batch = prev.next(keepPatient)

	d.finish(ctx, prev)
}

// finish commits a closed batch unless it has no results or is a
// calibration run. Commit errors are logged and never retried.
func (d *Dispatcher) finish(ctx context.Context, b *Batch) {
	l := d.logger.With("patient", b.PatientID, "fingerprint", b.Fingerprint.String())

	if len(b.Results) == 0 {
		l.Info("dispatch: batch without results, nothing to commit")

		return
	}

	if IsCalibration(b.Results) {
		l.Info("dispatch: calibration run discarded", "analyte", b.Results[0].Analyte)

		return
	}

	l.Info("dispatch: committing batch", "results", len(b.Results), "analytes", b.Analytes(), "private", b.Private)

	if err := d.committer.CommitBatch(ctx, b); err != nil {
		l.Error("dispatch: commit failed", "error", err)
	}
}

// violation handles an out-of-sequence record. Under HardFail it abandons the
// batch and returns the violation; otherwise it logs and returns nil.
func (d *Dispatcher) violation(typ record.Type, raw []byte) error {
	v := &SequencingViolation{Record: typ, State: d.state}

	if d.policy == HardFail {
		d.logger.Error("dispatch: sequencing violation, batch abandoned", "error", v, "record", string(raw))
		d.reset()

		return v
	}

	d.logger.Warn("dispatch: sequencing violation", "error", v, "record", string(raw))

	return nil
}

func (d *Dispatcher) reset() {
	d.batch = nil
	d.state = StateStart
}

// IsSequencingViolation reports whether err is a sequencing violation.
func IsSequencingViolation(err error) bool {
	return errors.Is(err, ErrSequencingViolation)
}
