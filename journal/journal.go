// Package journal keeps a durable record of every committed batch in a
// LevelDB database. Entries are CBOR encoded and keyed by commit time and
// batch fingerprint, so iteration runs in commit order and a redelivered
// batch can be found by its fingerprint.
package journal

import (
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/arloliu/go-astm/commit"
	"github.com/arloliu/go-astm/dispatch"
)

// ErrNotFound is returned by Lookup for an unknown fingerprint.
var ErrNotFound = errors.New("journal: entry not found")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("journal: closed")

// keyTimeLayout is RFC 3339 with fixed-width nanoseconds in UTC, so that
// keys sort in time order.
const keyTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	entryPrefix = []byte("e/")
	indexPrefix = []byte("f/")
)

// Result is the journaled outcome of one result record.
type Result struct {
	Seq            int       `cbor:"seq"`
	Analyte        string    `cbor:"analyte"`
	ShortName      string    `cbor:"short_name,omitempty"`
	CompletedAt    time.Time `cbor:"completed_at"`
	Status         string    `cbor:"status"`
	LabWritten     bool      `cbor:"lab_written"`
	BillingWritten bool      `cbor:"billing_written"`
	Position       string    `cbor:"position,omitempty"`
	Reason         string    `cbor:"reason,omitempty"`
}

// Entry is the journaled outcome of one batch.
type Entry struct {
	Fingerprint dispatch.Fingerprint `cbor:"fingerprint"`
	Patient     string               `cbor:"patient"`
	CommittedAt time.Time            `cbor:"committed_at"`
	Private     bool                 `cbor:"private"`
	Results     []Result             `cbor:"results"`
	LabNote     string               `cbor:"lab_note,omitempty"`
	BillingNote string               `cbor:"billing_note,omitempty"`
	Error       string               `cbor:"error,omitempty"`
}

// NewEntry converts a batch outcome into a journal entry.
func NewEntry(o *commit.BatchOutcome) *Entry {
	e := &Entry{
		Fingerprint: o.Fingerprint,
		Patient:     o.Patient,
		CommittedAt: o.CommittedAt.UTC(),
		Private:     o.Private,
		LabNote:     o.LabNote,
		BillingNote: o.BillingNote,
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}

	for _, r := range o.Results {
		e.Results = append(e.Results, Result{
			Seq:            r.Seq,
			Analyte:        r.Analyte,
			ShortName:      r.ShortName,
			CompletedAt:    r.CompletedAt,
			Status:         string(r.Status),
			LabWritten:     r.LabWritten,
			BillingWritten: r.BillingWritten,
			Position:       r.Position,
			Reason:         r.Reason,
		})
	}

	return e
}

// Journal is a LevelDB backed outcome journal. It is safe for concurrent use.
type Journal struct {
	db *leveldb.DB
}

var _ commit.Recorder = (*Journal)(nil)

// Open opens or creates the journal database in dir.
func Open(dir string) (*Journal, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", dir, err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil && !errors.Is(err, leveldb.ErrClosed) {
		return fmt.Errorf("journal: close: %w", err)
	}

	return nil
}

// Record stores the outcome of a committed batch.
func (j *Journal) Record(o *commit.BatchOutcome) error {
	if o == nil {
		return errors.New("journal: nil outcome")
	}

	return j.Put(NewEntry(o))
}

// Put stores an entry. The entry and its fingerprint index are written in
// one synced batch.
func (j *Journal) Put(e *Entry) error {
	if e.CommittedAt.IsZero() {
		e.CommittedAt = time.Now().UTC()
	}

	data, err := marshal(e)
	if err != nil {
		return fmt.Errorf("journal: encode entry: %w", err)
	}

	key := entryKey(e.CommittedAt, e.Fingerprint)

	batch := new(leveldb.Batch)
	batch.Put(key, data)
	batch.Put(indexKey(e.Fingerprint), key)

	if err := j.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return j.wrap("write entry", err)
	}

	return nil
}

// Lookup returns the most recent entry recorded for the fingerprint.
func (j *Journal) Lookup(fp dispatch.Fingerprint) (*Entry, error) {
	key, err := j.db.Get(indexKey(fp), nil)
	if err != nil {
		return nil, j.wrap("lookup "+fp.String(), err)
	}

	data, err := j.db.Get(key, nil)
	if err != nil {
		return nil, j.wrap("lookup "+fp.String(), err)
	}

	var e Entry
	if err := unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("journal: decode entry %s: %w", key, err)
	}

	return &e, nil
}

// Range calls fn for every entry in commit order until fn returns false.
func (j *Journal) Range(fn func(*Entry) bool) error {
	iter := j.db.NewIterator(util.BytesPrefix(entryPrefix), nil)
	defer iter.Release()

	for iter.Next() {
		var e Entry
		if err := unmarshal(iter.Value(), &e); err != nil {
			return fmt.Errorf("journal: decode entry %s: %w", iter.Key(), err)
		}

		if !fn(&e) {
			break
		}
	}

	if err := iter.Error(); err != nil {
		return j.wrap("iterate", err)
	}

	return nil
}

func (j *Journal) wrap(op string, err error) error {
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return ErrClosed
	default:
		return fmt.Errorf("journal: %s: %w", op, err)
	}
}

func entryKey(t time.Time, fp dispatch.Fingerprint) []byte {
	return fmt.Appendf(append([]byte(nil), entryPrefix...), "%s/%s", t.UTC().Format(keyTimeLayout), fp)
}

func indexKey(fp dispatch.Fingerprint) []byte {
	return append(append([]byte(nil), indexPrefix...), fp.String()...)
}
