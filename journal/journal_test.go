package journal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-astm/commit"
	"github.com/arloliu/go-astm/dispatch"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()

	j, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j
}

func testOutcome(fp dispatch.Fingerprint, at time.Time) *commit.BatchOutcome {
	return &commit.BatchOutcome{
		Fingerprint: fp,
		Patient:     "4711",
		CommittedAt: at,
		Results: []commit.ResultOutcome{
			{
				Seq:            1,
				Analyte:        "SARS",
				ShortName:      "SARS-AG",
				CompletedAt:    time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
				Status:         commit.StatusWritten,
				LabWritten:     true,
				BillingWritten: true,
				Position:       "L1",
			},
			{Seq: 2, Analyte: "XYZ", Status: commit.StatusSkippedNoMapping, Reason: "no lab template"},
		},
		LabNote:     "10:00 Labor: SARS-AG",
		BillingNote: "10:00 Leistungen: L1",
	}
}

func TestJournal_RecordLookup(t *testing.T) {
	j := openTestJournal(t)

	fp := dispatch.FingerprintLines([]byte("H|\\^&"), []byte("L|1|N"))
	at := time.Date(2024, 1, 1, 10, 5, 0, 123456789, time.UTC)

	require.NoError(t, j.Record(testOutcome(fp, at)))

	e, err := j.Lookup(fp)
	require.NoError(t, err)

	assert.Equal(t, fp, e.Fingerprint)
	assert.Equal(t, "4711", e.Patient)
	assert.True(t, at.Equal(e.CommittedAt))
	assert.False(t, e.Private)
	assert.Equal(t, "10:00 Labor: SARS-AG", e.LabNote)
	assert.Equal(t, "10:00 Leistungen: L1", e.BillingNote)
	assert.Empty(t, e.Error)

	require.Len(t, e.Results, 2)
	assert.Equal(t, "written", e.Results[0].Status)
	assert.Equal(t, "L1", e.Results[0].Position)
	assert.True(t, e.Results[0].BillingWritten)
	assert.Equal(t, "skipped-no-mapping", e.Results[1].Status)
	assert.Equal(t, "no lab template", e.Results[1].Reason)
}

func TestJournal_RecordError(t *testing.T) {
	j := openTestJournal(t)

	fp := dispatch.FingerprintLines([]byte("x"))
	o := testOutcome(fp, time.Now())
	o.Err = commit.ErrPatientNotFound
	o.Results = nil

	require.NoError(t, j.Record(o))

	e, err := j.Lookup(fp)
	require.NoError(t, err)
	assert.Equal(t, commit.ErrPatientNotFound.Error(), e.Error)
	assert.Empty(t, e.Results)
}

func TestJournal_LookupReturnsLatest(t *testing.T) {
	j := openTestJournal(t)

	fp := dispatch.FingerprintLines([]byte("redelivered"))
	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(testOutcome(fp, first)))

	second := testOutcome(fp, first.Add(time.Minute))
	second.Private = true
	require.NoError(t, j.Record(second))

	e, err := j.Lookup(fp)
	require.NoError(t, err)
	assert.True(t, e.Private)

	n := 0
	require.NoError(t, j.Range(func(*Entry) bool { n++; return true }))
	assert.Equal(t, 2, n)
}

func TestJournal_LookupUnknown(t *testing.T) {
	j := openTestJournal(t)

	_, err := j.Lookup(dispatch.FingerprintLines([]byte("never")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournal_RangeOrder(t *testing.T) {
	j := openTestJournal(t)

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	// Recorded out of order; 10:00:00.5 must sort before 10:00:01 even though
	// its RFC 3339 form is longer.
	offsets := []time.Duration{time.Second, 500 * time.Millisecond, 0, 2 * time.Second}
	for i, off := range offsets {
		fp := dispatch.FingerprintLines([]byte{byte('a' + i)})
		require.NoError(t, j.Record(testOutcome(fp, base.Add(off))))
	}

	var got []time.Time
	require.NoError(t, j.Range(func(e *Entry) bool {
		got = append(got, e.CommittedAt)
		return true
	}))

	require.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Before(got[i]), "entry %d out of order", i)
	}

	n := 0
	require.NoError(t, j.Range(func(*Entry) bool { n++; return n < 2 }))
	assert.Equal(t, 2, n)
}

func TestJournal_ZeroCommitTime(t *testing.T) {
	j := openTestJournal(t)

	fp := dispatch.FingerprintLines([]byte("zero"))
	require.NoError(t, j.Record(testOutcome(fp, time.Time{})))

	e, err := j.Lookup(fp)
	require.NoError(t, err)
	assert.False(t, e.CommittedAt.IsZero())
}

func TestJournal_Closed(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	err = j.Record(testOutcome(dispatch.Fingerprint{1}, time.Now()))
	assert.True(t, errors.Is(err, ErrClosed))

	assert.Error(t, j.Record(nil))
}

func TestEncodingIsDeterministic(t *testing.T) {
	e := NewEntry(testOutcome(dispatch.Fingerprint{7}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	a, err := marshal(e)
	require.NoError(t, err)
	b, err := marshal(e)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var back Entry
	require.NoError(t, unmarshal(a, &back))
	assert.Equal(t, e.Fingerprint, back.Fingerprint)
}
