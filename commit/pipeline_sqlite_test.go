package commit

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/store"
	"github.com/arloliu/go-astm/store/sqlitestore"
)

func openSQLiteStore(t *testing.T) *sqlitestore.Store {
	t.Helper()

	st, err := sqlitestore.Open(sqlitestore.Config{
		Path:     filepath.Join(t.TempDir(), "ledger.db"),
		PoolSize: 2,
		Logger:   logger.NewSlogWriter(io.Discard, logger.InfoLevel, false, false),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.SyncCatalog(context.Background(), &store.Catalog{
		Templates: []store.LabTemplate{{Analyte: "SARS", Group: "VIRO", ShortName: "SARS-AG", ServiceCode: "32816"}},
		Positions: []store.FeePosition{{FeeSchedule: "EBM", ServiceCode: "32816", Position: "L1"}},
		Patients:  []store.Patient{{ID: "4711", FeeSchedule: "EBM"}},
	}))

	return st
}

// Two deliveries of a result for patient 4711 completed 2024-01-01 10:00:
// the first is billed, the second arrives as a private batch and only adds
// a lab entry.
func TestPipeline_SQLite_SecondDeliveryPrivate(t *testing.T) {
	st := openSQLiteStore(t)
	p := newTestPipeline(t, st)
	ctx := context.Background()

	out, err := p.Commit(ctx, testBatch(false, result(1, "SARS", "negative", at(10, 0))))
	require.NoError(t, err)
	assert.Equal(t, StatusWritten, out.Results[0].Status)

	out, err = p.Commit(ctx, testBatch(true, result(1, "SARS", "negative", at(10, 0))))
	require.NoError(t, err)
	assert.Equal(t, StatusSkippedPrivate, out.Results[0].Status)

	conn, err := st.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	n, err := conn.CountBillingEntries("4711", "20240101", "10:00 L1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = conn.CountLabEntries("4711", "20240101")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPipeline_SQLite_RedeliveryIsDuplicate(t *testing.T) {
	st := openSQLiteStore(t)
	p := newTestPipeline(t, st)
	ctx := context.Background()
	b := testBatch(false, result(1, "SARS", "negative", at(10, 0)))

	_, err := p.Commit(ctx, b)
	require.NoError(t, err)

	out, err := p.Commit(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, StatusSkippedDuplicate, out.Results[0].Status)

	billing, err := st.BillingEntries(ctx, "4711")
	require.NoError(t, err)
	assert.Equal(t, []store.BillingEntry{
		{PatientID: "4711", Date: "20240101", Kind: "L", Author: "XX", Text: "10:00 L1"},
		{PatientID: "4711", Date: "20240101", Kind: "T", Author: "XX", Text: "10:00 Labor: SARS-AG"},
		{PatientID: "4711", Date: "20240101", Kind: "T", Author: "XX", Text: "10:00 Leistungen: L1"},
	}, billing)

	lab, err := st.LabEntries(ctx, "4711")
	require.NoError(t, err)
	assert.Len(t, lab, 1)
}
