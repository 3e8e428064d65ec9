// Package sqlitestore implements store.Store on a SQLite database.
//
// Every connection of the pool runs in WAL mode and creates the schema on
// first use, so a new database file is ready without migrations. Ledger
// tables carry no unique constraints; duplicate protection is the commit
// pipeline's billing probe.
package sqlitestore

import (
	"context"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS patients (
	patient_id   TEXT PRIMARY KEY,
	fee_schedule TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS fee_positions (
	fee_schedule TEXT NOT NULL,
	service_code TEXT NOT NULL,
	position     TEXT NOT NULL,
	PRIMARY KEY (fee_schedule, service_code)
);
CREATE TABLE IF NOT EXISTS lab_templates (
	analyte      TEXT PRIMARY KEY,
	lab_group    TEXT NOT NULL DEFAULT '',
	short_name   TEXT NOT NULL DEFAULT '',
	service_code TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS lab_ledger (
	id         INTEGER PRIMARY KEY,
	patient_id TEXT NOT NULL,
	date       TEXT NOT NULL,
	lab_group  TEXT NOT NULL,
	short_name TEXT NOT NULL,
	value      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS billing_ledger (
	id         INTEGER PRIMARY KEY,
	patient_id TEXT NOT NULL,
	date       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	author     TEXT NOT NULL,
	entry      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS billing_ledger_probe ON billing_ledger (patient_id, date, entry);
CREATE INDEX IF NOT EXISTS lab_ledger_patient ON lab_ledger (patient_id, date);
`

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string
	// PoolSize is the number of pooled connections. Defaults to max(NumCPU, 4).
	PoolSize int
	// Logger receives operational messages. Defaults to the package logger.
	Logger logger.Logger
}

// Store is a SQLite-backed store.Store.
type Store struct {
	pool   *pool
	logger logger.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (and creates if needed) the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	l := cfg.Logger
	if l == nil {
		l = logger.GetLogger()
	}

	p, err := openPool(cfg.Path, cfg.PoolSize, l, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	})
	if err != nil {
		return nil, err
	}

	return &Store{pool: p, logger: l}, nil
}

// Close closes the pool. It blocks until every acquired Conn is released.
func (s *Store) Close() error {
	return s.pool.close()
}

// Acquire checks out a connection.
func (s *Store) Acquire(ctx context.Context) (store.Conn, error) {
	c, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}

	return &conn{pool: s.pool, c: c}, nil
}

// SyncCatalog replaces templates and fee positions with the catalog's and
// upserts its patients, in one transaction.
func (s *Store) SyncCatalog(ctx context.Context, cat *store.Catalog) (err error) {
	c, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(c)

	endTransaction, err := sqlitex.ImmediateTransaction(c)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin catalog sync: %w", err)
	}
	defer endTransaction(&err)

	if err = sqlitex.ExecuteScript(c, "DELETE FROM lab_templates; DELETE FROM fee_positions;", nil); err != nil {
		return fmt.Errorf("sqlitestore: clear catalog: %w", err)
	}

	for _, t := range cat.Templates {
		err = sqlitex.Execute(c,
			"INSERT INTO lab_templates (analyte, lab_group, short_name, service_code) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{t.Analyte, t.Group, t.ShortName, t.ServiceCode}})
		if err != nil {
			return fmt.Errorf("sqlitestore: insert template %q: %w", t.Analyte, err)
		}
	}

	for _, p := range cat.Positions {
		err = sqlitex.Execute(c,
			"INSERT INTO fee_positions (fee_schedule, service_code, position) VALUES (?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{p.FeeSchedule, p.ServiceCode, p.Position}})
		if err != nil {
			return fmt.Errorf("sqlitestore: insert fee position %s/%s: %w", p.FeeSchedule, p.ServiceCode, err)
		}
	}

	for _, p := range cat.Patients {
		if err = upsertPatient(c, p); err != nil {
			return err
		}
	}

	s.logger.Info("sqlitestore: catalog synchronized",
		"templates", len(cat.Templates),
		"positions", len(cat.Positions),
		"patients", len(cat.Patients),
	)

	return nil
}

// UpsertPatient inserts or updates a patient.
func (s *Store) UpsertPatient(ctx context.Context, p store.Patient) error {
	c, err := s.pool.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.put(c)

	return upsertPatient(c, p)
}

// BillingEntries returns the billing ledger rows of a patient in insertion order.
func (s *Store) BillingEntries(ctx context.Context, patientID string) ([]store.BillingEntry, error) {
	c, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(c)

	var entries []store.BillingEntry

	err = sqlitex.Execute(c,
		"SELECT patient_id, date, kind, author, entry FROM billing_ledger WHERE patient_id = ? ORDER BY id",
		&sqlitex.ExecOptions{
			Args: []any{patientID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entries = append(entries, store.BillingEntry{
					PatientID: stmt.ColumnText(0),
					Date:      stmt.ColumnText(1),
					Kind:      stmt.ColumnText(2),
					Author:    stmt.ColumnText(3),
					Text:      stmt.ColumnText(4),
				})

				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list billing entries: %w", err)
	}

	return entries, nil
}

// LabEntries returns the lab ledger rows of a patient in insertion order.
func (s *Store) LabEntries(ctx context.Context, patientID string) ([]store.LabEntry, error) {
	c, err := s.pool.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.put(c)

	var entries []store.LabEntry

	err = sqlitex.Execute(c,
		"SELECT patient_id, date, lab_group, short_name, value FROM lab_ledger WHERE patient_id = ? ORDER BY id",
		&sqlitex.ExecOptions{
			Args: []any{patientID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entries = append(entries, store.LabEntry{
					PatientID: stmt.ColumnText(0),
					Date:      stmt.ColumnText(1),
					Group:     stmt.ColumnText(2),
					ShortName: stmt.ColumnText(3),
					Value:     stmt.ColumnText(4),
				})

				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list lab entries: %w", err)
	}

	return entries, nil
}

func upsertPatient(c *sqlite.Conn, p store.Patient) error {
	err := sqlitex.Execute(c,
		`INSERT INTO patients (patient_id, fee_schedule) VALUES (?, ?)
		 ON CONFLICT (patient_id) DO UPDATE SET fee_schedule = excluded.fee_schedule`,
		&sqlitex.ExecOptions{Args: []any{p.ID, p.FeeSchedule}})
	if err != nil {
		return fmt.Errorf("sqlitestore: upsert patient %q: %w", p.ID, err)
	}

	return nil
}

// conn is a checked-out pool connection.
type conn struct {
	pool *pool
	c    *sqlite.Conn
}

var _ store.Conn = (*conn)(nil)

func (c *conn) Release() {
	if c.c == nil {
		return
	}

	c.pool.put(c.c)
	c.c = nil
}

var errReleased = errors.New("sqlitestore: connection already released")

// queryText runs a single-column query and returns the first row's value.
func (c *conn) queryText(query string, args ...any) (string, error) {
	if c.c == nil {
		return "", errReleased
	}

	var (
		value string
		found bool
	)

	err := sqlitex.Execute(c.c, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if !found {
				value = stmt.ColumnText(0)
				found = true
			}

			return nil
		},
	})
	if err != nil {
		return "", err
	}

	if !found {
		return "", store.ErrNotFound
	}

	return value, nil
}

func (c *conn) count(query string, args ...any) (int, error) {
	if c.c == nil {
		return 0, errReleased
	}

	var n int

	err := sqlitex.Execute(c.c, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n = stmt.ColumnInt(0)

			return nil
		},
	})

	return n, err
}

func (c *conn) exec(query string, args ...any) error {
	if c.c == nil {
		return errReleased
	}

	return sqlitex.Execute(c.c, query, &sqlitex.ExecOptions{Args: args})
}

func (c *conn) PatientExists(patientID string) (bool, error) {
	n, err := c.count("SELECT COUNT(*) FROM patients WHERE patient_id = ?", patientID)
	if err != nil {
		return false, fmt.Errorf("sqlitestore: patient lookup: %w", err)
	}

	return n > 0, nil
}

func (c *conn) FeeSchedule(patientID string) (string, error) {
	v, err := c.queryText("SELECT fee_schedule FROM patients WHERE patient_id = ?", patientID)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: fee schedule of %q: %w", patientID, err)
	}

	return v, nil
}

func (c *conn) BillingPosition(feeSchedule, serviceCode string) (string, error) {
	v, err := c.queryText(
		"SELECT position FROM fee_positions WHERE fee_schedule = ? AND service_code = ?",
		feeSchedule, serviceCode)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: position of %s in %s: %w", serviceCode, feeSchedule, err)
	}

	return v, nil
}

func (c *conn) LabTemplate(analyte string) (*store.LabTemplate, error) {
	if c.c == nil {
		return nil, errReleased
	}

	var t *store.LabTemplate

	err := sqlitex.Execute(c.c,
		"SELECT analyte, lab_group, short_name, service_code FROM lab_templates WHERE analyte = ?",
		&sqlitex.ExecOptions{
			Args: []any{analyte},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				t = &store.LabTemplate{
					Analyte:     stmt.ColumnText(0),
					Group:       stmt.ColumnText(1),
					ShortName:   stmt.ColumnText(2),
					ServiceCode: stmt.ColumnText(3),
				}

				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: template of %q: %w", analyte, err)
	}

	if t == nil {
		return nil, fmt.Errorf("sqlitestore: template of %q: %w", analyte, store.ErrNotFound)
	}

	return t, nil
}

func (c *conn) BillingEntryExists(patientID, date, text string) (bool, error) {
	n, err := c.CountBillingEntries(patientID, date, text)

	return n > 0, err
}

func (c *conn) InsertLabEntry(e store.LabEntry) error {
	err := c.exec(
		"INSERT INTO lab_ledger (patient_id, date, lab_group, short_name, value) VALUES (?, ?, ?, ?, ?)",
		e.PatientID, e.Date, e.Group, e.ShortName, e.Value)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert lab entry: %w", err)
	}

	return nil
}

func (c *conn) InsertBillingEntry(e store.BillingEntry) error {
	err := c.exec(
		"INSERT INTO billing_ledger (patient_id, date, kind, author, entry) VALUES (?, ?, ?, ?, ?)",
		e.PatientID, e.Date, e.Kind, e.Author, e.Text)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert billing entry: %w", err)
	}

	return nil
}

func (c *conn) CountLabEntries(patientID, date string) (int, error) {
	n, err := c.count("SELECT COUNT(*) FROM lab_ledger WHERE patient_id = ? AND date = ?", patientID, date)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: count lab entries: %w", err)
	}

	return n, nil
}

func (c *conn) CountBillingEntries(patientID, date, text string) (int, error) {
	n, err := c.count(
		"SELECT COUNT(*) FROM billing_ledger WHERE patient_id = ? AND date = ? AND entry = ?",
		patientID, date, text)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: count billing entries: %w", err)
	}

	return n, nil
}
