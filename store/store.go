// Package store defines the back-office store the commit pipeline writes to.
//
// The store holds the practice's patients and their fee schedules, the lab
// templates that map analytes to lab groups and service codes, and two
// append-only ledgers: the lab ledger (one row per measured value) and the
// billing ledger (billing positions and free-text notes).
//
// Callers check out a Conn per unit of work and must Release it on every
// path:
//
//	conn, err := st.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer conn.Release()
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// Billing ledger entry kinds.
const (
	// KindLab marks a billing position caused by a lab result.
	KindLab = "L"
	// KindText marks a free-text summary note.
	KindText = "T"
)

// DateLayout is the layout of ledger dates.
const DateLayout = "20060102"

// LabTemplate maps an analyte to its lab group, display name and service code.
type LabTemplate struct {
	Analyte   string
	Group     string
	ShortName string
	// ServiceCode is empty for analytes that are never billed.
	ServiceCode string
}

// FeePosition is the billing position of a service code within a fee schedule.
type FeePosition struct {
	FeeSchedule string
	ServiceCode string
	Position    string
}

// Patient is a patient known to the practice.
type Patient struct {
	ID          string
	FeeSchedule string
}

// Catalog is the reference data synchronized into a store.
type Catalog struct {
	Templates []LabTemplate
	Positions []FeePosition
	Patients  []Patient
}

// LabEntry is one row of the lab ledger.
type LabEntry struct {
	PatientID string
	Date      string
	Group     string
	ShortName string
	Value     string
}

// BillingEntry is one row of the billing ledger.
type BillingEntry struct {
	PatientID string
	Date      string
	Kind      string
	Author    string
	Text      string
}

// Store hands out connections.
type Store interface {
	// Acquire checks out a connection, blocking until one is free or ctx is done.
	Acquire(ctx context.Context) (Conn, error)
}

// Conn is a checked-out store connection. Writes are committed per call.
// A Conn is not goroutine-safe.
type Conn interface {
	PatientExists(patientID string) (bool, error)
	// FeeSchedule returns the patient's fee schedule or ErrNotFound.
	FeeSchedule(patientID string) (string, error)
	// BillingPosition returns the position of serviceCode in feeSchedule or ErrNotFound.
	BillingPosition(feeSchedule, serviceCode string) (string, error)
	// LabTemplate returns the template of analyte or ErrNotFound.
	LabTemplate(analyte string) (*LabTemplate, error)
	// BillingEntryExists probes the billing ledger for an identical entry text.
	BillingEntryExists(patientID, date, text string) (bool, error)
	InsertLabEntry(e LabEntry) error
	InsertBillingEntry(e BillingEntry) error
	CountLabEntries(patientID, date string) (int, error)
	CountBillingEntries(patientID, date, text string) (int, error)
	// Release returns the connection. Further calls on the Conn are invalid.
	// Release is idempotent.
	Release()
}
