package commit

import (
	"context"
	"errors"
	"sync"

	"github.com/arloliu/go-astm/store"
)

// fakeStore is an in-memory store.Store with failure injection.
type fakeStore struct {
	mu sync.Mutex

	patients  map[string]string // id -> fee schedule
	positions map[string]string // schedule/service -> position
	templates map[string]store.LabTemplate

	lab     []store.LabEntry
	billing []store.BillingEntry

	acquireErr    error
	failLabFor    string // value whose lab insert fails
	failBilling   bool
	failFeeLookup bool

	acquired int
	released int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		patients: map[string]string{"4711": "EBM"},
		positions: map[string]string{
			"EBM/32816": "L1",
			"EBM/32791": " L2 ",
		},
		templates: map[string]store.LabTemplate{
			"SARS":  {Analyte: "SARS", Group: "VIRO", ShortName: "SARS-AG", ServiceCode: "32816"},
			"FLU A": {Analyte: "FLU A", Group: "VIRO", ShortName: "FLU-A", ServiceCode: "32791"},
			"CRP":   {Analyte: "CRP", Group: "CHEM", ShortName: "CRP"},
		},
	}
}

func (s *fakeStore) Acquire(context.Context) (store.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	s.acquired++

	return &fakeConn{s: s}, nil
}

func (s *fakeStore) billingTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, e := range s.billing {
		out = append(out, e.Kind+" "+e.Date+" "+e.Text)
	}

	return out
}

var errInjected = errors.New("injected failure")

type fakeConn struct {
	s    *fakeStore
	done bool
}

func (c *fakeConn) Release() {
	if c.done {
		return
	}
	c.done = true

	c.s.mu.Lock()
	c.s.released++
	c.s.mu.Unlock()
}

func (c *fakeConn) PatientExists(id string) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	_, ok := c.s.patients[id]

	return ok, nil
}

func (c *fakeConn) FeeSchedule(id string) (string, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if c.s.failFeeLookup {
		return "", errInjected
	}

	fs, ok := c.s.patients[id]
	if !ok {
		return "", store.ErrNotFound
	}

	return fs, nil
}

func (c *fakeConn) BillingPosition(feeSchedule, serviceCode string) (string, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	pos, ok := c.s.positions[feeSchedule+"/"+serviceCode]
	if !ok {
		return "", store.ErrNotFound
	}

	return pos, nil
}

func (c *fakeConn) LabTemplate(analyte string) (*store.LabTemplate, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	t, ok := c.s.templates[analyte]
	if !ok {
		return nil, store.ErrNotFound
	}

	return &t, nil
}

func (c *fakeConn) BillingEntryExists(patientID, date, text string) (bool, error) {
	n, err := c.CountBillingEntries(patientID, date, text)

	return n > 0, err
}

func (c *fakeConn) InsertLabEntry(e store.LabEntry) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if c.s.failLabFor != "" && e.Value == c.s.failLabFor {
		return errInjected
	}
	c.s.lab = append(c.s.lab, e)

	return nil
}

func (c *fakeConn) InsertBillingEntry(e store.BillingEntry) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if c.s.failBilling {
		return errInjected
	}
	c.s.billing = append(c.s.billing, e)

	return nil
}

func (c *fakeConn) CountLabEntries(patientID, date string) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	n := 0
	for _, e := range c.s.lab {
		if e.PatientID == patientID && e.Date == date {
			n++
		}
	}

	return n, nil
}

func (c *fakeConn) CountBillingEntries(patientID, date, text string) (int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	n := 0
	for _, e := range c.s.billing {
		if e.PatientID == patientID && e.Date == date && e.Text == text {
			n++
		}
	}

	return n, nil
}

// memRecorder collects outcomes.
type memRecorder struct {
	outcomes []*BatchOutcome
	err      error
}

func (r *memRecorder) Record(o *BatchOutcome) error {
	r.outcomes = append(r.outcomes, o)

	return r.err
}
