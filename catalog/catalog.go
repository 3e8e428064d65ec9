// Package catalog loads the reference data of the bridge (lab templates,
// fee schedules and patients) from a YAML file:
//
//	templates:
//	  - analyte: SARS
//	    group: VIRO
//	    short_name: SARS-AG
//	    service_code: "32816"
//	fee_schedules:
//	  EBM:
//	    "32816": L1
//	patients:
//	  - id: "4711"
//	    fee_schedule: EBM
//
// Patient ids are stored as given and must already be normalized references.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-astm/store"
)

// File is the YAML layout of a catalog file.
type File struct {
	Templates    []Template                   `yaml:"templates"`
	FeeSchedules map[string]map[string]string `yaml:"fee_schedules"`
	Patients     []Patient                    `yaml:"patients"`
}

// Template is one lab template entry.
type Template struct {
	Analyte     string `yaml:"analyte"`
	Group       string `yaml:"group"`
	ShortName   string `yaml:"short_name"`
	ServiceCode string `yaml:"service_code"`
}

// Patient is one patient entry.
type Patient struct {
	ID          string `yaml:"id"`
	FeeSchedule string `yaml:"fee_schedule"`
}

// Load reads and parses the catalog file at path.
func Load(path string) (*store.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: reading %s: %w", path, err)
	}

	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}

	return cat, nil
}

// Parse parses catalog YAML. Unknown keys are rejected.
func Parse(data []byte) (*store.Catalog, error) {
	var f File

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return f.Catalog(), nil
}

// Validate checks that required keys are present and analytes and patient
// ids are unique.
func (f *File) Validate() error {
	var errs []error

	analytes := make(map[string]bool, len(f.Templates))
	for i, t := range f.Templates {
		a := strings.TrimSpace(t.Analyte)
		switch {
		case a == "":
			errs = append(errs, fmt.Errorf("templates[%d]: analyte is required", i))
		case analytes[a]:
			errs = append(errs, fmt.Errorf("templates[%d]: duplicate analyte %q", i, a))
		}
		analytes[a] = true
	}

	for name, codes := range f.FeeSchedules {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("fee_schedules: empty schedule name"))
		}
		for code, pos := range codes {
			if strings.TrimSpace(pos) == "" {
				errs = append(errs, fmt.Errorf("fee_schedules.%s.%s: position is required", name, code))
			}
		}
	}

	ids := make(map[string]bool, len(f.Patients))
	for i, p := range f.Patients {
		id := strings.TrimSpace(p.ID)
		switch {
		case id == "":
			errs = append(errs, fmt.Errorf("patients[%d]: id is required", i))
		case ids[id]:
			errs = append(errs, fmt.Errorf("patients[%d]: duplicate id %q", i, id))
		}
		ids[id] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("catalog: invalid: %w", errors.Join(errs...))
	}

	return nil
}

// Catalog converts the file into store reference data. Fee positions are
// sorted by schedule and service code.
func (f *File) Catalog() *store.Catalog {
	cat := &store.Catalog{}

	for _, t := range f.Templates {
		cat.Templates = append(cat.Templates, store.LabTemplate{
			Analyte:     strings.TrimSpace(t.Analyte),
			Group:       t.Group,
			ShortName:   t.ShortName,
			ServiceCode: strings.TrimSpace(t.ServiceCode),
		})
	}

	for name, codes := range f.FeeSchedules {
		for code, pos := range codes {
			cat.Positions = append(cat.Positions, store.FeePosition{
				FeeSchedule: name,
				ServiceCode: code,
				Position:    strings.TrimSpace(pos),
			})
		}
	}
	sort.Slice(cat.Positions, func(i, j int) bool {
		a, b := cat.Positions[i], cat.Positions[j]
		if a.FeeSchedule != b.FeeSchedule {
			return a.FeeSchedule < b.FeeSchedule
		}

		return a.ServiceCode < b.ServiceCode
	})

	for _, p := range f.Patients {
		cat.Patients = append(cat.Patients, store.Patient{
			ID:          strings.TrimSpace(p.ID),
			FeeSchedule: p.FeeSchedule,
		})
	}

	return cat
}
