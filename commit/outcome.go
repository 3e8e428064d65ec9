package commit

import (
	"time"

	"github.com/arloliu/go-astm/dispatch"
)

// Status is the outcome of committing one result.
type Status string

// Result statuses.
const (
	// StatusWritten means the lab entry was written; the billing entry too
	// unless Reason says why billing was skipped.
	StatusWritten Status = "written"
	// StatusSkippedDuplicate means the billing ledger already holds the entry.
	StatusSkippedDuplicate Status = "skipped-duplicate"
	// StatusSkippedNoMapping means no lab template exists for the analyte.
	StatusSkippedNoMapping Status = "skipped-no-mapping"
	// StatusSkippedPrivate means the lab entry was written and billing was
	// skipped because the batch is private.
	StatusSkippedPrivate Status = "skipped-private"
	// StatusSkippedStale means the result completed too long before the header.
	StatusSkippedStale Status = "skipped-stale"
	// StatusFailed means a store write or lookup failed.
	StatusFailed Status = "failed"
)

// ResultOutcome describes what happened to one result.
type ResultOutcome struct {
	Seq     int
	Analyte string
	// ShortName is the lab template short name, set once a template matched.
	ShortName      string
	CompletedAt    time.Time
	Status         Status
	LabWritten     bool
	BillingWritten bool
	// Position is the billing position, set when one was determined.
	Position string
	// Reason explains a skip or failure, or a billing skip of a written result.
	Reason string
}

// BatchOutcome describes the commit of one batch.
type BatchOutcome struct {
	Fingerprint dispatch.Fingerprint
	Patient     string
	Private     bool
	CommittedAt time.Time
	Results     []ResultOutcome
	// LabNote and BillingNote are the summary notes written, empty if none.
	LabNote     string
	BillingNote string
	// Err is the batch-fatal error, if any.
	Err error
}

// Count returns the number of results with the given status.
func (o *BatchOutcome) Count(s Status) int {
	n := 0
	for _, r := range o.Results {
		if r.Status == s {
			n++
		}
	}

	return n
}

// Recorder persists batch outcomes, e.g. to a journal.
type Recorder interface {
	Record(o *BatchOutcome) error
}
