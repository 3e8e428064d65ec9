package dispatch

import (
	"strings"

	"github.com/arloliu/go-astm/record"
)

// DefaultPrivateTag is the word whose non-empty prefixes mark an order private.
const DefaultPrivateTag = "privat"

// NormalizePatientID turns a practice id into the patient reference used by
// the store: a "0" is prepended, every non-digit is removed, leading zeros are
// stripped and the rest is left-padded with zeros to width. An id without
// digits becomes "0".
func NormalizePatientID(practiceID string, width int) string {
	var b strings.Builder

	for _, c := range "0" + practiceID {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}

	id := strings.TrimLeft(b.String(), "0")
	if id == "" {
		id = "0"
	}

	if pad := width - len(id); pad > 0 {
		id = strings.Repeat("0", pad) + id
	}

	return id
}

// IsPrivate reports whether sampleID is a non-empty prefix of tag, ignoring case.
func IsPrivate(sampleID, tag string) bool {
	s := strings.ToLower(strings.TrimSpace(sampleID))
	if s == "" {
		return false
	}

	return strings.HasPrefix(strings.ToLower(tag), s)
}

// calibrationAnalytes are the analyte names used by calibration cassettes and controls.
var calibrationAnalytes = map[string]struct{}{
	"CB CASS": {},
	"POS":     {},
	"NEG":     {},
}

// calibrationMarker is the value reported by a passed calibration run.
const calibrationMarker = "passed"

// IsCalibration reports whether a result set is an instrument calibration
// run: the first result is a calibration analyte whose value is "passed".
func IsCalibration(results []*record.Result) bool {
	if len(results) == 0 {
		return false
	}

	first := results[0]
	if _, ok := calibrationAnalytes[strings.TrimSpace(first.Analyte)]; !ok {
		return false
	}

	return strings.EqualFold(strings.TrimSpace(first.Value), calibrationMarker)
}
