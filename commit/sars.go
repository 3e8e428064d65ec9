package commit

import (
	"strings"
)

// Default SARS override: a positive SARS result is billed with a fixed position
// regardless of the fee schedule.
const (
	DefaultSARSAnalyte      = "SARS"
	DefaultSARSOverrideCode = "COVT1"
)

var (
	negativeMarkers = []string{"neg", "not detected", "non-reactive", "nonreactive", "nicht"}
	positiveMarkers = []string{"pos", "detected", "reactive"}
)

// GuessPositive reports whether a free-text result value reads as positive.
// Negative markers win over positive ones, so "not detected" is negative.
func GuessPositive(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))

	switch v {
	case "", "-":
		return false
	case "+":
		return true
	}

	for _, m := range negativeMarkers {
		if strings.Contains(v, m) {
			return false
		}
	}

	for _, m := range positiveMarkers {
		if strings.Contains(v, m) {
			return true
		}
	}

	return false
}
