package dispatch

import (
	"fmt"
	"strings"
)

// State is the record-sequencing state of a Dispatcher.
type State int

const (
	// StateStart waits for a header.
	StateStart State = iota
	// StateReady has a header and waits for a patient.
	StateReady
	// StateReadyForOrder has a patient and waits for an order.
	StateReadyForOrder
	// StateReadyForResult has an order and accepts results.
	StateReadyForResult
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateReady:
		return "ready"
	case StateReadyForOrder:
		return "ready-for-order"
	case StateReadyForResult:
		return "ready-for-result"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// SequencingPolicy selects how out-of-sequence records are handled.
type SequencingPolicy int

const (
	// HardFail rejects the record, abandons the open batch and returns a
	// SequencingViolation, which makes the session abort the connection.
	HardFail SequencingPolicy = iota
	// WarnAndContinue logs the violation and recovers. A header is discarded
	// and a stray terminator is ignored. A patient override commits the batch
	// of the previous patient and starts a new one; an order override after
	// results does the same under the current patient. Orders without a
	// patient and results without patient and order are dropped.
	WarnAndContinue
)

// String returns the configuration name of the policy.
func (p SequencingPolicy) String() string {
	switch p {
	case HardFail:
		return "hard-fail"
	case WarnAndContinue:
		return "warn-and-continue"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParseSequencingPolicy parses "hard-fail" or "warn-and-continue".
func ParseSequencingPolicy(s string) (SequencingPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "hard-fail", "hardfail":
		return HardFail, nil
	case "warn-and-continue", "warn":
		return WarnAndContinue, nil
	default:
		return HardFail, fmt.Errorf("dispatch: unknown sequencing policy %q", s)
	}
}
