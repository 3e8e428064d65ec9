package dispatch

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-astm/record"
)

// ErrSequencingViolation is wrapped by every SequencingViolation.
var ErrSequencingViolation = errors.New("dispatch: record out of sequence")

// ErrCommitterNil is returned by New when no committer is given.
var ErrCommitterNil = errors.New("dispatch: committer is nil")

// SequencingViolation reports a record that arrived in a state that does not
// accept it.
type SequencingViolation struct {
	Record record.Type
	State  State
}

func (e *SequencingViolation) Error() string {
	return fmt.Sprintf("dispatch: %s record not allowed in state %s", e.Record, e.State)
}

func (e *SequencingViolation) Unwrap() error {
	return ErrSequencingViolation
}
