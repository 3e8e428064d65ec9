package record

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by DecodeError.
var (
	ErrEmptyRecord      = errors.New("record: empty record")
	ErrUnrecognizedType = errors.New("record: unrecognized record type")
	ErrMissingField     = errors.New("record: missing required field")
	ErrInvalidField     = errors.New("record: invalid field value")
)

// DecodeError reports a record that could not be decoded.
type DecodeError struct {
	Type  Type
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode %s record: %v", e.Type, e.Err)
	}

	return fmt.Sprintf("decode %s record, field %q: %v", e.Type, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
