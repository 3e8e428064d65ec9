package astm

import (
	"errors"
	"fmt"
)

// Sentinel errors for the ASTM session protocol.
var (
	// ErrFrame is the parent of every frame-level integrity error. A frame
	// error is answered with NAK and the sender is expected to retransmit.
	ErrFrame = errors.New("astm: frame error")

	// Frame-level errors.
	ErrMalformedFrame     = fmt.Errorf("%w: malformed frame", ErrFrame)
	ErrChecksumMismatch   = fmt.Errorf("%w: checksum mismatch", ErrFrame)
	ErrFrameNumber        = fmt.Errorf("%w: unexpected frame number", ErrFrame)
	ErrCharTimeout        = fmt.Errorf("%w: inter-character timeout", ErrFrame)
	ErrRetryLimitExceeded = errors.New("astm: frame retry limit exceeded")

	// Session-level errors.
	ErrReceiveTimeout  = errors.New("astm: receive timeout")
	ErrReceiverNil     = errors.New("astm: message receiver is nil")
	ErrSessionAborted  = errors.New("astm: session aborted by receiver")
	ErrSessionNotFresh = errors.New("astm: session already served")
)
