package dispatch

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Fingerprint identifies a batch by the BLAKE3 keyed hash of its raw record
// lines. Two deliveries of the same batch have the same fingerprint.
type Fingerprint [32]byte

// batchDomainKey is the BLAKE3 key for batch fingerprints: the ASCII domain
// name zero-padded to 32 bytes.
var batchDomainKey = [32]byte{
	'a', 's', 't', 'm', '.', 'b', 'r', 'i', 'd', 'g', 'e', '.',
	'b', 'a', 't', 'c', 'h', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// String returns the lowercase hex form of the fingerprint.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether the fingerprint was never computed.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// ParseFingerprint parses a 64-character hex string.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint

	if len(s) != hex.EncodedLen(len(f)) {
		return f, fmt.Errorf("dispatch: fingerprint must be %d hex characters, got %d", hex.EncodedLen(len(f)), len(s))
	}

	if _, err := hex.Decode(f[:], []byte(s)); err != nil {
		return f, fmt.Errorf("dispatch: invalid fingerprint: %w", err)
	}

	return f, nil
}

// fingerprinter accumulates record lines. Each line is hashed with its CR
// terminator so that line boundaries are part of the digest.
type fingerprinter struct {
	hasher *blake3.Hasher
}

func newFingerprinter() *fingerprinter {
	// NewKeyed only fails for keys that are not 32 bytes.
	hasher, err := blake3.NewKeyed(batchDomainKey[:])
	if err != nil {
		panic("dispatch: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	return &fingerprinter{hasher: hasher}
}

func (fp *fingerprinter) add(line []byte) {
	_, _ = fp.hasher.Write(line)
	_, _ = fp.hasher.Write([]byte{'\r'})
}

func (fp *fingerprinter) sum() Fingerprint {
	var f Fingerprint
	copy(f[:], fp.hasher.Sum(nil))

	return f
}

// FingerprintLines computes the fingerprint of the given record lines.
func FingerprintLines(lines ...[]byte) Fingerprint {
	fp := newFingerprinter()
	for _, l := range lines {
		fp.add(l)
	}

	return fp.sum()
}
