package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-astm/record"
)

func TestNormalizePatientID(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"4711", 0, "4711"},
		{"  0047-11 ", 0, "4711"},
		{"A-12/3", 0, "123"},
		{"abc", 0, "0"},
		{"", 0, "0"},
		{"000", 0, "0"},
		{"4711", 6, "004711"},
		{"12345", 3, "12345"},
		{"", 3, "000"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePatientID(tt.in, tt.width), "%q width %d", tt.in, tt.width)
	}
}

func TestIsPrivate(t *testing.T) {
	assert.True(t, IsPrivate("p", DefaultPrivateTag))
	assert.True(t, IsPrivate("PriVat", DefaultPrivateTag))
	assert.True(t, IsPrivate(" priv ", DefaultPrivateTag))
	assert.False(t, IsPrivate("", DefaultPrivateTag))
	assert.False(t, IsPrivate("privatpatient", DefaultPrivateTag))
	assert.False(t, IsPrivate("x", DefaultPrivateTag))
	assert.True(t, IsPrivate("self", "selfpay"))
}

func TestIsCalibration(t *testing.T) {
	assert.False(t, IsCalibration(nil))
	assert.True(t, IsCalibration([]*record.Result{{Analyte: "NEG", Value: "PASSED"}}))
	assert.True(t, IsCalibration([]*record.Result{{Analyte: "CB CASS", Value: " passed"}}))
	assert.False(t, IsCalibration([]*record.Result{{Analyte: "NEG", Value: "failed"}}))
	assert.False(t, IsCalibration([]*record.Result{{Analyte: "SARS", Value: "passed"}}))
}

func TestFingerprint_ParseRoundTrip(t *testing.T) {
	f := FingerprintLines([]byte("H|\\^&"), []byte("L|1|N"))
	require.False(t, f.IsZero())

	parsed, err := ParseFingerprint(f.String())
	require.NoError(t, err)
	assert.Equal(t, f, parsed)

	_, err = ParseFingerprint("abc")
	assert.Error(t, err)
	_, err = ParseFingerprint(string(make([]byte, 64)))
	assert.Error(t, err)
}

func TestFingerprint_LineBoundaries(t *testing.T) {
	a := FingerprintLines([]byte("ab"), []byte("c"))
	b := FingerprintLines([]byte("a"), []byte("bc"))
	assert.NotEqual(t, a, b)
}

func TestParseSequencingPolicy(t *testing.T) {
	p, err := ParseSequencingPolicy("warn-and-continue")
	require.NoError(t, err)
	assert.Equal(t, WarnAndContinue, p)

	p, err = ParseSequencingPolicy("")
	require.NoError(t, err)
	assert.Equal(t, HardFail, p)
	assert.Equal(t, "hard-fail", p.String())

	_, err = ParseSequencingPolicy("retry")
	assert.Error(t, err)
}
