package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"", InfoLevel},
		{"INFO", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"fatal", FatalLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestSlogWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, false, false)

	l.Debug("hidden")
	l.With("conn", "c1").Info("frame accepted", "seq", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "frame accepted", rec["msg"])
	assert.Equal(t, "c1", rec["conn"])
	assert.InDelta(t, 3, rec["seq"], 0)
	assert.Contains(t, rec, "ts")
	assert.Equal(t, InfoLevel, l.Level())

	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, l.Level())
}

func TestZerolog_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerolog(&buf, InfoLevel, false)

	l.With("conn", "c2").Warn("duplicate", "patient", "4711", "error", errors.New("boom"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "duplicate", rec["message"])
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, "c2", rec["conn"])
	assert.Equal(t, "4711", rec["patient"])
	assert.Equal(t, "boom", rec["error"])

	buf.Reset()
	l.Debug("hidden")
	assert.Zero(t, buf.Len())
	assert.Equal(t, InfoLevel, l.Level())
}

func TestPairs_DanglingValue(t *testing.T) {
	fields := pairs([]any{"a", 1, "b"})
	assert.Equal(t, 1, fields["a"])
	assert.Equal(t, "b", fields["!BADKEY"])
}

func TestMockLogger_AllowAll(t *testing.T) {
	m := NewMockLogger().AllowAll()
	m.With("k", "v").Warn("unexpected record", "type", "P")

	m.AssertCalled(t, "Warn", "unexpected record", mock.Anything)
}
