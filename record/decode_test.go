package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMessage = "H|\\^&|||Sofia^1.3.0|||||||P|E 1394-97|20240101103000\r" +
	"P|1|4711|||||||||||||||||||||||Praxis\r" +
	"O|1|S-123||SARS Antigen||||||Dr. X|||||Swab\r" +
	"C|1||instrument ok\r" +
	"R|1|^^^SARS|negative|||N||F||||20240101100000\r" +
	"L|1|N\r"

func TestDecoder_DecodeMessage(t *testing.T) {
	d := Decoder{Location: time.UTC}

	lines := d.DecodeMessage([]byte(sampleMessage))
	require.Len(t, lines, 6)

	for _, l := range lines {
		require.NoError(t, l.Err, "line %q", l.Raw)
	}

	h, ok := lines[0].Record.(*Header)
	require.True(t, ok)
	assert.Equal(t, DefaultDelimiters, h.Delimiters)
	assert.Equal(t, Sender{Name: "Sofia", Version: "1.3.0"}, h.Sender)
	assert.Equal(t, "P", h.ProcessingID)
	assert.Equal(t, "E 1394-97", h.Version)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC), h.Timestamp)

	p, ok := lines[1].Record.(*Patient)
	require.True(t, ok)
	assert.Equal(t, 1, p.Seq)
	assert.Equal(t, "4711", p.PracticeID)
	assert.Equal(t, "Praxis", p.Location)

	o, ok := lines[2].Record.(*Order)
	require.True(t, ok)
	assert.Equal(t, "S-123", o.SampleID)
	assert.Equal(t, "SARS Antigen", o.Test)
	assert.Equal(t, "Dr. X", o.Collector)
	assert.Equal(t, "Swab", o.Biomaterial)

	c, ok := lines[3].Record.(*Comment)
	require.True(t, ok)
	assert.Equal(t, "instrument ok", c.Text)

	r, ok := lines[4].Record.(*Result)
	require.True(t, ok)
	assert.Equal(t, "^^^SARS", r.Test)
	assert.Equal(t, "SARS", r.Analyte)
	assert.Equal(t, "negative", r.Value)
	assert.Equal(t, "N", r.AbnormalFlag)
	assert.Equal(t, "F", r.Status)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), r.CompletedAt)

	term, ok := lines[5].Record.(*Terminator)
	require.True(t, ok)
	assert.Equal(t, "N", term.Code)

	assert.Equal(t, "L|1|N", string(lines[5].Raw))
}

func TestDecoder_HeaderDefaults(t *testing.T) {
	rec, err := Decoder{}.Decode([]byte("H|\\^&"))
	require.NoError(t, err)

	h := rec.(*Header)
	assert.Equal(t, DefaultVersion, h.Version)
	assert.Equal(t, ProcessingProduction, h.ProcessingID)
	assert.True(t, h.Timestamp.IsZero())
}

func TestDecoder_HeaderInvalidProcessingID(t *testing.T) {
	_, err := Decoder{}.Decode([]byte("H|\\^&||||||||||D"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidField)

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, TypeHeader, de.Type)
	assert.Equal(t, "processing_id", de.Field)
}

func TestDecoder_CustomDelimiters(t *testing.T) {
	d := Decoder{Location: time.UTC}

	lines := d.DecodeMessage([]byte("H!@#$\rR!1!###FLU A!pos!!!!!F!!!!20240101100000\r"))
	require.Len(t, lines, 2)
	require.NoError(t, lines[0].Err)
	require.NoError(t, lines[1].Err)

	h := lines[0].Record.(*Header)
	assert.Equal(t, "!@#$", h.Delimiters.String())

	r := lines[1].Record.(*Result)
	assert.Equal(t, "FLU A", r.Analyte)
	assert.Equal(t, "pos", r.Value)
}

func TestDecoder_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		typ   Type
		field string
	}{
		{"patient without practice id", "P|1||", TypePatient, "practice_id"},
		{"comment without text", "C|1||", TypeComment, "data"},
		{"result without test", "R|1||pos|||||F||||20240101100000", TypeResult, "test"},
		{"result without analyte component", "R|1|SARS|pos|||||F||||20240101100000", TypeResult, "test.analyte_name"},
		{"result without value", "R|1|^^^SARS||||||F||||20240101100000", TypeResult, "value"},
		{"result without status", "R|1|^^^SARS|pos|||||||||20240101100000", TypeResult, "status"},
		{"result without completion time", "R|1|^^^SARS|pos|||||F", TypeResult, "completed_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decoder{}.Decode([]byte(tt.line))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMissingField)

			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.typ, de.Type)
			assert.Equal(t, tt.field, de.Field)
		})
	}
}

func TestDecoder_InvalidFields(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"non numeric sequence", "L|x|N"},
		{"bad completion time", "R|1|^^^SARS|pos|||||F||||2024-01-01"},
		{"impossible date", "R|1|^^^SARS|pos|||||F||||20241301100000"},
		{"header timestamp", "H|\\^&||||||||||||tomorrow"},
		{"header delimiters too short", "H|\\"},
		{"header delimiters repeated", "H||^&"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decoder{}.Decode([]byte(tt.line))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidField)
		})
	}
}

func TestDecoder_UnrecognizedType(t *testing.T) {
	for _, line := range []string{"Q|1|ALL", "M|1|x", "Px|1|4711"} {
		_, err := Decoder{}.Decode([]byte(line))
		require.Error(t, err, line)
		assert.ErrorIs(t, err, ErrUnrecognizedType)
		assert.Contains(t, err.Error(), "unrecognized record type")
	}
}

func TestDecoder_EmptyRecord(t *testing.T) {
	_, err := Decoder{}.Decode([]byte("  "))
	assert.ErrorIs(t, err, ErrEmptyRecord)
}

func TestDecoder_TerminatorDefaultCode(t *testing.T) {
	rec, err := Decoder{}.Decode([]byte("L|1"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTerminationCode, rec.(*Terminator).Code)
}

func TestDecoder_UsesLocation(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)

	rec, err := Decoder{Location: berlin}.Decode([]byte("R|1|^^^SARS|pos|||||F||||202401011000"))
	require.NoError(t, err)

	r := rec.(*Result)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, berlin), r.CompletedAt)
	assert.Equal(t, 9, r.CompletedAt.UTC().Hour())
}

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"20240101103045", time.Date(2024, 1, 1, 10, 30, 45, 0, time.UTC)},
		{"202401011030", time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)},
		{"20240101", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := ParseDateTime(tt.in, time.UTC)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseDateTime("2024", time.UTC)
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestSplitRecords(t *testing.T) {
	lines := SplitRecords([]byte("H|\\^&\r\nP|1|4711\r\rL|1|N\r"))
	require.Len(t, lines, 3)
	assert.Equal(t, "H|\\^&", string(lines[0]))
	assert.Equal(t, "P|1|4711", string(lines[1]))
	assert.Equal(t, "L|1|N", string(lines[2]))
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "header", TypeHeader.String())
	assert.Equal(t, "result", TypeResult.String())
	assert.Equal(t, "terminator", TypeTerminator.String())
	assert.Equal(t, "unknown('Q')", Type('Q').String())
}

func TestDecodeError_Message(t *testing.T) {
	err := &DecodeError{Type: TypePatient, Field: "practice_id", Err: ErrMissingField}
	assert.Equal(t, `decode patient record, field "practice_id": record: missing required field`, err.Error())
}
