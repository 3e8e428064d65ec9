package record

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Datetime layouts accepted for date/time fields, longest first.
const (
	layoutSeconds = "20060102150405"
	layoutMinutes = "200601021504"
	layoutDate    = "20060102"
)

// Decoder maps record lines to records.
//
// A Decoder is a plain value without state across calls. The zero value uses
// DefaultDelimiters and time.Local.
type Decoder struct {
	// Delimiters used for non-header records. A header always declares its own.
	Delimiters Delimiters
	// Location used for date/time fields, which carry no zone.
	Location *time.Location
}

// Line is one record line of a message together with its decoding result.
type Line struct {
	Raw    []byte
	Record Record
	Err    error
}

// SplitRecords splits message text at CR into record lines. LF following CR
// and empty lines are dropped.
func SplitRecords(msg []byte) [][]byte {
	var lines [][]byte

	for _, line := range bytes.Split(msg, []byte{'\r'}) {
		line = bytes.TrimPrefix(line, []byte{'\n'})
		if len(line) == 0 {
			continue
		}
		lines = append(lines, line)
	}

	return lines
}

// DecodeMessage decodes every record line of a message. A header inside the
// message switches the delimiters for the lines after it.
func (d Decoder) DecodeMessage(msg []byte) []Line {
	lines := SplitRecords(msg)
	out := make([]Line, 0, len(lines))

	for _, raw := range lines {
		rec, err := d.Decode(raw)
		if h, ok := rec.(*Header); ok {
			d.Delimiters = h.Delimiters
		}
		out = append(out, Line{Raw: raw, Record: rec, Err: err})
	}

	return out
}

// Decode decodes a single record line (without the trailing CR).
func (d Decoder) Decode(line []byte) (Record, error) {
	if len(bytes.TrimSpace(line)) == 0 {
		return nil, &DecodeError{Err: ErrEmptyRecord}
	}

	typ := Type(line[0])
	if typ == TypeHeader {
		return d.decodeHeader(line)
	}

	delims := d.delimiters()
	if len(line) > 1 && line[1] != delims.Field {
		return nil, &DecodeError{Type: typ, Field: "type", Err: fmt.Errorf("%w %q", ErrUnrecognizedType, d.typeField(line, delims))}
	}

	f := fields{values: bytes.Split(line, []byte{delims.Field}), typ: typ, delims: delims, loc: d.location()}

	switch typ {
	case TypePatient:
		return f.patient()
	case TypeOrder:
		return f.order()
	case TypeComment:
		return f.comment()
	case TypeResult:
		return f.result()
	case TypeTerminator:
		return f.terminator()
	default:
		return nil, &DecodeError{Type: typ, Field: "type", Err: fmt.Errorf("%w %q", ErrUnrecognizedType, line[:1])}
	}
}

func (d Decoder) delimiters() Delimiters {
	if d.Delimiters == (Delimiters{}) {
		return DefaultDelimiters
	}

	return d.Delimiters
}

func (d Decoder) location() *time.Location {
	if d.Location == nil {
		return time.Local
	}

	return d.Location
}

func (d Decoder) typeField(line []byte, delims Delimiters) []byte {
	if i := bytes.IndexByte(line, delims.Field); i >= 0 {
		return line[:i]
	}

	return line
}

// decodeHeader reads the delimiter definition from the header itself:
// `H|\^&` declares field, repeat, component and escape characters.
func (d Decoder) decodeHeader(line []byte) (Record, error) {
	if len(line) < 5 {
		return nil, &DecodeError{Type: TypeHeader, Field: "delimiters", Err: fmt.Errorf("%w: %q", ErrInvalidField, line)}
	}

	delims := Delimiters{Field: line[1], Repeat: line[2], Component: line[3], Escape: line[4]}
	if !distinct(delims) {
		return nil, &DecodeError{Type: TypeHeader, Field: "delimiters", Err: fmt.Errorf("%w: %q", ErrInvalidField, line[1:5])}
	}

	f := fields{values: bytes.Split(line, []byte{delims.Field}), typ: TypeHeader, delims: delims, loc: d.location()}

	return f.header()
}

func distinct(d Delimiters) bool {
	set := []byte{d.Field, d.Repeat, d.Component, d.Escape}
	for i := range set {
		if set[i] <= ' ' || set[i] >= 0x7F {
			return false
		}
		for j := i + 1; j < len(set); j++ {
			if set[i] == set[j] {
				return false
			}
		}
	}

	return true
}

// fields gives positional access to the fields of one record line.
type fields struct {
	values [][]byte
	typ    Type
	delims Delimiters
	loc    *time.Location
}

// text returns field n (1-based) or "" when absent.
func (f fields) text(n int) string {
	if n < 1 || n > len(f.values) {
		return ""
	}

	return string(f.values[n-1])
}

func (f fields) required(n int, name string) (string, error) {
	v := f.text(n)
	if v == "" {
		return "", &DecodeError{Type: f.typ, Field: name, Err: ErrMissingField}
	}

	return v, nil
}

func (f fields) integer(n int, name string) (int, error) {
	v := f.text(n)
	if v == "" {
		return 0, nil
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, &DecodeError{Type: f.typ, Field: name, Err: fmt.Errorf("%w: %q is not an integer", ErrInvalidField, v)}
	}

	return i, nil
}

func (f fields) datetime(n int, name string) (time.Time, error) {
	v := f.text(n)
	if v == "" {
		return time.Time{}, nil
	}

	t, err := ParseDateTime(v, f.loc)
	if err != nil {
		return time.Time{}, &DecodeError{Type: f.typ, Field: name, Err: err}
	}

	return t, nil
}

// components returns the components of field n.
func (f fields) components(n int) []string {
	v := f.text(n)
	if v == "" {
		return nil
	}

	parts := bytes.Split([]byte(v), []byte{f.delims.Component})
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}

	return out
}

func component(parts []string, n int) string {
	if n < 1 || n > len(parts) {
		return ""
	}

	return parts[n-1]
}

func (f fields) header() (Record, error) {
	sender := f.components(5)

	h := &Header{
		Delimiters: f.delims,
		Sender: Sender{
			Name:    component(sender, 1),
			Version: component(sender, 2),
		},
		ProcessingID: f.text(12),
		Version:      f.text(13),
	}

	if h.ProcessingID != "" && h.ProcessingID != ProcessingProduction {
		return nil, &DecodeError{Type: TypeHeader, Field: "processing_id",
			Err: fmt.Errorf("%w: got %q, want %q", ErrInvalidField, h.ProcessingID, ProcessingProduction)}
	}
	if h.ProcessingID == "" {
		h.ProcessingID = ProcessingProduction
	}
	if h.Version == "" {
		h.Version = DefaultVersion
	}

	var err error
	if h.Timestamp, err = f.datetime(14, "timestamp"); err != nil {
		return nil, err
	}

	return h, nil
}

func (f fields) patient() (Record, error) {
	seq, err := f.integer(2, "seq")
	if err != nil {
		return nil, err
	}

	practiceID, err := f.required(3, "practice_id")
	if err != nil {
		return nil, err
	}

	return &Patient{Seq: seq, PracticeID: practiceID, Location: f.text(26)}, nil
}

func (f fields) order() (Record, error) {
	seq, err := f.integer(2, "seq")
	if err != nil {
		return nil, err
	}

	return &Order{
		Seq:         seq,
		SampleID:    f.text(3),
		Test:        f.text(5),
		Collector:   f.text(11),
		Biomaterial: f.text(16),
	}, nil
}

func (f fields) comment() (Record, error) {
	seq, err := f.integer(2, "seq")
	if err != nil {
		return nil, err
	}

	text, err := f.required(4, "data")
	if err != nil {
		return nil, err
	}

	return &Comment{Seq: seq, Text: text}, nil
}

func (f fields) result() (Record, error) {
	seq, err := f.integer(2, "seq")
	if err != nil {
		return nil, err
	}

	test, err := f.required(3, "test")
	if err != nil {
		return nil, err
	}

	analyte := component(f.components(3), 4)
	if analyte == "" {
		return nil, &DecodeError{Type: TypeResult, Field: "test.analyte_name", Err: ErrMissingField}
	}

	r := &Result{
		Seq:          seq,
		Test:         test,
		Analyte:      analyte,
		Units:        f.text(5),
		References:   f.text(6),
		AbnormalFlag: f.text(7),
	}

	if r.Value, err = f.required(4, "value"); err != nil {
		return nil, err
	}
	if r.Status, err = f.required(9, "status"); err != nil {
		return nil, err
	}
	if _, err = f.required(13, "completed_at"); err != nil {
		return nil, err
	}
	if r.CompletedAt, err = f.datetime(13, "completed_at"); err != nil {
		return nil, err
	}

	return r, nil
}

func (f fields) terminator() (Record, error) {
	seq, err := f.integer(2, "seq")
	if err != nil {
		return nil, err
	}

	code := f.text(3)
	if code == "" {
		code = DefaultTerminationCode
	}

	return &Terminator{Seq: seq, Code: code}, nil
}

// ParseDateTime parses an E1394 date/time field (YYYYMMDDHHMMSS, YYYYMMDDHHMM
// or YYYYMMDD) in loc.
func ParseDateTime(v string, loc *time.Location) (time.Time, error) {
	var layout string

	switch len(v) {
	case len(layoutSeconds):
		layout = layoutSeconds
	case len(layoutMinutes):
		layout = layoutMinutes
	case len(layoutDate):
		layout = layoutDate
	default:
		return time.Time{}, fmt.Errorf("%w: %q is not a date/time", ErrInvalidField, v)
	}

	t, err := time.ParseInLocation(layout, v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %w", ErrInvalidField, v, err)
	}

	return t, nil
}
