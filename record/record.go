// Package record decodes the E1394 records carried by ASTM messages.
//
// Only the record types exchanged by the supported analyzers are modelled:
// header (H), patient (P), order (O), comment (C), result (R) and terminator
// (L). Each decoded record is one of the concrete pointer types in this
// package and is distinguished with a type switch:
//
//	switch rec := rec.(type) {
//	case *record.Header:
//	case *record.Result:
//	...
//	}
//
// Fields are addressed by their 1-based E1394 field number, field 1 being the
// type letter.
package record

import (
	"fmt"
	"time"
)

// Type is the record type letter.
type Type byte

// Supported record types.
const (
	TypeHeader     Type = 'H'
	TypePatient    Type = 'P'
	TypeOrder      Type = 'O'
	TypeComment    Type = 'C'
	TypeResult     Type = 'R'
	TypeTerminator Type = 'L'
)

// String returns the record type name, e.g. "header".
func (t Type) String() string {
	switch t {
	case TypeHeader:
		return "header"
	case TypePatient:
		return "patient"
	case TypeOrder:
		return "order"
	case TypeComment:
		return "comment"
	case TypeResult:
		return "result"
	case TypeTerminator:
		return "terminator"
	default:
		return fmt.Sprintf("unknown(%q)", byte(t))
	}
}

// Record is a decoded record. The set of implementations is closed.
type Record interface {
	Type() Type
	isRecord()
}

// Delimiters are the four separator characters declared by the header.
type Delimiters struct {
	Field     byte
	Repeat    byte
	Component byte
	Escape    byte
}

// DefaultDelimiters is the delimiter set used before a header declares one.
var DefaultDelimiters = Delimiters{Field: '|', Repeat: '\\', Component: '^', Escape: '&'}

// String returns the delimiter definition as written in the header, e.g. `|\^&`.
func (d Delimiters) String() string {
	return string([]byte{d.Field, d.Repeat, d.Component, d.Escape})
}

// Sender identifies the transmitting instrument (header field 5).
type Sender struct {
	Name    string
	Version string
}

// DefaultVersion is the header version used when field 13 is empty.
const DefaultVersion = "E 1394-97"

// ProcessingProduction is the only accepted processing id (header field 12).
const ProcessingProduction = "P"

// Header opens a batch.
type Header struct {
	Delimiters   Delimiters
	Sender       Sender
	ProcessingID string
	Version      string
	// Timestamp is the message date and time (field 14). Zero when absent.
	Timestamp time.Time
}

// Patient carries the practice's patient identifier.
type Patient struct {
	Seq        int
	PracticeID string
	Location   string
}

// Order describes the sample the following results belong to.
type Order struct {
	Seq         int
	SampleID    string
	Test        string
	Collector   string
	Biomaterial string
}

// Comment is free text; it has no effect on batch state.
type Comment struct {
	Seq  int
	Text string
}

// Result is one measured analyte.
type Result struct {
	Seq int
	// Test is the raw universal test id, e.g. "^^^SARS".
	Test string
	// Analyte is the fourth component of Test.
	Analyte      string
	Value        string
	Units        string
	References   string
	AbnormalFlag string
	Status       string
	CompletedAt  time.Time
}

// DefaultTerminationCode is used when terminator field 3 is empty.
const DefaultTerminationCode = "N"

// Terminator closes a batch.
type Terminator struct {
	Seq  int
	Code string
}

func (*Header) Type() Type     { return TypeHeader }
func (*Patient) Type() Type    { return TypePatient }
func (*Order) Type() Type      { return TypeOrder }
func (*Comment) Type() Type    { return TypeComment }
func (*Result) Type() Type     { return TypeResult }
func (*Terminator) Type() Type { return TypeTerminator }

func (*Header) isRecord()     {}
func (*Patient) isRecord()    {}
func (*Order) isRecord()      {}
func (*Comment) isRecord()    {}
func (*Result) isRecord()     {}
func (*Terminator) isRecord() {}
