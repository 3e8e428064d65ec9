package astm

import (
	"fmt"
)

// Control characters (ASTM E1381 §6).
const (
	STX byte = 0x02
	ETX byte = 0x03
	EOT byte = 0x04
	ENQ byte = 0x05
	ACK byte = 0x06
	LF  byte = 0x0A
	CR  byte = 0x0D
	NAK byte = 0x15
	ETB byte = 0x17
)

// MaxFrameTextSize is the maximum number of text bytes carried by one frame.
const MaxFrameTextSize = 240

// frameOverhead is STX + FN + ETB/ETX + C1 + C2 + CR + LF.
const frameOverhead = 7

// MaxFrameSize is the largest valid frame on the wire.
const MaxFrameSize = MaxFrameTextSize + frameOverhead

// FirstFrameNumber is the frame number of the first frame after ENQ.
const FirstFrameNumber = 1

// NextFrameNumber returns the frame number following n (modulo 8).
func NextFrameNumber(n int) int {
	return (n + 1) % 8
}

// Frame is one checksummed unit of the session protocol.
type Frame struct {
	Seq   int    // frame number, 0–7
	Text  []byte // payload between FN and ETB/ETX
	Final bool   // true when terminated by ETX, false for ETB
}

// Terminator returns the end marker of the frame: ETX for final frames, ETB otherwise.
func (f *Frame) Terminator() byte {
	if f.Final {
		return ETX
	}

	return ETB
}

// Checksum returns the modulo-256 sum of the frame number digit, the text
// and the terminator byte.
func (f *Frame) Checksum() byte {
	return Checksum(byte('0'+f.Seq), f.Text, f.Final)
}

// Checksum computes the E1381 checksum: the sum of seq, all text bytes and the
// ETB/ETX marker, truncated to 8 bits.
func Checksum(seq byte, text []byte, final bool) byte {
	sum := uint32(seq)
	for _, v := range text {
		sum += uint32(v)
	}
	if final {
		sum += uint32(ETX)
	} else {
		sum += uint32(ETB)
	}

	return byte(sum & 0xFF) //nolint:gosec // truncation is the checksum definition
}

// Pack serializes the frame to its wire format:
//
//	[STX][FN][text...][ETB|ETX][C1][C2][CR][LF]
func (f *Frame) Pack() []byte {
	buf := make([]byte, 0, len(f.Text)+frameOverhead)
	buf = append(buf, STX, byte('0'+f.Seq))
	buf = append(buf, f.Text...)
	buf = append(buf, f.Terminator())
	buf = appendHex(buf, f.Checksum())
	buf = append(buf, CR, LF)

	return buf
}

// Encode builds the wire bytes of a frame with the given number and text.
func Encode(seq int, text []byte, final bool) ([]byte, error) {
	if seq < 0 || seq > 7 {
		return nil, fmt.Errorf("%w: frame number %d out of range [0, 7]", ErrMalformedFrame, seq)
	}
	if len(text) > MaxFrameTextSize {
		return nil, fmt.Errorf("%w: text length %d exceeds %d", ErrMalformedFrame, len(text), MaxFrameTextSize)
	}
	for _, b := range text {
		if isControl(b) {
			return nil, fmt.Errorf("%w: control character 0x%02X in frame text", ErrMalformedFrame, b)
		}
	}

	f := &Frame{Seq: seq, Text: text, Final: final}

	return f.Pack(), nil
}

// DecodeFrame parses a complete frame, STX through LF inclusive.
//
// DecodeFrame validates:
//   - marker placement (STX first, ETB/ETX followed by two checksum characters, CR, LF).
//   - the frame number is a digit 0–7.
//   - the text contains no framing control characters.
//   - the checksum matches. Lower-case hex digits are accepted.
//
// Pack reproduces raw byte for byte except for a lower-case checksum, which
// it writes in upper case.
//
// All returned errors satisfy errors.Is(err, ErrFrame).
func DecodeFrame(raw []byte) (*Frame, error) {
	n := len(raw)
	if n < frameOverhead {
		return nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrMalformedFrame, n)
	}
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame too long (%d bytes)", ErrMalformedFrame, n)
	}
	if raw[0] != STX {
		return nil, fmt.Errorf("%w: frame does not start with STX", ErrMalformedFrame)
	}
	if raw[n-2] != CR || raw[n-1] != LF {
		return nil, fmt.Errorf("%w: frame does not end with CR LF", ErrMalformedFrame)
	}

	term := raw[n-5]
	if term != ETX && term != ETB {
		return nil, fmt.Errorf("%w: missing ETB/ETX before checksum", ErrMalformedFrame)
	}

	digit := raw[1]
	if digit < '0' || digit > '7' {
		return nil, fmt.Errorf("%w: invalid frame number 0x%02X", ErrMalformedFrame, digit)
	}

	text := raw[2 : n-5]
	for _, b := range text {
		if isControl(b) {
			return nil, fmt.Errorf("%w: control character 0x%02X in frame text", ErrMalformedFrame, b)
		}
	}

	wire, ok := parseHex(raw[n-4], raw[n-3])
	if !ok {
		return nil, fmt.Errorf("%w: checksum %q is not hexadecimal", ErrMalformedFrame, raw[n-4:n-2])
	}

	f := &Frame{
		Seq:   int(digit - '0'),
		Text:  append([]byte(nil), text...),
		Final: term == ETX,
	}

	if calc := f.Checksum(); calc != wire {
		return nil, fmt.Errorf("%w: wire=%02X, computed=%02X", ErrChecksumMismatch, wire, calc)
	}

	return f, nil
}

// SplitMessage splits a message into frames of at most MaxFrameTextSize bytes,
// numbering them from firstSeq. The last frame is final. An empty message
// yields a single empty final frame.
func SplitMessage(firstSeq int, msg []byte) []*Frame {
	var frames []*Frame

	seq := firstSeq % 8
	for offset := 0; ; offset += MaxFrameTextSize {
		end := offset + MaxFrameTextSize
		if end > len(msg) {
			end = len(msg)
		}

		chunk := make([]byte, end-offset)
		copy(chunk, msg[offset:end])

		isLast := end == len(msg)
		frames = append(frames, &Frame{Seq: seq, Text: chunk, Final: isLast})
		seq = NextFrameNumber(seq)

		if isLast {
			return frames
		}
	}
}

// isControl reports whether b is a framing control character that may not
// appear inside frame text.
func isControl(b byte) bool {
	switch b {
	case STX, ETX, EOT, ENQ, ACK, LF, NAK, ETB:
		return true
	default:
		return false
	}
}

const hexDigits = "0123456789ABCDEF"

func appendHex(buf []byte, v byte) []byte {
	return append(buf, hexDigits[v>>4], hexDigits[v&0x0F])
}

func parseHex(hi, lo byte) (byte, bool) {
	h, ok1 := hexValue(hi)
	l, ok2 := hexValue(lo)

	return h<<4 | l, ok1 && ok2
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}
