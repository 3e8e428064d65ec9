// Package astm implements the low-level ASTM E1381 session protocol used by
// clinical laboratory instruments to transfer E1394 records over a TCP stream.
//
// # Protocol Overview
//
// ASTM E1381 is a half-duplex, frame-oriented protocol with single-byte
// line control:
//
//   - ENQ (0x05): request to start a transmission
//   - ACK (0x06): frame (or ENQ) accepted
//   - NAK (0x15): frame rejected, retransmit
//   - EOT (0x04): end of transmission
//
// Each data frame is
//
//	STX FN text (ETB|ETX) C1 C2 CR LF
//
// where FN is a frame number digit 0–7 (the first frame of a transmission is 1),
// ETB marks an intermediate frame and ETX the final frame of a message, and
// C1 C2 is the modulo-256 sum of FN..ETB/ETX rendered as two hex digits.
//
// # Receiver Session
//
// [Session] drives one connection as the receiving end: it accepts ENQ,
// validates and acknowledges frames, reassembles messages and forwards them
// to a [MessageReceiver]. It never interprets message content; record decoding
// and batch sequencing live in the record and dispatch packages.
//
// # Timeouts
//
//   - Char timeout: maximum wait for the remaining bytes of a frame once STX was seen.
//   - Receive timeout: maximum wait for the next frame or EOT while a transmission
//     is established (E1381 specifies 30 seconds).
//
// There is no timeout while idle: a connection may wait for the next ENQ forever.
package astm
