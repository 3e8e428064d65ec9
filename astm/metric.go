package astm

import (
	"sync/atomic"
)

// SessionMetrics contains atomic counters for one or more sessions.
// A single SessionMetrics may be shared by every session of a server.
type SessionMetrics struct {
	// TransmissionCount indicates the number of accepted ENQ requests.
	TransmissionCount atomic.Uint64
	// FrameRecvCount indicates the number of frames read from the wire.
	FrameRecvCount atomic.Uint64
	// FrameAckCount indicates the number of frames acknowledged.
	FrameAckCount atomic.Uint64
	// FrameNakCount indicates the number of NAK replies sent.
	FrameNakCount atomic.Uint64
	// DuplicateFrameCount indicates retransmitted frames that were already accepted.
	DuplicateFrameCount atomic.Uint64
	// MessageCount indicates the number of complete messages delivered to the receiver.
	MessageCount atomic.Uint64
	// DiscardedMessageCount indicates partial messages dropped on EOT, timeout or restart.
	DiscardedMessageCount atomic.Uint64
	// AbortCount indicates the number of sessions aborted (retry limit or receiver error).
	AbortCount atomic.Uint64
}

func (m *SessionMetrics) incTransmissionCount()     { m.TransmissionCount.Add(1) }
func (m *SessionMetrics) incFrameRecvCount()        { m.FrameRecvCount.Add(1) }
func (m *SessionMetrics) incFrameAckCount()         { m.FrameAckCount.Add(1) }
func (m *SessionMetrics) incFrameNakCount()         { m.FrameNakCount.Add(1) }
func (m *SessionMetrics) incDuplicateFrameCount()   { m.DuplicateFrameCount.Add(1) }
func (m *SessionMetrics) incMessageCount()          { m.MessageCount.Add(1) }
func (m *SessionMetrics) incDiscardedMessageCount() { m.DiscardedMessageCount.Add(1) }
func (m *SessionMetrics) incAbortCount()            { m.AbortCount.Add(1) }
