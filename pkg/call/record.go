package call

import (
	"time"

	"github.com/code-100-precent/TrunkEcho/pkg/media"
	"github.com/code-100-precent/TrunkEcho/pkg/signaling"
)

// openSegment marks a PTT history segment whose transmission has not ended
// yet. It must never leave the process; the recorder closes or drops it.
const openSegment = -1.0

// Segment is one transmission in a call's PTT history.
type Segment struct {
	TxParty     string
	StartOffset float64 // seconds since call start
	Duration    float64 // seconds; openSegment while still transmitting
}

// Open reports whether the segment has not been closed yet.
func (s Segment) Open() bool { return s.Duration < 0 }

// Record is the per-call-attempt data entity, owned exclusively by one
// Session.
type Record struct {
	Class        Class
	CallID       uint32 // 0 until the network acknowledges the call
	CallingParty signaling.Party
	CalledParty  signaling.Party
	Priority     int
	Duplex       bool
	Ownership    bool // this console may end the group/broadcast for everyone
	E2EE         bool

	TxGranted     bool
	FirstTransmit bool // true until the first PTT cycle completes

	LocalAudio  media.Endpoint
	RemoteAudio media.Endpoint
	LocalVideo  media.Endpoint
	RemoteVideo media.Endpoint

	PTTHistory []Segment

	CreatedAt time.Time
	StartedAt time.Time // connect time; zero until connected

	// Generation fences stale timer and async callbacks: every scheduled
	// callback captures the generation and is discarded if it has advanced.
	Generation uint64
}

// NewRecord creates a fresh record for a call attempt.
func NewRecord(class Class, calling, called signaling.Party, priority int) *Record {
	return &Record{
		Class:         class,
		CallingParty:  calling,
		CalledParty:   called,
		Priority:      priority,
		Duplex:        class.Policy().DuplexCapable,
		FirstTransmit: true,
		CreatedAt:     time.Now(),
	}
}

// OpenSegment starts a new PTT history segment for txParty. A stale open
// segment is closed first so segments never overlap.
func (r *Record) OpenSegment(txParty string, at time.Time) {
	r.CloseSegment(at)
	offset := 0.0
	if !r.StartedAt.IsZero() && at.After(r.StartedAt) {
		offset = at.Sub(r.StartedAt).Seconds()
	}
	if n := len(r.PTTHistory); n > 0 {
		// keep start offsets monotonic even with a skewed clock
		if last := r.PTTHistory[n-1]; offset < last.StartOffset+last.Duration {
			offset = last.StartOffset + last.Duration
		}
	}
	r.PTTHistory = append(r.PTTHistory, Segment{
		TxParty:     txParty,
		StartOffset: offset,
		Duration:    openSegment,
	})
}

// CloseSegment closes the open segment, if any. Closing an already-closed
// history is a no-op.
func (r *Record) CloseSegment(at time.Time) {
	n := len(r.PTTHistory)
	if n == 0 || !r.PTTHistory[n-1].Open() {
		return
	}
	seg := &r.PTTHistory[n-1]
	start := r.StartedAt.Add(time.Duration(seg.StartOffset * float64(time.Second)))
	dur := at.Sub(start).Seconds()
	if dur < 0 {
		dur = 0
	}
	seg.Duration = dur
}

// HasOpenSegment reports whether a transmission is currently recorded.
func (r *Record) HasOpenSegment() bool {
	n := len(r.PTTHistory)
	return n > 0 && r.PTTHistory[n-1].Open()
}

// ClosedHistory returns the PTT history with any trailing open segment
// closed at the given instant. Used when persisting the finished call.
func (r *Record) ClosedHistory(at time.Time) []Segment {
	r.CloseSegment(at)
	out := make([]Segment, len(r.PTTHistory))
	copy(out, r.PTTHistory)
	return out
}

// Reset recycles the record into a fresh outgoing one bound to the same
// console window, advancing the generation so every callback scheduled for
// the previous life discards itself.
func (r *Record) Reset(class Class, calling, called signaling.Party, priority int) {
	r.Generation++
	r.Class = class
	r.CallID = 0
	r.CallingParty = calling
	r.CalledParty = called
	r.Priority = priority
	r.Duplex = class.Policy().DuplexCapable
	r.Ownership = false
	r.E2EE = false
	r.TxGranted = false
	r.FirstTransmit = true
	r.LocalAudio = media.Endpoint{}
	r.RemoteAudio = media.Endpoint{}
	r.LocalVideo = media.Endpoint{}
	r.RemoteVideo = media.Endpoint{}
	r.PTTHistory = nil
	r.CreatedAt = time.Now()
	r.StartedAt = time.Time{}
}
