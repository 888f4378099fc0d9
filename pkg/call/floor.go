package call

import (
	"github.com/code-100-precent/TrunkEcho/pkg/metrics"
)

// FloorOwner is a session that can hold the microphone floor. FloorLost is
// invoked when another owner claims the floor, and must silence the
// demoted owner's outgoing audio.
type FloorOwner interface {
	FloorLost()
}

// Floor guarantees at most one outgoing-audio owner across all sessions.
// Accessed only from the dispatcher loop.
type Floor struct {
	holder FloorOwner
}

// NewFloor creates an unheld floor.
func NewFloor() *Floor {
	return &Floor{}
}

// Claim grants the floor to owner, demoting the previous holder if any.
// Claiming while already holding is a no-op.
func (f *Floor) Claim(owner FloorOwner) {
	if f.holder == owner {
		return
	}
	if f.holder != nil {
		prev := f.holder
		f.holder = owner
		metrics.FloorTakeovers.Inc()
		prev.FloorLost()
		return
	}
	f.holder = owner
}

// Release clears ownership only if owner is the current holder.
func (f *Floor) Release(owner FloorOwner) {
	if f.holder == owner {
		f.holder = nil
	}
}

// Holder returns the current owner, or nil.
func (f *Floor) Holder() FloorOwner { return f.holder }

// IsHeld reports whether any session holds the floor.
func (f *Floor) IsHeld() bool { return f.holder != nil }
