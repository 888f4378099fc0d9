package call

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-100-precent/TrunkEcho/pkg/events"
	"github.com/code-100-precent/TrunkEcho/pkg/signaling"
)

type stubOwner struct{ lost int }

func (o *stubOwner) FloorLost() { o.lost++ }

func TestFloorSingleOwner(t *testing.T) {
	f := NewFloor()
	a, b := &stubOwner{}, &stubOwner{}

	f.Claim(a)
	assert.Same(t, FloorOwner(a), f.Holder())

	f.Claim(b)
	assert.Same(t, FloorOwner(b), f.Holder())
	assert.Equal(t, 1, a.lost, "previous holder must be demoted")
	assert.Zero(t, b.lost)

	// re-claiming while holding is a no-op
	f.Claim(b)
	assert.Zero(t, b.lost)
}

func TestFloorReleaseOnlyByHolder(t *testing.T) {
	f := NewFloor()
	a, b := &stubOwner{}, &stubOwner{}

	f.Claim(a)
	f.Release(b)
	assert.True(t, f.IsHeld(), "non-holder release must not clear the floor")

	f.Release(a)
	assert.False(t, f.IsHeld())
}

func TestFloorTakeoverSilencesDemotedSession(t *testing.T) {
	h := newHarness(t)

	s1, call1 := h.startConnected(t, "alpha-1")
	s2, _ := h.startConnected(t, "alpha-2")

	// both calls were opened full-duplex; the later connect claimed the floor
	h.d.do(func() {
		assert.Same(t, FloorOwner(h.d.reg.bySlot[s2]), h.sub.Floor.Holder())
	})
	assert.False(t, h.audio.outEnabled("alpha-1"), "demoted call must be silenced")
	assert.True(t, h.audio.outEnabled("alpha-2"))
	assert.NotEmpty(t, h.notifications(events.TypeFloorLost))

	// a transmit grant on the first call takes the floor back
	h.deliver(signaling.CallTxGranted{CallID: call1, Grant: signaling.GrantGranted})
	h.d.do(func() {
		assert.Same(t, FloorOwner(h.d.reg.bySlot[s1]), h.sub.Floor.Holder())
	})
	assert.True(t, h.audio.outEnabled("alpha-1"))
	assert.False(t, h.audio.outEnabled("alpha-2"))
}

func TestFloorReleasedWhenHolderHangsUp(t *testing.T) {
	h := newHarness(t)

	h.startConnected(t, "alpha-1")
	s2, call2 := h.startConnected(t, "alpha-2")

	require.NoError(t, h.d.Hangup(s2, false))
	h.d.do(func() {
		assert.False(t, h.sub.Floor.IsHeld(), "floor must not leak past the session")
	})
	assert.True(t, h.req.has(fmt.Sprintf("disconnect:%d:normal", call2)))
}
