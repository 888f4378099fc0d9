package call

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-100-precent/TrunkEcho/pkg/events"
	"github.com/code-100-precent/TrunkEcho/pkg/signaling"
)

func TestCallbackRaceConvertsOutgoingToIncoming(t *testing.T) {
	h := newHarness(t)

	id, err := h.d.StartCall(subscriber("alpha-1"), ClassIndividualOut, 0, true)
	require.NoError(t, err)
	assert.Equal(t, StateSettingUp, h.state(id))

	// the party we are dialing dials us first
	h.deliver(signaling.CallSetup{
		CallID:       800,
		CallingParty: subscriber("alpha-1"),
		CalledParty:  signaling.Party{ID: testConsoleID, Type: signaling.PartyDispatcher},
		Priority:     7,
	})

	h.d.do(func() {
		s := h.d.reg.lookup(800)
		require.NotNil(t, s)
		assert.Equal(t, id, s.id, "no second session for the same party")
		assert.Equal(t, ClassIndividualIn, s.rec.Class)
		assert.Equal(t, "alpha-1", s.rec.CallingParty.ID, "identities must swap")
		assert.Equal(t, testConsoleID, s.rec.CalledParty.ID)
		assert.False(t, s.outgoing)
		assert.Equal(t, StateAwaitingAnswer, s.state)
	})

	require.NoError(t, h.d.Answer(id))
	assert.True(t, h.req.has("connect:800"))
}

func TestMonitoredSetupTearsDownBusyOutgoingWindow(t *testing.T) {
	h := newHarness(t)

	id, err := h.d.StartCall(subscriber("alpha-1"), ClassIndividualOut, 0, true)
	require.NoError(t, err)

	// alpha-1 went into another call elsewhere; we only get to monitor it
	h.deliver(signaling.MonSetup{
		CallID:       810,
		CallingParty: subscriber("alpha-1"),
		CalledParty:  subscriber("bravo-9"),
		Priority:     5,
	})

	assert.Equal(t, StateEnded, h.state(id))
	assert.NotEmpty(t, h.notifications(events.TypeCallPartyBusy))

	calls := h.rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, signaling.CauseBusy, calls[0].FailureCause)
}

func TestMonitoredSetupWithoutConflictCreatesMonitorSession(t *testing.T) {
	h := newHarness(t)

	h.deliver(signaling.MonSetup{
		CallID:       811,
		CallingParty: subscriber("alpha-1"),
		CalledParty:  subscriber("bravo-9"),
		Duplex:       true,
	})

	h.d.do(func() {
		s := h.d.reg.lookup(811)
		require.NotNil(t, s)
		assert.Equal(t, ClassMonitorDuplex, s.rec.Class)
	})

	h.deliver(signaling.MonConnect{CallID: 811, RemoteSDP: testRemoteSDP("alpha-1")})
	h.d.do(func() {
		assert.Equal(t, StateConnected, h.d.reg.lookup(811).state)
	})

	h.deliver(signaling.MonDisconnect{CallID: 811, Cause: signaling.CauseNormal})
	h.d.do(func() { assert.Nil(t, h.d.reg.lookup(811)) })
}

func TestInboundIndividualAwaitsAnswer(t *testing.T) {
	h := newHarness(t)

	h.deliver(signaling.CallSetup{
		CallID:       820,
		CallingParty: subscriber("alpha-1"),
		CalledParty:  signaling.Party{ID: testConsoleID, Type: signaling.PartyDispatcher},
		Priority:     5,
		Duplex:       true,
	})

	h.d.do(func() {
		s := h.d.reg.lookup(820)
		require.NotNil(t, s)
		assert.Equal(t, ClassIndividualIn, s.rec.Class)
		assert.Equal(t, StateAwaitingAnswer, s.state)
	})
	assert.False(t, h.req.has("connect:820"), "individual calls wait for the dispatcher")

	var id uint64
	h.d.do(func() { id = h.d.reg.lookup(820).id })
	require.NoError(t, h.d.Answer(id))
	assert.True(t, h.req.has("connect:820"))

	h.deliver(signaling.CallConnect{CallID: 820, RemoteSDP: testRemoteSDP("alpha-1")})
	assert.Equal(t, StateConnected, h.state(id))
}

func TestInboundGroupAutoAnswers(t *testing.T) {
	h := newHarness(t)

	h.deliver(signaling.CallSetup{
		CallID:       830,
		CallingParty: subscriber("alpha-1"),
		CalledParty:  group("tg-9"),
		Priority:     5,
	})

	assert.True(t, h.req.has("connect:830"), "group calls join without dispatcher interaction")
	h.d.do(func() {
		assert.Equal(t, ClassGroupIn, h.d.reg.lookup(830).rec.Class)
	})

	h.deliver(signaling.CallConnect{CallID: 830, RemoteSDP: testRemoteSDP("tg-9")})
	assert.True(t, h.req.has("ssic_invoke:tg-9"), "connected group call joins the group")
}

func TestGroupAutoJoinEnabledByDefault(t *testing.T) {
	h := newHarness(t) // zero-value tunables must behave like the defaults

	h.deliver(signaling.CallSetup{
		CallID:       831,
		CallingParty: subscriber("alpha-1"),
		CalledParty:  group("tg-9"),
		Priority:     5,
	})
	h.deliver(signaling.CallConnect{CallID: 831, RemoteSDP: testRemoteSDP("tg-9")})

	assert.True(t, h.req.has("ssic_invoke:tg-9"))
}

func TestGroupAutoJoinCanBeDisabled(t *testing.T) {
	h := newHarness(t)
	h.d.do(func() { h.sub.Tunables.DisableGroupAutoJoin = true })

	h.deliver(signaling.CallSetup{
		CallID:       832,
		CallingParty: subscriber("alpha-1"),
		CalledParty:  group("tg-9"),
		Priority:     5,
	})
	h.deliver(signaling.CallConnect{CallID: 832, RemoteSDP: testRemoteSDP("tg-9")})

	assert.True(t, h.req.has("connect:832"), "the call still auto-answers")
	assert.False(t, h.req.has("ssic_invoke:tg-9"), "the group join is suppressed")
}

func TestCallbackRaceChargesAdmissionOnConversion(t *testing.T) {
	h := newHarness(t)
	for _, p := range []string{"alpha-1", "alpha-2", "alpha-3"} {
		h.startConnected(t, p)
	}
	id := h.startSimple(t, "bravo-1") // deferred dial, never admitted

	// the deferred window's party calls us while the cap is full
	h.deliver(signaling.CallSetup{
		CallID:       845,
		CallingParty: subscriber("bravo-1"),
		CalledParty:  signaling.Party{ID: testConsoleID, Type: signaling.PartyDispatcher},
	})

	assert.True(t, h.req.has("disconnect:845:busy"), "the converted call must not slip past the cap")
	assert.Equal(t, StateEnded, h.state(id))
}

func TestInboundUnansweredTimesOutAsNoAnswer(t *testing.T) {
	h := newHarness(t)

	h.deliver(signaling.CallSetup{
		CallID:       825,
		CallingParty: subscriber("alpha-1"),
		CalledParty:  signaling.Party{ID: testConsoleID, Type: signaling.PartyDispatcher},
		Duplex:       true,
	})
	assert.NotEmpty(t, h.notifications(events.TypeCallIncoming))

	h.advance(h.sub.Tunables.SetupTimeout)

	assert.True(t, h.req.has("disconnect:825:no_answer"))
	calls := h.rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, signaling.CauseNoAnswer, calls[0].FailureCause)
}

func TestInboundBroadcastBypassesFullCap(t *testing.T) {
	h := newHarness(t)
	for _, p := range []string{"alpha-1", "alpha-2", "alpha-3"} {
		h.startConnected(t, p)
	}

	h.deliver(signaling.CallSetup{
		CallID:       840,
		CallingParty: subscriber("hq-1"),
		CalledParty:  group("tg-all"),
		Broadcast:    true,
		Priority:     12,
	})

	h.d.do(func() {
		s := h.d.reg.lookup(840)
		require.NotNil(t, s, "broadcast must be admitted at a full cap")
		assert.Equal(t, ClassBroadcastIn, s.rec.Class)
	})
	assert.False(t, h.req.has("disconnect:840:busy"))
}

func TestGroupInclusionAutoJoins(t *testing.T) {
	h := newHarness(t)

	h.deliver(signaling.SsicIncl{
		CallID:       850,
		Group:        group("tg-9"),
		CallingParty: subscriber("alpha-1"),
		Priority:     5,
	})

	assert.True(t, h.req.has("connect:850"))
	h.d.do(func() {
		s := h.d.reg.lookup(850)
		require.NotNil(t, s)
		assert.Equal(t, ClassGroupIn, s.rec.Class)
	})

	h.deliver(signaling.SsicRelease{CallID: 850, Cause: signaling.CauseNormal})
	h.d.do(func() { assert.Nil(t, h.d.reg.lookup(850)) })
}

func TestStartCallToBusyPartyRefusedLocally(t *testing.T) {
	h := newHarness(t)
	h.startConnected(t, "alpha-1")

	_, err := h.d.StartCall(subscriber("alpha-1"), ClassIndividualOut, 0, true)
	assert.ErrorIs(t, err, signaling.ErrRejected)
	assert.NotEmpty(t, h.notifications(events.TypeCallPartyBusy))
	assert.Equal(t, 1, h.req.count("setup_individual:alpha-1"))
}

func TestListenLifecycle(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.d.Listen(subscriber("bravo-9")))
	assert.True(t, h.req.has("listen_connect:bravo-9"))

	h.deliver(signaling.ListenConnect{
		CallID:    880,
		Target:    subscriber("bravo-9"),
		RemoteSDP: testRemoteSDP("bravo-9"),
	})

	var id uint64
	h.d.do(func() {
		s := h.d.reg.lookup(880)
		require.NotNil(t, s)
		id = s.id
		assert.Equal(t, ClassIndividualAmbience, s.rec.Class)
		assert.Equal(t, StateConnected, s.state)
	})

	require.NoError(t, h.d.Hangup(id, false))
	assert.True(t, h.req.has("listen_disconnect:880"), "ambience sessions end with a listen disconnect")
	assert.False(t, h.req.has("disconnect:880:normal"))
}

func TestListenRefusedForEncryptedCall(t *testing.T) {
	h := newHarness(t)

	h.deliver(signaling.CallSetup{
		CallID:       870,
		CallingParty: subscriber("alpha-1"),
		CalledParty:  signaling.Party{ID: testConsoleID, Type: signaling.PartyDispatcher},
		E2EE:         true,
	})

	err := h.d.Listen(subscriber("alpha-1"))
	assert.ErrorIs(t, err, signaling.ErrRejected)
	assert.False(t, h.req.has("listen_connect:alpha-1"))
}

func TestReleaseDuringSetupCancelsTimerAndRecordsOnce(t *testing.T) {
	h := newHarness(t)

	id, err := h.d.StartCall(subscriber("alpha-1"), ClassIndividualOut, 0, true)
	require.NoError(t, err)
	h.deliver(signaling.CallSetup{
		CallID:       890,
		CallingParty: signaling.Party{ID: testConsoleID, Type: signaling.PartyDispatcher},
		CalledParty:  subscriber("alpha-1"),
	})

	// the switch gives up before our own setup timer fires
	h.deliver(signaling.CallRelease{CallID: 890, Cause: signaling.CauseTimeout})
	assert.Equal(t, StateEnded, h.state(id))

	calls := h.rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, signaling.CauseTimeout, calls[0].FailureCause)
	assert.True(t, calls[0].StartTime.IsZero())
	assert.Zero(t, calls[0].Duration)

	// the canceled timer must not produce a second record
	h.advance(h.sub.Tunables.SetupTimeout)
	assert.Len(t, h.rec.Calls(), 1)
}

func TestDuplicateInboundSetupForLivePartyDropped(t *testing.T) {
	h := newHarness(t)
	id, _ := h.startConnected(t, "alpha-1")

	h.deliver(signaling.CallSetup{
		CallID:       860,
		CallingParty: subscriber("alpha-1"),
		CalledParty:  signaling.Party{ID: testConsoleID, Type: signaling.PartyDispatcher},
	})

	assert.True(t, h.req.has(fmt.Sprintf("disconnect:%d:duplicate", 860)))
	assert.NotEqual(t, StateEnded, h.state(id), "the live call must survive the duplicate")
}
