package call

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/code-100-precent/TrunkEcho/pkg/events"
	"github.com/code-100-precent/TrunkEcho/pkg/media"
	"github.com/code-100-precent/TrunkEcho/pkg/signaling"
)

const testConsoleID = "console-1"

// fakeRequester records outbound signaling requests for assertions.
type fakeRequester struct {
	mu         sync.Mutex
	ops        []string
	nextHandle signaling.Handle

	failSetup  error
	failDemand error
}

func (f *fakeRequester) record(op string) (signaling.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	f.nextHandle++
	return f.nextHandle, nil
}

func (f *fakeRequester) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ops))
	copy(out, f.ops)
	return out
}

func (f *fakeRequester) has(op string) bool {
	for _, o := range f.Ops() {
		if o == op {
			return true
		}
	}
	return false
}

func (f *fakeRequester) count(op string) int {
	n := 0
	for _, o := range f.Ops() {
		if o == op {
			n++
		}
	}
	return n
}

func (f *fakeRequester) SetupIndividual(req signaling.SetupRequest) (signaling.Handle, error) {
	if f.failSetup != nil {
		return 0, f.failSetup
	}
	return f.record("setup_individual:" + req.CalledParty.ID)
}

func (f *fakeRequester) SetupGroup(req signaling.SetupRequest) (signaling.Handle, error) {
	if f.failSetup != nil {
		return 0, f.failSetup
	}
	return f.record("setup_group:" + req.CalledParty.ID)
}

func (f *fakeRequester) SetupBroadcast(req signaling.SetupRequest) (signaling.Handle, error) {
	if f.failSetup != nil {
		return 0, f.failSetup
	}
	return f.record("setup_broadcast:" + req.CalledParty.ID)
}

func (f *fakeRequester) SetupAmbience(req signaling.SetupRequest) (signaling.Handle, error) {
	if f.failSetup != nil {
		return 0, f.failSetup
	}
	return f.record("setup_ambience:" + req.CalledParty.ID)
}

func (f *fakeRequester) Connect(callID uint32, localSDP string) (signaling.Handle, error) {
	return f.record(fmt.Sprintf("connect:%d", callID))
}

func (f *fakeRequester) TxDemand(callID uint32, priority int) (signaling.Handle, error) {
	if f.failDemand != nil {
		return 0, f.failDemand
	}
	return f.record(fmt.Sprintf("tx_demand:%d", callID))
}

func (f *fakeRequester) TxCeased(callID uint32) (signaling.Handle, error) {
	return f.record(fmt.Sprintf("tx_ceased:%d", callID))
}

func (f *fakeRequester) Disconnect(callID uint32, cause signaling.Cause) (signaling.Handle, error) {
	return f.record(fmt.Sprintf("disconnect:%d:%s", callID, cause))
}

func (f *fakeRequester) ListenConnect(target signaling.Party) (signaling.Handle, error) {
	return f.record("listen_connect:" + target.ID)
}

func (f *fakeRequester) ListenDisconnect(callID uint32) (signaling.Handle, error) {
	return f.record(fmt.Sprintf("listen_disconnect:%d", callID))
}

func (f *fakeRequester) SsicInvoke(group signaling.Party) (signaling.Handle, error) {
	return f.record("ssic_invoke:" + group.ID)
}

func (f *fakeRequester) SsicDisconnect(callID uint32) (signaling.Handle, error) {
	return f.record(fmt.Sprintf("ssic_disconnect:%d", callID))
}

// fakeAudio tracks the routing state driven by sessions.
type fakeAudio struct {
	mu        sync.Mutex
	streams   map[string]bool
	activeOut map[string]bool
}

func newFakeAudio() *fakeAudio {
	return &fakeAudio{streams: make(map[string]bool), activeOut: make(map[string]bool)}
}

func (f *fakeAudio) StartRTP(party string, local, remote media.Endpoint, stats media.StatsFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[party] = true
	return nil
}

func (f *fakeAudio) StopRTP(party string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.streams, party)
	delete(f.activeOut, party)
}

func (f *fakeAudio) SetActiveIn(party string, enabled bool) {}

func (f *fakeAudio) SetActiveOut(party string, enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeOut[party] = enabled
}

func (f *fakeAudio) HasActiveAudio() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, on := range f.activeOut {
		if on {
			return true
		}
	}
	return false
}

func (f *fakeAudio) outEnabled(party string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeOut[party]
}

// fakeRecorder captures persisted completed calls.
type fakeRecorder struct {
	mu    sync.Mutex
	calls []CompletedCall
}

func (f *fakeRecorder) RecordCall(rec CompletedCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rec)
	return nil
}

func (f *fakeRecorder) Calls() []CompletedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CompletedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// manualClock is an injectable scheduler: timers fire only on Advance, so
// tests never sleep.
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.stopped = true
	return true
}

func (c *manualClock) schedule(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// due advances the clock and returns the callbacks that fired, in order.
func (c *manualClock) due(d time.Duration) []func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
	var fired []func()
	var rest []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && t.at <= c.now {
			fired = append(fired, t.f)
		} else if !t.stopped {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	return fired
}

// harness wires a dispatcher with fake collaborators and a manual clock.
type harness struct {
	d     *Dispatcher
	sub   *Subsystem
	req   *fakeRequester
	audio *fakeAudio
	rec   *fakeRecorder
	clock *manualClock
	bus   *events.Bus

	notesMu sync.Mutex
	notes   []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		req:   &fakeRequester{},
		audio: newFakeAudio(),
		rec:   &fakeRecorder{},
		clock: &manualClock{},
		bus:   events.NewBus(),
	}
	h.bus.Subscribe("*", func(ev events.Event) {
		h.notesMu.Lock()
		h.notes = append(h.notes, ev)
		h.notesMu.Unlock()
	})
	h.sub = NewSubsystem(testConsoleID, h.req, h.audio, nil, h.rec, h.bus, Tunables{})
	h.d = NewDispatcher(h.sub, h.clock.schedule)

	ctx, cancel := context.WithCancel(context.Background())
	go h.d.Run(ctx)
	t.Cleanup(cancel)
	return h
}

// deliver feeds a signaling event and waits for it to be processed.
func (h *harness) deliver(ev signaling.Event) {
	h.d.do(func() { h.d.handleEvent(ev) })
}

// advance moves the manual clock and runs the fired timers on the loop.
func (h *harness) advance(d time.Duration) {
	fired := h.clock.due(d)
	h.d.do(func() {
		for _, f := range fired {
			f()
		}
	})
}

// sync waits until the loop has drained everything posted so far.
func (h *harness) sync() {
	h.d.do(func() {})
}

func (h *harness) session(id uint64) *Session {
	var s *Session
	h.d.do(func() { s = h.d.reg.bySlot[id] })
	return s
}

func (h *harness) state(id uint64) State {
	var st State
	h.d.do(func() {
		if s, ok := h.d.reg.bySlot[id]; ok {
			st = s.state
		} else {
			st = StateEnded
		}
	})
	return st
}

func (h *harness) notifications(eventType string) []events.Event {
	h.notesMu.Lock()
	defer h.notesMu.Unlock()
	var out []events.Event
	for _, ev := range h.notes {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func subscriber(id string) signaling.Party {
	return signaling.Party{ID: id, Type: signaling.PartySubscriber}
}

func group(id string) signaling.Party {
	return signaling.Party{ID: id, Type: signaling.PartyGroup}
}

// startConnected opens an outgoing individual call and drives it to the
// connected state. Returns the slot ID; the call ID is 100+slot.
func (h *harness) startConnected(t *testing.T, party string) (uint64, uint32) {
	t.Helper()
	id, err := h.d.StartCall(subscriber(party), ClassIndividualOut, 0, true)
	if err != nil {
		t.Fatalf("StartCall(%s): %v", party, err)
	}
	callID := uint32(100 + id)
	h.deliver(signaling.CallSetup{
		CallID:       callID,
		CallingParty: signaling.Party{ID: testConsoleID, Type: signaling.PartyDispatcher},
		CalledParty:  subscriber(party),
		Priority:     5,
	})
	h.deliver(signaling.CallConnect{CallID: callID, RemoteSDP: testRemoteSDP(party)})
	return id, callID
}

func testRemoteSDP(party string) string {
	sdp, _ := media.BuildDescription(party, media.Endpoint{Addr: "192.0.2.10", Port: 42000}, media.Endpoint{})
	return sdp
}
