package call

import (
	"context"
	"errors"
	"time"

	"github.com/code-100-precent/TrunkEcho/pkg/events"
	"github.com/code-100-precent/TrunkEcho/pkg/logger"
	"github.com/code-100-precent/TrunkEcho/pkg/signaling"
	"go.uber.org/zap"
)

// stopper cancels a scheduled callback.
type stopper interface {
	Stop() bool
}

// ScheduleFunc schedules f after d and returns a handle to cancel it. The
// production implementation is a time.AfterFunc that re-enters the loop;
// tests inject a manual clock.
type ScheduleFunc func(d time.Duration, f func()) stopper

// ErrUnknownSession is returned by user intents naming a dead or unknown slot.
var ErrUnknownSession = errors.New("call: unknown session")

// Dispatcher is the single-threaded heart of the call core: every signaling
// event, timer callback and user intent is funneled into one queue and
// processed by one goroutine, so session state needs no locking.
type Dispatcher struct {
	sub *Subsystem
	reg *Registry

	queue chan func()
	sched ScheduleFunc
}

// NewDispatcher creates the dispatcher with its registry. A nil sched uses
// the real clock.
func NewDispatcher(sub *Subsystem, sched ScheduleFunc) *Dispatcher {
	d := &Dispatcher{
		sub:   sub,
		queue: make(chan func(), 256),
	}
	d.reg = NewRegistry(sub)
	if sched == nil {
		sched = d.realSchedule
	}
	d.sched = sched
	return d
}

// Registry exposes the session index (status API, tests).
func (d *Dispatcher) Registry() *Registry { return d.reg }

func (d *Dispatcher) realSchedule(delay time.Duration, f func()) stopper {
	return time.AfterFunc(delay, func() {
		d.post(f)
	})
}

func (d *Dispatcher) schedule(delay time.Duration, f func()) stopper {
	return d.sched(delay, f)
}

// Run processes the queue until ctx is cancelled. Exactly one Run per
// dispatcher.
func (d *Dispatcher) Run(ctx context.Context) {
	logger.Info("call dispatcher running")
	for {
		select {
		case <-ctx.Done():
			logger.Info("call dispatcher stopped")
			return
		case f := <-d.queue:
			f()
		}
	}
}

func (d *Dispatcher) post(f func()) {
	d.queue <- f
}

// do runs f on the loop and waits for it. User-intent entry point; never
// call from inside the loop.
func (d *Dispatcher) do(f func()) {
	done := make(chan struct{})
	d.post(func() {
		defer close(done)
		f()
	})
	<-done
}

// Step drains and executes queued work without a running goroutine. Test
// helper: lets a test own the loop thread.
func (d *Dispatcher) Step() {
	for {
		select {
		case f := <-d.queue:
			f()
		default:
			return
		}
	}
}

// Deliver hands an inbound signaling event to the loop.
func (d *Dispatcher) Deliver(ev signaling.Event) {
	d.post(func() { d.handleEvent(ev) })
}

// NotifyTransportDown releases every live call with the server-unavailable
// cause. Called by the transport layer when the link to the switch drops.
func (d *Dispatcher) NotifyTransportDown() {
	d.post(func() { d.reg.sweepOnDisconnect() })
}

// StartCall opens a call window toward called. Duplex and monitored calls
// dial immediately; a simple (half-duplex PTT) call defers the network setup
// to the first transmit press. Returns the session slot ID.
func (d *Dispatcher) StartCall(called signaling.Party, class Class, priority int, duplex bool) (uint64, error) {
	if priority == 0 {
		priority = d.sub.Tunables.DefaultPriority
	}
	var (
		id  uint64
		err error
	)
	d.do(func() {
		if busy := d.reg.lookupParty(called.ID); busy != nil && busy.state != StateEnded {
			err = signaling.ErrRejected
			d.sub.notify(events.TypeCallPartyBusy, map[string]interface{}{
				"party": called.ID,
			})
			return
		}
		console := signaling.Party{ID: d.sub.ConsoleID, Type: signaling.PartyDispatcher}
		rec := NewRecord(class, console, called, priority)
		rec.Duplex = duplex && class.Policy().DuplexCapable
		s := d.reg.newSession(d, rec, true)
		id = s.id
		if rec.Duplex || class.Policy().Monitored {
			err = s.startOutgoing(false)
		}
	})
	return id, err
}

// Listen requests ambience listening toward target. The session itself is
// created when the network confirms with a ListenConnect event. Listening in
// on an end-to-end encrypted call is refused locally.
func (d *Dispatcher) Listen(target signaling.Party) error {
	var err error
	d.do(func() {
		if s := d.reg.lookupParty(target.ID); s != nil && s.rec.E2EE {
			err = signaling.ErrRejected
			return
		}
		_, err = d.sub.Requester.ListenConnect(target)
	})
	return err
}

// PTTPress forwards a local transmit press to the session.
func (d *Dispatcher) PTTPress(id uint64) error {
	return d.withSession(id, func(s *Session) { s.PTTPress() })
}

// PTTRelease forwards a local transmit release to the session.
func (d *Dispatcher) PTTRelease(id uint64) error {
	return d.withSession(id, func(s *Session) { s.PTTRelease() })
}

// Answer accepts an inbound call awaiting answer.
func (d *Dispatcher) Answer(id uint64) error {
	var err error
	werr := d.withSession(id, func(s *Session) { err = s.Answer() })
	if werr != nil {
		return werr
	}
	return err
}

// Hangup ends the call. With keepWindow the slot recycles into a fresh
// outgoing window toward the same party.
func (d *Dispatcher) Hangup(id uint64, keepWindow bool) error {
	return d.withSession(id, func(s *Session) { s.Hangup(keepWindow) })
}

// ActiveCalls snapshots every live session for the status API.
func (d *Dispatcher) ActiveCalls() []Info {
	var out []Info
	d.do(func() { out = d.reg.active() })
	return out
}

func (d *Dispatcher) withSession(id uint64, f func(*Session)) error {
	var err error
	d.do(func() {
		s, ok := d.reg.bySlot[id]
		if !ok {
			err = ErrUnknownSession
			return
		}
		f(s)
	})
	return err
}

// admitOrPreempt admits the session against the concurrent-call cap. When
// the cap is full and the session's priority reaches the preemptive tier,
// the lowest-priority counted call is released to make room.
func (d *Dispatcher) admitOrPreempt(s *Session) error {
	err := d.sub.Admission.TryAdmit(s.rec.Class)
	if err == nil {
		return nil
	}
	if d.sub.Tier(s.rec.Priority) == TierNormal {
		return err
	}
	victim := d.reg.lowestPriorityActive()
	if victim == nil || victim.rec.Priority >= s.rec.Priority {
		return err
	}
	logger.Info("preempting lower-priority call",
		zap.Uint64("victim", victim.id),
		zap.Int("victimPriority", victim.rec.Priority),
		zap.Int("priority", s.rec.Priority))
	if victim.rec.CallID != 0 {
		if _, derr := d.sub.Requester.Disconnect(victim.rec.CallID, signaling.CausePreempted); derr != nil {
			logger.Debug("preemption disconnect failed", zap.Error(derr))
		}
	}
	victim.release(signaling.CausePreempted, false)
	return d.sub.Admission.TryAdmit(s.rec.Class)
}

func (d *Dispatcher) handleEvent(ev signaling.Event) {
	switch e := ev.(type) {
	case signaling.CallSetup:
		d.onCallSetup(e)
	case signaling.CallProceeding:
		if s := d.reg.lookup(e.CallID); s != nil {
			s.onProceeding()
		}
	case signaling.CallAlert:
		if s := d.reg.lookup(e.CallID); s != nil {
			s.onAlert()
		}
	case signaling.CallConnect:
		if s := d.reg.lookup(e.CallID); s != nil {
			s.onConnect(e)
		} else {
			logger.Debug("connect for unknown call", zap.Uint32("callID", e.CallID))
		}
	case signaling.CallInfo:
		d.onCallInfo(e)
	case signaling.CallTxGranted:
		if s := d.reg.lookup(e.CallID); s != nil {
			s.onTxGranted(e)
		}
	case signaling.CallTxCeased:
		if s := d.reg.lookup(e.CallID); s != nil {
			s.onTxCeased(e)
		}
	case signaling.CallRelease:
		d.onCallRelease(e)
	case signaling.MonSetup:
		d.onMonSetup(e)
	case signaling.MonConnect:
		if s := d.reg.lookup(e.CallID); s != nil {
			s.onConnect(signaling.CallConnect{
				CallID:    e.CallID,
				TxParty:   e.TxParty,
				RemoteSDP: e.RemoteSDP,
				AudioKey:  e.AudioKey,
			})
		}
	case signaling.MonDisconnect:
		if s := d.reg.lookup(e.CallID); s != nil {
			s.release(e.Cause, false)
		}
	case signaling.SsicIncl:
		d.onSsicIncl(e)
	case signaling.SsicRelease:
		if s := d.reg.lookup(e.CallID); s != nil {
			s.release(e.Cause, false)
		}
	case signaling.ListenConnect:
		d.onListenConnect(e)
	case signaling.ListenRelease:
		if s := d.reg.lookup(e.CallID); s != nil {
			s.release(e.Cause, false)
		}
	default:
		logger.Warn("unhandled signaling event", zap.String("kind", ev.Kind()))
	}
}

// onCallSetup routes an inbound CALL SETUP: the acknowledgement of our own
// outgoing setup, the callback race against it, or a genuinely new inbound
// call.
func (d *Dispatcher) onCallSetup(e signaling.CallSetup) {
	// acknowledgement of our own setup: we are the calling party
	if e.CallingParty.ID == d.sub.ConsoleID {
		if s := d.reg.lookupParty(e.CalledParty.ID); s != nil && s.outgoing && s.state == StateSettingUp {
			s.onSetupAck(e)
			return
		}
		logger.Debug("setup ack without matching session",
			zap.Uint32("callID", e.CallID))
		return
	}

	// callback race: the party we are dialing dialed us first
	if s := d.reg.lookupParty(e.CallingParty.ID); s != nil {
		if s.outgoing && (s.state == StateNew || s.state == StateSettingUp) {
			s.convertToIncoming(e)
			return
		}
		// party already in a live call with us: duplicate setup
		logger.Warn("setup for busy party dropped",
			zap.Uint32("callID", e.CallID),
			zap.String("party", e.CallingParty.String()))
		if _, err := d.sub.Requester.Disconnect(e.CallID, signaling.CauseDuplicate); err != nil {
			logger.Debug("duplicate setup disconnect failed", zap.Error(err))
		}
		return
	}

	class := classifyInbound(e)
	rec := NewRecord(class, e.CallingParty, e.CalledParty, e.Priority)
	rec.Duplex = e.Duplex
	rec.E2EE = e.E2EE
	s := d.reg.newSession(d, rec, false)
	d.reg.bindID(s, e.CallID)

	if class.Counted() {
		if err := d.admitOrPreempt(s); err != nil {
			logger.Info("inbound call refused by admission",
				zap.Uint32("callID", e.CallID),
				zap.String("class", class.String()))
			if _, derr := d.sub.Requester.Disconnect(e.CallID, signaling.CauseBusy); derr != nil {
				logger.Debug("busy disconnect failed", zap.Error(derr))
			}
			s.release(signaling.CauseBusy, false)
			return
		}
		s.admitted = true
	}

	s.state = StateAwaitingAnswer
	if class.Policy().AutoJoin {
		// broadcast/group inbound connects without dispatcher interaction
		if err := s.Answer(); err != nil {
			logger.Warn("auto-answer failed", zap.Uint32("callID", e.CallID), zap.Error(err))
		}
		return
	}

	s.scheduleSetupTimer(e.Hook)
	d.sub.notify(events.TypeCallIncoming, map[string]interface{}{
		"session": s.id,
		"state":   s.state.String(),
		"calling": e.CallingParty.String(),
	})
}

func (d *Dispatcher) onCallInfo(e signaling.CallInfo) {
	s := d.reg.lookup(e.CallID)
	if s == nil {
		// reassignment may arrive after we already track the new ID
		if e.NewCallID != 0 {
			if s2 := d.reg.lookup(e.NewCallID); s2 != nil {
				return
			}
		}
		logger.Debug("call info for unknown call", zap.Uint32("callID", e.CallID))
		return
	}
	if e.NewCallID != 0 {
		d.reg.reindex(s, e.NewCallID)
	}
	if e.OwnershipChange {
		s.onOwnershipChanged(e)
	}
}

func (d *Dispatcher) onCallRelease(e signaling.CallRelease) {
	s := d.reg.lookup(e.CallID)
	if s == nil {
		if d.reg.recentlyReleased(e.CallID) {
			logger.Debug("duplicate release dropped", zap.Uint32("callID", e.CallID))
		} else {
			logger.Debug("release for unknown call", zap.Uint32("callID", e.CallID))
		}
		return
	}
	s.release(e.Cause, false)
}

// onMonSetup announces a monitored call. A monitored setup colliding with
// our own live outgoing call to the same party means the party went busy
// elsewhere: the outgoing window is torn down.
func (d *Dispatcher) onMonSetup(e signaling.MonSetup) {
	if s := d.reg.lookupParty(e.CallingParty.ID); s != nil && s.outgoing && s.state != StateEnded {
		logger.Info("monitored party busy, tearing down outgoing window",
			zap.Uint64("session", s.id),
			zap.String("party", e.CallingParty.String()))
		d.sub.notify(events.TypeCallPartyBusy, map[string]interface{}{
			"session": s.id,
			"party":   e.CallingParty.ID,
		})
		s.release(signaling.CauseBusy, false)
		return
	}

	class := ClassMonitorPTT
	if e.Duplex {
		class = ClassMonitorDuplex
	}
	rec := NewRecord(class, e.CallingParty, e.CalledParty, e.Priority)
	rec.Duplex = e.Duplex
	s := d.reg.newSession(d, rec, false)
	d.reg.bindID(s, e.CallID)
	s.state = StateRinging
}

// onSsicIncl includes this console into an ongoing group call.
func (d *Dispatcher) onSsicIncl(e signaling.SsicIncl) {
	if d.reg.lookup(e.CallID) != nil {
		return
	}
	rec := NewRecord(ClassGroupIn, e.CallingParty, e.Group, e.Priority)
	s := d.reg.newSession(d, rec, false)
	d.reg.bindID(s, e.CallID)
	s.state = StateAwaitingAnswer
	if err := s.Answer(); err != nil {
		logger.Warn("group inclusion answer failed",
			zap.Uint32("callID", e.CallID), zap.Error(err))
	}
}

func (d *Dispatcher) onListenConnect(e signaling.ListenConnect) {
	s := d.reg.lookup(e.CallID)
	if s == nil {
		console := signaling.Party{ID: d.sub.ConsoleID, Type: signaling.PartyDispatcher}
		rec := NewRecord(ClassIndividualAmbience, e.Target, console, d.sub.Tunables.DefaultPriority)
		s = d.reg.newSession(d, rec, false)
		d.reg.bindID(s, e.CallID)
	}
	s.onConnect(signaling.CallConnect{
		CallID:    e.CallID,
		RemoteSDP: e.RemoteSDP,
		AudioKey:  e.AudioKey,
	})
}

// classifyInbound derives the call class of a new inbound setup from the
// party identities.
func classifyInbound(e signaling.CallSetup) Class {
	if e.CalledParty.Type == signaling.PartyGroup {
		if e.Broadcast {
			return ClassBroadcastIn
		}
		return ClassGroupIn
	}
	switch e.CallingParty.Type {
	case signaling.PartyDispatcher:
		return ClassDispatcher
	case signaling.PartyMobile:
		return ClassMobile
	default:
		return ClassIndividualIn
	}
}
