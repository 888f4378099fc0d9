package call

import (
	"errors"
	"fmt"
	"time"

	"github.com/code-100-precent/TrunkEcho/pkg/events"
	"github.com/code-100-precent/TrunkEcho/pkg/logger"
	"github.com/code-100-precent/TrunkEcho/pkg/media"
	"github.com/code-100-precent/TrunkEcho/pkg/metrics"
	"github.com/code-100-precent/TrunkEcho/pkg/signaling"
	"go.uber.org/zap"
)

// State is the call-session lifecycle state.
type State int

const (
	StateNew State = iota
	StateSettingUp
	StateRinging
	StateAwaitingAnswer
	StateConnected
	StateTransmitting
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSettingUp:
		return "setting_up"
	case StateRinging:
		return "ringing"
	case StateAwaitingAnswer:
		return "awaiting_answer"
	case StateConnected:
		return "connected"
	case StateTransmitting:
		return "transmitting"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotAnswerable is returned when Answer is invoked outside AwaitingAnswer.
var ErrNotAnswerable = errors.New("call: session not awaiting answer")

// Session is the per-call state machine. It owns one Record, embeds the PTT
// arbiter and reacts to signaling and user events. All methods run on the
// dispatcher loop.
type Session struct {
	id  uint64
	sub *Subsystem
	d   *Dispatcher
	reg *Registry

	rec      *Record
	state    State
	outgoing bool
	admitted bool
	rtpLive  bool
	ended    bool

	arb        arbiter
	setupTimer stopper
	tickTimer  stopper
}

// ID returns the slot identifier of the session (not the network call ID).
func (s *Session) ID() uint64 { return s.id }

// Record returns the owned call record.
func (s *Session) Record() *Record { return s.rec }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// remoteParty is the far-end identity: the called party for outgoing calls,
// the calling party otherwise.
func (s *Session) remoteParty() signaling.Party {
	if s.outgoing {
		return s.rec.CalledParty
	}
	return s.rec.CallingParty
}

// Info is a read-only snapshot for the status API.
type Info struct {
	ID        uint64    `json:"id"`
	CallID    uint32    `json:"callId"`
	Class     string    `json:"class"`
	State     string    `json:"state"`
	Calling   string    `json:"calling"`
	Called    string    `json:"called"`
	Priority  int       `json:"priority"`
	Duplex    bool      `json:"duplex"`
	TxGranted bool      `json:"txGranted"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

func (s *Session) info() Info {
	return Info{
		ID:        s.id,
		CallID:    s.rec.CallID,
		Class:     s.rec.Class.String(),
		State:     s.state.String(),
		Calling:   s.rec.CallingParty.String(),
		Called:    s.rec.CalledParty.String(),
		Priority:  s.rec.Priority,
		Duplex:    s.rec.Duplex,
		TxGranted: s.rec.TxGranted,
		StartedAt: s.rec.StartedAt,
	}
}

// startOutgoing validates admission and sends the class-specific setup
// request. With lazyDenial set (PTT-triggered start), an admission denial is
// not reported immediately; the arbiter reports it when the key is released.
func (s *Session) startOutgoing(lazyDenial bool) error {
	if s.state != StateNew {
		return nil
	}

	if err := s.d.admitOrPreempt(s); err != nil {
		if !lazyDenial {
			s.reportAdmissionDenied()
		}
		return err
	}
	s.admitted = true

	s.rec.LocalAudio = s.sub.AllocEndpoint()
	if s.rec.Class == ClassDispatcher || s.rec.Class == ClassMobile {
		s.rec.LocalVideo = s.sub.AllocEndpoint()
	}
	localSDP, err := media.BuildDescription(s.sub.ConsoleID, s.rec.LocalAudio, s.rec.LocalVideo)
	if err != nil {
		s.releaseAdmission()
		return err
	}

	req := signaling.SetupRequest{
		CalledParty: s.rec.CalledParty,
		Priority:    s.rec.Priority,
		Duplex:      s.rec.Duplex,
		E2EE:        s.rec.E2EE,
		LocalSDP:    localSDP,
	}

	var h signaling.Handle
	switch s.rec.Class {
	case ClassGroupOut:
		h, err = s.sub.Requester.SetupGroup(req)
	case ClassBroadcastOut:
		h, err = s.sub.Requester.SetupBroadcast(req)
	case ClassIndividualAmbience:
		h, err = s.sub.Requester.SetupAmbience(req)
	default:
		h, err = s.sub.Requester.SetupIndividual(req)
	}
	if err != nil {
		s.releaseAdmission()
		if errors.Is(err, signaling.ErrNoTransport) {
			s.sub.notify(events.TypeServerUnavailable, map[string]interface{}{
				"session": s.id,
			})
		} else {
			s.sub.notify(events.TypeCallFailed, map[string]interface{}{
				"session": s.id,
				"reason":  err.Error(),
			})
		}
		return err
	}

	logger.Info("outgoing call setup sent",
		zap.Uint64("session", s.id),
		zap.String("class", s.rec.Class.String()),
		zap.String("called", s.rec.CalledParty.String()),
		zap.Int64("handle", int64(h)))

	s.state = StateSettingUp
	s.scheduleSetupTimer(false)
	return nil
}

func (s *Session) scheduleSetupTimer(hook bool) {
	s.stopSetupTimer()
	gen := s.rec.Generation
	s.setupTimer = s.d.schedule(s.sub.SetupTimeoutFor(hook), func() {
		s.onSetupTimeout(gen)
	})
}

func (s *Session) stopSetupTimer() {
	if s.setupTimer != nil {
		s.setupTimer.Stop()
		s.setupTimer = nil
	}
}

// onSetupAck binds the network-assigned call ID to an outgoing session.
func (s *Session) onSetupAck(ev signaling.CallSetup) {
	if s.state != StateSettingUp {
		return
	}
	s.reg.bindID(s, ev.CallID)
	if ev.Priority > 0 {
		s.rec.Priority = ev.Priority
	}
	s.rec.E2EE = s.rec.E2EE || ev.E2EE
	s.stopSetupTimer()
	if ev.Hook {
		// hook signaling still owes us a round trip before connect
		s.scheduleSetupTimer(true)
	}
	s.state = StateRinging
	logger.Info("call acknowledged",
		zap.Uint64("session", s.id),
		zap.Uint32("callID", ev.CallID))
}

// convertToIncoming handles the callback race: the far end calls us before
// our own setup is acknowledged. Identities swap and the session proceeds
// as an inbound call.
func (s *Session) convertToIncoming(ev signaling.CallSetup) {
	calling, called := s.rec.CallingParty, s.rec.CalledParty
	s.rec.CallingParty = called
	s.rec.CalledParty = calling
	metrics.ActiveCalls.WithLabelValues(s.rec.Class.String()).Dec()
	switch s.rec.Class {
	case ClassIndividualOut:
		s.rec.Class = ClassIndividualIn
	case ClassGroupOut:
		s.rec.Class = ClassGroupIn
	case ClassBroadcastOut:
		s.rec.Class = ClassBroadcastIn
	}
	metrics.ActiveCalls.WithLabelValues(s.rec.Class.String()).Inc()
	s.outgoing = false
	s.rec.Duplex = ev.Duplex
	s.rec.E2EE = ev.E2EE
	if ev.Priority > 0 {
		s.rec.Priority = ev.Priority
	}
	s.reg.bindID(s, ev.CallID)

	// a deferred-dial window was never admitted; the converted inbound call
	// must not slip past the cap
	if !s.admitted && s.rec.Class.Counted() {
		if err := s.d.admitOrPreempt(s); err != nil {
			logger.Info("converted call refused by admission",
				zap.Uint64("session", s.id),
				zap.Uint32("callID", ev.CallID))
			if _, derr := s.sub.Requester.Disconnect(ev.CallID, signaling.CauseBusy); derr != nil {
				logger.Debug("busy disconnect failed", zap.Error(derr))
			}
			s.release(signaling.CauseBusy, false)
			return
		}
		s.admitted = true
	}

	s.state = StateAwaitingAnswer
	s.scheduleSetupTimer(ev.Hook)
	logger.Info("outgoing call converted to incoming",
		zap.Uint64("session", s.id),
		zap.Uint32("callID", ev.CallID),
		zap.String("calling", s.rec.CallingParty.String()))
}

func (s *Session) onProceeding() {
	if s.state == StateSettingUp {
		s.state = StateRinging
	}
}

func (s *Session) onAlert() {
	if s.state == StateSettingUp {
		s.state = StateRinging
	}
}

// Answer accepts an inbound call awaiting answer.
func (s *Session) Answer() error {
	if s.state != StateAwaitingAnswer {
		return ErrNotAnswerable
	}
	if s.rec.LocalAudio.IsZero() {
		s.rec.LocalAudio = s.sub.AllocEndpoint()
	}
	localSDP, err := media.BuildDescription(s.sub.ConsoleID, s.rec.LocalAudio, s.rec.LocalVideo)
	if err != nil {
		return err
	}
	if _, err := s.sub.Requester.Connect(s.rec.CallID, localSDP); err != nil {
		s.sub.notify(events.TypeCallFailed, map[string]interface{}{
			"session": s.id,
			"reason":  err.Error(),
		})
		return err
	}
	return nil
}

// onConnect moves the session to Connected: ringback stops, the duration
// ticker starts and the RTP sessions are bound.
func (s *Session) onConnect(ev signaling.CallConnect) {
	if s.state == StateConnected || s.state == StateTransmitting || s.state == StateEnded {
		return
	}
	s.stopSetupTimer()

	if ev.Priority > 0 {
		s.rec.Priority = ev.Priority
	}
	s.rec.Ownership = ev.Ownership
	s.rec.StartedAt = time.Now()

	remoteAudio, remoteVideo, err := media.ParseDescription(ev.RemoteSDP)
	if err != nil {
		logger.Warn("remote endpoint description unreadable",
			zap.Uint64("session", s.id), zap.Error(err))
	}
	remoteAudio.Key = ev.AudioKey
	remoteVideo.Key = ev.VideoKey
	s.rec.RemoteAudio = remoteAudio
	s.rec.RemoteVideo = remoteVideo

	s.bindMedia()

	s.state = StateConnected
	s.startTicker()

	policy := s.rec.Class.Policy()
	if policy.AutoJoin && !s.sub.Tunables.DisableGroupAutoJoin {
		if _, err := s.sub.Requester.SsicInvoke(s.rec.CalledParty); err != nil {
			logger.Warn("group auto-join failed",
				zap.Uint64("session", s.id), zap.Error(err))
		}
	}

	// Full-duplex calls stream the microphone for the whole call, so they
	// take the floor on connect.
	if s.rec.Duplex && !policy.Monitored {
		s.sub.Floor.Claim(s)
		s.sub.Audio.SetActiveOut(s.remoteParty().ID, true)
	}

	s.arb.onConnected()

	logger.Info("call connected",
		zap.Uint64("session", s.id),
		zap.Uint32("callID", s.rec.CallID),
		zap.String("class", s.rec.Class.String()))
}

func (s *Session) bindMedia() {
	party := s.remoteParty().ID
	if s.rec.LocalAudio.IsZero() {
		s.rec.LocalAudio = s.sub.AllocEndpoint()
	}
	stats := func(p string, st media.Stats) {
		logger.Debug("rtp stats",
			zap.String("party", p),
			zap.Uint64("packetsIn", st.PacketsIn),
			zap.Uint64("packetsOut", st.PacketsOut))
	}
	if err := s.sub.Audio.StartRTP(party, s.rec.LocalAudio, s.rec.RemoteAudio, stats); err != nil {
		logger.Error("audio routing failed", zap.Uint64("session", s.id), zap.Error(err))
	} else {
		s.rtpLive = true
		s.sub.Audio.SetActiveIn(party, true)
	}
	if !s.rec.RemoteVideo.IsZero() {
		if s.rec.LocalVideo.IsZero() {
			s.rec.LocalVideo = s.sub.AllocEndpoint()
		}
		if err := s.sub.Video.StartVideo(party, s.rec.LocalVideo, s.rec.RemoteVideo); err != nil {
			logger.Warn("video streaming failed", zap.Uint64("session", s.id), zap.Error(err))
		}
	}
}

func (s *Session) startTicker() {
	gen := s.rec.Generation
	s.tickTimer = s.d.schedule(time.Second, func() { s.onTick(gen) })
}

func (s *Session) onTick(gen uint64) {
	if gen != s.rec.Generation {
		return
	}
	if s.state != StateConnected && s.state != StateTransmitting {
		return
	}
	s.sub.notify(events.TypeCallTick, map[string]interface{}{
		"session":  s.id,
		"duration": time.Since(s.rec.StartedAt).Seconds(),
	})
	s.tickTimer = s.d.schedule(time.Second, func() { s.onTick(gen) })
}

// onTxGranted processes the outcome of a transmit demand, or another party
// taking over the transmission.
func (s *Session) onTxGranted(ev signaling.CallTxGranted) {
	if s.state == StateEnded {
		return
	}

	local := ev.TxParty == "" || ev.TxParty == s.sub.ConsoleID
	switch ev.Grant {
	case signaling.GrantRejected:
		if local {
			s.arb.onDenied()
		}
		return
	case signaling.GrantQueued:
		return
	}

	if local {
		s.rec.TxGranted = true
		s.sub.Floor.Claim(s)
		s.sub.Audio.SetActiveOut(s.remoteParty().ID, true)
		s.rec.OpenSegment(s.sub.ConsoleID, time.Now())
		if s.state == StateConnected {
			s.state = StateTransmitting
		}
		s.arb.onGranted()
		return
	}

	// another party talks: track it in the history only
	s.rec.OpenSegment(ev.TxParty, time.Now())
}

// onTxCeased processes the end of a transmission. A server-forced cease is
// not an error but must still release the microphone floor.
func (s *Session) onTxCeased(ev signaling.CallTxCeased) {
	if s.state == StateEnded {
		return
	}
	s.rec.CloseSegment(time.Now())
	if s.rec.TxGranted {
		s.rec.TxGranted = false
		s.rec.FirstTransmit = false
		s.sub.Floor.Release(s)
		s.sub.Audio.SetActiveOut(s.remoteParty().ID, false)
	}
	if s.state == StateTransmitting {
		s.state = StateConnected
	}
}

// ceaseTransmit ends our own transmission: request, history, floor.
func (s *Session) ceaseTransmit(force bool) {
	if !s.rec.TxGranted && !force {
		return
	}
	if _, err := s.sub.Requester.TxCeased(s.rec.CallID); err != nil {
		logger.Warn("transmit cease failed",
			zap.Uint32("callID", s.rec.CallID), zap.Error(err))
	}
	s.rec.CloseSegment(time.Now())
	if s.rec.TxGranted {
		s.rec.TxGranted = false
		s.sub.Floor.Release(s)
		s.sub.Audio.SetActiveOut(s.remoteParty().ID, false)
	}
	s.rec.FirstTransmit = false
	if s.state == StateTransmitting {
		s.state = StateConnected
	}
}

// onOwnershipChanged updates the display identity of a group/broadcast call
// without touching the connection state.
func (s *Session) onOwnershipChanged(ev signaling.CallInfo) {
	if s.state == StateEnded || !s.rec.Class.Policy().Group {
		return
	}
	if !ev.CallingParty.IsZero() {
		s.rec.CallingParty = ev.CallingParty
	}
	if ev.Priority > 0 {
		s.rec.Priority = ev.Priority
	}
	// a stale open segment from the previous owner must not keep growing
	s.rec.CloseSegment(time.Now())
	s.sub.notify(events.TypeOwnershipChange, map[string]interface{}{
		"session": s.id,
		"calling": s.rec.CallingParty.String(),
	})
}

// FloorLost demotes the session: another session claimed the microphone.
func (s *Session) FloorLost() {
	s.sub.Audio.SetActiveOut(s.remoteParty().ID, false)
	if s.rec.TxGranted {
		s.rec.TxGranted = false
		s.rec.CloseSegment(time.Now())
		if _, err := s.sub.Requester.TxCeased(s.rec.CallID); err != nil {
			logger.Debug("cease after floor loss failed", zap.Error(err))
		}
	}
	if s.state == StateTransmitting {
		s.state = StateConnected
	}
	s.sub.notify(events.TypeFloorLost, map[string]interface{}{
		"session": s.id,
	})
}

// PTTPress and PTTRelease forward the local gesture to the arbiter.
func (s *Session) PTTPress()   { s.arb.Press() }
func (s *Session) PTTRelease() { s.arb.Release() }

// Hangup ends the call from this console. With keepWindow the finished
// session recycles into a fresh outgoing record bound to the same window.
func (s *Session) Hangup(keepWindow bool) {
	if s.state == StateEnded {
		return
	}
	if s.rec.CallID != 0 {
		switch {
		case s.rec.Class == ClassIndividualAmbience || s.rec.Class == ClassMonitorAmbience:
			if _, err := s.sub.Requester.ListenDisconnect(s.rec.CallID); err != nil {
				logger.Debug("listen disconnect failed", zap.Error(err))
			}
		case s.rec.Class.Policy().Group && !s.rec.Ownership:
			// not the owner: leave the group call instead of ending it
			if _, err := s.sub.Requester.SsicDisconnect(s.rec.CallID); err != nil {
				logger.Debug("group leave failed", zap.Error(err))
			}
		default:
			if _, err := s.sub.Requester.Disconnect(s.rec.CallID, signaling.CauseNormal); err != nil {
				logger.Debug("disconnect request failed", zap.Error(err))
			}
		}
	}
	s.release(signaling.CauseNormal, keepWindow)
}

// onSetupTimeout fires when the call left the setup phase in no direction:
// no network acknowledgement for an outgoing setup, or no dispatcher answer
// for an inbound call. Stale generations and late races no-op.
func (s *Session) onSetupTimeout(gen uint64) {
	if gen != s.rec.Generation {
		return
	}
	switch s.state {
	case StateSettingUp, StateRinging, StateAwaitingAnswer:
	default:
		return
	}
	metrics.SetupTimeouts.Inc()
	cause := signaling.CauseTimeout
	if s.state == StateAwaitingAnswer {
		cause = signaling.CauseNoAnswer
	}
	if s.rec.CallID != 0 {
		if _, err := s.sub.Requester.Disconnect(s.rec.CallID, cause); err != nil {
			logger.Debug("disconnect after timeout failed", zap.Error(err))
		}
	}
	s.release(cause, false)
}

// release finishes the session exactly once: timers stop, RTP stops, the
// admission slot frees, the completed record is emitted, and the session is
// destroyed or recycled.
func (s *Session) release(cause signaling.Cause, keepWindow bool) {
	if s.ended {
		return
	}
	s.ended = true
	now := time.Now()

	// a PTT press racing the release must not vanish from the record
	if s.arb.midPress() && (s.state == StateConnected || s.state == StateTransmitting) {
		s.rec.OpenSegment(s.sub.ConsoleID, now)
	}
	s.arb.reset()

	s.stopSetupTimer()
	if s.tickTimer != nil {
		s.tickTimer.Stop()
		s.tickTimer = nil
	}

	if s.rec.TxGranted {
		s.rec.TxGranted = false
		s.sub.Floor.Release(s)
	}
	// defensively drop the floor even if grant bookkeeping was lost
	s.sub.Floor.Release(s)

	if s.rtpLive {
		party := s.remoteParty().ID
		s.sub.Audio.StopRTP(party)
		if !s.rec.RemoteVideo.IsZero() {
			s.sub.Video.StopVideo(party)
		}
		s.rtpLive = false
	}

	s.releaseAdmission()

	history := s.rec.ClosedHistory(now)
	var duration time.Duration
	if !s.rec.StartedAt.IsZero() {
		duration = now.Sub(s.rec.StartedAt)
	}
	failure := cause
	if cause == signaling.CauseNormal {
		failure = ""
	}
	if s.sub.Recorder != nil {
		completed := CompletedCall{
			Class:            s.rec.Class,
			Priority:         s.rec.Priority,
			Duplex:           s.rec.Duplex,
			StartTime:        s.rec.StartedAt,
			Duration:         duration,
			CallingPartyName: s.rec.CallingParty.ID,
			CalledPartyName:  s.rec.CalledParty.ID,
			FailureCause:     failure,
			PTTHistory:       history,
		}
		if err := s.sub.Recorder.RecordCall(completed); err != nil {
			logger.Error("completed call not recorded",
				zap.Uint64("session", s.id), zap.Error(err))
		}
	}
	metrics.ActiveCalls.WithLabelValues(s.rec.Class.String()).Dec()
	metrics.CompletedCalls.WithLabelValues(s.rec.Class.String(), string(cause)).Inc()

	switch cause {
	case signaling.CauseServerUnavailable:
		s.sub.notify(events.TypeServerUnavailable, map[string]interface{}{"session": s.id})
	case signaling.CauseNormal:
		s.sub.notify(events.TypeCallReleased, map[string]interface{}{"session": s.id})
	default:
		s.sub.notify(events.TypeCallFailed, map[string]interface{}{
			"session": s.id,
			"cause":   string(cause),
		})
	}

	s.state = StateEnded
	s.reg.remove(s, keepWindow)

	if keepWindow {
		s.recycle()
	}

	logger.Info("call session ended",
		zap.Uint64("session", s.id),
		zap.Uint32("callID", s.rec.CallID),
		zap.String("cause", string(cause)),
		zap.Bool("recycled", keepWindow))
}

// recycle resets the slot into a fresh outgoing record on the same window.
func (s *Session) recycle() {
	remote := s.remoteParty()
	console := signaling.Party{ID: s.sub.ConsoleID, Type: signaling.PartyDispatcher}
	class := ClassIndividualOut
	if s.rec.Class.Policy().Group {
		class = ClassGroupOut
	}
	s.rec.Reset(class, console, remote, s.sub.Tunables.DefaultPriority)
	s.outgoing = true
	s.admitted = false
	s.ended = false
	s.state = StateNew
	metrics.ActiveCalls.WithLabelValues(class.String()).Inc()
}

func (s *Session) releaseAdmission() {
	if s.admitted {
		s.admitted = false
		s.sub.Admission.Release(s.rec.Class)
	}
}

func (s *Session) reportAdmissionDenied() {
	s.sub.notify(events.TypeCallDenied, map[string]interface{}{
		"session": s.id,
		"reason":  ErrAdmissionDenied.Error(),
	})
}

func (s *Session) notifyPTTIdle() {
	s.sub.notify(events.TypePTTDenied, map[string]interface{}{
		"session": s.id,
	})
}
