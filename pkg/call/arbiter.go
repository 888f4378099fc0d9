package call

import (
	"github.com/code-100-precent/TrunkEcho/pkg/logger"
	"github.com/code-100-precent/TrunkEcho/pkg/metrics"
	"go.uber.org/zap"
)

// arbiter debounces PTT press/release and tracks the local grant cycle for
// one session. All methods run on the dispatcher loop.
type arbiter struct {
	s *Session

	pressed       bool
	debouncing    bool
	pending       bool // transmit demand sent, outcome unknown
	deferredCease bool // user released while the demand was pending
	lazyDenied    bool // admission denial to report on release
	timer         stopper
}

// Press starts the debounce window. A press while already granted or
// already debouncing is a no-op.
func (a *arbiter) Press() {
	if a.s.state == StateEnded || a.pressed {
		return
	}
	if !a.s.rec.Class.Policy().SupportsPTT && !a.s.rec.Duplex {
		return
	}
	a.pressed = true
	if a.s.rec.TxGranted {
		// repeat press while granted is idempotent
		return
	}
	a.debouncing = true
	gen := a.s.rec.Generation
	a.timer = a.s.d.schedule(a.s.sub.Tunables.PTTDebounce, func() {
		a.onDebounceElapsed(gen)
	})
}

// Release ends the press. Released before the debounce elapses, the press
// is discarded entirely and no request is ever sent.
func (a *arbiter) Release() {
	if !a.pressed {
		return
	}
	a.pressed = false

	if a.debouncing {
		a.debouncing = false
		if a.timer != nil {
			a.timer.Stop()
			a.timer = nil
		}
		return
	}

	if a.s.rec.TxGranted {
		a.s.ceaseTransmit(false)
		return
	}
	if a.pending {
		// outcome unknown; cease once the grant/deny response lands
		a.deferredCease = true
		return
	}
	if a.lazyDenied {
		a.lazyDenied = false
		a.s.reportAdmissionDenied()
	}
}

func (a *arbiter) onDebounceElapsed(gen uint64) {
	if gen != a.s.rec.Generation {
		return
	}
	a.debouncing = false
	a.timer = nil
	if !a.pressed || a.s.state == StateEnded {
		return
	}

	// First transmit on a not-yet-connected outgoing call starts the call
	// itself; the demand follows once connected.
	if a.s.state == StateNew && a.s.outgoing && a.s.rec.FirstTransmit {
		if err := a.s.startOutgoing(true); err != nil {
			a.lazyDenied = true
		}
		return
	}
	if a.s.state != StateConnected && a.s.state != StateTransmitting {
		return
	}
	if a.s.rec.TxGranted {
		return
	}
	a.sendDemand()
}

func (a *arbiter) sendDemand() {
	if a.pending {
		return
	}
	if _, err := a.s.sub.Requester.TxDemand(a.s.rec.CallID, a.s.rec.Priority); err != nil {
		logger.Warn("transmit demand failed",
			zap.Uint32("callID", a.s.rec.CallID),
			zap.Error(err))
		a.s.notifyPTTIdle()
		return
	}
	a.pending = true
}

// onGranted is called when the network grants a transmission to us. Only a
// press released while the demand was in flight triggers the automatic cease;
// an unsolicited grant stands until the server or the user ends it.
func (a *arbiter) onGranted() {
	a.pending = false
	metrics.PTTGrants.Inc()
	if a.deferredCease {
		a.deferredCease = false
		a.s.ceaseTransmit(false)
	}
}

// onDenied is called when the demand is rejected outright (not queued).
// Runs the release-side logic so the button returns to idle.
func (a *arbiter) onDenied() {
	a.pending = false
	a.deferredCease = false
	metrics.PTTDenied.Inc()
	a.s.notifyPTTIdle()
}

// onConnected is called once the call connects; an outstanding press turns
// into a transmit demand, a press already released is dropped.
func (a *arbiter) onConnected() {
	if a.pressed && !a.s.rec.TxGranted && !a.debouncing {
		a.sendDemand()
	}
	if a.lazyDenied {
		a.lazyDenied = false
	}
}

// midPress reports whether a transmission gesture is in progress but no
// grant was received: used to synthesize a zero-length PTT cycle when a
// release races a press.
func (a *arbiter) midPress() bool {
	return a.pressed && !a.s.rec.TxGranted
}

// reset clears all gesture state (window recycling).
func (a *arbiter) reset() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.pressed = false
	a.debouncing = false
	a.pending = false
	a.deferredCease = false
	a.lazyDenied = false
}
