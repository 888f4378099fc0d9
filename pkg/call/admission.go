package call

import (
	"errors"

	"github.com/code-100-precent/TrunkEcho/pkg/logger"
	"github.com/code-100-precent/TrunkEcho/pkg/metrics"
	"go.uber.org/zap"
)

// ErrAdmissionDenied is returned when the concurrent-call cap is reached.
var ErrAdmissionDenied = errors.New("call: maximum concurrent sessions reached")

// Admission enforces the system-wide cap on concurrent non-internal calls.
// It is mutated only on the dispatcher loop.
type Admission struct {
	cap   int
	count int
}

// NewAdmission creates a controller with the given cap.
func NewAdmission(cap int) *Admission {
	return &Admission{cap: cap}
}

// TryAdmit admits the call if its class leaves room under the cap.
// Broadcast-incoming bypasses the cap unconditionally; internal
// (dispatcher/mobile) calls never count against it.
func (a *Admission) TryAdmit(class Class) error {
	if !class.Counted() {
		return nil
	}
	if a.count >= a.cap {
		metrics.AdmissionDenied.Inc()
		logger.Debug("admission denied",
			zap.String("class", class.String()),
			zap.Int("count", a.count),
			zap.Int("cap", a.cap))
		return ErrAdmissionDenied
	}
	a.count++
	metrics.AdmittedCalls.Inc()
	return nil
}

// Release frees the slot held by a call of the given class. Classes that
// were never counted do not decrement.
func (a *Admission) Release(class Class) {
	if !class.Counted() {
		return
	}
	if a.count > 0 {
		a.count--
	}
}

// Count returns the number of counted concurrent calls.
func (a *Admission) Count() int { return a.count }

// Cap returns the configured cap.
func (a *Admission) Cap() int { return a.cap }
