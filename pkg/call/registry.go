package call

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/code-100-precent/TrunkEcho/pkg/logger"
	"github.com/code-100-precent/TrunkEcho/pkg/metrics"
	"github.com/code-100-precent/TrunkEcho/pkg/signaling"
	"go.uber.org/zap"
)

// Registry indexes live sessions by slot, network call ID and remote party.
// It also keeps a short-lived fence of released call IDs so duplicated
// release events for an already-dead call are dropped instead of tearing
// down an unrelated session that reused the ID. Accessed only from the
// dispatcher loop.
type Registry struct {
	sub *Subsystem

	bySlot  map[uint64]*Session
	byID    map[uint32]*Session
	byParty map[string]*Session

	nextSlot uint64

	// released call IDs, expiring after the fence window
	released *gocache.Cache
}

// NewRegistry creates an empty registry bound to the subsystem.
func NewRegistry(sub *Subsystem) *Registry {
	fence := sub.Tunables.ReleaseFence
	return &Registry{
		sub:      sub,
		bySlot:   make(map[uint64]*Session),
		byID:     make(map[uint32]*Session),
		byParty:  make(map[string]*Session),
		released: gocache.New(fence, fence),
	}
}

// newSession creates and indexes a session slot for a fresh record.
func (r *Registry) newSession(d *Dispatcher, rec *Record, outgoing bool) *Session {
	r.nextSlot++
	s := &Session{
		id:       r.nextSlot,
		sub:      r.sub,
		d:        d,
		reg:      r,
		rec:      rec,
		state:    StateNew,
		outgoing: outgoing,
	}
	s.arb.s = s
	r.bySlot[s.id] = s
	r.indexParty(s)
	metrics.ActiveCalls.WithLabelValues(rec.Class.String()).Inc()
	return s
}

func (r *Registry) indexParty(s *Session) {
	party := s.remoteParty()
	if party.IsZero() {
		return
	}
	if prev, ok := r.byParty[party.ID]; ok && prev != s {
		// one live call per party; outgoing wins the race, the other call is
		// torn down as party-busy by the dispatcher
		if !s.outgoing && prev.outgoing {
			return
		}
	}
	r.byParty[party.ID] = s
}

// bindID attaches the network-assigned call ID to the session. Rebinding
// the same ID is idempotent. On a collision the outgoing session keeps its
// binding and the other session is discarded; the loser never stays live
// without a network identity.
func (r *Registry) bindID(s *Session, callID uint32) {
	if callID == 0 || s.rec.CallID == callID {
		s.rec.CallID = callID
		return
	}
	if s.rec.CallID != 0 {
		delete(r.byID, s.rec.CallID)
	}
	if prev, ok := r.byID[callID]; ok && prev != s {
		if prev.outgoing && !s.outgoing {
			logger.Warn("call ID collision, outgoing session keeps the ID",
				zap.Uint32("callID", callID),
				zap.Uint64("kept", prev.id),
				zap.Uint64("discarded", s.id))
			s.release(signaling.CauseDuplicate, false)
			return
		}
		logger.Warn("call ID collision, discarding previous binding",
			zap.Uint32("callID", callID),
			zap.Uint64("prevSession", prev.id),
			zap.Uint64("session", s.id))
		prev.rec.CallID = 0
		prev.release(signaling.CauseDuplicate, false)
	}
	s.rec.CallID = callID
	r.byID[callID] = s
	r.indexParty(s)
}

// reindex moves a session from its current call ID to newID (CALL INFO
// reassignment). Reindexing to the already-bound ID is a no-op.
func (r *Registry) reindex(s *Session, newID uint32) {
	if newID == 0 || s.rec.CallID == newID {
		return
	}
	logger.Info("call ID reassigned",
		zap.Uint64("session", s.id),
		zap.Uint32("oldID", s.rec.CallID),
		zap.Uint32("newID", newID))
	r.bindID(s, newID)
}

// lookup returns the session bound to callID, or nil.
func (r *Registry) lookup(callID uint32) *Session {
	return r.byID[callID]
}

// lookupParty returns the live session involving the given party ID, or nil.
func (r *Registry) lookupParty(partyID string) *Session {
	return r.byParty[partyID]
}

// recentlyReleased reports whether callID was released within the fence
// window; such release events are duplicates and must be dropped.
func (r *Registry) recentlyReleased(callID uint32) bool {
	_, found := r.released.Get(fenceKey(callID))
	return found
}

func fenceKey(callID uint32) string {
	return fmt.Sprintf("rel:%d", callID)
}

// remove unindexes the session. With keepWindow the slot and party index
// survive (the session recycles in place); the call ID always unbinds and
// enters the release fence.
func (r *Registry) remove(s *Session, keepWindow bool) {
	if s.rec.CallID != 0 {
		delete(r.byID, s.rec.CallID)
		r.released.Set(fenceKey(s.rec.CallID), time.Now(), gocache.DefaultExpiration)
	}
	if keepWindow {
		return
	}
	delete(r.bySlot, s.id)
	party := s.remoteParty()
	if party.IsZero() {
		return
	}
	if cur, ok := r.byParty[party.ID]; ok && cur == s {
		delete(r.byParty, party.ID)
	}
}

// sweepOnDisconnect releases every live session with the server-unavailable
// cause. Sessions already ended are skipped, so no call is billed twice.
func (r *Registry) sweepOnDisconnect() {
	sessions := make([]*Session, 0, len(r.bySlot))
	for _, s := range r.bySlot {
		sessions = append(sessions, s)
	}
	for _, s := range sessions {
		if s.ended || s.state == StateEnded {
			continue
		}
		s.release(signaling.CauseServerUnavailable, false)
	}
	logger.Warn("signaling transport lost, all calls released",
		zap.Int("count", len(sessions)))
}

// lowestPriorityActive returns the counted session with the lowest priority,
// the preemption victim candidate. Returns nil when no counted call exists.
func (r *Registry) lowestPriorityActive() *Session {
	var victim *Session
	for _, s := range r.bySlot {
		if s.ended || s.state == StateEnded || s.state == StateNew {
			continue
		}
		if !s.rec.Class.Counted() {
			continue
		}
		if victim == nil || s.rec.Priority < victim.rec.Priority {
			victim = s
		}
	}
	return victim
}

// active returns snapshots of every non-ended session, for the status API.
func (r *Registry) active() []Info {
	out := make([]Info, 0, len(r.bySlot))
	for _, s := range r.bySlot {
		if s.state == StateEnded {
			continue
		}
		out = append(out, s.info())
	}
	return out
}
