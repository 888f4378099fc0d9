package call

import (
	"time"

	"github.com/code-100-precent/TrunkEcho/pkg/events"
	"github.com/code-100-precent/TrunkEcho/pkg/media"
	"github.com/code-100-precent/TrunkEcho/pkg/signaling"
)

// CompletedCall is the finished-call record handed to the Recorder sink.
type CompletedCall struct {
	Class            Class
	Priority         int
	Duplex           bool
	StartTime        time.Time
	Duration         time.Duration
	CallingPartyName string
	CalledPartyName  string
	FailureCause     signaling.Cause // empty for a normal call
	PTTHistory       []Segment
}

// Recorder persists completed calls.
type Recorder interface {
	RecordCall(rec CompletedCall) error
}

// PriorityTier partitions the priority range.
type PriorityTier int

const (
	TierNormal PriorityTier = iota
	TierPreemptive
	TierEmergency
)

// Tunables are the runtime parameters of the call core. The zero value of
// every field means "use the default"; boolean knobs are therefore phrased as
// disables so an empty Tunables behaves like DefaultTunables.
type Tunables struct {
	AdmissionMaxCalls    int
	PTTDebounce          time.Duration
	SetupTimeout         time.Duration
	HookSetupTimeout     time.Duration
	PriorityPreempt      int
	PriorityEmergency    int
	DefaultPriority      int
	DisableGroupAutoJoin bool
	ReleaseFence         time.Duration

	// Local RTP endpoint allocation.
	RTPAddr    string
	RTPPortMin int
	RTPPortMax int
}

// DefaultTunables returns the values used when a field is unset.
func DefaultTunables() Tunables {
	return Tunables{
		AdmissionMaxCalls: 3,
		PTTDebounce:       150 * time.Millisecond,
		SetupTimeout:      5 * time.Second,
		HookSetupTimeout:  30 * time.Second,
		PriorityPreempt:   11,
		PriorityEmergency: 15,
		DefaultPriority:   5,
		ReleaseFence:      10 * time.Second,
		RTPAddr:           "127.0.0.1",
		RTPPortMin:        40000,
		RTPPortMax:        40999,
	}
}

// Subsystem bundles the shared collaborators of the call core. It replaces
// the historical process-wide singletons: constructed once at startup and
// passed by reference into the registry and every session, so single-writer
// semantics hold without hidden global state.
type Subsystem struct {
	ConsoleID string // our own transmit-party identity

	Requester signaling.Requester
	Audio     media.AudioRouter
	Video     media.VideoStreamer
	Recorder  Recorder
	Bus       *events.Bus

	Admission *Admission
	Floor     *Floor

	Tunables Tunables

	nextPort int
}

// NewSubsystem wires the shared collaborators. Zero tunable fields are
// replaced with defaults.
func NewSubsystem(consoleID string, req signaling.Requester, audio media.AudioRouter, video media.VideoStreamer, rec Recorder, bus *events.Bus, tun Tunables) *Subsystem {
	def := DefaultTunables()
	if tun.AdmissionMaxCalls == 0 {
		tun.AdmissionMaxCalls = def.AdmissionMaxCalls
	}
	if tun.PTTDebounce == 0 {
		tun.PTTDebounce = def.PTTDebounce
	}
	if tun.SetupTimeout == 0 {
		tun.SetupTimeout = def.SetupTimeout
	}
	if tun.HookSetupTimeout == 0 {
		tun.HookSetupTimeout = def.HookSetupTimeout
	}
	if tun.PriorityPreempt == 0 {
		tun.PriorityPreempt = def.PriorityPreempt
	}
	if tun.PriorityEmergency == 0 {
		tun.PriorityEmergency = def.PriorityEmergency
	}
	if tun.DefaultPriority == 0 {
		tun.DefaultPriority = def.DefaultPriority
	}
	if tun.ReleaseFence == 0 {
		tun.ReleaseFence = def.ReleaseFence
	}
	if tun.RTPAddr == "" {
		tun.RTPAddr = def.RTPAddr
	}
	if tun.RTPPortMin == 0 {
		tun.RTPPortMin = def.RTPPortMin
	}
	if tun.RTPPortMax == 0 {
		tun.RTPPortMax = def.RTPPortMax
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if video == nil {
		video = media.NullVideo{}
	}
	return &Subsystem{
		ConsoleID: consoleID,
		Requester: req,
		Audio:     audio,
		Video:     video,
		Recorder:  rec,
		Bus:       bus,
		Admission: NewAdmission(tun.AdmissionMaxCalls),
		Floor:     NewFloor(),
		Tunables:  tun,
		nextPort:  tun.RTPPortMin,
	}
}

// Tier classifies a priority value.
func (s *Subsystem) Tier(priority int) PriorityTier {
	switch {
	case priority >= s.Tunables.PriorityEmergency:
		return TierEmergency
	case priority >= s.Tunables.PriorityPreempt:
		return TierPreemptive
	default:
		return TierNormal
	}
}

// AllocEndpoint hands out the next local RTP endpoint from the configured
// port range. Ports are allocated in even pairs (RTP convention) and wrap.
func (s *Subsystem) AllocEndpoint() media.Endpoint {
	port := s.nextPort
	s.nextPort += 2
	if s.nextPort > s.Tunables.RTPPortMax {
		s.nextPort = s.Tunables.RTPPortMin
	}
	return media.Endpoint{Addr: s.Tunables.RTPAddr, Port: port}
}

// SetupTimeoutFor selects the class-specific setup window: hook signaling
// adds a round trip and gets the long timeout.
func (s *Subsystem) SetupTimeoutFor(hook bool) time.Duration {
	if hook {
		return s.Tunables.HookSetupTimeout
	}
	return s.Tunables.SetupTimeout
}

func (s *Subsystem) notify(eventType string, data map[string]interface{}) {
	if s.Bus != nil {
		s.Bus.Publish(events.Event{Type: eventType, Data: data, Source: "call-core"})
	}
}
