package signaling

// Cause is the disconnect cause carried in release events and requests.
type Cause string

const (
	CauseNormal            Cause = "normal"
	CauseTimeout           Cause = "timeout"
	CauseNoAnswer          Cause = "no_answer"
	CauseBusy              Cause = "busy"
	CauseRejected          Cause = "rejected"
	CausePreempted         Cause = "preempted"
	CauseServerUnavailable Cause = "server_unavailable"
	CauseDuplicate         Cause = "duplicate"
)

// GrantKind is the outcome class of a transmit demand.
type GrantKind int

const (
	GrantGranted GrantKind = iota
	GrantQueued
	GrantRejected
)

func (g GrantKind) String() string {
	switch g {
	case GrantGranted:
		return "granted"
	case GrantQueued:
		return "queued"
	case GrantRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Event is a typed inbound signaling event delivered by the network session
// layer. The dispatcher type-switches on the concrete type.
type Event interface {
	Kind() string
}

// CallSetup announces an inbound call, or acknowledges an outgoing one.
type CallSetup struct {
	CallID       uint32
	CallingParty Party
	CalledParty  Party
	Priority     int
	Hook         bool // hook signaling adds a round trip, selects the long setup timeout
	Duplex       bool
	Broadcast    bool
	E2EE         bool
}

func (CallSetup) Kind() string { return "CallSetup" }

// CallProceeding acknowledges an outgoing setup before alerting.
type CallProceeding struct {
	CallID      uint32
	CalledParty Party
}

func (CallProceeding) Kind() string { return "CallProceeding" }

// CallAlert reports that the called party is being alerted (ringing).
type CallAlert struct {
	CallID      uint32
	CalledParty Party
}

func (CallAlert) Kind() string { return "CallAlert" }

// CallConnect reports the call went through; carries media endpoints.
type CallConnect struct {
	CallID    uint32
	TxParty   string
	Priority  int
	Ownership bool
	RemoteSDP string // remote RTP endpoint description
	AudioKey  []byte
	VideoKey  []byte
}

func (CallConnect) Kind() string { return "CallConnect" }

// CallInfo carries mid-call updates: call-ID reassignment and
// group/broadcast ownership changes.
type CallInfo struct {
	CallID          uint32
	NewCallID       uint32
	OwnershipChange bool
	CallingParty    Party
	Priority        int
}

func (CallInfo) Kind() string { return "CallInfo" }

// CallTxGranted reports the outcome of a transmit demand, or another
// party taking the transmission.
type CallTxGranted struct {
	CallID     uint32
	Grant      GrantKind
	TxParty    string
	PTTAllowed bool
}

func (CallTxGranted) Kind() string { return "CallTxGranted" }

// CallTxCeased reports a transmission ended. IsResponse distinguishes the
// answer to our own cease request from a server-forced cease.
type CallTxCeased struct {
	CallID     uint32
	IsResponse bool
	PTTAllowed bool
}

func (CallTxCeased) Kind() string { return "CallTxCeased" }

// CallRelease tears the call down.
type CallRelease struct {
	CallID       uint32
	CallingParty Party
	CalledParty  Party
	Cause        Cause
}

func (CallRelease) Kind() string { return "CallRelease" }

// MonSetup announces a monitored (listen-only) call setup.
type MonSetup struct {
	CallID       uint32
	CallingParty Party
	CalledParty  Party
	Priority     int
	Duplex       bool
}

func (MonSetup) Kind() string { return "MonSetup" }

// MonConnect reports a monitored call went active.
type MonConnect struct {
	CallID    uint32
	TxParty   string
	RemoteSDP string
	AudioKey  []byte
}

func (MonConnect) Kind() string { return "MonConnect" }

// MonDisconnect ends a monitored call.
type MonDisconnect struct {
	CallID uint32
	Cause  Cause
}

func (MonDisconnect) Kind() string { return "MonDisconnect" }

// SsicIncl includes this console into an ongoing group call.
type SsicIncl struct {
	CallID       uint32
	Group        Party
	CallingParty Party
	Priority     int
}

func (SsicIncl) Kind() string { return "SsicIncl" }

// SsicRelease removes this console from a group call inclusion.
type SsicRelease struct {
	CallID uint32
	Cause  Cause
}

func (SsicRelease) Kind() string { return "SsicRelease" }

// ListenConnect confirms an ambience listening session.
type ListenConnect struct {
	CallID    uint32
	Target    Party
	RemoteSDP string
	AudioKey  []byte
}

func (ListenConnect) Kind() string { return "ListenConnect" }

// ListenRelease ends an ambience listening session.
type ListenRelease struct {
	CallID uint32
	Cause  Cause
}

func (ListenRelease) Kind() string { return "ListenRelease" }
