package call

import "fmt"

// Class is the call-class taxonomy driving per-call policy.
type Class int

const (
	ClassBroadcastIn Class = iota
	ClassBroadcastOut
	ClassDispatcher
	ClassGroupIn
	ClassGroupOut
	ClassIndividualAmbience
	ClassIndividualIn
	ClassIndividualOut
	ClassMobile
	ClassMonitorAmbience
	ClassMonitorDuplex
	ClassMonitorPTT
)

var classNames = map[Class]string{
	ClassBroadcastIn:        "broadcast_in",
	ClassBroadcastOut:       "broadcast_out",
	ClassDispatcher:         "dispatcher",
	ClassGroupIn:            "group_in",
	ClassGroupOut:           "group_out",
	ClassIndividualAmbience: "individual_ambience",
	ClassIndividualIn:       "individual_in",
	ClassIndividualOut:      "individual_out",
	ClassMobile:             "mobile",
	ClassMonitorAmbience:    "monitor_ambience",
	ClassMonitorDuplex:      "monitor_duplex",
	ClassMonitorPTT:         "monitor_ptt",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// ParseClass resolves a class by its wire name.
func ParseClass(name string) (Class, bool) {
	for c, n := range classNames {
		if n == name {
			return c, true
		}
	}
	return 0, false
}

// Policy is the immutable per-class behavior table. Deriving it once
// collapses call-class branching into lookups.
type Policy struct {
	DuplexCapable bool // full-duplex audio possible
	SupportsPTT   bool // half-duplex transmit arbitration applies
	Internal      bool // dispatcher/mobile call, never counted by admission
	BypassesCap   bool // admitted unconditionally
	AutoJoin      bool // join the group/broadcast on connect
	Monitored     bool // listen-only session
	Group         bool // group or broadcast semantics (ownership applies)
}

var classPolicies = map[Class]Policy{
	ClassBroadcastIn:        {SupportsPTT: true, BypassesCap: true, AutoJoin: true, Group: true},
	ClassBroadcastOut:       {SupportsPTT: true, Group: true},
	ClassDispatcher:         {DuplexCapable: true, Internal: true},
	ClassGroupIn:            {SupportsPTT: true, AutoJoin: true, Group: true},
	ClassGroupOut:           {SupportsPTT: true, Group: true},
	ClassIndividualAmbience: {Monitored: true},
	ClassIndividualIn:       {DuplexCapable: true, SupportsPTT: true},
	ClassIndividualOut:      {DuplexCapable: true, SupportsPTT: true},
	ClassMobile:             {DuplexCapable: true, Internal: true},
	ClassMonitorAmbience:    {Monitored: true},
	ClassMonitorDuplex:      {DuplexCapable: true, Monitored: true},
	ClassMonitorPTT:         {SupportsPTT: true, Monitored: true},
}

// Policy returns the behavior table entry for the class.
func (c Class) Policy() Policy {
	return classPolicies[c]
}

// Counted reports whether a call of this class occupies a slot of the
// concurrent-call cap. Internal calls never count; broadcast-incoming is
// always admitted and never counted either.
func (c Class) Counted() bool {
	p := c.Policy()
	return !p.Internal && !p.BypassesCap
}
