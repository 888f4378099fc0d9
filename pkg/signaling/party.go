package signaling

import "fmt"

// PartyType classifies the identifier carried in signaling events.
type PartyType int

const (
	PartySubscriber PartyType = iota
	PartyGroup
	PartyDispatcher
	PartyMobile
)

func (t PartyType) String() string {
	switch t {
	case PartySubscriber:
		return "subscriber"
	case PartyGroup:
		return "group"
	case PartyDispatcher:
		return "dispatcher"
	case PartyMobile:
		return "mobile"
	default:
		return fmt.Sprintf("party(%d)", int(t))
	}
}

// Party is a network identity: an identifier plus its type.
type Party struct {
	ID   string
	Type PartyType
}

func (p Party) String() string {
	return p.Type.String() + ":" + p.ID
}

// IsZero reports whether the party is unset.
func (p Party) IsZero() bool {
	return p.ID == ""
}
