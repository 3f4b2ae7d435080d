package mesh

// Role says which side of a link sends the offer.
type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// State is the negotiation state of a link. States only move forward.
type State int

const (
	Created State = iota
	Negotiating
	Connected
	Degraded
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Closed:
		return "closed"
	}
	return "unknown"
}
