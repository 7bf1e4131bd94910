package domain

type CallState int

const (
	// CallPending means the offer has been forwarded but the callee has not
	// answered yet.
	CallPending CallState = iota
	// CallActive means the callee accepted and the answer was relayed back.
	CallActive
)

func (s CallState) String() string {
	switch s {
	case CallPending:
		return "pending"
	case CallActive:
		return "active"
	default:
		return "unknown"
	}
}

// CallSession pairs two users for admission control. One logical session is
// stored under both participants' keys so lookup and teardown from either
// side is O(1).
type CallSession struct {
	PartyA UserID
	PartyB UserID
	State  CallState
}

// PeerOf returns the other participant of the session.
func (s *CallSession) PeerOf(id UserID) UserID {
	if s.PartyA == id {
		return s.PartyB
	}
	return s.PartyA
}
