package client

import (
	"github.com/paircall/paircall/internal/domain"
	"github.com/paircall/paircall/internal/protocol"
)

// EventKind discriminates the machine's outbound events. The UI consumes
// these from Events() instead of registering ad hoc listeners, so ordering
// and teardown are explicit.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventPresenceID
	EventOnlineUsers
	EventLocalStream
	EventRemoteTrack
	EventIncomingCall
	EventMissedCall
	EventCallRejected
	EventPeerDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventPresenceID:
		return "presence_id"
	case EventOnlineUsers:
		return "online_users"
	case EventLocalStream:
		return "local_stream"
	case EventRemoteTrack:
		return "remote_track"
	case EventIncomingCall:
		return "incoming_call"
	case EventMissedCall:
		return "missed_call"
	case EventCallRejected:
		return "call_rejected"
	case EventPeerDisconnected:
		return "peer_disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one machine-to-UI notification. Only the fields relevant to the
// Kind are populated.
type Event struct {
	Kind    EventKind
	State   State
	ConnID  domain.ConnID
	Users   []protocol.OnlineUser
	Stream  Stream
	Remote  RemoteTrack
	Party   RemoteParty
	Message string
	Err     error
}
