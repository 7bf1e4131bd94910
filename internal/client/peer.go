package client

import "encoding/json"

// RemoteTrack is an inbound media track from the other party. The concrete
// handle stays inside the rtc adapter; consumers only identify and label it.
type RemoteTrack interface {
	Kind() TrackKind
	ID() string
}

// PeerConnection is the opaque negotiated-transport capability. Outbound
// negotiation data and remote media arrive on channels so the state machine
// can select on them; both channels close when the connection does.
type PeerConnection interface {
	// Signals yields bundled negotiation payloads to relay to the other
	// party. With non-trickle gathering there is exactly one per side.
	Signals() <-chan json.RawMessage
	// RemoteMedia yields tracks as the remote stream arrives.
	RemoteMedia() <-chan RemoteTrack
	// ApplySignal feeds the other party's negotiation payload in.
	ApplySignal(data json.RawMessage) error
	// ReplaceTrack swaps an outgoing track without renegotiating.
	ReplaceTrack(old, new Track) error
	Close() error
}

// PeerFactory builds a connection around the local stream. The initiator
// side produces the offer, the other side answers.
type PeerFactory func(initiator bool, stream Stream) (PeerConnection, error)
