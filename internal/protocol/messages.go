// Package protocol defines the JSON signaling messages exchanged between the
// relay and its clients. Every frame is an object carrying a "type" field;
// the remaining fields depend on the type. Offer/answer payloads are opaque
// to the server and forwarded verbatim.
package protocol

import (
	"encoding/json"

	"github.com/paircall/paircall/internal/domain"
)

// Client to server.
const (
	TypeJoin        = "join"
	TypeCallRequest = "call_request"
	TypeCallAnswer  = "call_answer"
	TypeCallReject  = "call_reject"
	TypeCallEnd     = "call_end"
	TypePing        = "ping"
)

// Server to client.
const (
	TypePresenceID        = "presence_id"
	TypeOnlineUsers       = "online_users"
	TypeIncomingCall      = "incoming_call"
	TypeCalleeUnavailable = "callee_unavailable"
	TypeCalleeBusy        = "callee_busy"
	TypeMissedCall        = "missed_call"
	TypeCallAnswered      = "call_answered"
	TypeCallRejected      = "call_rejected"
	TypeCallEnded         = "call_ended"
	TypePeerDisconnected  = "peer_disconnected"
	TypePong              = "pong"
	TypeError             = "error"
)

// Kind peeks at the "type" field of a raw frame without decoding the rest.
func Kind(data []byte) (string, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

type Join struct {
	Type string        `json:"type"`
	ID   domain.UserID `json:"id"`
	Name string        `json:"name"`
}

type PresenceID struct {
	Type string        `json:"type"`
	ID   domain.ConnID `json:"id"`
}

type OnlineUser struct {
	ID   domain.UserID `json:"id"`
	Name string        `json:"name"`
}

type OnlineUsers struct {
	Type  string       `json:"type"`
	Users []OnlineUser `json:"users"`
}

// CallRequest carries the caller's bundled WebRTC offer plus enough identity
// for the callee to render the incoming-call prompt.
type CallRequest struct {
	Type     string          `json:"type"`
	CalleeID domain.UserID   `json:"callee_id"`
	Offer    json.RawMessage `json:"offer"`
	From     domain.UserID   `json:"from"`
	Name     string          `json:"name"`
	Email    string          `json:"email,omitempty"`
	Avatar   string          `json:"avatar,omitempty"`
}

type IncomingCall struct {
	Type   string          `json:"type"`
	Offer  json.RawMessage `json:"offer"`
	From   domain.UserID   `json:"from"`
	Name   string          `json:"name"`
	Email  string          `json:"email,omitempty"`
	Avatar string          `json:"avatar,omitempty"`
}

type CalleeUnavailable struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type CalleeBusy struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MissedCall tells a busy callee that somebody tried to reach them.
type MissedCall struct {
	Type   string        `json:"type"`
	From   domain.UserID `json:"from"`
	Name   string        `json:"name"`
	Email  string        `json:"email,omitempty"`
	Avatar string        `json:"avatar,omitempty"`
}

type CallAnswer struct {
	Type   string          `json:"type"`
	Answer json.RawMessage `json:"answer"`
	From   domain.UserID   `json:"from"`
	To     domain.UserID   `json:"to"`
}

type CallAnswered struct {
	Type   string          `json:"type"`
	Answer json.RawMessage `json:"answer"`
	From   domain.UserID   `json:"from"`
}

type CallReject struct {
	Type   string        `json:"type"`
	To     domain.UserID `json:"to"`
	Name   string        `json:"name"`
	Avatar string        `json:"avatar,omitempty"`
}

type CallRejected struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type CallEnd struct {
	Type string        `json:"type"`
	To   domain.UserID `json:"to"`
	Name string        `json:"name"`
}

type CallEnded struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type PeerDisconnected struct {
	Type string        `json:"type"`
	ID   domain.ConnID `json:"id"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
