package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/domain"
	"github.com/paircall/paircall/internal/protocol"
)

func (ctl *Controller) handleJoin(connID domain.ConnID, c *wsConn, data []byte) {
	var p protocol.Join
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "bad_payload"})
		return
	}
	if p.ID == "" || len(p.ID) > domain.MaxUserIDLen {
		log.Warn().Str("module", "signal").Str("conn", string(connID)).Msg("join with invalid user id")
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "invalid_user"})
		return
	}
	ctl.Relay.Join(p.ID, p.Name, connID, c)
}

func (ctl *Controller) handleCallRequest(connID domain.ConnID, c *wsConn, data []byte) {
	var p protocol.CallRequest
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad call_request payload")
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "bad_payload"})
		return
	}
	if p.CalleeID == "" || len(p.Offer) == 0 {
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "bad_payload"})
		return
	}
	if !ctl.Limiter.Allow(p.From) {
		log.Warn().Str("module", "signal").Str("from", string(p.From)).Msg("call rate limited")
		ctl.sendJSON(c, protocol.Error{Type: protocol.TypeError, Error: "too_many_call_attempts"})
		return
	}
	ctl.Relay.RequestCall(p, c)
}

func (ctl *Controller) handleCallAnswer(connID domain.ConnID, c *wsConn, data []byte) {
	var p protocol.CallAnswer
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad call_answer payload")
		return
	}
	ctl.Relay.AcceptCall(p)
}

func (ctl *Controller) handleCallReject(connID domain.ConnID, c *wsConn, data []byte) {
	var p protocol.CallReject
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad call_reject payload")
		return
	}
	calleeID, ok := ctl.Relay.Presence.UserOfConn(connID)
	if !ok {
		// Rejecting before join makes no sense; drop it.
		return
	}
	ctl.Relay.RejectCall(calleeID, p)
}

func (ctl *Controller) handleCallEnd(connID domain.ConnID, c *wsConn, data []byte) {
	var p protocol.CallEnd
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad call_end payload")
		return
	}
	requesterID, ok := ctl.Relay.Presence.UserOfConn(connID)
	if !ok {
		return
	}
	ctl.Relay.EndCall(requesterID, p)
}

func (ctl *Controller) handlePing(c *wsConn) {
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{Type: protocol.TypePong})
}
