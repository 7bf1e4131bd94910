package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/domain"
	"github.com/paircall/paircall/internal/protocol"
)

// EventHandler receives decoded relay events. The Machine implements it.
type EventHandler interface {
	HandlePresenceID(protocol.PresenceID)
	HandleOnlineUsers(protocol.OnlineUsers)
	HandleIncomingCall(protocol.IncomingCall)
	HandleMissedCall(protocol.MissedCall)
	HandleCallAnswered(protocol.CallAnswered)
	HandleCallRejected(protocol.CallRejected)
	HandleCallEnded(protocol.CallEnded)
	HandleCalleeBusy(message string)
	HandleCalleeUnavailable(message string)
	HandlePeerDisconnected(protocol.PeerDisconnected)
	HandleDropped(err error)
}

const connWriteWait = 5 * time.Second

// Conn is the explicitly owned relay connection: constructed once, bound to
// a handler, passed into the call state machine. No lazy module-level socket.
type Conn struct {
	ws       *websocket.Conn
	identity Identity

	mu      sync.Mutex
	handler EventHandler
	closed  bool

	send chan []byte
	done chan struct{}
}

// DialRelay opens the websocket to the relay's signaling endpoint.
func DialRelay(ctx context.Context, url string, identity Identity) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{
		ws:       ws,
		identity: identity,
		send:     make(chan []byte, 32),
		done:     make(chan struct{}),
	}, nil
}

// Bind attaches the event handler. Must be called before Run.
func (c *Conn) Bind(h EventHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Run starts the read and write loops. It returns immediately; loss of the
// connection is reported through the handler's HandleDropped.
func (c *Conn) Run(ctx context.Context) {
	go c.writeLoop(ctx)
	go c.readLoop()
}

// Join announces the local identity to the relay.
func (c *Conn) Join() error {
	return c.enqueue(protocol.Join{Type: protocol.TypeJoin, ID: c.identity.ID, Name: c.identity.Name})
}

func (c *Conn) SendCallRequest(calleeID domain.UserID, offer json.RawMessage) error {
	return c.enqueue(protocol.CallRequest{
		Type:     protocol.TypeCallRequest,
		CalleeID: calleeID,
		Offer:    offer,
		From:     c.identity.ID,
		Name:     c.identity.Name,
		Email:    c.identity.Email,
		Avatar:   c.identity.Avatar,
	})
}

func (c *Conn) SendCallAnswer(to domain.UserID, answer json.RawMessage) error {
	return c.enqueue(protocol.CallAnswer{
		Type:   protocol.TypeCallAnswer,
		Answer: answer,
		From:   c.identity.ID,
		To:     to,
	})
}

func (c *Conn) SendCallReject(to domain.UserID) error {
	return c.enqueue(protocol.CallReject{
		Type:   protocol.TypeCallReject,
		To:     to,
		Name:   c.identity.Name,
		Avatar: c.identity.Avatar,
	})
}

func (c *Conn) SendCallEnd(to domain.UserID) error {
	return c.enqueue(protocol.CallEnd{
		Type: protocol.TypeCallEnd,
		To:   to,
		Name: c.identity.Name,
	})
}

func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	return c.ws.Close()
}

func (c *Conn) enqueue(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	}
}

func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = c.Close()
			return
		case <-c.done:
			return
		case b := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(connWriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Error().Err(err).Str("module", "client.conn").Msg("write error")
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	defer func() {
		_ = c.Close()
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if h := c.boundHandler(); h != nil {
				h.HandleDropped(err)
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Conn) boundHandler() EventHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

func (c *Conn) dispatch(data []byte) {
	h := c.boundHandler()
	if h == nil {
		return
	}
	kind, err := protocol.Kind(data)
	if err != nil {
		log.Error().Err(err).Str("module", "client.conn").Msg("bad frame")
		return
	}
	switch kind {
	case protocol.TypePresenceID:
		var p protocol.PresenceID
		if json.Unmarshal(data, &p) == nil {
			h.HandlePresenceID(p)
		}
	case protocol.TypeOnlineUsers:
		var p protocol.OnlineUsers
		if json.Unmarshal(data, &p) == nil {
			h.HandleOnlineUsers(p)
		}
	case protocol.TypeIncomingCall:
		var p protocol.IncomingCall
		if json.Unmarshal(data, &p) == nil {
			h.HandleIncomingCall(p)
		}
	case protocol.TypeMissedCall:
		var p protocol.MissedCall
		if json.Unmarshal(data, &p) == nil {
			h.HandleMissedCall(p)
		}
	case protocol.TypeCallAnswered:
		var p protocol.CallAnswered
		if json.Unmarshal(data, &p) == nil {
			h.HandleCallAnswered(p)
		}
	case protocol.TypeCallRejected:
		var p protocol.CallRejected
		if json.Unmarshal(data, &p) == nil {
			h.HandleCallRejected(p)
		}
	case protocol.TypeCallEnded:
		var p protocol.CallEnded
		if json.Unmarshal(data, &p) == nil {
			h.HandleCallEnded(p)
		}
	case protocol.TypeCalleeBusy:
		var p protocol.CalleeBusy
		if json.Unmarshal(data, &p) == nil {
			h.HandleCalleeBusy(p.Message)
		}
	case protocol.TypeCalleeUnavailable:
		var p protocol.CalleeUnavailable
		if json.Unmarshal(data, &p) == nil {
			h.HandleCalleeUnavailable(p.Message)
		}
	case protocol.TypePeerDisconnected:
		var p protocol.PeerDisconnected
		if json.Unmarshal(data, &p) == nil {
			h.HandlePeerDisconnected(p)
		}
	case protocol.TypePong, protocol.TypeError:
		// Pong needs no action; relay errors are already logged server-side.
	default:
		log.Warn().Str("module", "client.conn").Str("type", kind).Msg("unknown frame")
	}
}
