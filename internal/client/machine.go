package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/domain"
	"github.com/paircall/paircall/internal/protocol"
)

type State int

const (
	StateIdle State = iota
	StateDialing
	StateRinging
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	ErrNotIdle    = errors.New("already in a call")
	ErrNotRinging = errors.New("no incoming call to answer")
	ErrNoCall     = errors.New("no active call")
)

// Identity is the authenticated local user, injected by the surrounding
// session and forwarded verbatim in call requests.
type Identity struct {
	ID     domain.UserID
	Name   string
	Email  string
	Avatar string
}

// RemoteParty identifies the other side of a call.
type RemoteParty struct {
	ID     domain.UserID
	Name   string
	Email  string
	Avatar string
}

// Signaler is the outbound half of the relay connection the machine needs.
type Signaler interface {
	SendCallRequest(calleeID domain.UserID, offer json.RawMessage) error
	SendCallAnswer(to domain.UserID, answer json.RawMessage) error
	SendCallReject(to domain.UserID) error
	SendCallEnd(to domain.UserID) error
}

// Machine is the client call state machine. It owns the local media stream
// and the peer connection, transitions on local user actions and on relay
// events, and reports side effects through a typed event channel. Exactly one
// logical call at a time; entry into Dialing/Ringing is guarded on Idle.
//
// Every exit path (end, reject, peer loss, forced teardown) releases the
// media tracks and closes the peer before the state resets. This is a hard
// contract, not best effort: a dangling camera handle outlives the UI.
type Machine struct {
	identity Identity
	devices  MediaDevices
	newPeer  PeerFactory
	sig      Signaler

	mu           sync.Mutex
	state        State
	stream       Stream
	peer         PeerConnection
	remote       RemoteParty
	pendingOffer json.RawMessage
	micOn        bool
	camOn        bool
	// gen counts call attempts; goroutines and async completions tagged with
	// an older gen are stale and must not mutate the machine.
	gen uint64

	events chan Event
}

func NewMachine(identity Identity, devices MediaDevices, factory PeerFactory, sig Signaler) *Machine {
	return &Machine{
		identity: identity,
		devices:  devices,
		newPeer:  factory,
		sig:      sig,
		events:   make(chan Event, 32),
	}
}

// Events is the machine-to-UI notification channel.
func (m *Machine) Events() <-chan Event { return m.events }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remote returns the current call peer, zero when idle.
func (m *Machine) Remote() RemoteParty {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remote
}

// Dial starts an outgoing call: acquire media, build an initiator peer, and
// send the bundled offer through the relay once it is ready. On media denial
// the machine stays Idle and nothing is sent.
func (m *Machine) Dial(ctx context.Context, target RemoteParty) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrNotIdle
	}
	m.gen++
	gen := m.gen
	m.state = StateDialing
	m.remote = target
	m.mu.Unlock()
	m.emitState(StateDialing)

	stream, err := m.devices.GetUserMedia(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrMediaAccess, err)
		m.abortAttempt(gen)
		m.emit(Event{Kind: EventError, Err: err})
		return err
	}

	m.mu.Lock()
	if m.gen != gen || m.state != StateDialing {
		// Torn down while the browser/device prompt was pending.
		m.mu.Unlock()
		_ = stream.Close()
		return ErrNoCall
	}
	m.stream = stream
	m.micOn, m.camOn = true, true
	m.mu.Unlock()
	m.emit(Event{Kind: EventLocalStream, Stream: stream})

	peer, err := m.newPeer(true, stream)
	if err != nil {
		m.teardown(gen)
		m.emit(Event{Kind: EventError, Err: err})
		return err
	}

	m.mu.Lock()
	if m.gen != gen || m.state != StateDialing {
		m.mu.Unlock()
		_ = peer.Close()
		return ErrNoCall
	}
	m.peer = peer
	m.mu.Unlock()

	go m.pumpPeer(gen, peer, target.ID, true)
	return nil
}

// Accept answers the ringing incoming call. Media is only acquired now, not
// when the offer arrived.
func (m *Machine) Accept(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateRinging {
		m.mu.Unlock()
		return ErrNotRinging
	}
	gen := m.gen
	target := m.remote
	offer := m.pendingOffer
	m.mu.Unlock()

	stream, err := m.devices.GetUserMedia(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrMediaAccess, err)
		m.abortAttempt(gen)
		m.emit(Event{Kind: EventError, Err: err})
		return err
	}

	m.mu.Lock()
	if m.gen != gen || m.state != StateRinging {
		m.mu.Unlock()
		_ = stream.Close()
		return ErrNoCall
	}
	m.stream = stream
	m.micOn, m.camOn = true, true
	m.mu.Unlock()
	m.emit(Event{Kind: EventLocalStream, Stream: stream})

	peer, err := m.newPeer(false, stream)
	if err != nil {
		m.teardown(gen)
		m.emit(Event{Kind: EventError, Err: err})
		return err
	}
	if err := peer.ApplySignal(offer); err != nil {
		_ = peer.Close()
		m.teardown(gen)
		m.emit(Event{Kind: EventError, Err: err})
		return err
	}

	m.mu.Lock()
	if m.gen != gen || m.state != StateRinging {
		m.mu.Unlock()
		_ = peer.Close()
		return ErrNoCall
	}
	m.peer = peer
	m.state = StateConnected
	m.mu.Unlock()
	m.emitState(StateConnected)

	go m.pumpPeer(gen, peer, target.ID, false)
	return nil
}

// Reject declines the ringing incoming call. No media was acquired, so there
// is nothing to release.
func (m *Machine) Reject() error {
	m.mu.Lock()
	if m.state != StateRinging {
		m.mu.Unlock()
		return ErrNotRinging
	}
	remote := m.remote
	m.resetLocked()
	m.mu.Unlock()

	if err := m.sig.SendCallReject(remote.ID); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("reject send failed")
	}
	m.emitState(StateIdle)
	return nil
}

// End hangs up the current call from any non-idle state and notifies the
// peer. From Ringing it behaves as Reject.
func (m *Machine) End() error {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return ErrNoCall
	}
	wasRinging := m.state == StateRinging
	remote := m.remote
	m.resetLocked()
	m.mu.Unlock()

	var err error
	if wasRinging {
		err = m.sig.SendCallReject(remote.ID)
	} else {
		err = m.sig.SendCallEnd(remote.ID)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("end send failed")
	}
	m.emitState(StateIdle)
	return nil
}

// ToggleMic disables or re-enables the outgoing audio track in place. The
// track is never removed, so the remote keeps the audio m-line.
func (m *Machine) ToggleMic() (on bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return false, ErrNoCall
	}
	track := m.stream.AudioTrack()
	if track == nil {
		return false, ErrNoCall
	}
	if err := track.SetEnabled(!m.micOn); err != nil {
		return m.micOn, err
	}
	m.micOn = !m.micOn
	return m.micOn, nil
}

// ToggleCamera swaps the outgoing video between the real camera and a
// synthetic blank track via the peer's track replacement, so the session
// never renegotiates and the remote always has a live (if black) picture.
// Only legal while Connected.
func (m *Machine) ToggleCamera(ctx context.Context) (on bool, err error) {
	m.mu.Lock()
	if m.state != StateConnected || m.stream == nil || m.peer == nil {
		m.mu.Unlock()
		return false, ErrNoCall
	}
	gen := m.gen
	peer := m.peer
	stream := m.stream
	camOn := m.camOn
	m.mu.Unlock()

	var replacement Track
	if camOn {
		replacement, err = m.devices.NewBlankVideoTrack()
	} else {
		replacement, err = m.devices.NewCameraTrack(ctx)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrMediaAccess, err)
		}
	}
	if err != nil {
		return camOn, err
	}

	old := stream.VideoTrack()
	if err := peer.ReplaceTrack(old, replacement); err != nil {
		_ = replacement.Close()
		return camOn, err
	}
	if old != nil {
		_ = old.Close()
	}
	stream.SetVideoTrack(replacement)

	m.mu.Lock()
	if m.gen == gen {
		m.camOn = !camOn
	}
	on = m.camOn
	m.mu.Unlock()
	return on, nil
}

// Close force-releases whatever the machine holds. Used on shutdown.
func (m *Machine) Close() {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
}

// ---- relay event handlers (EventHandler) ----

func (m *Machine) HandlePresenceID(p protocol.PresenceID) {
	m.emit(Event{Kind: EventPresenceID, ConnID: p.ID})
}

func (m *Machine) HandleOnlineUsers(p protocol.OnlineUsers) {
	m.emit(Event{Kind: EventOnlineUsers, Users: p.Users})
}

// HandleIncomingCall stores the caller and the bundled offer and starts
// ringing. The relay's busy check normally keeps a second offer away while
// paired, but the machine does not trust that blindly: any offer arriving
// outside Idle is answered with an immediate reject.
func (m *Machine) HandleIncomingCall(p protocol.IncomingCall) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		log.Warn().Str("module", "client").Str("from", string(p.From)).Msg("offer while busy, rejecting")
		_ = m.sig.SendCallReject(p.From)
		return
	}
	m.gen++
	m.state = StateRinging
	m.remote = RemoteParty{ID: p.From, Name: p.Name, Email: p.Email, Avatar: p.Avatar}
	m.pendingOffer = p.Offer
	remote := m.remote
	m.mu.Unlock()

	m.emit(Event{Kind: EventIncomingCall, Party: remote})
	m.emitState(StateRinging)
}

func (m *Machine) HandleCallAnswered(p protocol.CallAnswered) {
	m.mu.Lock()
	if m.state != StateDialing || m.peer == nil || p.From != m.remote.ID {
		m.mu.Unlock()
		log.Warn().Str("module", "client").Str("from", string(p.From)).Msg("stale answer dropped")
		return
	}
	peer := m.peer
	m.state = StateConnected
	gen := m.gen
	m.mu.Unlock()

	if err := peer.ApplySignal(p.Answer); err != nil {
		m.teardown(gen)
		m.emit(Event{Kind: EventError, Err: err})
		m.emitState(StateIdle)
		return
	}
	m.emitState(StateConnected)
}

func (m *Machine) HandleCallRejected(p protocol.CallRejected) {
	m.mu.Lock()
	if m.state != StateDialing {
		m.mu.Unlock()
		return
	}
	party := RemoteParty{ID: m.remote.ID, Name: p.Name, Avatar: p.Avatar}
	m.resetLocked()
	m.mu.Unlock()

	m.emit(Event{Kind: EventCallRejected, Party: party})
	m.emitState(StateIdle)
}

func (m *Machine) HandleCallEnded(p protocol.CallEnded) {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	m.mu.Unlock()
	m.emit(Event{Kind: EventStateChanged, State: StateIdle, Message: p.Name})
}

func (m *Machine) HandleCalleeBusy(msg string) {
	m.failDial(msg)
}

func (m *Machine) HandleCalleeUnavailable(msg string) {
	m.failDial(msg)
}

// failDial aborts an outgoing attempt the relay refused (callee busy or
// offline). Stale notifications outside Dialing are ignored.
func (m *Machine) failDial(msg string) {
	m.mu.Lock()
	if m.state != StateDialing {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	m.mu.Unlock()

	m.emit(Event{Kind: EventError, Message: msg})
	m.emitState(StateIdle)
}

func (m *Machine) HandleMissedCall(p protocol.MissedCall) {
	m.emit(Event{Kind: EventMissedCall, Party: RemoteParty{ID: p.From, Name: p.Name, Email: p.Email, Avatar: p.Avatar}})
}

// HandlePeerDisconnected surfaces presence churn to the UI. Call teardown on
// peer loss rides the relay's call_ended, not this broadcast.
func (m *Machine) HandlePeerDisconnected(p protocol.PeerDisconnected) {
	m.emit(Event{Kind: EventPeerDisconnected, ConnID: p.ID})
}

// HandleDropped reacts to losing the relay connection itself: without
// signaling there is no call to keep, so release everything.
func (m *Machine) HandleDropped(err error) {
	m.mu.Lock()
	inCall := m.state != StateIdle
	m.resetLocked()
	m.mu.Unlock()
	if inCall {
		m.emitState(StateIdle)
	}
	m.emit(Event{Kind: EventError, Err: err})
}

// ---- internals ----

// pumpPeer forwards the peer's outbound signals to the relay and surfaces
// remote media. It exits when the peer closes its channels.
func (m *Machine) pumpPeer(gen uint64, peer PeerConnection, remoteID domain.UserID, initiator bool) {
	signals := peer.Signals()
	media := peer.RemoteMedia()
	for signals != nil || media != nil {
		select {
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			if m.stale(gen) {
				continue
			}
			var err error
			if initiator {
				err = m.sig.SendCallRequest(remoteID, sig)
			} else {
				err = m.sig.SendCallAnswer(remoteID, sig)
			}
			if err != nil {
				log.Error().Err(err).Str("module", "client").Msg("signal send failed")
			}
		case rt, ok := <-media:
			if !ok {
				media = nil
				continue
			}
			if m.stale(gen) {
				continue
			}
			m.emit(Event{Kind: EventRemoteTrack, Remote: rt})
		}
	}
}

func (m *Machine) stale(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen != gen
}

// abortAttempt rolls the machine back to Idle after a failed acquisition,
// provided no newer attempt superseded it meanwhile.
func (m *Machine) abortAttempt(gen uint64) {
	m.mu.Lock()
	reset := m.gen == gen
	if reset {
		m.resetLocked()
	}
	m.mu.Unlock()
	if reset {
		m.emitState(StateIdle)
	}
}

// teardown releases stream and peer for the given attempt.
func (m *Machine) teardown(gen uint64) {
	m.mu.Lock()
	if m.gen == gen {
		m.resetLocked()
	}
	m.mu.Unlock()
}

// resetLocked is the single teardown path: media first, then the peer, then
// the bookkeeping. Bumping gen orphans any in-flight goroutines.
func (m *Machine) resetLocked() {
	if m.stream != nil {
		_ = m.stream.Close()
		m.stream = nil
	}
	if m.peer != nil {
		_ = m.peer.Close()
		m.peer = nil
	}
	m.remote = RemoteParty{}
	m.pendingOffer = nil
	m.micOn, m.camOn = false, false
	m.state = StateIdle
	m.gen++
}

func (m *Machine) emitState(s State) {
	m.emit(Event{Kind: EventStateChanged, State: s})
}

func (m *Machine) emit(e Event) {
	select {
	case m.events <- e:
	default:
		log.Warn().Str("module", "client").Str("event", e.Kind.String()).Msg("event channel full, dropping")
	}
}
