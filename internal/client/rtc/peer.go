package rtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/client"
)

// DefaultSTUNServers is used when config supplies none.
var DefaultSTUNServers = []string{"stun:stun.l.google.com:19302"}

// Peer is the pion-backed PeerConnection capability. Negotiation is
// non-trickle: ICE gathering completes first, then a single bundled session
// description goes out as the one signal for that side, mirroring how the
// browser client negotiates.
type Peer struct {
	pc        *webrtc.PeerConnection
	initiator bool

	mu      sync.Mutex
	closed  bool
	signals chan json.RawMessage
	remote  chan client.RemoteTrack
}

// NewPeer builds a connection around the local stream. It is the
// client.PeerFactory for this adapter.
func (d *Devices) NewPeer(initiator bool, stream client.Stream) (client.PeerConnection, error) {
	me := &webrtc.MediaEngine{}
	if err := d.populateEngine(me); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
	)

	urls := d.stun
	if len(urls) == 0 {
		urls = DefaultSTUNServers
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	})
	if err != nil {
		return nil, err
	}

	p := &Peer{
		pc:        pc,
		initiator: initiator,
		signals:   make(chan json.RawMessage, 4),
		remote:    make(chan client.RemoteTrack, 8),
	}

	if err := p.attach(stream); err != nil {
		_ = pc.Close()
		return nil, err
	}

	pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "client.rtc").Str("kind", tr.Kind().String()).Str("track_id", tr.ID()).Msg("remote track")
		p.emitRemote(remoteTrack{tr: tr})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "client.rtc").Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			_ = p.Close()
		}
	})

	if initiator {
		go p.negotiateOffer()
	}
	return p, nil
}

func (p *Peer) Signals() <-chan json.RawMessage        { return p.signals }
func (p *Peer) RemoteMedia() <-chan client.RemoteTrack { return p.remote }

// ApplySignal feeds in the other side's bundled description: the answer for
// an initiator, the offer for the answering side (which then produces its
// own answer signal).
func (p *Peer) ApplySignal(data json.RawMessage) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("decode session description: %w", err)
	}
	if err := p.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	if !p.initiator {
		go p.negotiateAnswer()
	}
	return nil
}

// ReplaceTrack swaps the outgoing track on the sender that carried old. No
// renegotiation happens; the remote keeps the same m-line.
func (p *Peer) ReplaceTrack(oldTrack, newTrack client.Track) error {
	ot, ok := oldTrack.(*localTrack)
	if !ok {
		return errForeignTrack
	}
	nt, ok := newTrack.(*localTrack)
	if !ok {
		return errForeignTrack
	}
	sender := ot.takeSender()
	if sender == nil {
		return fmt.Errorf("track has no sender to replace on")
	}
	if err := sender.ReplaceTrack(nt.local); err != nil {
		ot.bindSender(sender)
		return err
	}
	nt.bindSender(sender)
	return nil
}

func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.signals)
	close(p.remote)
	p.mu.Unlock()
	return p.pc.Close()
}

func (p *Peer) attach(stream client.Stream) error {
	var tracks []client.Track
	if stream != nil {
		if a := stream.AudioTrack(); a != nil {
			tracks = append(tracks, a)
		}
		if v := stream.VideoTrack(); v != nil {
			tracks = append(tracks, v)
		}
	}
	if len(tracks) == 0 {
		// Receive-only: keep valid m-lines so the SDP still negotiates.
		if _, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
		if _, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
		return nil
	}
	for _, t := range tracks {
		lt, ok := t.(*localTrack)
		if !ok {
			return errForeignTrack
		}
		sender, err := p.pc.AddTrack(lt.local)
		if err != nil {
			return err
		}
		lt.bindSender(sender)
	}
	return nil
}

func (p *Peer) negotiateOffer() {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		log.Error().Err(err).Str("module", "client.rtc").Msg("create offer")
		return
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "client.rtc").Msg("set local offer")
		return
	}
	<-gathered
	p.emitSignal()
}

func (p *Peer) negotiateAnswer() {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		log.Error().Err(err).Str("module", "client.rtc").Msg("create answer")
		return
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "client.rtc").Msg("set local answer")
		return
	}
	<-gathered
	p.emitSignal()
}

func (p *Peer) emitSignal() {
	b, err := json.Marshal(p.pc.LocalDescription())
	if err != nil {
		log.Error().Err(err).Str("module", "client.rtc").Msg("marshal local description")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.signals <- b:
	default:
		log.Warn().Str("module", "client.rtc").Msg("signal channel full, dropping")
	}
}

func (p *Peer) emitRemote(rt client.RemoteTrack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.remote <- rt:
	default:
		log.Warn().Str("module", "client.rtc").Msg("remote track channel full, dropping")
	}
}

// remoteTrack labels an inbound pion track for consumers.
type remoteTrack struct {
	tr *webrtc.TrackRemote
}

func (r remoteTrack) Kind() client.TrackKind {
	if r.tr.Kind() == webrtc.RTPCodecTypeAudio {
		return client.TrackAudio
	}
	return client.TrackVideo
}

func (r remoteTrack) ID() string { return r.tr.ID() }

// Track exposes the underlying pion handle for renderers that read RTP.
func (r remoteTrack) Track() *webrtc.TrackRemote { return r.tr }
