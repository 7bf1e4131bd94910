package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/paircall/paircall/internal/client"
)

var errForeignTrack = errors.New("track was not created by this adapter")

// localTrack adapts a pion TrackLocal to the client Track capability. Once
// attached to a peer it remembers its RTPSender so enable/disable can pause
// transmission in place: ReplaceTrack(nil) stops the RTP flow without
// touching the m-line, which is exactly what "mute" means here.
type localTrack struct {
	kind client.TrackKind

	mu      sync.Mutex
	local   webrtc.TrackLocal
	sender  *webrtc.RTPSender
	enabled bool
	closed  bool
	closer  func() error
}

func newLocalTrack(kind client.TrackKind, local webrtc.TrackLocal, closer func() error) *localTrack {
	return &localTrack{kind: kind, local: local, enabled: true, closer: closer}
}

func (t *localTrack) Kind() client.TrackKind { return t.kind }

func (t *localTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *localTrack) SetEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || enabled == t.enabled {
		t.enabled = enabled && !t.closed
		return nil
	}
	if t.sender != nil {
		var err error
		if enabled {
			err = t.sender.ReplaceTrack(t.local)
		} else {
			err = t.sender.ReplaceTrack(nil)
		}
		if err != nil {
			return err
		}
	}
	t.enabled = enabled
	return nil
}

func (t *localTrack) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	closer := t.closer
	t.mu.Unlock()
	if closer != nil {
		return closer()
	}
	return nil
}

func (t *localTrack) bindSender(s *webrtc.RTPSender) {
	t.mu.Lock()
	t.sender = s
	t.mu.Unlock()
}

func (t *localTrack) takeSender() *webrtc.RTPSender {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.sender
	t.sender = nil
	return s
}

// localStream is the Stream implementation backing a call's local media.
type localStream struct {
	mu     sync.Mutex
	audio  client.Track
	video  client.Track
	closed bool
}

func (s *localStream) AudioTrack() client.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

func (s *localStream) VideoTrack() client.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

func (s *localStream) SetVideoTrack(t client.Track) {
	s.mu.Lock()
	s.video = t
	s.mu.Unlock()
}

func (s *localStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	audio, video := s.audio, s.video
	s.mu.Unlock()
	if audio != nil {
		_ = audio.Close()
	}
	if video != nil {
		_ = video.Close()
	}
	return nil
}
