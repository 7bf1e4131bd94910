package client

import (
	"context"
	"errors"
)

// ErrMediaAccess wraps any camera/microphone acquisition failure: permission
// refused, device missing, hardware busy.
var ErrMediaAccess = errors.New("media access denied")

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Track is one OS-level media capture resource. Close releases the device;
// SetEnabled pauses/resumes transmission without releasing it.
type Track interface {
	Kind() TrackKind
	SetEnabled(enabled bool) error
	Enabled() bool
	Close() error
}

// Stream bundles the local audio and video tracks of a call.
type Stream interface {
	AudioTrack() Track
	VideoTrack() Track
	// SetVideoTrack swaps the video slot after a ReplaceTrack on the peer.
	// The caller owns closing the previous track.
	SetVideoTrack(t Track)
	// Close releases every track. Idempotent.
	Close() error
}

// MediaDevices acquires capture resources. Implementations: pion/mediadevices
// on Linux, fakes in tests.
type MediaDevices interface {
	// GetUserMedia opens camera plus microphone, echo cancellation and noise
	// suppression enabled on the audio side.
	GetUserMedia(ctx context.Context) (Stream, error)
	// NewCameraTrack re-opens just the camera, used when toggling it back on.
	NewCameraTrack(ctx context.Context) (Track, error)
	// NewBlankVideoTrack returns a synthetic track producing black frames, so
	// the remote side keeps a live video stream while the camera is off.
	NewBlankVideoTrack() (Track, error)
}
