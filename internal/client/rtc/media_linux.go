//go:build linux && cgo

package rtc

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/paircall/paircall/internal/client"
)

// Devices captures camera and microphone through pion/mediadevices (V4L2 and
// malgo on Linux), encoding VP8 + opus.
type Devices struct {
	codecs *mediadevices.CodecSelector
	stun   []string
}

func NewDevices(stunServers []string) (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &Devices{
		codecs: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		stun: stunServers,
	}, nil
}

func (d *Devices) populateEngine(me *webrtc.MediaEngine) error {
	d.codecs.Populate(me)
	return nil
}

// GetUserMedia opens camera + microphone. Any failure maps to
// client.ErrMediaAccess; the state machine treats it as a denied permission.
func (d *Devices) GetUserMedia(ctx context.Context) (client.Stream, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: d.codecs,
		Video: videoConstraints,
		Audio: audioConstraints,
	})
	if err != nil {
		// Some cameras offer none of the preferred formats; retry letting the
		// driver pick before giving up.
		stream, err = mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Codec: d.codecs,
			Video: relaxedVideoConstraints,
			Audio: audioConstraints,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrMediaAccess, err)
	}

	out := &localStream{}
	for _, t := range stream.GetTracks() {
		t := t
		switch t.Kind() {
		case webrtc.RTPCodecTypeAudio:
			out.audio = newLocalTrack(client.TrackAudio, t, t.Close)
		case webrtc.RTPCodecTypeVideo:
			out.video = newLocalTrack(client.TrackVideo, t, t.Close)
		}
	}
	return out, nil
}

// NewCameraTrack re-opens just the camera, for toggling video back on.
func (d *Devices) NewCameraTrack(ctx context.Context) (client.Track, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: d.codecs,
		Video: videoConstraints,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrMediaAccess, err)
	}
	for _, t := range stream.GetTracks() {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return newLocalTrack(client.TrackVideo, t, t.Close), nil
		}
	}
	return nil, fmt.Errorf("%w: no video track in capture", client.ErrMediaAccess)
}

// NewBlankVideoTrack builds a synthetic source producing black frames so the
// remote keeps a live picture while the camera is off.
func (d *Devices) NewBlankVideoTrack() (client.Track, error) {
	src := newBlankSource(640, 480, 200*time.Millisecond)
	track := mediadevices.NewVideoTrack(src, d.codecs)
	return newLocalTrack(client.TrackVideo, track, track.Close), nil
}

func videoConstraints(c *mediadevices.MediaTrackConstraints) {
	// Raw formats only: some cameras expose an MJPEG node with malformed
	// frames that poisons the VP8 encoder.
	c.FrameFormat = prop.FrameFormatOneOf{
		frame.FormatYUYV,
		frame.FormatI420,
		frame.FormatI444,
		frame.FormatRGBA,
	}
	c.Width = prop.IntRanged{Max: 640}
	c.Height = prop.IntRanged{Max: 480}
}

func relaxedVideoConstraints(c *mediadevices.MediaTrackConstraints) {
	c.Width = prop.IntRanged{Max: 640}
	c.Height = prop.IntRanged{Max: 480}
}

func audioConstraints(c *mediadevices.MediaTrackConstraints) {
	c.SampleRate = prop.IntExact(48000)
	c.Latency = prop.DurationExact(20 * time.Millisecond)
}

// blankSource yields a fixed black frame at a slow cadence. It satisfies
// mediadevices' video source contract.
type blankSource struct {
	id       string
	frame    image.Image
	interval time.Duration

	mu     sync.Mutex
	closed chan struct{}
}

func newBlankSource(w, h int, interval time.Duration) *blankSource {
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	// Y zeroed is black; chroma planes need the neutral value.
	for i := range img.Cb {
		img.Cb[i] = 128
	}
	for i := range img.Cr {
		img.Cr[i] = 128
	}
	return &blankSource{
		id:       uuid.NewString(),
		frame:    img,
		interval: interval,
		closed:   make(chan struct{}),
	}
}

func (s *blankSource) Read() (image.Image, func(), error) {
	select {
	case <-s.closed:
		return nil, nil, io.EOF
	case <-time.After(s.interval):
	}
	return s.frame, func() {}, nil
}

func (s *blankSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

func (s *blankSource) ID() string { return s.id }
