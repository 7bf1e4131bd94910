//go:build !(linux && cgo)

package rtc

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/paircall/paircall/internal/client"
)

// Devices on non-Linux platforms has no capture drivers wired; hardware
// capture needs the V4L2/malgo pair that only the Linux build links. Calls
// still negotiate receive-only.
type Devices struct {
	stun []string
}

func NewDevices(stunServers []string) (*Devices, error) {
	return &Devices{stun: stunServers}, nil
}

func (d *Devices) populateEngine(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (d *Devices) GetUserMedia(ctx context.Context) (client.Stream, error) {
	return nil, fmt.Errorf("%w: no capture drivers on this platform", client.ErrMediaAccess)
}

func (d *Devices) NewCameraTrack(ctx context.Context) (client.Track, error) {
	return nil, fmt.Errorf("%w: no capture drivers on this platform", client.ErrMediaAccess)
}

func (d *Devices) NewBlankVideoTrack() (client.Track, error) {
	return nil, fmt.Errorf("%w: no capture drivers on this platform", client.ErrMediaAccess)
}
