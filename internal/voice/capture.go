package voice

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var ErrCaptureReleased = errors.New("capture released")

// Capture is a scoped handle on the local audio source. Acquire it when
// joining a room, Release it when leaving; every peer built while it is
// held shares its track. Nothing global survives Release.
type Capture struct {
	track *webrtc.TrackLocalStaticSample

	mu       sync.Mutex
	released bool
}

func AcquireCapture() (*Capture, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "mic-"+uuid.NewString(),
	)
	if err != nil {
		return nil, err
	}
	return &Capture{track: track}, nil
}

func (c *Capture) Track() *webrtc.TrackLocalStaticSample { return c.track }

// WriteFrame feeds one encoded opus frame to all attached peers.
func (c *Capture) WriteFrame(data []byte, dur time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return ErrCaptureReleased
	}
	return c.track.WriteSample(media.Sample{Data: data, Duration: dur})
}

func (c *Capture) Release() {
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()
}

func (c *Capture) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}
