// Package device holds the collaborators the server drives: the camera, the
// JPEG encoder, the resizer and the media storage. The camera shipped here
// is a simulator that renders a test pattern; a hardware binding would
// implement the same Camera interface.
package device

import (
	"context"
	"image"
	"time"

	"github.com/avaropoint/camlink/internal/protocol"
)

// Camera is an image source with adjustable acquisition parameters.
// Setters return a protocol.ErrorCode (possibly wrapped) on failure.
type Camera interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool

	Grab(ctx context.Context, timeout time.Duration) (image.Image, error)
	StartContinuous() error
	StopContinuous() error

	SetExposure(auto bool, microseconds float64) error
	SetWhiteBalance(auto bool, red, green, blue float64) error
	SetGain(gain float64) error
	SetGainAuto(enabled bool) error
	SetResolution(width, height int) error
	SetFrameRate(enabled bool, fps float64) error
	SetPixelFormat(name string) error

	// Parameters reports false when the camera is not connected.
	Parameters() (protocol.Params, bool)
	// GainRange reports (0, 0) when the range is unknown.
	GainRange() (lo, hi float64)
	GainAuto() bool
	SupportedResolutions() []protocol.Resolution
}

// commonResolutions are offered when the sensor is large enough for them.
var commonResolutions = []protocol.Resolution{
	{Width: 5472, Height: 3648},
	{Width: 4096, Height: 2160},
	{Width: 3840, Height: 2160},
	{Width: 2736, Height: 1824},
	{Width: 1920, Height: 1080},
	{Width: 1280, Height: 720},
	{Width: 640, Height: 480},
}

// resolutionsFor lists the common resolutions that fit a sensor, with the
// full sensor size first when it is not one of them.
func resolutionsFor(maxW, maxH int) []protocol.Resolution {
	out := make([]protocol.Resolution, 0, len(commonResolutions)+1)
	full := false
	for _, r := range commonResolutions {
		if r.Width <= maxW && r.Height <= maxH {
			out = append(out, r)
			if r.Width == maxW && r.Height == maxH {
				full = true
			}
		}
	}
	if !full {
		out = append([]protocol.Resolution{{Width: maxW, Height: maxH}}, out...)
	}
	return out
}
