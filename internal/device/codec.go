package device

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/avaropoint/camlink/internal/protocol"
)

// JPEGEncoder encodes frames for preview, capture and Motion-JPEG video.
type JPEGEncoder struct{}

// Encode compresses img at quality, clamped to 1..100. Failures carry
// protocol.JPEGEncodeFailed.
func (JPEGEncoder) Encode(img image.Image, quality int) ([]byte, error) {
	quality = max(1, min(quality, 100))
	b := img.Bounds()
	var buf bytes.Buffer
	buf.Grow(b.Dx() * b.Dy() / 4)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.JPEGEncodeFailed, err)
	}
	return buf.Bytes(), nil
}

// Resizer scales a source frame into a fixed-size destination buffer.
type Resizer struct {
	Scaler draw.Scaler
}

// NewResizer picks an interpolator by name: "nearest", "bilinear" or
// "catmullrom". Anything else gets draw.ApproxBiLinear.
func NewResizer(kind string) Resizer {
	switch kind {
	case "nearest":
		return Resizer{Scaler: draw.NearestNeighbor}
	case "bilinear":
		return Resizer{Scaler: draw.BiLinear}
	case "catmullrom":
		return Resizer{Scaler: draw.CatmullRom}
	default:
		return Resizer{Scaler: draw.ApproxBiLinear}
	}
}

func (r Resizer) Resize(dst *image.RGBA, src image.Image) {
	if src.Bounds().Size() == dst.Bounds().Size() {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return
	}
	s := r.Scaler
	if s == nil {
		s = draw.ApproxBiLinear
	}
	s.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
}
