package protocol

import (
	"encoding/binary"
	"math"
	"time"
)

// Request payload sizes. A payload shorter than its size is rejected with
// DataLengthError; trailing bytes are ignored.
const (
	ExposureSize     = 5
	WhiteBalanceSize = 7
	GainSize         = 2
	ResolutionSize   = 4
	GainAutoSize     = 1
	FrameRateSize    = 5
	PixelFormatSize  = 1
	RecordStartSize  = 6
	PreviewStartSize = 2
)

// GainScale is the top of the wire gain range. The server maps 0..GainScale
// onto the camera's own range.
const GainScale = 1000

// ExposureRequest is the SET_EXPOSURE payload: [mode:1][us:4].
type ExposureRequest struct {
	Auto         bool
	Microseconds uint32
}

func (r ExposureRequest) Payload() []byte {
	b := make([]byte, ExposureSize)
	b[0] = boolByte(!r.Auto)
	binary.BigEndian.PutUint32(b[1:], r.Microseconds)
	return b
}

func ParseExposure(p []byte) (ExposureRequest, error) {
	if len(p) < ExposureSize {
		return ExposureRequest{}, DataLengthError
	}
	return ExposureRequest{Auto: p[0] == 0, Microseconds: binary.BigEndian.Uint32(p[1:5])}, nil
}

// WhiteBalanceRequest is the SET_WHITE_BALANCE payload:
// [mode:1][r×100:2][g×100:2][b×100:2].
type WhiteBalanceRequest struct {
	Auto             bool
	Red, Green, Blue float64
}

func (r WhiteBalanceRequest) Payload() []byte {
	b := make([]byte, WhiteBalanceSize)
	b[0] = boolByte(!r.Auto)
	binary.BigEndian.PutUint16(b[1:], hundredths(r.Red))
	binary.BigEndian.PutUint16(b[3:], hundredths(r.Green))
	binary.BigEndian.PutUint16(b[5:], hundredths(r.Blue))
	return b
}

func ParseWhiteBalance(p []byte) (WhiteBalanceRequest, error) {
	if len(p) < WhiteBalanceSize {
		return WhiteBalanceRequest{}, DataLengthError
	}
	return WhiteBalanceRequest{
		Auto:  p[0] == 0,
		Red:   float64(binary.BigEndian.Uint16(p[1:3])) / 100,
		Green: float64(binary.BigEndian.Uint16(p[3:5])) / 100,
		Blue:  float64(binary.BigEndian.Uint16(p[5:7])) / 100,
	}, nil
}

// GainRequest is the SET_GAIN payload: a 0..GainScale value.
type GainRequest struct {
	Value uint16
}

func (r GainRequest) Payload() []byte {
	return binary.BigEndian.AppendUint16(nil, r.Value)
}

func ParseGain(p []byte) (GainRequest, error) {
	if len(p) < GainSize {
		return GainRequest{}, DataLengthError
	}
	return GainRequest{Value: binary.BigEndian.Uint16(p)}, nil
}

// MapGain converts a wire gain value onto [lo, hi]. When the range is
// unknown (both zero) the value is simply divided by 100.
func MapGain(v uint16, lo, hi float64) float64 {
	if lo == 0 && hi == 0 {
		return float64(v) / 100
	}
	return lo + float64(v)/GainScale*(hi-lo)
}

// ResolutionRequest is the SET_RESOLUTION payload: [w:2][h:2].
type ResolutionRequest struct {
	Width, Height uint16
}

func (r ResolutionRequest) Payload() []byte {
	b := binary.BigEndian.AppendUint16(nil, r.Width)
	return binary.BigEndian.AppendUint16(b, r.Height)
}

func ParseResolution(p []byte) (ResolutionRequest, error) {
	if len(p) < ResolutionSize {
		return ResolutionRequest{}, DataLengthError
	}
	return ResolutionRequest{
		Width:  binary.BigEndian.Uint16(p[0:2]),
		Height: binary.BigEndian.Uint16(p[2:4]),
	}, nil
}

// GainAutoRequest is the SET_GAIN_AUTO payload.
type GainAutoRequest struct {
	Enabled bool
}

func (r GainAutoRequest) Payload() []byte { return []byte{boolByte(r.Enabled)} }

func ParseGainAutoRequest(p []byte) (GainAutoRequest, error) {
	if len(p) < GainAutoSize {
		return GainAutoRequest{}, DataLengthError
	}
	return GainAutoRequest{Enabled: p[0] == 1}, nil
}

// FrameRateRequest is the SET_FRAME_RATE payload: [enable:1][fps×100:4].
type FrameRateRequest struct {
	Enabled bool
	FPS     float64
}

func (r FrameRateRequest) Payload() []byte {
	b := make([]byte, FrameRateSize)
	b[0] = boolByte(r.Enabled)
	v := math.Round(r.FPS * 100)
	if v < 0 {
		v = 0
	}
	binary.BigEndian.PutUint32(b[1:], uint32(math.Min(v, math.MaxUint32)))
	return b
}

func ParseFrameRate(p []byte) (FrameRateRequest, error) {
	if len(p) < FrameRateSize {
		return FrameRateRequest{}, DataLengthError
	}
	return FrameRateRequest{
		Enabled: p[0] == 1,
		FPS:     float64(binary.BigEndian.Uint32(p[1:5])) / 100,
	}, nil
}

// PixelFormatRequest is the SET_PIXEL_FORMAT payload: a format index.
type PixelFormatRequest struct {
	Index uint8
}

func (r PixelFormatRequest) Payload() []byte { return []byte{r.Index} }

func ParsePixelFormat(p []byte) (PixelFormatRequest, error) {
	if len(p) < PixelFormatSize {
		return PixelFormatRequest{}, DataLengthError
	}
	return PixelFormatRequest{Index: p[0]}, nil
}

var pixelFormats = []string{"BayerRG8", "BayerRG12", "BGR8", "RGB8", "Mono8"}

// PixelFormatName maps a wire index to the camera's format name.
func PixelFormatName(idx uint8) (string, bool) {
	if int(idx) >= len(pixelFormats) {
		return "", false
	}
	return pixelFormats[idx], true
}

// RecordStartRequest is the RECORD_START payload:
// [duration seconds:4][resolution index:1][fps:1]. A zero duration records
// until stopped.
type RecordStartRequest struct {
	Duration uint32
	ResIndex uint8
	FPS      uint8
}

func (r RecordStartRequest) Payload() []byte {
	b := binary.BigEndian.AppendUint32(nil, r.Duration)
	return append(b, r.ResIndex, r.FPS)
}

func ParseRecordStart(p []byte) (RecordStartRequest, error) {
	if len(p) < RecordStartSize {
		return RecordStartRequest{}, DataLengthError
	}
	return RecordStartRequest{
		Duration: binary.BigEndian.Uint32(p[0:4]),
		ResIndex: p[4],
		FPS:      p[5],
	}, nil
}

// Length returns the requested duration, zero meaning unbounded.
func (r RecordStartRequest) Length() time.Duration {
	return time.Duration(r.Duration) * time.Second
}

// PreviewStartRequest is the PREVIEW_START payload: [resolution index:1][fps:1].
type PreviewStartRequest struct {
	ResIndex uint8
	FPS      uint8
}

func (r PreviewStartRequest) Payload() []byte { return []byte{r.ResIndex, r.FPS} }

func ParsePreviewStart(p []byte) (PreviewStartRequest, error) {
	if len(p) < PreviewStartSize {
		return PreviewStartRequest{}, DataLengthError
	}
	return PreviewStartRequest{ResIndex: p[0], FPS: p[1]}, nil
}

var recordResolutions = []Resolution{
	{5472, 3648},
	{4096, 2160},
	{3840, 2160},
	{2736, 1824},
	{1920, 1080},
	{1280, 720},
	{640, 480},
}

// RecordResolution maps a record resolution index. Unknown indexes fall
// back to 1920x1080.
func RecordResolution(idx uint8) Resolution {
	if int(idx) < len(recordResolutions) {
		return recordResolutions[idx]
	}
	return Resolution{1920, 1080}
}

// PreviewResolution maps a preview resolution index. Unknown indexes fall
// back to index 0.
func PreviewResolution(idx uint8) Resolution {
	if int(idx) < len(DefaultResolutions) {
		return DefaultResolutions[idx]
	}
	return DefaultResolutions[0]
}

// ClampFPS bounds fps to [lo, hi].
func ClampFPS(fps, lo, hi int) int {
	return max(lo, min(fps, hi))
}
