package protocol

import (
	"encoding/binary"
	"math"
	"strings"
	"unicode/utf8"
)

// Status is the one-byte device state bitmask carried by status reports.
// Bits 4-7 are reserved and always zero.
type Status uint8

const (
	StatusConnected Status = 1 << iota
	StatusCapturing
	StatusRecording
	StatusPreviewing
)

// Has reports whether every bit in flag is set.
func (s Status) Has(flag Status) bool { return s&flag == flag }

func (s Status) String() string {
	if s == 0 {
		return "idle"
	}
	var parts []string
	for _, f := range []struct {
		bit  Status
		name string
	}{
		{StatusConnected, "connected"},
		{StatusCapturing, "capturing"},
		{StatusRecording, "recording"},
		{StatusPreviewing, "previewing"},
	} {
		if s.Has(f.bit) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Success acknowledges cmd.
func Success(cmd Command) []byte {
	return Build(RespSuccess, []byte{byte(cmd)})
}

// Failure rejects cmd with code.
func Failure(cmd Command, code ErrorCode) []byte {
	return Build(RespFailed, []byte{byte(cmd), byte(code >> 8), byte(code)})
}

// HeartbeatAck is the fixed reply to a heartbeat.
func HeartbeatAck() []byte {
	return Success(CmdHeartbeat)
}

// ParseSuccess returns the command a success response acknowledges.
func ParseSuccess(p []byte) (Command, error) {
	if len(p) < 1 {
		return 0, DataLengthError
	}
	return Command(p[0]), nil
}

// ParseFailure splits a failure payload into the rejected command and code.
func ParseFailure(p []byte) (Command, ErrorCode, error) {
	if len(p) < 3 {
		return 0, 0, DataLengthError
	}
	return Command(p[0]), ErrorCode(binary.BigEndian.Uint16(p[1:3])), nil
}

// StatusReport encodes a status broadcast.
func StatusReport(s Status) []byte {
	return Build(ReportStatus, []byte{byte(s) & 0x0F})
}

// ParseStatus decodes a status report payload.
func ParseStatus(p []byte) (Status, error) {
	if len(p) < 1 {
		return 0, DataLengthError
	}
	return Status(p[0] & 0x0F), nil
}

// Params is the camera parameter snapshot returned by QUERY_PARAMS.
// Fractional values travel on the wire multiplied by 100.
type Params struct {
	ExposureMode uint8 // 0 auto, 1 manual
	ExposureUs   uint32
	Gain         float64
	WBMode       uint8 // 0 auto, 1 manual
	WBRed        float64
	WBGreen      float64
	WBBlue       float64
	Width        uint16
	Height       uint16
}

// ParamsSize is the encoded size of a params report payload.
const ParamsSize = 18

// DefaultParams is reported when no camera is attached.
func DefaultParams() Params {
	return Params{
		ExposureMode: 1,
		ExposureUs:   10000,
		Gain:         1.0,
		WBMode:       0,
		WBRed:        1.0,
		WBGreen:      1.0,
		WBBlue:       1.0,
		Width:        1920,
		Height:       1080,
	}
}

// MarshalBinary encodes p into its 18-byte wire form.
func (p Params) MarshalBinary() ([]byte, error) {
	b := make([]byte, ParamsSize)
	b[0] = p.ExposureMode
	binary.BigEndian.PutUint32(b[1:5], p.ExposureUs)
	binary.BigEndian.PutUint16(b[5:7], hundredths(p.Gain))
	b[7] = p.WBMode
	binary.BigEndian.PutUint16(b[8:10], hundredths(p.WBRed))
	binary.BigEndian.PutUint16(b[10:12], hundredths(p.WBGreen))
	binary.BigEndian.PutUint16(b[12:14], hundredths(p.WBBlue))
	binary.BigEndian.PutUint16(b[14:16], p.Width)
	binary.BigEndian.PutUint16(b[16:18], p.Height)
	return b, nil
}

// UnmarshalBinary decodes an 18-byte params payload.
func (p *Params) UnmarshalBinary(b []byte) error {
	if len(b) < ParamsSize {
		return DataLengthError
	}
	p.ExposureMode = b[0]
	p.ExposureUs = binary.BigEndian.Uint32(b[1:5])
	p.Gain = float64(binary.BigEndian.Uint16(b[5:7])) / 100
	p.WBMode = b[7]
	p.WBRed = float64(binary.BigEndian.Uint16(b[8:10])) / 100
	p.WBGreen = float64(binary.BigEndian.Uint16(b[10:12])) / 100
	p.WBBlue = float64(binary.BigEndian.Uint16(b[12:14])) / 100
	p.Width = binary.BigEndian.Uint16(b[14:16])
	p.Height = binary.BigEndian.Uint16(b[16:18])
	return nil
}

// ParamsReport encodes a params report.
func ParamsReport(p Params) []byte {
	b, _ := p.MarshalBinary()
	return Build(ReportParams, b)
}

// ParseParams decodes a params report payload.
func ParseParams(b []byte) (Params, error) {
	var p Params
	err := p.UnmarshalBinary(b)
	return p, err
}

// hundredths scales v by 100 and saturates to the uint16 range.
func hundredths(v float64) uint16 {
	x := math.Round(v * 100)
	switch {
	case x <= 0:
		return 0
	case x >= math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(x)
}

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// DefaultResolutions is reported when the camera cannot enumerate its own.
var DefaultResolutions = []Resolution{
	{1920, 1080},
	{1280, 720},
	{640, 480},
}

// ResolutionsReport encodes a count-prefixed list of (w, h) pairs. At most
// 255 entries are sent.
func ResolutionsReport(list []Resolution) []byte {
	if len(list) > 255 {
		list = list[:255]
	}
	b := make([]byte, 1+4*len(list))
	b[0] = byte(len(list))
	for i, r := range list {
		off := 1 + 4*i
		binary.BigEndian.PutUint16(b[off:], uint16(r.Width))
		binary.BigEndian.PutUint16(b[off+2:], uint16(r.Height))
	}
	return Build(ReportResolutions, b)
}

// ParseResolutions decodes a resolutions report payload.
func ParseResolutions(p []byte) ([]Resolution, error) {
	if len(p) < 1 {
		return nil, DataLengthError
	}
	n := int(p[0])
	if len(p) < 1+4*n {
		return nil, DataLengthError
	}
	list := make([]Resolution, n)
	for i := range list {
		off := 1 + 4*i
		list[i] = Resolution{
			Width:  int(binary.BigEndian.Uint16(p[off:])),
			Height: int(binary.BigEndian.Uint16(p[off+2:])),
		}
	}
	return list, nil
}

// GainAutoReport encodes the auto-gain state.
func GainAutoReport(enabled bool) []byte {
	return Build(ReportGainAuto, []byte{boolByte(enabled)})
}

// ParseGainAuto decodes a gain-auto report payload.
func ParseGainAuto(p []byte) (bool, error) {
	if len(p) < 1 {
		return false, DataLengthError
	}
	return p[0] == 1, nil
}

// CaptureComplete announces a stored image.
func CaptureComplete(name string) []byte {
	return Build(NotifyCaptureComplete, nameBytes(name))
}

// RecordComplete announces a finished video.
func RecordComplete(name string) []byte {
	return Build(NotifyRecordComplete, nameBytes(name))
}

// ParseName decodes the length-prefixed filename of a completion notice.
func ParseName(p []byte) (string, error) {
	if len(p) < 1 {
		return "", DataLengthError
	}
	n := int(p[0])
	if len(p) < 1+n {
		return "", DataLengthError
	}
	return string(p[1 : 1+n]), nil
}

// nameBytes truncates to 255 bytes on a rune boundary.
func nameBytes(name string) []byte {
	if len(name) > 255 {
		cut := 255
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	b := make([]byte, 1+len(name))
	b[0] = byte(len(name))
	copy(b[1:], name)
	return b
}

// PreviewFrame wraps one encoded preview image. It fails only when the
// image is too large for a single frame.
func PreviewFrame(seq uint32, jpeg []byte) ([]byte, error) {
	b := make([]byte, 8+len(jpeg))
	binary.BigEndian.PutUint32(b[0:4], seq)
	binary.BigEndian.PutUint32(b[4:8], uint32(len(jpeg)))
	copy(b[8:], jpeg)
	return Encode(Version, StreamPreviewFrame, b)
}

// ParsePreviewFrame splits a preview payload into its sequence number and
// image bytes. The returned slice aliases p.
func ParsePreviewFrame(p []byte) (uint32, []byte, error) {
	if len(p) < 8 {
		return 0, nil, DataLengthError
	}
	seq := binary.BigEndian.Uint32(p[0:4])
	n := binary.BigEndian.Uint32(p[4:8])
	if uint64(len(p)-8) < uint64(n) {
		return 0, nil, DataLengthError
	}
	return seq, p[8 : 8+n], nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
