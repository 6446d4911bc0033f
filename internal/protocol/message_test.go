package protocol

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"
)

func decodeOne(t *testing.T, raw []byte) Frame {
	t.Helper()
	frames := NewDecoder().Feed(raw)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	return frames[0]
}

func TestSuccessReplyBytes(t *testing.T) {
	want := []byte{0xFE, 0xFE, 0x20, 0x00, 0x00, 0x00, 0x02, 0x90, 0x10, 0xA2, 0xEF, 0xEF}
	if got := Success(CmdCaptureSingle); !bytes.Equal(got, want) {
		t.Errorf("Success(capture) = % X, want % X", got, want)
	}
}

func TestFailure(t *testing.T) {
	f := decodeOne(t, Failure(CmdSetGain, CameraNotConnected))
	if f.Command != RespFailed {
		t.Fatalf("command = %v", f.Command)
	}
	cmd, code, err := ParseFailure(f.Payload)
	if err != nil {
		t.Fatalf("ParseFailure() error = %v", err)
	}
	if cmd != CmdSetGain || code != CameraNotConnected {
		t.Errorf("ParseFailure() = (%v, %v)", cmd, code)
	}
	if _, _, err := ParseFailure([]byte{0x22, 0x01}); err != DataLengthError {
		t.Errorf("short payload err = %v", err)
	}
}

func TestHeartbeatAck(t *testing.T) {
	f := decodeOne(t, HeartbeatAck())
	cmd, err := ParseSuccess(f.Payload)
	if err != nil || cmd != CmdHeartbeat {
		t.Errorf("ParseSuccess() = (%v, %v)", cmd, err)
	}
}

func TestStatusReport(t *testing.T) {
	s := StatusConnected | StatusPreviewing
	f := decodeOne(t, StatusReport(s))
	got, err := ParseStatus(f.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if got != s || f.Payload[0] != 0x09 {
		t.Errorf("status = %v (%#x), want %v", got, f.Payload[0], s)
	}
	if !got.Has(StatusConnected) || got.Has(StatusRecording) {
		t.Errorf("Has() wrong for %v", got)
	}
	if got.String() != "connected|previewing" {
		t.Errorf("String() = %q", got.String())
	}
	if Status(0).String() != "idle" {
		t.Errorf("zero status String() = %q", Status(0).String())
	}
}

func TestParamsReport(t *testing.T) {
	f := decodeOne(t, ParamsReport(DefaultParams()))
	if len(f.Payload) != ParamsSize {
		t.Fatalf("payload = %d bytes, want %d", len(f.Payload), ParamsSize)
	}
	want := []byte{
		0x01,
		0x00, 0x00, 0x27, 0x10, // 10000 us
		0x00, 0x64, // gain 1.00
		0x00,
		0x00, 0x64, 0x00, 0x64, 0x00, 0x64,
		0x07, 0x80, 0x04, 0x38, // 1920x1080
	}
	if !bytes.Equal(f.Payload, want) {
		t.Errorf("payload = % X, want % X", f.Payload, want)
	}

	p := Params{ExposureMode: 0, ExposureUs: 123456, Gain: 12.34, WBMode: 1, WBRed: 1.5, WBGreen: 0.75, WBBlue: 2, Width: 640, Height: 480}
	got, err := ParseParams(decodeOne(t, ParamsReport(p)).Payload)
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Errorf("ParseParams() = %+v, want %+v", got, p)
	}
	if _, err := ParseParams(make([]byte, ParamsSize-1)); err != DataLengthError {
		t.Errorf("short params err = %v", err)
	}
}

func TestHundredthsSaturates(t *testing.T) {
	tests := []struct {
		in   float64
		want uint16
	}{
		{-1, 0},
		{0.004, 0},
		{655.35, 65535},
		{1e6, 65535},
	}
	for _, tc := range tests {
		if got := hundredths(tc.in); got != tc.want {
			t.Errorf("hundredths(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestResolutionsReport(t *testing.T) {
	f := decodeOne(t, ResolutionsReport(DefaultResolutions))
	if f.Payload[0] != 3 || len(f.Payload) != 13 {
		t.Fatalf("payload = % X", f.Payload)
	}
	got, err := ParseResolutions(f.Payload)
	if err != nil {
		t.Fatal(err)
	}
	for i := range got {
		if got[i] != DefaultResolutions[i] {
			t.Errorf("resolution %d = %v, want %v", i, got[i], DefaultResolutions[i])
		}
	}
	if _, err := ParseResolutions([]byte{2, 0, 1, 0, 1}); err != DataLengthError {
		t.Errorf("truncated list err = %v", err)
	}
}

func TestGainAutoReport(t *testing.T) {
	for _, v := range []bool{true, false} {
		got, err := ParseGainAuto(decodeOne(t, GainAutoReport(v)).Payload)
		if err != nil || got != v {
			t.Errorf("ParseGainAuto(%v) = (%v, %v)", v, got, err)
		}
	}
}

func TestCompletionNames(t *testing.T) {
	f := decodeOne(t, CaptureComplete("20260101_120000_001.jpg"))
	if f.Command != NotifyCaptureComplete {
		t.Fatalf("command = %v", f.Command)
	}
	name, err := ParseName(f.Payload)
	if err != nil || name != "20260101_120000_001.jpg" {
		t.Errorf("ParseName() = (%q, %v)", name, err)
	}

	long := strings.Repeat("v", 300)
	f = decodeOne(t, RecordComplete(long))
	name, err = ParseName(f.Payload)
	if err != nil || len(name) != 255 {
		t.Errorf("long name truncated to %d bytes, err %v", len(name), err)
	}

	// 254 ASCII bytes then a 3-byte rune straddling the limit.
	split := strings.Repeat("a", 254) + "\u6f22.mjpg"
	f = decodeOne(t, RecordComplete(split))
	name, err = ParseName(f.Payload)
	if err != nil || name != strings.Repeat("a", 254) || !utf8.ValidString(name) {
		t.Errorf("truncation split a rune: %d bytes, valid %v, err %v", len(name), utf8.ValidString(name), err)
	}
}

func TestPreviewFrame(t *testing.T) {
	img := []byte{0xFF, 0xD8, 0xFE, 0xFE, 0xEF, 0xEF, 0xFF, 0xD9}
	raw, err := PreviewFrame(42, img)
	if err != nil {
		t.Fatal(err)
	}
	f := decodeOne(t, raw)
	if f.Command != StreamPreviewFrame {
		t.Fatalf("command = %v", f.Command)
	}
	seq, got, err := ParsePreviewFrame(f.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 42 || !bytes.Equal(got, img) {
		t.Errorf("ParsePreviewFrame() = (%d, % X)", seq, got)
	}

	bad := append([]byte{0, 0, 0, 1, 0, 0, 0, 9}, img...)
	if _, _, err := ParsePreviewFrame(bad); err != DataLengthError {
		t.Errorf("overlong length err = %v", err)
	}
}

func TestRequestPayloads(t *testing.T) {
	exp, err := ParseExposure(ExposureRequest{Microseconds: 33000}.Payload())
	if err != nil || exp.Auto || exp.Microseconds != 33000 {
		t.Errorf("exposure = %+v, %v", exp, err)
	}
	if exp, _ := ParseExposure([]byte{0, 0, 0, 0, 0}); !exp.Auto {
		t.Error("mode 0 should mean auto exposure")
	}

	wb, err := ParseWhiteBalance(WhiteBalanceRequest{Red: 1.25, Green: 1, Blue: 0.5}.Payload())
	if err != nil || wb.Auto || wb.Red != 1.25 || wb.Blue != 0.5 {
		t.Errorf("white balance = %+v, %v", wb, err)
	}

	fr, err := ParseFrameRate(FrameRateRequest{Enabled: true, FPS: 12.5}.Payload())
	if err != nil || !fr.Enabled || fr.FPS != 12.5 {
		t.Errorf("frame rate = %+v, %v", fr, err)
	}

	rs, err := ParseRecordStart(RecordStartRequest{Duration: 60, ResIndex: 4, FPS: 15}.Payload())
	if err != nil || rs.Duration != 60 || rs.ResIndex != 4 || rs.FPS != 15 {
		t.Errorf("record start = %+v, %v", rs, err)
	}
	if rs.Length().Seconds() != 60 {
		t.Errorf("Length() = %v", rs.Length())
	}

	short := []struct {
		name  string
		parse func([]byte) error
		size  int
	}{
		{"exposure", func(p []byte) error { _, err := ParseExposure(p); return err }, ExposureSize},
		{"white_balance", func(p []byte) error { _, err := ParseWhiteBalance(p); return err }, WhiteBalanceSize},
		{"gain", func(p []byte) error { _, err := ParseGain(p); return err }, GainSize},
		{"resolution", func(p []byte) error { _, err := ParseResolution(p); return err }, ResolutionSize},
		{"gain_auto", func(p []byte) error { _, err := ParseGainAutoRequest(p); return err }, GainAutoSize},
		{"frame_rate", func(p []byte) error { _, err := ParseFrameRate(p); return err }, FrameRateSize},
		{"pixel_format", func(p []byte) error { _, err := ParsePixelFormat(p); return err }, PixelFormatSize},
		{"record_start", func(p []byte) error { _, err := ParseRecordStart(p); return err }, RecordStartSize},
		{"preview_start", func(p []byte) error { _, err := ParsePreviewStart(p); return err }, PreviewStartSize},
	}
	for _, tc := range short {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.parse(make([]byte, tc.size-1)); err != DataLengthError {
				t.Errorf("short payload err = %v", err)
			}
			if err := tc.parse(make([]byte, tc.size)); err != nil {
				t.Errorf("full payload err = %v", err)
			}
		})
	}
}

func TestMapGain(t *testing.T) {
	tests := []struct {
		v      uint16
		lo, hi float64
		want   float64
	}{
		{500, 0, 0, 5},
		{0, 0, 24, 0},
		{1000, 0, 24, 24},
		{500, 2, 12, 7},
	}
	for _, tc := range tests {
		if got := MapGain(tc.v, tc.lo, tc.hi); got != tc.want {
			t.Errorf("MapGain(%d, %v, %v) = %v, want %v", tc.v, tc.lo, tc.hi, got, tc.want)
		}
	}
}

func TestResolutionMaps(t *testing.T) {
	if r := RecordResolution(0); r != (Resolution{5472, 3648}) {
		t.Errorf("RecordResolution(0) = %v", r)
	}
	if r := RecordResolution(99); r != (Resolution{1920, 1080}) {
		t.Errorf("RecordResolution(99) = %v", r)
	}
	if r := PreviewResolution(2); r != (Resolution{640, 480}) {
		t.Errorf("PreviewResolution(2) = %v", r)
	}
	if r := PreviewResolution(7); r != (Resolution{1920, 1080}) {
		t.Errorf("PreviewResolution(7) = %v", r)
	}
	if name, ok := PixelFormatName(4); !ok || name != "Mono8" {
		t.Errorf("PixelFormatName(4) = %q, %v", name, ok)
	}
	if _, ok := PixelFormatName(5); ok {
		t.Error("PixelFormatName(5) should be unknown")
	}
	if got := ClampFPS(60, 5, 30); got != 30 {
		t.Errorf("ClampFPS(60) = %d", got)
	}
	if got := ClampFPS(0, 1, 30); got != 1 {
		t.Errorf("ClampFPS(0) = %d", got)
	}
}
