package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode is the 16-bit code carried by a failure response. The high
// byte is the category. ErrorCode implements error so device and storage
// collaborators can return codes directly and wrap them with context.
type ErrorCode uint16

// Device errors.
const (
	CameraNotConnected   ErrorCode = 0x0101
	CameraInitFailed     ErrorCode = 0x0102
	CameraGrabTimeout    ErrorCode = 0x0103
	CameraParamFailed    ErrorCode = 0x0104
	CameraDisconnected   ErrorCode = 0x0105
	CameraUnsupportedRes ErrorCode = 0x0106
)

// Storage errors.
const (
	DiskSpaceLow          ErrorCode = 0x0201
	WritePermissionDenied ErrorCode = 0x0202
	FileCreateFailed      ErrorCode = 0x0203
)

// State conflicts.
const (
	StateRecording        ErrorCode = 0x0301
	StateCapturing        ErrorCode = 0x0302
	PreviewNotStarted     ErrorCode = 0x0303
	PreviewAlreadyStarted ErrorCode = 0x0304
)

// Protocol errors.
const (
	XORCheckFailed          ErrorCode = 0x0401
	FrameFormatError        ErrorCode = 0x0402
	UnknownCommand          ErrorCode = 0x0403
	DataLengthError         ErrorCode = 0x0404
	ProtocolVersionMismatch ErrorCode = 0x0405
)

// Encoding errors.
const (
	JPEGEncodeFailed      ErrorCode = 0x0501
	H264EncodeFailed      ErrorCode = 0x0502
	VideoWriterInitFailed ErrorCode = 0x0503
)

// UnknownError is the catch-all code. It is also what a non-controller
// receives for any command other than a heartbeat.
const UnknownError ErrorCode = 0xFFFF

// Category groups codes by their high byte.
type Category uint8

const (
	CategoryDevice   Category = 0x01
	CategoryStorage  Category = 0x02
	CategoryState    Category = 0x03
	CategoryProtocol Category = 0x04
	CategoryEncoding Category = 0x05
	CategoryUnknown  Category = 0xFF
)

var categoryNames = map[Category]string{
	CategoryDevice:   "device",
	CategoryStorage:  "storage",
	CategoryState:    "state",
	CategoryProtocol: "protocol",
	CategoryEncoding: "encoding",
	CategoryUnknown:  "unknown",
}

func (c Category) String() string {
	if n, ok := categoryNames[c]; ok {
		return n
	}
	return "unknown"
}

var descriptions = map[ErrorCode]string{
	CameraNotConnected:      "camera not connected",
	CameraInitFailed:        "camera initialisation failed",
	CameraGrabTimeout:       "image grab timed out",
	CameraParamFailed:       "parameter rejected by camera",
	CameraDisconnected:      "camera disconnected",
	CameraUnsupportedRes:    "unsupported resolution",
	DiskSpaceLow:            "disk space low",
	WritePermissionDenied:   "write permission denied",
	FileCreateFailed:        "file create failed",
	StateRecording:          "recording in progress",
	StateCapturing:          "capture in progress",
	PreviewNotStarted:       "preview not started",
	PreviewAlreadyStarted:   "preview already started",
	XORCheckFailed:          "xor checksum mismatch",
	FrameFormatError:        "malformed frame",
	UnknownCommand:          "unknown command",
	DataLengthError:         "data length mismatch",
	ProtocolVersionMismatch: "protocol version mismatch",
	JPEGEncodeFailed:        "jpeg encode failed",
	H264EncodeFailed:        "h264 encode failed",
	VideoWriterInitFailed:   "video writer init failed",
	UnknownError:            "unknown error",
}

// Category returns the code's category.
func (e ErrorCode) Category() Category {
	c := Category(e >> 8)
	if _, ok := categoryNames[c]; !ok {
		return CategoryUnknown
	}
	return c
}

// Description returns a short human-readable explanation.
func (e ErrorCode) Description() string {
	if d, ok := descriptions[e]; ok {
		return d
	}
	return fmt.Sprintf("error 0x%04X", uint16(e))
}

func (e ErrorCode) Error() string {
	return fmt.Sprintf("%s (0x%04X)", e.Description(), uint16(e))
}

// CodeOf extracts the ErrorCode from err's chain. Errors without one map to
// UnknownError; nil maps to 0.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return UnknownError
}

// CodeOr is CodeOf with a caller-chosen fallback for errors that carry no
// code.
func CodeOr(err error, fallback ErrorCode) ErrorCode {
	if err == nil {
		return 0
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return fallback
}
