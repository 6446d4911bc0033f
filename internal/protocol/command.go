package protocol

import "fmt"

// Command is the one-byte command code carried by every frame.
type Command uint8

// Control commands.
const (
	CmdCaptureSingle   Command = 0x10
	CmdRecordStart     Command = 0x11
	CmdRecordStop      Command = 0x12
	CmdPreviewStart    Command = 0x13
	CmdPreviewStop     Command = 0x14
	CmdContinuousStart Command = 0x15
	CmdContinuousStop  Command = 0x16
)

// Parameter commands.
const (
	CmdSetExposure     Command = 0x20
	CmdSetWhiteBalance Command = 0x21
	CmdSetGain         Command = 0x22
	CmdSetResolution   Command = 0x23
	CmdSetGainAuto     Command = 0x24
	CmdSetFrameRate    Command = 0x25
	CmdSetPixelFormat  Command = 0x26
)

// Queries.
const (
	CmdQueryStatus      Command = 0x30
	CmdQueryParams      Command = 0x31
	CmdQueryResolutions Command = 0x32
	CmdQueryGainAuto    Command = 0x33
)

// CmdHeartbeat is accepted from every session regardless of role.
const CmdHeartbeat Command = 0xFF

// Server to client.
const (
	RespSuccess           Command = 0x90
	RespFailed            Command = 0x91
	ReportStatus          Command = 0xA0
	ReportParams          Command = 0xA1
	ReportResolutions     Command = 0xA2
	ReportGainAuto        Command = 0xA3
	NotifyCaptureComplete Command = 0xB0
	NotifyRecordComplete  Command = 0xB1
	StreamPreviewFrame    Command = 0xC0
)

var commandNames = map[Command]string{
	CmdCaptureSingle:      "capture_single",
	CmdRecordStart:        "record_start",
	CmdRecordStop:         "record_stop",
	CmdPreviewStart:       "preview_start",
	CmdPreviewStop:        "preview_stop",
	CmdContinuousStart:    "continuous_start",
	CmdContinuousStop:     "continuous_stop",
	CmdSetExposure:        "set_exposure",
	CmdSetWhiteBalance:    "set_white_balance",
	CmdSetGain:            "set_gain",
	CmdSetResolution:      "set_resolution",
	CmdSetGainAuto:        "set_gain_auto",
	CmdSetFrameRate:       "set_frame_rate",
	CmdSetPixelFormat:     "set_pixel_format",
	CmdQueryStatus:        "query_status",
	CmdQueryParams:        "query_params",
	CmdQueryResolutions:   "query_resolutions",
	CmdQueryGainAuto:      "query_gain_auto",
	CmdHeartbeat:          "heartbeat",
	RespSuccess:           "success",
	RespFailed:            "failed",
	ReportStatus:          "status_report",
	ReportParams:          "params_report",
	ReportResolutions:     "resolutions_report",
	ReportGainAuto:        "gain_auto_report",
	NotifyCaptureComplete: "capture_complete",
	NotifyRecordComplete:  "record_complete",
	StreamPreviewFrame:    "preview_frame",
}

// String returns the command name, or its hex code when unknown.
func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", uint8(c))
}

// Known reports whether c is a defined command code.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// IsRequest reports whether c is sent by a client (as opposed to a
// response, report or notification produced by the server).
func (c Command) IsRequest() bool {
	return c < RespSuccess || c == CmdHeartbeat
}
