// Package protocol defines the binary wire format shared by the capture
// server and its controller clients: framing, checksums, command codes,
// error codes and the payload layouts of every request and report.
package protocol

import (
	"encoding/binary"
	"errors"
)

// Wire layout (all integers big-endian):
//
//	[FE FE][version:1][length:4][command:1][data:length-1][xor:1][EF EF]
//
// length counts the command byte plus the data. The xor covers every byte
// from version through the end of data.
const (
	Header0 = 0xFE
	Header1 = 0xFE
	Footer0 = 0xEF
	Footer1 = 0xEF

	// Version is the protocol version this build speaks (2.0).
	Version uint8 = 0x20

	OffsetVersion = 2
	OffsetLength  = 3
	OffsetCommand = 7
	OffsetData    = 8

	// prefixSize is header + version + length, the bytes needed to know
	// how long a frame is.
	prefixSize = 7

	// MinFrameSize is a frame with an empty data section.
	MinFrameSize = 11

	// MaxBufferSize caps the per-connection decode accumulator.
	MaxBufferSize = 1 << 20

	// MaxDataLength bounds the length field.
	MaxDataLength = 10 << 20
)

var (
	header = [2]byte{Header0, Header1}
	footer = [2]byte{Footer0, Footer1}
)

// ErrDataTooLarge is returned by Encode when the payload does not fit the
// length field limit.
var ErrDataTooLarge = errors.New("protocol: data exceeds max frame length")

// Frame is one decoded protocol message.
type Frame struct {
	Version uint8
	Command Command
	Payload []byte
	// Raw holds the complete frame bytes as received.
	Raw []byte
}

// FrameSize returns the total encoded size for a given length field.
func FrameSize(length uint32) int {
	return 2 + 1 + 4 + int(length) + 1 + 2
}

// Encode builds a wire frame. It fails only when the data is too large.
func Encode(version uint8, cmd Command, data []byte) ([]byte, error) {
	length := 1 + len(data)
	if length > MaxDataLength {
		return nil, ErrDataTooLarge
	}

	buf := make([]byte, FrameSize(uint32(length)))
	buf[0], buf[1] = Header0, Header1
	buf[OffsetVersion] = version
	binary.BigEndian.PutUint32(buf[OffsetLength:], uint32(length))
	buf[OffsetCommand] = byte(cmd)
	copy(buf[OffsetData:], data)

	end := OffsetData + len(data)
	buf[end] = Checksum(buf[OffsetVersion:end])
	buf[end+1], buf[end+2] = Footer0, Footer1
	return buf, nil
}

// Build encodes a frame with the compiled-in version. It is meant for the
// small fixed-size responses and reports; oversized data yields nil.
func Build(cmd Command, data []byte) []byte {
	b, err := Encode(Version, cmd, data)
	if err != nil {
		return nil
	}
	return b
}
