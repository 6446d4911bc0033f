package protocol

import (
	"bytes"
	"encoding/binary"
)

// DecoderStats counts what a Decoder has seen. Values are cumulative.
type DecoderStats struct {
	Frames    uint64
	Resyncs   uint64 // candidate frames dropped for bad length, footer or xor
	Overflows uint64 // accumulator cleared because it exceeded MaxBufferSize
	Discarded uint64 // bytes thrown away while searching for a header
}

// Decoder turns an arbitrary byte stream into frames. It never fails on
// malformed input: a bad candidate costs its two header bytes and the
// search restarts at the next marker.
//
// A Decoder is owned by a single connection and is not safe for
// concurrent use.
type Decoder struct {
	buf   []byte
	stats DecoderStats
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends p and returns every complete, valid frame now available.
// Consumed bytes are tracked with a read offset and the buffer is
// compacted once per call, so a Feed costs O(buffered bytes) however many
// resyncs it takes.
func (d *Decoder) Feed(p []byte) []Frame {
	d.buf = append(d.buf, p...)
	if len(d.buf) > MaxBufferSize {
		d.stats.Overflows++
		d.stats.Discarded += uint64(len(d.buf))
		d.buf = d.buf[:0]
		return nil
	}

	var frames []Frame
	off := 0
	for {
		rest := d.buf[off:]
		idx := bytes.Index(rest, header[:])
		if idx < 0 {
			// A trailing 0xFE may be the first half of the next header.
			keep := 0
			if n := len(rest); n > 0 && rest[n-1] == Header0 {
				keep = 1
			}
			d.stats.Discarded += uint64(len(rest) - keep)
			off += len(rest) - keep
			break
		}
		if idx > 0 {
			d.stats.Discarded += uint64(idx)
			off += idx
			rest = rest[idx:]
		}

		if len(rest) < prefixSize {
			break
		}

		length := binary.BigEndian.Uint32(rest[OffsetLength:])
		if length > MaxDataLength {
			off += d.resync()
			continue
		}

		size := FrameSize(length)
		if len(rest) < size {
			break
		}

		if rest[size-2] != Footer0 || rest[size-1] != Footer1 {
			off += d.resync()
			continue
		}

		sumEnd := size - 3
		if Checksum(rest[OffsetVersion:sumEnd]) != rest[sumEnd] {
			off += d.resync()
			continue
		}

		raw := make([]byte, size)
		copy(raw, rest[:size])
		off += size

		f := Frame{Version: raw[OffsetVersion], Raw: raw}
		if length > 0 {
			f.Command = Command(raw[OffsetCommand])
			f.Payload = raw[OffsetData:sumEnd]
		}
		d.stats.Frames++
		frames = append(frames, f)
	}
	d.compact(off)
	return frames
}

// Buffered returns the number of bytes waiting for more input.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Stats returns the cumulative counters.
func (d *Decoder) Stats() DecoderStats { return d.stats }

// Reset discards any partial input.
func (d *Decoder) Reset() { d.buf = d.buf[:0] }

// resync counts a rejected candidate and returns the bytes it consumes.
func (d *Decoder) resync() int {
	d.stats.Resyncs++
	d.stats.Discarded += 2
	return 2
}

// compact moves the unread tail to the front of the buffer.
func (d *Decoder) compact(off int) {
	switch {
	case off <= 0:
	case off >= len(d.buf):
		d.buf = d.buf[:0]
	default:
		n := copy(d.buf, d.buf[off:])
		d.buf = d.buf[:n]
	}
}
