// Package transport frames requests and responses over the badge's serial
// byte stream and owns the single logical session to the device.
//
// Every frame in either direction is a 12-byte little-endian header
// followed by a payload:
//
//	op:u16 | len:u32 | 0xde 0xad | msgID:u32 | payload[len]
//
// The magic marker makes frames self-delimiting: after a partial or
// corrupted exchange the decoder realigns by discarding bytes until the
// marker lines up again.
package transport

import (
	"encoding/binary"
	"slices"
)

const (
	headerLen = 12

	// maxPayload bounds the length field during realignment. The badge's
	// flash is a few MB, so anything larger is garbage being misread as a
	// header.
	maxPayload = 1 << 24
)

const (
	magic0 = 0xde
	magic1 = 0xad
)

// Device opcodes. Requests and responses share the numbering; OpLog only
// ever appears in the response direction, carrying unsolicited console
// output with message ID 0.
const (
	OpRunFile   uint16 = 0
	OpHeartbeat uint16 = 1
	OpSerialIn  uint16 = 2
	OpLog       uint16 = 3

	OpFetchDir  uint16 = 4096
	OpFetchFile uint16 = 4097
	OpWriteFile uint16 = 4098 // also creates the file when the payload is empty
	OpDelete    uint16 = 4099
	OpCopyFile  uint16 = 4100
	OpMoveFile  uint16 = 4101
	OpCreateDir uint16 = 4102
)

// Frame is one request or response on the wire.
type Frame struct {
	Op      uint16
	MsgID   uint32
	Payload []byte
}

// appendFrame appends the encoded frame to dst and returns the result.
func appendFrame(dst []byte, f Frame) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, f.Op)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(f.Payload)))
	dst = append(dst, magic0, magic1)
	dst = binary.LittleEndian.AppendUint32(dst, f.MsgID)
	return append(dst, f.Payload...)
}

// decoder reassembles frames from arbitrarily chunked reads. Garbage
// between frames is dropped byte-at-a-time until a plausible header is
// found; the number of dropped bytes is kept for diagnostics.
type decoder struct {
	buf     []byte
	dropped int
}

func (d *decoder) feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// next returns the next complete frame, or ok=false when more bytes are
// needed. The returned payload does not alias the internal buffer.
func (d *decoder) next() (f Frame, ok bool) {
	for {
		if len(d.buf) < headerLen {
			return Frame{}, false
		}
		if d.buf[6] != magic0 || d.buf[7] != magic1 {
			d.buf = d.buf[1:]
			d.dropped++
			continue
		}
		length := int(binary.LittleEndian.Uint32(d.buf[2:6]))
		if length > maxPayload {
			d.buf = d.buf[1:]
			d.dropped++
			continue
		}
		if len(d.buf) < headerLen+length {
			return Frame{}, false
		}

		f = Frame{
			Op:      binary.LittleEndian.Uint16(d.buf[0:2]),
			MsgID:   binary.LittleEndian.Uint32(d.buf[8:12]),
			Payload: slices.Clone(d.buf[headerLen : headerLen+length]),
		}
		d.buf = d.buf[headerLen+length:]
		return f, true
	}
}

// takeDropped returns and resets the count of garbage bytes discarded
// while realigning.
func (d *decoder) takeDropped() int {
	n := d.dropped
	d.dropped = 0
	return n
}
