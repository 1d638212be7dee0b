package decoder

import "encoding/binary"

// Binary frame layout sent by the acquisition firmware.
const (
	FrameLen      = 16
	FrameChannels = 6
	SyncByte1     = 0xC7
	SyncByte2     = 0x7C
	EndByte       = 0x01

	counterOffset = 2
	valuesOffset  = 3
)

// Frame is one decoded binary packet.
type Frame struct {
	Counter uint8
	Values  [FrameChannels]int16
}

// IsFrame reports whether b is exactly one well-formed frame.
func IsFrame(b []byte) bool {
	return len(b) == FrameLen && b[0] == SyncByte1 && b[1] == SyncByte2 && b[FrameLen-1] == EndByte
}

// ParseFrame decodes b when it is exactly one frame.
func ParseFrame(b []byte) (Frame, bool) {
	if !IsFrame(b) {
		return Frame{}, false
	}
	f := Frame{Counter: b[counterOffset]}
	for ch := range f.Values {
		off := valuesOffset + ch*2
		f.Values[ch] = int16(binary.BigEndian.Uint16(b[off : off+2]))
	}
	return f, true
}

// Bytes encodes the frame in wire layout.
func (f Frame) Bytes() []byte {
	b := make([]byte, FrameLen)
	b[0], b[1] = SyncByte1, SyncByte2
	b[counterOffset] = f.Counter
	for ch, v := range f.Values {
		binary.BigEndian.PutUint16(b[valuesOffset+ch*2:], uint16(v))
	}
	b[FrameLen-1] = EndByte
	return b
}

// ScanFrames is a bufio.SplitFunc that yields whole frames from a byte stream.
// When the bytes at the cursor are not a frame it discards one byte and looks
// again, so a stream joined mid-packet resynchronises on the next sync pair.
// A trailing partial frame at EOF is discarded.
func ScanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	skip := 0
	for len(data)-skip >= FrameLen {
		if IsFrame(data[skip : skip+FrameLen]) {
			return skip + FrameLen, data[skip : skip+FrameLen], nil
		}
		skip++
	}
	if atEOF {
		return len(data), nil, nil
	}
	return skip, nil, nil
}
