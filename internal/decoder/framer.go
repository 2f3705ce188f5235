// internal/decoder/framer.go
package decoder

import (
	"bytes"
	"errors"
	"fmt"
)

// Framer finds record boundaries in the pending byte stream.
//
// Next looks at the start of buf. It returns consumed == 0 when buf does not
// yet hold a complete frame. Otherwise consumed bytes are dropped from the
// stream and either frame holds the record bytes, frame is nil for skipped
// noise, or err rejects the consumed bytes as a malformed record.
type Framer interface {
	Next(buf []byte) (frame []byte, consumed int, err error)
}

// DelimitedFramer splits the stream at a delimiter sequence
type DelimitedFramer struct {
	delimiter []byte
}

// NewDelimitedFramer creates a framer for delimiter, "\n" when empty
func NewDelimitedFramer(delimiter []byte) *DelimitedFramer {
	if len(delimiter) == 0 {
		delimiter = []byte{'\n'}
	}
	return &DelimitedFramer{delimiter: delimiter}
}

func (f *DelimitedFramer) Next(buf []byte) ([]byte, int, error) {
	i := bytes.Index(buf, f.delimiter)
	if i < 0 {
		return nil, 0, nil
	}
	return buf[:i:i], i + len(f.delimiter), nil
}

const (
	// FrameSync starts every length-prefixed frame
	FrameSync = 0x7E

	frameHeaderSize  = 2 // sync, payload length
	frameTrailerSize = 2 // CRC16, big endian
)

// ErrFrameChecksum rejects a length-prefixed frame whose CRC does not match
var ErrFrameChecksum = errors.New("frame checksum mismatch")

// LengthPrefixedFramer reads binary frames laid out as
// [0x7E][len][payload:len][crc16 hi][crc16 lo], the CRC covering len and payload.
// Bytes before a sync byte are skipped.
type LengthPrefixedFramer struct{}

func (LengthPrefixedFramer) Next(buf []byte) ([]byte, int, error) {
	if len(buf) == 0 {
		return nil, 0, nil
	}

	// Skip noise up to the next sync byte
	if buf[0] != FrameSync {
		i := bytes.IndexByte(buf, FrameSync)
		if i < 0 {
			return nil, len(buf), nil
		}
		return nil, i, nil
	}

	if len(buf) < frameHeaderSize {
		return nil, 0, nil
	}
	size := frameHeaderSize + int(buf[1]) + frameTrailerSize
	if len(buf) < size {
		return nil, 0, nil
	}

	body := buf[1 : size-frameTrailerSize]
	want := uint16(buf[size-2])<<8 | uint16(buf[size-1])
	if got := CRC16(body); got != want {
		// Drop only the sync byte so a real frame inside the bad one is still found
		return nil, 1, fmt.Errorf("%w: got 0x%04X, want 0x%04X", ErrFrameChecksum, got, want)
	}

	payload := buf[frameHeaderSize : size-frameTrailerSize]
	return payload[:len(payload):len(payload)], size, nil
}

// EncodeFrame wraps payload in a length-prefixed frame
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > 0xFF {
		return nil, fmt.Errorf("payload of %d bytes does not fit a frame", len(payload))
	}

	frame := make([]byte, 0, frameHeaderSize+len(payload)+frameTrailerSize)
	frame = append(frame, FrameSync, byte(len(payload)))
	frame = append(frame, payload...)
	crc := CRC16(frame[1:])
	return append(frame, byte(crc>>8), byte(crc)), nil
}

// CRC16 is the CCITT checksum used by Klipper-style serial framing
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= uint8(crc & 0xFF)
		b ^= b << 4
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}
