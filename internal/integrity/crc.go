// Package integrity verifies the application-level CRC-32 trailer some senders append to
// their payload on top of the radio's own packet CRC.
package integrity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"rfm-gateway/internal/model"
)

// TrailerSize is the width of the big-endian CRC-32 appended to each frame.
const TrailerSize = 4

var (
	ErrShortFrame       = errors.New("frame shorter than checksum trailer")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Validate splits frame into body and trailer and returns the body when the trailer equals
// the CRC-32 (IEEE) of the body.
func Validate(frame model.RawFrame) (model.ValidatedBody, error) {
	if len(frame) < TrailerSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrShortFrame, len(frame))
	}
	split := len(frame) - TrailerSize
	body := frame[:split]
	want := binary.BigEndian.Uint32(frame[split:])
	got := crc32.ChecksumIEEE(body)
	if got != want {
		return nil, fmt.Errorf("%w: trailer %#08x, computed %#08x", ErrChecksumMismatch, want, got)
	}
	out := make(model.ValidatedBody, split)
	copy(out, body)
	return out, nil
}

// Seal appends the CRC-32 trailer to body.
func Seal(body []byte) model.RawFrame {
	frame := make(model.RawFrame, len(body)+TrailerSize)
	copy(frame, body)
	binary.BigEndian.PutUint32(frame[len(body):], crc32.ChecksumIEEE(body))
	return frame
}
