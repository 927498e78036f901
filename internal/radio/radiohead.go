package radio

import (
	"fmt"

	"rfm-gateway/internal/model"
)

// RadioHead packet header: [to, from, id, flags].
const (
	HeaderSize       = 4
	BroadcastAddress = 0xFF

	FlagAck   = 0x80
	FlagRetry = 0x40
)

var ackPayload = []byte("!")

// SplitHeader separates the RadioHead header from the payload. Frames without at least one
// payload byte are rejected.
func SplitHeader(p *Packet) (model.FrameMeta, model.RawFrame, error) {
	if len(p.Data) <= HeaderSize {
		return model.FrameMeta{}, nil, fmt.Errorf("frame of %d bytes has no payload", len(p.Data))
	}
	meta := model.FrameMeta{
		To:         p.Data[0],
		From:       p.Data[1],
		ID:         p.Data[2],
		Flags:      p.Data[3],
		RSSI:       p.RSSI,
		SNR:        p.SNR,
		ReceivedAt: p.At,
	}
	payload := make(model.RawFrame, len(p.Data)-HeaderSize)
	copy(payload, p.Data[HeaderSize:])
	return meta, payload, nil
}

// Addressed reports whether a frame sent to "to" is meant for node. A node configured with the
// broadcast address accepts everything.
func Addressed(node, to byte) bool {
	return node == BroadcastAddress || to == node || to == BroadcastAddress
}

// NeedsAck reports whether meta describes a unicast data frame that must be acknowledged.
func NeedsAck(meta model.FrameMeta) bool {
	return meta.To != BroadcastAddress && meta.Flags&FlagAck == 0
}

// AckFrame builds the acknowledgement for meta. It is sent from the address the frame was sent
// to, which a reliable-datagram sender checks against its own destination.
func AckFrame(meta model.FrameMeta) []byte {
	out := make([]byte, 0, HeaderSize+len(ackPayload))
	out = append(out, meta.From, meta.To, meta.ID, meta.Flags|FlagAck)
	return append(out, ackPayload...)
}

// seenIDs remembers the last frame id per sender so retransmissions can be dropped.
type seenIDs struct {
	last map[byte]byte
}

func newSeenIDs() *seenIDs {
	return &seenIDs{last: make(map[byte]byte)}
}

// duplicate records meta and reports whether it repeats the previous frame of its sender.
func (s *seenIDs) duplicate(meta model.FrameMeta) bool {
	prev, ok := s.last[meta.From]
	if ok && prev == meta.ID && meta.Flags&FlagRetry != 0 {
		return true
	}
	s.last[meta.From] = meta.ID
	return false
}
