package model

import "time"

// RawFrame is one packet as delivered by the radio link, RadioHead header already removed.
type RawFrame []byte

// ValidatedBody is a RawFrame with its checksum trailer verified and stripped.
type ValidatedBody []byte

// FrameMeta carries link-level information about a received frame. Fields are zero when the
// transceiver does not report them.
type FrameMeta struct {
	From       byte      `json:"from"`
	To         byte      `json:"to"`
	ID         byte      `json:"id"`
	Flags      byte      `json:"flags"`
	RSSI       int       `json:"rssi"`
	SNR        int       `json:"snr"`
	ReceivedAt time.Time `json:"received_at"`
}
