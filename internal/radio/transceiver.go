package radio

import (
	"context"
	"errors"
	"time"
)

var ErrNotConnected = errors.New("radio not connected")

// Packet is one frame as it came off the air, RadioHead header included.
type Packet struct {
	Data []byte
	RSSI int
	SNR  int
	At   time.Time
}

// Transceiver is a half-duplex packet radio. Receive returns (nil, nil) when nothing arrived
// within timeout.
type Transceiver interface {
	Receive(timeout time.Duration) (*Packet, error)
	Send(payload []byte) error
	Close() error
}

// Opener acquires a transceiver handle. It is called once at startup and again whenever the
// link decides the current handle is unusable.
type Opener func(ctx context.Context) (Transceiver, error)
