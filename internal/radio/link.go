package radio

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Link owns a single transceiver handle and its reopen flow.
type Link struct {
	mu        sync.Mutex
	dev       Transceiver
	open      Opener
	logger    *slog.Logger
	retryWait time.Duration
	maxJitter time.Duration
	maxFaults int
	faults    int
	closed    bool
	connected atomic.Bool
	randSrc   *rand.Rand
}

func NewLink(open Opener, retryWait, maxJitter time.Duration, maxFaults int, logger *slog.Logger) *Link {
	if retryWait <= 0 {
		retryWait = 3 * time.Second
	}
	if maxJitter < 0 {
		maxJitter = 0
	}
	if maxFaults <= 0 {
		maxFaults = 3
	}
	return &Link{
		open:      open,
		logger:    logger,
		retryWait: retryWait,
		maxJitter: maxJitter,
		maxFaults: maxFaults,
		randSrc:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Connect opens the transceiver, retrying until it succeeds or ctx is done.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dev != nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dev, err := l.open(ctx)
		if err == nil {
			l.attachLocked(dev)
			l.logger.Info("radio connected")
			return nil
		}

		wait := l.retryWait + l.jitter()
		l.logger.Error("radio open failed", "error", err, "retry_in", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Receive reads one packet. A handle dropped after repeated faults is reopened exactly once
// here; a failed reopen is reported like any other receive error.
func (l *Link) Receive(ctx context.Context, timeout time.Duration) (*Packet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrNotConnected
	}
	if l.dev == nil {
		dev, err := l.open(ctx)
		if err != nil {
			return nil, fmt.Errorf("reopen radio: %w", err)
		}
		l.attachLocked(dev)
		l.logger.Info("radio reopened")
	}

	pkt, err := l.dev.Receive(timeout)
	if err != nil {
		l.faults++
		if l.faults >= l.maxFaults {
			l.logger.Warn("closing radio after repeated receive faults", "faults", l.faults)
			l.detachLocked()
		}
		return nil, err
	}
	l.faults = 0
	return pkt, nil
}

func (l *Link) Send(payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dev == nil {
		return ErrNotConnected
	}
	return l.dev.Send(payload)
}

func (l *Link) Connected() bool {
	return l.connected.Load()
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.dev == nil {
		return nil
	}
	err := l.dev.Close()
	l.dev = nil
	l.connected.Store(false)
	return err
}

func (l *Link) attachLocked(dev Transceiver) {
	l.dev = dev
	l.faults = 0
	l.connected.Store(true)
}

func (l *Link) detachLocked() {
	if err := l.dev.Close(); err != nil {
		l.logger.Warn("radio close failed", "error", err)
	}
	l.dev = nil
	l.faults = 0
	l.connected.Store(false)
}

func (l *Link) jitter() time.Duration {
	if l.maxJitter == 0 {
		return 0
	}
	return time.Duration(l.randSrc.Int63n(int64(l.maxJitter)))
}
