package radio

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"rfm-gateway/internal/metrics"
	"rfm-gateway/internal/model"
)

type SourceOptions struct {
	ReceiveTimeout time.Duration
	NodeAddress    byte
	Ack            bool
}

// Source turns the link into a stream of payload frames addressed to this node.
type Source struct {
	link      *Link
	opts      SourceOptions
	logger    *slog.Logger
	metrics   *metrics.Metrics
	seen      *seenIDs
	lastFrame atomic.Int64
}

func NewSource(link *Link, opts SourceOptions, m *metrics.Metrics, logger *slog.Logger) *Source {
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = 5 * time.Second
	}
	return &Source{
		link:    link,
		opts:    opts,
		logger:  logger,
		metrics: m,
		seen:    newSeenIDs(),
	}
}

// Poll waits up to the receive timeout for one frame. Link errors are logged here and never
// returned; the caller only sees whether a frame arrived.
func (s *Source) Poll(ctx context.Context) (model.RawFrame, bool) {
	if ctx.Err() != nil {
		return nil, false
	}
	pkt, err := s.link.Receive(ctx, s.opts.ReceiveTimeout)
	if err != nil {
		s.metrics.LinkFault()
		s.logger.Error("radio receive failed", "error", err)
		return nil, false
	}
	if pkt == nil {
		return nil, false
	}
	s.metrics.FrameReceived()

	meta, payload, err := SplitHeader(pkt)
	if err != nil {
		s.logger.Warn("dropping runt radio frame", "len", len(pkt.Data), "error", err)
		return nil, false
	}
	if !Addressed(s.opts.NodeAddress, meta.To) {
		s.logger.Debug("frame not addressed to this node", "to", meta.To, "from", meta.From)
		return nil, false
	}
	if meta.Flags&FlagAck != 0 {
		s.logger.Debug("ignoring acknowledgement frame", "from", meta.From, "id", meta.ID)
		return nil, false
	}
	if s.opts.Ack {
		if NeedsAck(meta) {
			if err := s.link.Send(AckFrame(meta)); err != nil {
				s.logger.Warn("sending acknowledgement failed", "to", meta.From, "id", meta.ID, "error", err)
			}
		}
		if s.seen.duplicate(meta) {
			s.logger.Debug("dropping retransmitted frame", "from", meta.From, "id", meta.ID)
			return nil, false
		}
	}

	s.lastFrame.Store(time.Now().UnixNano())
	s.logger.Debug("frame received", "from", meta.From, "id", meta.ID, "rssi", meta.RSSI, "snr", meta.SNR, "len", len(payload))
	return payload, true
}

// LastFrameAt is the time of the last accepted frame, zero if none.
func (s *Source) LastFrameAt() time.Time {
	v := s.lastFrame.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

func (s *Source) Connected() bool {
	return s.link.Connected()
}
