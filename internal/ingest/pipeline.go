package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"rfm-gateway/internal/codec"
	"rfm-gateway/internal/integrity"
	"rfm-gateway/internal/metrics"
	"rfm-gateway/internal/model"
	"rfm-gateway/internal/stream"
)

// Result is how one frame left the pipeline.
type Result string

const (
	ResultIntegrityFault Result = "integrity_fault"
	ResultDecodeFault    Result = "decode_fault"
	ResultSkipped        Result = "skipped"
	ResultDelivered      Result = "delivered"
	ResultDeliveryFault  Result = "delivery_fault"
)

type PipelineOptions struct {
	// Checksum strips and verifies a CRC-32 trailer before decoding.
	Checksum bool
	// GateEmpty drops records with an empty identity or empty sensor data instead of forwarding
	// them.
	GateEmpty bool
	Now       func() time.Time
}

// Pipeline runs one frame through validate, decode, gate and forward.
type Pipeline struct {
	decoder       codec.Decoder
	forwarder     stream.Forwarder
	opts          PipelineOptions
	logger        *slog.Logger
	metrics       *metrics.Metrics
	lastDelivered atomic.Int64
}

func NewPipeline(dec codec.Decoder, fwd stream.Forwarder, opts PipelineOptions, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		decoder:   dec,
		forwarder: fwd,
		opts:      opts,
		logger:    logger,
		metrics:   m,
	}
}

// Process handles one frame. Expected faults are logged and reported as a Result with a nil
// error; an error means something outside the known fault classes happened.
func (p *Pipeline) Process(ctx context.Context, frame model.RawFrame) (Result, error) {
	body := []byte(frame)
	if p.opts.Checksum {
		validated, err := integrity.Validate(frame)
		if err != nil {
			reason := "checksum_mismatch"
			if errors.Is(err, integrity.ErrShortFrame) {
				reason = "short_frame"
			}
			p.metrics.IntegrityReject(reason)
			p.logger.Warn("dropping frame that failed integrity check", "len", len(frame), "error", err)
			return ResultIntegrityFault, nil
		}
		body = validated
	}

	rec, err := p.decoder.Decode(body)
	if err != nil {
		kind, ok := codec.KindOf(err)
		if !ok {
			return "", fmt.Errorf("decode %s payload: %w", p.decoder.Encoding(), err)
		}
		p.metrics.DecodeFailure(string(kind))
		p.logger.Error("dropping undecodable payload", "encoding", p.decoder.Encoding(), "kind", kind, "len", len(body), "error", err)
		return ResultDecodeFault, nil
	}
	rec.ReceivedAt = p.opts.Now()

	if p.opts.GateEmpty && !rec.Forwardable() {
		p.metrics.Skipped()
		p.logger.Info("skipping record without identity or data", "identity", rec.Identity, "fields", len(rec.SensorData))
		return ResultSkipped, nil
	}

	p.logger.Info("record received", "identity", rec.Identity, "data", rec.SensorData)
	start := time.Now()
	out := p.forwarder.Forward(ctx, rec)
	p.metrics.Delivery(string(out.Kind), time.Since(start))
	if !out.OK() {
		return ResultDeliveryFault, nil
	}
	p.lastDelivered.Store(time.Now().UnixNano())
	return ResultDelivered, nil
}

// LastDeliveredAt is the time of the last successful delivery, zero if none.
func (p *Pipeline) LastDeliveredAt() time.Time {
	v := p.lastDelivered.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}
