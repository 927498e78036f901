package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"rfm-gateway/internal/metrics"
	"rfm-gateway/internal/model"
)

// FrameSource yields at most one frame per call, blocking no longer than its receive timeout.
type FrameSource interface {
	Poll(ctx context.Context) (model.RawFrame, bool)
}

// Processor handles a single frame.
type Processor interface {
	Process(ctx context.Context, frame model.RawFrame) (Result, error)
}

type State string

const (
	StateIdle         State = "idle"
	StateErrorBackoff State = "error_backoff"
)

// Loop drives the source and pipeline until its context is cancelled. Any fault the pipeline
// does not classify, including a panic, sends the loop through ErrorBackoff once and then back
// to Idle.
type Loop struct {
	logger       *slog.Logger
	source       FrameSource
	pipeline     Processor
	metrics      *metrics.Metrics
	idleInterval time.Duration
	errorBackoff time.Duration
	onState      func(State)
}

func NewLoop(logger *slog.Logger, source FrameSource, pipeline Processor, m *metrics.Metrics, idleInterval, errorBackoff time.Duration) *Loop {
	if idleInterval <= 0 {
		idleInterval = 100 * time.Millisecond
	}
	if errorBackoff <= 0 {
		errorBackoff = time.Second
	}
	return &Loop{
		logger:       logger,
		source:       source,
		pipeline:     pipeline,
		metrics:      m,
		idleInterval: idleInterval,
		errorBackoff: errorBackoff,
	}
}

// OnStateChange registers fn to be called on every state transition. It must be set before Run.
func (l *Loop) OnStateChange(fn func(State)) {
	l.onState = fn
}

func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("ingestion loop started, waiting for frames")
	for {
		if ctx.Err() != nil {
			l.logger.Info("ingestion loop stopped")
			return nil
		}

		if err := l.cycle(ctx); err != nil {
			l.enter(StateErrorBackoff)
			l.metrics.UnexpectedFault()
			l.logger.Error("unexpected fault in ingestion cycle", "error", err, "backoff", l.errorBackoff)
			l.sleepWithContext(ctx, l.errorBackoff)
			l.enter(StateIdle)
			continue
		}
		l.sleepWithContext(ctx, l.idleInterval)
	}
}

// cycle polls once and processes what arrived, converting a panic into an error.
func (l *Loop) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	frame, ok := l.source.Poll(ctx)
	if !ok {
		return nil
	}
	_, err = l.pipeline.Process(ctx, frame)
	return err
}

func (l *Loop) enter(s State) {
	if l.onState != nil {
		l.onState(s)
	}
}

func (l *Loop) sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
