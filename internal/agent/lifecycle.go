package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

func (a *Agent) run(ctx context.Context) error {
	if err := a.link.Connect(ctx); err != nil {
		return fmt.Errorf("initial radio connect: %w", err)
	}
	a.health.SetRadioConnected(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.loop.Run(gctx)
	})
	g.Go(func() error {
		return a.runHealthLoop(gctx)
	})
	g.Go(func() error {
		return a.runProbeListener(gctx)
	})
	g.Go(func() error {
		return a.runMetricsServer(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.refreshHealth()
			status := "ok"
			if !a.health.Healthy() {
				status = "degraded"
			}
			a.logHealth(status)
		}
	}
}

func (a *Agent) refreshHealth() {
	a.health.SetRadioConnected(a.source.Connected())
	a.health.MarkFrame(a.source.LastFrameAt())
	a.health.MarkDelivery(a.pipeline.LastDeliveredAt())
}

func (a *Agent) logHealth(status string) {
	a.logger.Log(context.Background(), slog.LevelDebug, "gateway health", "status", status, "snapshot", a.health.Snapshot())
}

func (a *Agent) shutdown(ctx context.Context) {
	if err := a.forwarder.Close(ctx); err != nil {
		a.logger.Warn("forwarder close failed", "error", err)
	}
	if err := a.link.Close(); err != nil {
		a.logger.Warn("radio close failed", "error", err)
	}
	a.health.SetRadioConnected(false)
}
