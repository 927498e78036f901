package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"rfm-gateway/internal/codec"
	"rfm-gateway/internal/config"
	"rfm-gateway/internal/ingest"
	"rfm-gateway/internal/logging"
	"rfm-gateway/internal/metrics"
	"rfm-gateway/internal/radio"
	"rfm-gateway/internal/radio/sx1276"
	"rfm-gateway/internal/stream"
)

type Agent struct {
	cfg       config.Config
	logger    *slog.Logger
	link      *radio.Link
	source    *radio.Source
	pipeline  *ingest.Pipeline
	loop      *ingest.Loop
	forwarder stream.Forwarder
	registry  *prometheus.Registry
	health    *HealthStatus
}

func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	forwarder, err := stream.NewForwarderFromConfig(cfg, tlsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("forwarder: %w", err)
	}

	payloadKey := cfg.AuthMode == config.AuthModePayloadKey
	decoder, err := codec.New(cfg.PayloadEncoding, codec.Options{RequireCredentials: payloadKey})
	if err != nil {
		return nil, fmt.Errorf("payload decoder: %w", err)
	}

	opener, err := openerFor(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	link := radio.NewLink(opener, cfg.Radio.ReconnectInterval, cfg.Radio.ReconnectJitter, cfg.Radio.MaxFaults, logger)
	source := radio.NewSource(link, radio.SourceOptions{
		ReceiveTimeout: cfg.Radio.ReceiveTimeout,
		NodeAddress:    byte(cfg.Radio.NodeAddress),
		Ack:            cfg.Radio.Ack,
	}, m, logger)
	pipeline := ingest.NewPipeline(decoder, forwarder, ingest.PipelineOptions{
		Checksum:  cfg.Checksum,
		GateEmpty: !payloadKey,
	}, m, logger)
	loop := ingest.NewLoop(logger, source, pipeline, m, cfg.IdleInterval, cfg.ErrorBackoff)

	health := NewHealthStatus()
	loop.OnStateChange(health.SetLoopState)

	return &Agent{
		cfg:       cfg,
		logger:    logger,
		link:      link,
		source:    source,
		pipeline:  pipeline,
		loop:      loop,
		forwarder: forwarder,
		registry:  registry,
		health:    health,
	}, nil
}

func openerFor(cfg config.Config, logger *slog.Logger) (radio.Opener, error) {
	switch cfg.Radio.Driver {
	case config.RadioDriverSX1276:
		return func(context.Context) (radio.Transceiver, error) {
			r, err := sx1276.Open(cfg.Radio)
			if err != nil {
				return nil, err
			}
			return r, nil
		}, nil
	case config.RadioDriverMQTT:
		clientID := "rfm-gateway-" + cfg.GatewayID
		return func(context.Context) (radio.Transceiver, error) {
			b, err := radio.DialMQTTBridge(cfg.MQTT, clientID, logger)
			if err != nil {
				return nil, err
			}
			return b, nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported radio driver %q", cfg.Radio.Driver)
	}
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting rfm-gateway",
		"gateway_id", a.cfg.GatewayID,
		"version", a.cfg.Version,
		"radio_driver", a.cfg.Radio.Driver,
		"frequency_mhz", a.cfg.Radio.FrequencyMHz,
		"forward_mode", a.cfg.ForwardMode,
		"auth_mode", a.cfg.AuthMode,
		"encoding", a.cfg.PayloadEncoding,
		"checksum", a.cfg.Checksum,
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("rfm-gateway stopped")
	return nil
}

// BuildLogger returns the process logger and a closer for its rotating file sinks.
func BuildLogger(cfg config.Config) (*slog.Logger, io.Closer) {
	return logging.New(cfg.Log)
}
