package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func gatewayEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GATEWAY_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("GATEWAY_CONFIG_FILE", "")
	t.Setenv("GATEWAY_ID", "gw-test")
	t.Setenv("GATEWAY_API_URL", "http://127.0.0.1:1/ingest")
	t.Setenv("GATEWAY_API_TOKEN", "tok")
	t.Setenv("GATEWAY_FORWARD_MODE", "http")
	t.Setenv("GATEWAY_AUTH_MODE", "bearer")
	t.Setenv("GATEWAY_TLS_ENABLED", "false")
	t.Setenv("GATEWAY_PROBE_ADDR", "127.0.0.1:0")
	t.Setenv("GATEWAY_METRICS_ADDR", "127.0.0.1:0")
	t.Setenv("RADIO_DRIVER", "mqtt")
	t.Setenv("MQTT_BROKER", "tcp://127.0.0.1:1")
	t.Setenv("RADIO_RECONNECT_INTERVAL", "10ms")
	t.Setenv("RADIO_RECONNECT_JITTER", "0s")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_INFO_FILE", "")
	t.Setenv("LOG_ERROR_FILE", "")
}

func TestRunInvalidConfigExitsNonZero(t *testing.T) {
	gatewayEnv(t)
	t.Setenv("GATEWAY_FORWARD_MODE", "carrier-pigeon")

	var stderr bytes.Buffer
	if code := run(context.Background(), &stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "load config") || strings.Contains(stderr.String(), "Exiting") {
		t.Fatalf("unexpected output %q", stderr.String())
	}
}

func TestRunInitFailureExitsNonZero(t *testing.T) {
	gatewayEnv(t)
	t.Setenv("GATEWAY_TLS_ENABLED", "true")
	t.Setenv("GATEWAY_TLS_CA_PATH", filepath.Join(t.TempDir(), "ca.pem"))

	var stderr bytes.Buffer
	if code := run(context.Background(), &stderr); code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if strings.Contains(stderr.String(), "Exiting") {
		t.Fatalf("exit acknowledgement printed after a failed start: %q", stderr.String())
	}
}

func TestRunCleanStopPrintsExiting(t *testing.T) {
	gatewayEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var stderr bytes.Buffer
	if code := run(ctx, &stderr); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(stderr.String(), "Exiting...") {
		t.Fatalf("missing exit acknowledgement in %q", stderr.String())
	}
}
