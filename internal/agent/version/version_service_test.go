package version

import (
	"testing"

	"rfm-gateway/internal/config"
)

func TestGet(t *testing.T) {
	cfg := config.Default()
	cfg.GatewayID = "gw-1"

	resp := Get(cfg, &GetVersionRequest{})
	if resp.GatewayID != "gw-1" || resp.Version != config.HardcodedVersion {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.ForwardMode != "http" || resp.RadioDriver != "sx1276" {
		t.Fatalf("unexpected modes %+v", resp)
	}
	if resp.CheckedAtUnix == 0 {
		t.Fatalf("missing check timestamp")
	}
}
