package version

import (
	"time"

	"rfm-gateway/internal/config"
)

func Get(cfg config.Config, _ *GetVersionRequest) *GetVersionResponse {
	return &GetVersionResponse{
		GatewayID:       cfg.GatewayID,
		Version:         cfg.Version,
		ForwardMode:     string(cfg.ForwardMode),
		RadioDriver:     string(cfg.Radio.Driver),
		ProbeListenAddr: cfg.ProbeListenAddr,
		CheckedAtUnix:   time.Now().UTC().Unix(),
	}
}
