package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"rfm-gateway/internal/config"
)

func NewForwarderFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (Forwarder, error) {
	auth := Auth{
		Mode:        AuthMode(cfg.AuthMode),
		Token:       cfg.APIToken,
		IdentityKey: cfg.IdentityKey,
	}
	if auth.Mode == AuthPayloadKey {
		logger.Warn("payload-key auth forwards the api_key sent over the air; any transmitter in range can present one")
	}

	switch cfg.ForwardMode {
	case config.ForwardModeHTTP:
		return NewHTTPClient(cfg.APIURL, auth, cfg.HTTPTimeout, tlsCfg, logger), nil
	case config.ForwardModeGRPC:
		return NewGRPCClient(cfg.GRPCAddr, cfg.GRPCMethod, auth, cfg.HTTPTimeout, tlsCfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported forward mode %q", cfg.ForwardMode)
	}
}
