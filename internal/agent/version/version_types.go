package version

type GetVersionRequest struct {
	GatewayID string `json:"gateway_id"`
}

type GetVersionResponse struct {
	GatewayID       string `json:"gateway_id"`
	Version         string `json:"version"`
	ForwardMode     string `json:"forward_mode"`
	RadioDriver     string `json:"radio_driver"`
	ProbeListenAddr string `json:"probe_listen_addr"`
	CheckedAtUnix   int64  `json:"checked_at_unix"`
}
