package stream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"rfm-gateway/internal/model"
)

const maxResponseBytes = 1 << 20

// HTTPClient posts each record as one JSON document.
type HTTPClient struct {
	logger *slog.Logger
	url    string
	auth   Auth
	client *http.Client
}

var _ Forwarder = (*HTTPClient)(nil)

func NewHTTPClient(url string, auth Auth, timeout time.Duration, tlsCfg *tls.Config, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsCfg != nil {
		transport.TLSClientConfig = tlsCfg
	}
	return &HTTPClient{
		logger: logger,
		url:    url,
		auth:   auth,
		client: &http.Client{Timeout: timeout, Transport: transport},
	}
}

func (c *HTTPClient) Forward(ctx context.Context, rec model.DecodedRecord) model.DeliveryOutcome {
	requestID := uuid.NewString()
	out := c.post(ctx, rec, requestID)
	logOutcome(c.logger, rec, requestID, out)
	return out
}

func (c *HTTPClient) post(ctx context.Context, rec model.DecodedRecord, requestID string) model.DeliveryOutcome {
	body, err := EncodeBody(c.auth, rec)
	if err != nil {
		return model.TransportFailed(fmt.Errorf("encode body: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return model.TransportFailed(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerRequestID, requestID)
	if key, value, ok := c.auth.credentials(rec); ok {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return model.TransportFailed(fmt.Errorf("post %s: %w", c.url, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.TransportFailed(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.Rejected(resp.StatusCode, respBody)
	}

	var parsed any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			parsed = string(respBody)
		}
	}
	return model.Delivered(resp.StatusCode, respBody, parsed)
}

func (c *HTTPClient) Close(context.Context) error {
	c.client.CloseIdleConnections()
	return nil
}
