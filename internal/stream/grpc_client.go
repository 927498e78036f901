package stream

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"rfm-gateway/internal/model"
)

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// GRPCClient delivers records as unary calls carrying the same JSON body as the HTTP forwarder.
type GRPCClient struct {
	mu sync.Mutex

	logger      *slog.Logger
	addr        string
	method      string
	tlsConfig   *tls.Config
	auth        Auth
	timeout     time.Duration
	dialTimeout time.Duration
	dialOpts    []grpc.DialOption
	conn        *grpc.ClientConn
}

var _ Forwarder = (*GRPCClient)(nil)

func NewGRPCClient(addr, method string, auth Auth, timeout time.Duration, tlsCfg *tls.Config, logger *slog.Logger, opts ...grpc.DialOption) *GRPCClient {
	encoding.RegisterCodec(jsonCodec{})
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GRPCClient{
		logger:      logger,
		addr:        addr,
		method:      method,
		tlsConfig:   tlsCfg,
		auth:        auth,
		timeout:     timeout,
		dialTimeout: 8 * time.Second,
		dialOpts:    opts,
	}
}

func (c *GRPCClient) Forward(ctx context.Context, rec model.DecodedRecord) model.DeliveryOutcome {
	requestID := uuid.NewString()
	out := c.invoke(ctx, rec, requestID)
	logOutcome(c.logger, rec, requestID, out)
	return out
}

func (c *GRPCClient) invoke(ctx context.Context, rec model.DecodedRecord, requestID string) model.DeliveryOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureConnLocked(ctx); err != nil {
		return model.TransportFailed(err)
	}

	callCtx, cancel := context.WithTimeout(c.decorateContext(ctx, rec, requestID), c.timeout)
	defer cancel()

	body := model.NewDeliveryBody(c.auth.identityKey(), rec)
	var reply map[string]any
	err := c.conn.Invoke(callCtx, c.method, body, &reply)
	if err == nil {
		return c.delivered(reply)
	}

	st := status.Convert(err)
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return model.TransportFailed(fmt.Errorf("grpc %s: %w", c.method, err))
	default:
		return model.Rejected(httpStatus(st.Code()), []byte(st.Message()))
	}
}

// delivered keeps the raw reply alongside the decoded one. A reply that cannot be re-encoded is
// still a delivery.
func (c *GRPCClient) delivered(reply map[string]any) model.DeliveryOutcome {
	raw, err := json.Marshal(reply)
	if err != nil {
		c.logger.Warn("grpc collector reply not re-encodable", "method", c.method, "error", err)
		raw = nil
	}
	return model.Delivered(http.StatusOK, raw, reply)
}

func (c *GRPCClient) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *GRPCClient) ensureConnLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	var creds credentials.TransportCredentials
	if c.tlsConfig != nil {
		creds = credentials.NewTLS(c.tlsConfig)
	} else {
		creds = insecure.NewCredentials()
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}, c.dialOpts...)
	conn, err := grpc.DialContext(dialCtx, c.addr, opts...)
	if err != nil {
		return fmt.Errorf("grpc dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.logger.Info("grpc collector connected", "addr", c.addr)
	return nil
}

func (c *GRPCClient) decorateContext(ctx context.Context, rec model.DecodedRecord, requestID string) context.Context {
	out := metadata.AppendToOutgoingContext(ctx, strings.ToLower(headerRequestID), requestID)
	if key, value, ok := c.auth.credentials(rec); ok {
		out = metadata.AppendToOutgoingContext(out, strings.ToLower(key), value)
	}
	return out
}

// httpStatus maps a gRPC status code to the HTTP status a REST collector would have answered.
func httpStatus(code codes.Code) int {
	switch code {
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
