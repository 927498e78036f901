package stream

import (
	"context"
	"math"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"rfm-gateway/internal/model"
)

const ingestMethod = "/rfm.telemetry.v1.Collector/Ingest"

type grpcCollector struct {
	mu     sync.Mutex
	method string
	md     metadata.MD
	body   map[string]any
	fail   error
}

func (g *grpcCollector) handle(_ any, stream grpc.ServerStream) error {
	var body map[string]any
	if err := stream.RecvMsg(&body); err != nil {
		return err
	}
	method, _ := grpc.MethodFromServerStream(stream)
	md, _ := metadata.FromIncomingContext(stream.Context())

	g.mu.Lock()
	g.method = method
	g.md = md
	g.body = body
	fail := g.fail
	g.mu.Unlock()

	if fail != nil {
		return fail
	}
	return stream.SendMsg(map[string]any{"stored": true})
}

func startCollector(t *testing.T, g *grpcCollector) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(g.handle), grpc.ForceServerCodec(jsonCodec{}))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func bufDialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestGRPCForwardDelivered(t *testing.T) {
	g := &grpcCollector{}
	lis := startCollector(t, g)
	c := NewGRPCClient("bufnet", ingestMethod, Auth{Mode: AuthBearer, Token: "s3cret"}, time.Second, nil, discard(), bufDialer(lis))
	defer c.Close(context.Background())

	out := c.Forward(context.Background(), sampleRecord())
	if out.Kind != model.OutcomeDelivered || out.StatusCode != http.StatusOK {
		t.Fatalf("unexpected outcome %+v", out)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.method != ingestMethod {
		t.Fatalf("unexpected method %q", g.method)
	}
	if v := g.md.Get("authorization"); len(v) != 1 || v[0] != "Bearer s3cret" {
		t.Fatalf("unexpected authorization metadata %v", v)
	}
	if v := g.md.Get("x-request-id"); len(v) != 1 || v[0] == "" {
		t.Fatalf("missing request id metadata")
	}
	if g.body["key"] != "dev1" {
		t.Fatalf("unexpected body %#v", g.body)
	}
	data := g.body["data"].(map[string]any)
	if data["time"] != "2024-05-01 12:34" {
		t.Fatalf("unexpected data %#v", data)
	}
}

func TestGRPCForwardRejected(t *testing.T) {
	g := &grpcCollector{fail: status.Error(codes.Unauthenticated, "bad key")}
	lis := startCollector(t, g)
	c := NewGRPCClient("bufnet", ingestMethod, Auth{Mode: AuthPayloadKey}, time.Second, nil, discard(), bufDialer(lis))
	defer c.Close(context.Background())

	rec := sampleRecord()
	rec.AuthToken, rec.HasAuthToken = "node-key", true
	out := c.Forward(context.Background(), rec)
	if out.Kind != model.OutcomeRejected || out.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected outcome %+v", out)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if v := g.md.Get("x-api-key"); len(v) != 1 || v[0] != "node-key" {
		t.Fatalf("unexpected api key metadata %v", v)
	}
}

func TestGRPCForwardUnavailableIsTransportFailure(t *testing.T) {
	g := &grpcCollector{fail: status.Error(codes.Unavailable, "draining")}
	lis := startCollector(t, g)
	c := NewGRPCClient("bufnet", ingestMethod, Auth{Mode: AuthBearer, Token: "t"}, time.Second, nil, discard(), bufDialer(lis))
	defer c.Close(context.Background())

	out := c.Forward(context.Background(), sampleRecord())
	if out.Kind != model.OutcomeTransportFailed {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestGRPCForwardDialFailure(t *testing.T) {
	lis := bufconn.Listen(1024)
	_ = lis.Close()
	c := NewGRPCClient("bufnet", ingestMethod, Auth{Mode: AuthBearer, Token: "t"}, time.Second, nil, discard(), bufDialer(lis))
	c.dialTimeout = 50 * time.Millisecond

	out := c.Forward(context.Background(), sampleRecord())
	if out.Kind != model.OutcomeTransportFailed {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestGRPCDeliveredKeepsUnencodableReply(t *testing.T) {
	c := NewGRPCClient("bufnet", ingestMethod, Auth{Mode: AuthBearer, Token: "t"}, time.Second, nil, discard())

	out := c.delivered(map[string]any{"ratio": math.NaN()})
	if out.Kind != model.OutcomeDelivered || out.StatusCode != http.StatusOK {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Body != nil {
		t.Fatalf("expected no raw body, got %q", out.Body)
	}

	out = c.delivered(map[string]any{"stored": true})
	if string(out.Body) != `{"stored":true}` {
		t.Fatalf("unexpected raw body %q", out.Body)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[codes.Code]int{
		codes.InvalidArgument:   http.StatusBadRequest,
		codes.PermissionDenied:  http.StatusForbidden,
		codes.ResourceExhausted: http.StatusTooManyRequests,
		codes.Internal:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := httpStatus(code); got != want {
			t.Fatalf("httpStatus(%s) = %d, want %d", code, got, want)
		}
	}
}
