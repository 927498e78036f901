package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rfm-gateway/internal/codec"
	"rfm-gateway/internal/integrity"
	"rfm-gateway/internal/metrics"
	"rfm-gateway/internal/model"
	"rfm-gateway/internal/stream"
)

var fixedNow = time.Date(2024, 5, 1, 12, 34, 56, 0, time.Local)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingForwarder counts delivery attempts and answers with a canned outcome.
type recordingForwarder struct {
	stream.Forwarder
	mu      sync.Mutex
	records []model.DecodedRecord
	outcome model.DeliveryOutcome
}

func (f *recordingForwarder) Forward(_ context.Context, rec model.DecodedRecord) model.DeliveryOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return f.outcome
}

func (f *recordingForwarder) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func delivered() *recordingForwarder {
	return &recordingForwarder{outcome: model.Delivered(http.StatusOK, nil, nil)}
}

func newPipeline(t *testing.T, encoding string, strict bool, fwd stream.Forwarder, opts PipelineOptions) *Pipeline {
	t.Helper()
	dec, err := codec.New(encoding, codec.Options{RequireCredentials: strict})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	opts.Now = func() time.Time { return fixedNow }
	return NewPipeline(dec, fwd, opts, metrics.New(prometheus.NewRegistry()), discard())
}

func TestEndToEndPlainJSON(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]any
		auth   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var doc map[string]any
		_ = json.NewDecoder(r.Body).Decode(&doc)
		mu.Lock()
		bodies = append(bodies, doc)
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	fwd := stream.NewHTTPClient(srv.URL, stream.Auth{Mode: stream.AuthBearer, Token: "tok"}, time.Second, nil, discard())
	p := newPipeline(t, codec.EncodingJSON, false, fwd, PipelineOptions{GateEmpty: true})

	res, err := p.Process(context.Background(), model.RawFrame(`{"sender_id":"dev1","data":{"temp":21.5}}`))
	if err != nil || res != ResultDelivered {
		t.Fatalf("unexpected result %s %v", res, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("expected exactly one POST, got %d", len(bodies))
	}
	want := map[string]any{
		"key":  "dev1",
		"data": map[string]any{"temp": 21.5, "time": "2024-05-01 12:34"},
	}
	if !reflect.DeepEqual(bodies[0], want) {
		t.Fatalf("unexpected body %#v", bodies[0])
	}
	if auth != "Bearer tok" {
		t.Fatalf("unexpected authorization %q", auth)
	}
	if p.LastDeliveredAt().IsZero() {
		t.Fatalf("last delivery not recorded")
	}
}

func TestShortFramesWithChecksumAreRejected(t *testing.T) {
	fwd := delivered()
	p := newPipeline(t, codec.EncodingJSON, false, fwd, PipelineOptions{Checksum: true, GateEmpty: true})

	for n := 0; n < integrity.TrailerSize; n++ {
		res, err := p.Process(context.Background(), make(model.RawFrame, n))
		if err != nil || res != ResultIntegrityFault {
			t.Fatalf("len %d: unexpected result %s %v", n, res, err)
		}
	}
	if fwd.attempts() != 0 {
		t.Fatalf("expected no delivery attempts, got %d", fwd.attempts())
	}
}

func TestChecksumVariant(t *testing.T) {
	fwd := delivered()
	p := newPipeline(t, codec.EncodingMsgpack, true, fwd, PipelineOptions{Checksum: true})

	body, err := codec.Encode(codec.EncodingMsgpack, codec.Payload{
		DeviceID: "node-7",
		Data:     map[string]any{"rh": 40.5},
		APIKey:   "k-1",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame := integrity.Seal(body)

	res, err := p.Process(context.Background(), frame)
	if err != nil || res != ResultDelivered {
		t.Fatalf("unexpected result %s %v", res, err)
	}
	rec := fwd.records[0]
	if rec.Identity != "node-7" || rec.AuthToken != "k-1" || !rec.ReceivedAt.Equal(fixedNow) {
		t.Fatalf("unexpected record %+v", rec)
	}

	corrupt := append(model.RawFrame(nil), frame...)
	corrupt[0] ^= 0x01
	res, err = p.Process(context.Background(), corrupt)
	if err != nil || res != ResultIntegrityFault {
		t.Fatalf("unexpected result for corrupt frame %s %v", res, err)
	}
	if fwd.attempts() != 1 {
		t.Fatalf("corrupt frame must not be forwarded")
	}
}

func TestDecodeFaultsNeverForward(t *testing.T) {
	cases := []struct {
		name  string
		frame string
	}{
		{"truncated", `{"sender_id":"dev1","data":{"temp":2`},
		{"mistyped data", `{"sender_id":"dev1","data":[1,2]}`},
		{"mistyped identity", `{"sender_id":7,"data":{"t":1}}`},
		{"trailing garbage", `{"sender_id":"dev1","data":{"t":1}}xx`},
		{"not utf8", "\xff\xfe{}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fwd := delivered()
			p := newPipeline(t, codec.EncodingJSON, false, fwd, PipelineOptions{GateEmpty: true})
			for i := 0; i < 2; i++ {
				res, err := p.Process(context.Background(), model.RawFrame(tc.frame))
				if err != nil || res != ResultDecodeFault {
					t.Fatalf("unexpected result %s %v", res, err)
				}
			}
			if fwd.attempts() != 0 {
				t.Fatalf("expected zero delivery attempts, got %d", fwd.attempts())
			}
		})
	}
}

func TestGatingPlaintext(t *testing.T) {
	cases := []struct {
		name     string
		frame    string
		want     Result
		identity string
	}{
		{"complete", `{"sender_id":"dev1","data":{"t":1}}`, ResultDelivered, "dev1"},
		{"missing identity falls back", `{"data":{"t":1}}`, ResultDelivered, model.UnknownIdentity},
		{"empty identity", `{"sender_id":"","data":{"t":1}}`, ResultSkipped, ""},
		{"empty data", `{"sender_id":"dev1","data":{}}`, ResultSkipped, ""},
		{"missing data", `{"sender_id":"dev1"}`, ResultSkipped, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fwd := delivered()
			p := newPipeline(t, codec.EncodingJSON, false, fwd, PipelineOptions{GateEmpty: true})
			res, err := p.Process(context.Background(), model.RawFrame(tc.frame))
			if err != nil || res != tc.want {
				t.Fatalf("unexpected result %s %v", res, err)
			}
			wantAttempts := 0
			if tc.want == ResultDelivered {
				wantAttempts = 1
			}
			if fwd.attempts() != wantAttempts {
				t.Fatalf("expected %d attempts, got %d", wantAttempts, fwd.attempts())
			}
			if wantAttempts == 1 && fwd.records[0].Identity != tc.identity {
				t.Fatalf("unexpected identity %q", fwd.records[0].Identity)
			}
		})
	}
}

func TestAuthenticatedVariantForwardsEmptyData(t *testing.T) {
	fwd := delivered()
	p := newPipeline(t, codec.EncodingJSON, true, fwd, PipelineOptions{})

	res, err := p.Process(context.Background(), model.RawFrame(`{"device_id":"n1","data":{},"api_key":"k"}`))
	if err != nil || res != ResultDelivered {
		t.Fatalf("unexpected result %s %v", res, err)
	}
	res, err = p.Process(context.Background(), model.RawFrame(`{"device_id":"n1","data":{"t":1}}`))
	if err != nil || res != ResultDecodeFault {
		t.Fatalf("missing api key should fail decoding, got %s %v", res, err)
	}
	if fwd.attempts() != 1 {
		t.Fatalf("expected one attempt, got %d", fwd.attempts())
	}
}

func TestDeliveryOutcomes(t *testing.T) {
	frame := model.RawFrame(`{"sender_id":"dev1","data":{"t":1}}`)

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	unauthorized := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"invalid token"}`, http.StatusUnauthorized)
	}))
	defer unauthorized.Close()
	gone := httptest.NewServer(http.NotFoundHandler())
	goneURL := gone.URL
	gone.Close()

	cases := []struct {
		name string
		url  string
		want Result
	}{
		{"200", ok.URL, ResultDelivered},
		{"401", unauthorized.URL, ResultDeliveryFault},
		{"connection refused", goneURL, ResultDeliveryFault},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fwd := stream.NewHTTPClient(tc.url, stream.Auth{Mode: stream.AuthBearer, Token: "t"}, time.Second, nil, discard())
			p := newPipeline(t, codec.EncodingJSON, false, fwd, PipelineOptions{GateEmpty: true})
			res, err := p.Process(context.Background(), frame)
			if err != nil || res != tc.want {
				t.Fatalf("unexpected result %s %v", res, err)
			}
		})
	}
}

type brokenDecoder struct{}

func (brokenDecoder) Decode([]byte) (model.DecodedRecord, error) {
	return model.DecodedRecord{}, errors.New("decoder state corrupted")
}

func (brokenDecoder) Encoding() string { return "json" }

func TestUnclassifiedDecodeErrorIsUnexpected(t *testing.T) {
	fwd := delivered()
	p := NewPipeline(brokenDecoder{}, fwd, PipelineOptions{}, nil, discard())
	if _, err := p.Process(context.Background(), model.RawFrame(`{}`)); err == nil {
		t.Fatalf("expected an unexpected-fault error")
	}
	if fwd.attempts() != 0 {
		t.Fatalf("nothing should be forwarded")
	}
}
