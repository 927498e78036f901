// Package codec turns validated frame bodies into DecodedRecords. One wire encoding is active
// per deployment: a UTF-8 JSON document or a MessagePack map, both carrying
//
//	{ "sender_id" | "device_id": string, "data": { ... }, "api_key"?: string }
//
// Decode failures are reported as *DecodeError and never panic.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"rfm-gateway/internal/model"
)

const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

const (
	fieldSenderID = "sender_id"
	fieldDeviceID = "device_id"
	fieldData     = "data"
	fieldAPIKey   = "api_key"
)

type Kind string

const (
	KindMalformed    Kind = "malformed"
	KindTruncated    Kind = "truncated"
	KindInvalidType  Kind = "invalid_type"
	KindTrailingData Kind = "trailing_data"
)

// Kinds lists every DecodeError kind, in a stable order.
var Kinds = []Kind{KindMalformed, KindTruncated, KindInvalidType, KindTrailingData}

type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(kind Kind, format string, args ...any) error {
	return &DecodeError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the DecodeError kind wrapped in err, if any.
func KindOf(err error) (Kind, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

type Decoder interface {
	Decode(body []byte) (model.DecodedRecord, error)
	Encoding() string
}

type Options struct {
	// RequireCredentials makes a missing identity or api_key a decode failure instead of
	// falling back to model.UnknownIdentity.
	RequireCredentials bool
}

// Payload is the sender-side document. It is used to build frames in tests and tooling.
type Payload struct {
	SenderID string         `json:"sender_id,omitempty" msgpack:"sender_id,omitempty"`
	DeviceID string         `json:"device_id,omitempty" msgpack:"device_id,omitempty"`
	Data     map[string]any `json:"data" msgpack:"data"`
	APIKey   string         `json:"api_key,omitempty" msgpack:"api_key,omitempty"`
}

func New(encoding string, opts Options) (Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case EncodingJSON:
		return &JSONDecoder{opts: opts}, nil
	case EncodingMsgpack:
		return &MsgpackDecoder{opts: opts}, nil
	default:
		return nil, fmt.Errorf("unsupported payload encoding %q", encoding)
	}
}

func Encode(encoding string, p Payload) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case EncodingJSON:
		return EncodeJSON(p)
	case EncodingMsgpack:
		return EncodeMsgpack(p)
	default:
		return nil, fmt.Errorf("unsupported payload encoding %q", encoding)
	}
}

func recordFromDocument(doc map[string]any, opts Options) (model.DecodedRecord, error) {
	var rec model.DecodedRecord

	identity, found, err := stringField(doc, fieldSenderID)
	if err != nil {
		return rec, err
	}
	if !found {
		identity, found, err = stringField(doc, fieldDeviceID)
		if err != nil {
			return rec, err
		}
	}
	switch {
	case opts.RequireCredentials && identity == "":
		return rec, decodeErr(KindInvalidType, "missing %s/%s", fieldSenderID, fieldDeviceID)
	case !found:
		identity = model.UnknownIdentity
	}
	rec.Identity = identity

	if raw, ok := doc[fieldData]; ok && raw != nil {
		data, ok := raw.(map[string]any)
		if !ok {
			return rec, decodeErr(KindInvalidType, "%s must be a map, got %T", fieldData, raw)
		}
		rec.SensorData = data
	} else {
		rec.SensorData = map[string]any{}
	}

	key, found, err := stringField(doc, fieldAPIKey)
	if err != nil {
		return rec, err
	}
	if opts.RequireCredentials && key == "" {
		return rec, decodeErr(KindInvalidType, "missing %s", fieldAPIKey)
	}
	rec.AuthToken = key
	rec.HasAuthToken = found && key != ""
	return rec, nil
}

func stringField(doc map[string]any, name string) (string, bool, error) {
	raw, ok := doc[name]
	if !ok || raw == nil {
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", true, decodeErr(KindInvalidType, "%s must be a string, got %T", name, raw)
	}
	return s, true, nil
}

// normalize converts decoded values into JSON-marshalable shapes: nested maps become
// map[string]any and integers widen to int64/uint64.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint:
		return uint64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
