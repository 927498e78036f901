package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"unicode/utf8"

	"rfm-gateway/internal/model"
)

// JSONDecoder decodes UTF-8 JSON payloads. Bodies that are not valid UTF-8 are rejected as
// malformed.
type JSONDecoder struct {
	opts Options
}

func (d *JSONDecoder) Encoding() string { return EncodingJSON }

func (d *JSONDecoder) Decode(body []byte) (model.DecodedRecord, error) {
	if !utf8.Valid(body) {
		return model.DecodedRecord{}, decodeErr(KindMalformed, "payload is not valid UTF-8")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return model.DecodedRecord{}, classifyJSON(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return model.DecodedRecord{}, decodeErr(KindTrailingData, "unexpected data after offset %d", dec.InputOffset())
	}

	m, ok := doc.(map[string]any)
	if !ok {
		return model.DecodedRecord{}, decodeErr(KindInvalidType, "top-level value must be an object, got %T", doc)
	}
	return recordFromDocument(m, d.opts)
}

func classifyJSON(err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return &DecodeError{Kind: KindTruncated, Err: err}
	case errors.As(err, &syntaxErr):
		return &DecodeError{Kind: KindMalformed, Err: err}
	case errors.As(err, &typeErr):
		return &DecodeError{Kind: KindInvalidType, Err: err}
	default:
		return &DecodeError{Kind: KindMalformed, Err: err}
	}
}

func EncodeJSON(p Payload) ([]byte, error) {
	return json.Marshal(p)
}
