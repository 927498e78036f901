package codec

import (
	"bytes"
	"errors"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"rfm-gateway/internal/model"
)

// MsgpackDecoder decodes MessagePack maps.
type MsgpackDecoder struct {
	opts Options
}

func (d *MsgpackDecoder) Encoding() string { return EncodingMsgpack }

func (d *MsgpackDecoder) Decode(body []byte) (model.DecodedRecord, error) {
	r := bytes.NewReader(body)
	dec := msgpack.NewDecoder(r)

	doc, err := dec.DecodeInterface()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return model.DecodedRecord{}, &DecodeError{Kind: KindTruncated, Err: err}
		}
		return model.DecodedRecord{}, &DecodeError{Kind: KindMalformed, Err: err}
	}
	if n := r.Len(); n > 0 {
		return model.DecodedRecord{}, decodeErr(KindTrailingData, "%d bytes after complete value", n)
	}

	m, ok := normalize(doc).(map[string]any)
	if !ok {
		return model.DecodedRecord{}, decodeErr(KindInvalidType, "top-level value must be a map, got %T", doc)
	}
	return recordFromDocument(m, d.opts)
}

func EncodeMsgpack(p Payload) ([]byte, error) {
	return msgpack.Marshal(p)
}
