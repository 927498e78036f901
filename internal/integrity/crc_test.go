package integrity

import (
	"bytes"
	"errors"
	"testing"

	"rfm-gateway/internal/model"
)

func TestValidateRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{name: "empty body", body: []byte{}},
		{name: "json payload", body: []byte(`{"sender_id":"dev1","data":{"temp":21.5}}`)},
		{name: "binary payload", body: []byte{0x82, 0xa9, 0x00, 0xff, 0x10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(Seal(tt.body))
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if !bytes.Equal(got, tt.body) {
				t.Fatalf("Validate() body = %x, want %x", got, tt.body)
			}
		})
	}
}

func TestValidateRejectsEverySingleBitFlip(t *testing.T) {
	frame := Seal([]byte(`{"device_id":"n7","data":{"rh":40}}`))

	for i := 0; i < len(frame)*8; i++ {
		corrupt := make(model.RawFrame, len(frame))
		copy(corrupt, frame)
		corrupt[i/8] ^= 1 << (i % 8)

		if _, err := Validate(corrupt); !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("bit %d flipped: expected ErrChecksumMismatch, got %v", i, err)
		}
	}
}

func TestValidateShortFrame(t *testing.T) {
	for n := 0; n < TrailerSize; n++ {
		_, err := Validate(make(model.RawFrame, n))
		if !errors.Is(err, ErrShortFrame) {
			t.Fatalf("len %d: expected ErrShortFrame, got %v", n, err)
		}
	}
}

func TestValidateDoesNotAliasFrame(t *testing.T) {
	frame := Seal([]byte("abc"))
	body, err := Validate(frame)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	frame[0] = 'x'
	if string(body) != "abc" {
		t.Fatalf("body changed with frame: %q", body)
	}
}
