package queue_test

import (
	"bytes"
	"strings"
	"testing"

	"judgeflow/internal/common/queue"
)

func TestCodecRoundTrip(t *testing.T) {
	codec, err := queue.NewCodec(64)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	tests := []struct {
		name string
		body []byte
	}{
		{"small stays raw", []byte("print(1)")},
		{"large gets compressed", []byte(strings.Repeat("for i in range(10):\n    print(i)\n", 50))},
		{"empty body", nil},
		{"binary content", []byte{0x00, 0x01, 0xff, 0xfe, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := codec.Encode(tt.body)
			decoded, err := codec.Decode(encoded)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !bytes.Equal(decoded, tt.body) {
				t.Fatalf("round trip mismatch: got %q want %q", decoded, tt.body)
			}
		})
	}
}

func TestCodecCompressesAboveThreshold(t *testing.T) {
	codec, err := queue.NewCodec(64)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	body := []byte(strings.Repeat("abcdefgh", 512))
	encoded := codec.Encode(body)
	if len(encoded) >= len(body) {
		t.Fatalf("expected compression to shrink %d bytes, got %d", len(body), len(encoded))
	}
}

func TestCodecZeroThresholdNeverCompresses(t *testing.T) {
	codec, err := queue.NewCodec(0)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	body := []byte(strings.Repeat("x", 1<<16))
	encoded := codec.Encode(body)
	if len(encoded) != len(body)+1 {
		t.Fatalf("expected raw encoding, got %d bytes for %d", len(encoded), len(body))
	}
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, body) {
		t.Fatal("round trip mismatch")
	}
}

// A codec with a low threshold must decode entries written by one with a
// high threshold and vice versa; the marker byte is authoritative.
func TestCodecCrossThresholdDecode(t *testing.T) {
	low, err := queue.NewCodec(1)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	high, err := queue.NewCodec(1 << 20)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	body := []byte("submission body")
	fromLow, err := high.Decode(low.Encode(body))
	if err != nil {
		t.Fatalf("decode compressed: %v", err)
	}
	fromHigh, err := low.Decode(high.Encode(body))
	if err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	if !bytes.Equal(fromLow, body) || !bytes.Equal(fromHigh, body) {
		t.Fatal("cross-threshold round trip mismatch")
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	codec, err := queue.NewCodec(0)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	if _, err := codec.Decode(nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if _, err := codec.Decode([]byte{0x7f, 0x01}); err == nil {
		t.Fatal("expected error for unknown marker")
	}
}
