package queue

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Payload encoding markers. Every queue entry body starts with one of these
// so a consumer can decode entries written under a different threshold.
const (
	encodingRaw  byte = 0x00
	encodingZstd byte = 0x01
)

// DefaultCompressThreshold is the body size above which payloads are
// compressed. Source code submissions are usually small; pathological
// ones are not.
const DefaultCompressThreshold = 4 << 10

// Codec encodes queue payloads, compressing bodies above a size threshold.
// A zero Codec is usable and never compresses.
type Codec struct {
	// Threshold is the minimum body size in bytes for compression.
	// <= 0 disables compression on encode; decode always handles both.
	Threshold int

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewCodec creates a codec with the given compression threshold.
func NewCodec(threshold int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder failed: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder failed: %w", err)
	}
	return &Codec{Threshold: threshold, enc: enc, dec: dec}, nil
}

// Encode wraps the body with an encoding marker, compressing when the body
// exceeds the threshold.
func (c *Codec) Encode(body []byte) []byte {
	if c != nil && c.enc != nil && c.Threshold > 0 && len(body) >= c.Threshold {
		out := make([]byte, 1, len(body)/2+1)
		out[0] = encodingZstd
		return c.enc.EncodeAll(body, out)
	}
	out := make([]byte, 1+len(body))
	out[0] = encodingRaw
	copy(out[1:], body)
	return out
}

// Decode unwraps a payload produced by Encode.
func (c *Codec) Decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	switch data[0] {
	case encodingRaw:
		return data[1:], nil
	case encodingZstd:
		if c == nil || c.dec == nil {
			return nil, fmt.Errorf("compressed payload but codec has no decoder")
		}
		return c.dec.DecodeAll(data[1:], nil)
	default:
		return nil, fmt.Errorf("unknown payload encoding 0x%02x", data[0])
	}
}
