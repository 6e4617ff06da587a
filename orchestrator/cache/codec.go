// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// Shared-tier values carry a one byte header describing the encoding.
const (
	encodingRaw  byte = 0x00
	encodingZstd byte = 0x01
)

var errCorruptValue = errors.New("corrupt cached value")

// codec compresses values above threshold and tracks the achieved ratio.
type codec struct {
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder

	compressed   atomic.Int64
	uncompressed atomic.Int64
	bytesIn      atomic.Int64
	bytesOut     atomic.Int64
}

func newCodec(threshold int) (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &codec{threshold: threshold, encoder: enc, decoder: dec}, nil
}

// encode returns the stored form of raw.
func (c *codec) encode(raw []byte) []byte {
	if c.threshold <= 0 || len(raw) < c.threshold {
		c.uncompressed.Add(1)
		out := make([]byte, 0, len(raw)+1)
		out = append(out, encodingRaw)
		return append(out, raw...)
	}

	out := c.encoder.EncodeAll(raw, []byte{encodingZstd})
	c.compressed.Add(1)
	c.bytesIn.Add(int64(len(raw)))
	c.bytesOut.Add(int64(len(out) - 1))
	return out
}

// decode reverses encode.
func (c *codec) decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, errCorruptValue
	}
	switch stored[0] {
	case encodingRaw:
		return stored[1:], nil
	case encodingZstd:
		raw, err := c.decoder.DecodeAll(stored[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCorruptValue, err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding 0x%02x", errCorruptValue, stored[0])
	}
}

// ratio is uncompressed bytes over stored bytes for compressed values.
// It is 1 until something has been compressed.
func (c *codec) ratio() float64 {
	out := c.bytesOut.Load()
	if out == 0 {
		return 1
	}
	return float64(c.bytesIn.Load()) / float64(out)
}

func (c *codec) close() {
	_ = c.encoder.Close()
	c.decoder.Close()
}
