package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Payload frame, before zstd compression:
//
//	magic "RJV1" | dimension uint32 LE | dimension * float32 LE
const (
	payloadMagic      = "RJV1"
	payloadHeaderSize = 8
	maxDecodedPayload = 64 << 20
)

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

// Both EncodeAll and DecodeAll are safe for concurrent use on a shared instance.
func initCodec() {
	encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if codecErr != nil {
		return
	}
	decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedPayload))
}

// EncodeVector serializes v into a compressed payload.
func EncodeVector(v []float32) ([]byte, error) {
	codecOnce.Do(initCodec)
	if codecErr != nil {
		return nil, fmt.Errorf("init zstd: %w", codecErr)
	}
	raw := make([]byte, payloadHeaderSize+4*len(v))
	copy(raw, payloadMagic)
	binary.LittleEndian.PutUint32(raw[4:8], uint32(len(v)))
	for i, f := range v {
		off := payloadHeaderSize + 4*i
		binary.LittleEndian.PutUint32(raw[off:off+4], math.Float32bits(f))
	}
	return encoder.EncodeAll(raw, nil), nil
}

// DecodeVector parses a payload produced by EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	codecOnce.Do(initCodec)
	if codecErr != nil {
		return nil, fmt.Errorf("init zstd: %w", codecErr)
	}
	raw, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	if len(raw) < payloadHeaderSize || string(raw[:4]) != payloadMagic {
		return nil, errors.New("bad payload header")
	}
	n := int(binary.LittleEndian.Uint32(raw[4:8]))
	if len(raw) != payloadHeaderSize+4*n {
		return nil, fmt.Errorf("payload length %d does not match dimension %d", len(raw), n)
	}
	out := make([]float32, n)
	for i := range out {
		off := payloadHeaderSize + 4*i
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off : off+4]))
	}
	return out, nil
}
