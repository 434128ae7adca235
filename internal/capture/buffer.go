package capture

import (
	"encoding/binary"

	"github.com/oszuidwest/zwfm-soundgate/internal/types"
)

// Buffer is the single capture region, allocated once at startup and reused
// by every session. Samples are stored as little-endian s16 so the filled
// range can be handed to an uploader without copying.
type Buffer struct {
	data []byte
}

// NewBuffer allocates a buffer holding samples PCM samples.
func NewBuffer(samples int) *Buffer {
	return &Buffer{data: make([]byte, max(samples, 0)*types.BytesPerSample)}
}

// Cap returns the buffer capacity in samples.
func (b *Buffer) Cap() int {
	return len(b.data) / types.BytesPerSample
}

// Set stores sample s at index i.
func (b *Buffer) Set(i int, s int16) {
	binary.LittleEndian.PutUint16(b.data[i*types.BytesPerSample:], uint16(s)) //nolint:gosec // two's complement reinterpretation
}

// Sample returns the sample at index i.
func (b *Buffer) Sample(i int) int16 {
	return int16(binary.LittleEndian.Uint16(b.data[i*types.BytesPerSample:])) //nolint:gosec // two's complement reinterpretation
}

// Bytes returns the encoded view of the first n samples. The slice has no
// spare capacity, so appending to it never writes into the rest of the buffer.
func (b *Buffer) Bytes(n int) []byte {
	n = min(max(n, 0), b.Cap()) * types.BytesPerSample
	return b.data[:n:n]
}
