package capture

import "math"

// DefaultShiftBits discards the low half of a 32-bit I2S slot, leaving the
// top 16 bits of the microphone sample.
const DefaultShiftBits = 16

// Convert maps one raw hardware frame to a 16-bit PCM sample: an arithmetic
// right shift by shift bits, then saturation to the int16 range.
// The result depends only on raw and is non-decreasing in raw.
func Convert(raw int32, shift uint) int16 {
	v := raw >> shift
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
