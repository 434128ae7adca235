package capture

import (
	"math"
	"testing"
)

func TestConvert_Examples(t *testing.T) {
	tests := []struct {
		name  string
		raw   int32
		shift uint
		want  int16
	}{
		{"full_scale_positive", 0x7FFF0000, 16, math.MaxInt16},
		{"max_int32", math.MaxInt32, 16, math.MaxInt16},
		{"min_int32", math.MinInt32, 16, math.MinInt16},
		{"zero", 0, 16, 0},
		{"low_bits_discarded", 0x0000FFFF, 16, 0},
		{"negative_rounds_down", -1, 16, -1},
		{"gain_saturates_high", 0x40000000, 14, math.MaxInt16},
		{"gain_saturates_low", -0x40000000, 14, math.MinInt16},
		{"gain_in_range", 0x00010000, 14, 4},
		{"no_shift", 1234, 0, 1234},
		{"no_shift_saturates", 40000, 0, math.MaxInt16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Convert(tt.raw, tt.shift); got != tt.want {
				t.Errorf("Convert(%#x, %d): expected %d, got %d", tt.raw, tt.shift, tt.want, got)
			}
		})
	}
}

func TestConvert_MonotonicAndInRange(t *testing.T) {
	for _, shift := range []uint{0, 8, 14, 16, 24, 31} {
		prev := Convert(math.MinInt32, shift)
		// Stride through the whole int32 range, including both ends.
		for v := int64(math.MinInt32); v <= math.MaxInt32; v += 65521 {
			got := Convert(int32(v), shift)
			if got < prev {
				t.Fatalf("shift %d: not monotonic at %d (%d < %d)", shift, v, got, prev)
			}
			prev = got
		}
		if last := Convert(math.MaxInt32, shift); last < prev {
			t.Fatalf("shift %d: not monotonic at max (%d < %d)", shift, last, prev)
		}
	}
}
