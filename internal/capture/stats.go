package capture

import "math"

const (
	// MinDB is the floor reported for silent sessions.
	MinDB = -96.0
	// MaxSampleValue is the full-scale reference for 16-bit audio.
	MaxSampleValue = 32768.0
	// ClipThreshold is slightly below full scale to catch near-clips.
	ClipThreshold int16 = 32760
	// DefaultPreviewSize is the number of leading samples kept for diagnostics.
	DefaultPreviewSize = 8
)

// Stats holds running statistics over the converted samples of a session.
// They are updated per sample, never recomputed after the fact.
type Stats struct {
	Count   int     `json:"count"`
	Min     int16   `json:"min"`
	Max     int16   `json:"max"`
	NonZero int     `json:"non_zero"`
	Clipped int     `json:"clipped"`
	Preview []int16 `json:"preview"`

	sumSquares  float64
	peak        float64
	previewSize int
}

// NewStats returns empty statistics keeping the first previewSize samples.
func NewStats(previewSize int) Stats {
	previewSize = max(previewSize, 0)
	return Stats{
		Preview:     make([]int16, 0, previewSize),
		previewSize: previewSize,
	}
}

// Add accounts for one converted sample.
func (s *Stats) Add(v int16) {
	if s.Count == 0 || v < s.Min {
		s.Min = v
	}
	if s.Count == 0 || v > s.Max {
		s.Max = v
	}
	if v != 0 {
		s.NonZero++
	}
	if v >= ClipThreshold || v <= -ClipThreshold {
		s.Clipped++
	}
	if len(s.Preview) < s.previewSize {
		s.Preview = append(s.Preview, v)
	}

	f := float64(v)
	s.sumSquares += f * f
	if a := math.Abs(f); a > s.peak {
		s.peak = a
	}
	s.Count++
}

// Levels contains session levels in dBFS.
type Levels struct {
	RMS  float64 `json:"rms_db"`
	Peak float64 `json:"peak_db"`
}

// Levels computes RMS and peak levels from the accumulated samples.
func (s *Stats) Levels() Levels {
	if s.Count == 0 {
		return Levels{RMS: MinDB, Peak: MinDB}
	}
	rms := math.Sqrt(s.sumSquares / float64(s.Count))
	return Levels{
		RMS:  max(20*math.Log10(rms/MaxSampleValue), MinDB),
		Peak: max(20*math.Log10(s.peak/MaxSampleValue), MinDB),
	}
}
