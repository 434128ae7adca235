// Package capture fills the shared PCM buffer from a hardware frame source.
//
// Frames are read in bounded chunks, each with a short timeout, converted to
// 16-bit PCM with saturation, and folded into running statistics. Two
// strategies implement the same Capturer interface: Sequential polls the
// early-stop monitor between chunk reads on the calling goroutine, Parallel
// moves the reads to a dedicated goroutine and polls the monitor on a ticker.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-soundgate/internal/util"
)

// Capture defaults.
const (
	DefaultChunkFrames   = 2048
	DefaultReadTimeout   = 100 * time.Millisecond
	DefaultMonitorPeriod = 500 * time.Millisecond

	// minRetryDelay is the first pause after a failed or empty read.
	minRetryDelay = 5 * time.Millisecond
)

// ErrReadTimeout is returned by a FrameSource when no frames arrived in time.
var ErrReadTimeout = errors.New("audio read timed out")

// FrameSource delivers raw hardware frames.
type FrameSource interface {
	// ReadFrames fills dst with up to len(dst) frames, waiting at most timeout.
	ReadFrames(dst []int32, timeout time.Duration) (int, error)
}

// Monitor decides, once per poll, whether capture should keep running.
type Monitor interface {
	Continue() bool
}

// MonitorFunc adapts a function to the Monitor interface.
type MonitorFunc func() bool

// Continue calls f.
func (f MonitorFunc) Continue() bool { return f() }

// Capturer fills buf[0:target) and reports what was captured.
type Capturer interface {
	Capture(ctx context.Context, buf *Buffer, target int, mon Monitor) Result
}

// StopReason tells why a capture ended before reaching its target.
type StopReason string

const (
	// StopNone means the target sample count was reached.
	StopNone StopReason = ""
	// StopQuiet means the monitor asked for an early stop.
	StopQuiet StopReason = "quiet"
	// StopShutdown means the context was cancelled.
	StopShutdown StopReason = "shutdown"
)

// Result describes a finished capture.
type Result struct {
	Captured int
	Target   int
	Reason   StopReason
	Retries  int
	Polls    int
	Stats    Stats
	Elapsed  time.Duration
}

// Stopped reports whether the capture ended early.
func (r *Result) Stopped() bool {
	return r.Reason != StopNone
}

// Config holds the capture parameters shared by both strategies.
type Config struct {
	ChunkFrames   int           // frames requested per hardware read
	ReadTimeout   time.Duration // bound on a single hardware read
	ShiftBits     uint          // right shift applied to raw frames
	PreviewSize   int           // leading samples kept in Stats.Preview
	MonitorPeriod time.Duration // spacing between early-stop polls
}

func (c Config) withDefaults() Config {
	if c.ChunkFrames <= 0 {
		c.ChunkFrames = DefaultChunkFrames
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.MonitorPeriod <= 0 {
		c.MonitorPeriod = DefaultMonitorPeriod
	}
	if c.PreviewSize < 0 {
		c.PreviewSize = 0
	}
	return c
}

// chunkReader performs bounded reads and converts frames into the buffer.
// It is owned by one goroutine at a time.
type chunkReader struct {
	src   FrameSource
	cfg   Config
	clock util.Clock
	raw   []int32
	retry *util.Backoff
}

func newChunkReader(src FrameSource, cfg Config, clock util.Clock) *chunkReader {
	if clock == nil {
		clock = util.SystemClock{}
	}
	return &chunkReader{
		src:   src,
		cfg:   cfg,
		clock: clock,
		raw:   make([]int32, cfg.ChunkFrames),
		retry: util.NewBackoff(minRetryDelay, cfg.ReadTimeout),
	}
}

// readChunk issues one read of at most ChunkFrames frames into buf at offset
// and returns the number of samples written. A failed or empty read writes
// nothing and returns 0 after an optional retry pause.
func (r *chunkReader) readChunk(ctx context.Context, buf *Buffer, offset, target int, stats *Stats) int {
	want := min(r.cfg.ChunkFrames, target-offset)
	if want <= 0 {
		return 0
	}

	n, err := r.src.ReadFrames(r.raw[:want], r.cfg.ReadTimeout)
	switch {
	case errors.Is(err, ErrReadTimeout):
		// The source already waited the full timeout.
		slog.Debug("audio read timed out", "captured", offset)
		return 0
	case err != nil:
		slog.Warn("audio read failed", "captured", offset, "error", err)
		_ = r.clock.Sleep(ctx, r.retry.Next()) //nolint:errcheck // cancellation is checked by the caller
		return 0
	case n <= 0:
		slog.Warn("audio read returned no frames", "captured", offset)
		_ = r.clock.Sleep(ctx, r.retry.Next()) //nolint:errcheck // cancellation is checked by the caller
		return 0
	}
	r.retry.Reset()

	n = min(n, want)
	for i, frame := range r.raw[:n] {
		s := Convert(frame, r.cfg.ShiftBits)
		buf.Set(offset+i, s)
		stats.Add(s)
	}
	return n
}

// clampTarget bounds the requested sample count by the buffer capacity.
func clampTarget(buf *Buffer, target int) int {
	return min(max(target, 0), buf.Cap())
}
