package capture

import (
	"context"

	"github.com/oszuidwest/zwfm-soundgate/internal/util"
)

// Sequential captures on the calling goroutine. The monitor is polled between
// chunk reads whenever MonitorPeriod has passed, so an early stop takes
// effect at chunk granularity.
type Sequential struct {
	reader *chunkReader
}

// NewSequential creates a single-threaded capturer. A nil clock uses the wall clock.
func NewSequential(src FrameSource, cfg Config, clock util.Clock) *Sequential {
	return &Sequential{reader: newChunkReader(src, cfg.withDefaults(), clock)}
}

// Capture fills buf[0:target) or stops early when mon or ctx says so.
func (s *Sequential) Capture(ctx context.Context, buf *Buffer, target int, mon Monitor) Result {
	r := s.reader
	target = clampTarget(buf, target)
	stats := NewStats(r.cfg.PreviewSize)
	start := r.clock.Now()
	nextPoll := start

	res := Result{Target: target}
	for res.Captured < target {
		if ctx.Err() != nil {
			res.Reason = StopShutdown
			break
		}
		if mon != nil {
			if now := r.clock.Now(); !now.Before(nextPoll) {
				nextPoll = now.Add(r.cfg.MonitorPeriod)
				res.Polls++
				if !mon.Continue() {
					res.Reason = StopQuiet
					break
				}
			}
		}

		n := r.readChunk(ctx, buf, res.Captured, target, &stats)
		if n == 0 {
			res.Retries++
			continue
		}
		res.Captured += n
	}

	res.Stats = stats
	res.Elapsed = r.clock.Now().Sub(start)
	return res
}
