package capture

import (
	"context"
	"log/slog"

	"github.com/oszuidwest/zwfm-soundgate/internal/util"
)

// Parallel moves hardware reads to a dedicated goroutine so that hysteresis
// polls are not delayed by a blocking read. The reader goroutine owns the
// buffer and statistics until it hands the Result back on a channel.
type Parallel struct {
	reader *chunkReader
}

// NewParallel creates a capturer with a dedicated reader goroutine.
// A nil clock uses the wall clock.
func NewParallel(src FrameSource, cfg Config, clock util.Clock) *Parallel {
	return &Parallel{reader: newChunkReader(src, cfg.withDefaults(), clock)}
}

// readerDone is sent by the reader goroutine when it exits.
type readerDone struct {
	captured    int
	retries     int
	interrupted bool
	stats       Stats
}

// Capture fills buf[0:target) or stops early when mon or ctx says so.
func (p *Parallel) Capture(ctx context.Context, buf *Buffer, target int, mon Monitor) Result {
	r := p.reader
	target = clampTarget(buf, target)
	start := r.clock.Now()

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	stop := make(chan struct{})
	progress := make(chan int, 1)
	done := make(chan readerDone, 1)

	go p.read(readCtx, buf, target, stop, progress, done)

	res := Result{Target: target}
	stopped := false
	requestStop := func(reason StopReason) {
		if stopped {
			return
		}
		stopped = true
		res.Reason = reason
		close(stop)
		cancelRead()
	}

	poll := func() {
		if mon == nil || stopped {
			return
		}
		res.Polls++
		if !mon.Continue() {
			requestStop(StopQuiet)
		}
	}

	ticker := r.clock.NewTicker(r.cfg.MonitorPeriod)
	defer ticker.Stop()
	ticks := ticker.C()

	poll()
	ctxDone := ctx.Done()
	for {
		select {
		case d := <-done:
			res.Captured = d.captured
			res.Retries = d.retries
			res.Stats = d.stats
			if !d.interrupted {
				res.Reason = StopNone
			}
			res.Elapsed = r.clock.Now().Sub(start)
			return res
		case n := <-progress:
			slog.Debug("capture progress", "captured", n, "target", target)
		case <-ticks:
			poll()
		case <-ctxDone:
			ctxDone = nil
			requestStop(StopShutdown)
		}
	}
}

// read runs on the reader goroutine. It checks stop between chunks only.
func (p *Parallel) read(ctx context.Context, buf *Buffer, target int, stop <-chan struct{}, progress chan int, done chan<- readerDone) {
	r := p.reader
	stats := NewStats(r.cfg.PreviewSize)
	d := readerDone{}

	for d.captured < target {
		select {
		case <-stop:
			d.interrupted = true
		default:
		}
		if d.interrupted {
			break
		}

		n := r.readChunk(ctx, buf, d.captured, target, &stats)
		if n == 0 {
			d.retries++
			continue
		}
		d.captured += n

		// Latest progress wins; a stale value is replaced rather than queued.
		select {
		case progress <- d.captured:
		default:
			select {
			case <-progress:
			default:
			}
			select {
			case progress <- d.captured:
			default:
			}
		}
	}

	d.stats = stats
	done <- d
}
