// Package audio provides the ALSA frame source used for capture.
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-soundgate/internal/util"
)

// Process supervision timings.
const (
	initialRestartDelay = 500 * time.Millisecond
	maxRestartDelay     = 30 * time.Second
	// stableRunThreshold is how long arecord must run before the restart
	// backoff resets.
	stableRunThreshold = 30 * time.Second
	shutdownTimeout    = 3 * time.Second
)

// bytesPerFrame is the size of one S32_LE mono frame.
const bytesPerFrame = 4

var (
	// ErrSourceClosed is returned by ReadFrames after Close.
	ErrSourceClosed = errors.New("audio source closed")
	// ErrNoDevice is returned when no capture device is configured.
	ErrNoDevice = errors.New("no audio input device configured")
)

// SourceConfig describes the ALSA capture stream.
type SourceConfig struct {
	Device      string
	SampleRate  int
	QueueBlocks int
	BlockFrames int
}

// ALSASource streams 32-bit mono frames from arecord into a bounded queue.
// It implements capture.FrameSource.
type ALSASource struct {
	cfg     SourceConfig
	queue   *frameQueue
	backoff *util.Backoff

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	lastErr string
}

// NewALSASource validates cfg and prepares a source. Call Start to spawn arecord.
func NewALSASource(cfg SourceConfig) (*ALSASource, error) {
	if cfg.Device == "" {
		return nil, ErrNoDevice
	}
	if cfg.QueueBlocks <= 0 {
		cfg.QueueBlocks = DefaultQueueBlocks
	}
	if cfg.BlockFrames <= 0 {
		cfg.BlockFrames = DefaultBlockFrames
	}
	return &ALSASource{
		cfg:     cfg,
		queue:   newFrameQueue(cfg.QueueBlocks),
		backoff: util.NewBackoff(initialRestartDelay, maxRestartDelay),
	}, nil
}

// Start spawns arecord and keeps it running until ctx is done or Close is called.
func (s *ALSASource) Start(ctx context.Context) error {
	if _, err := exec.LookPath("arecord"); err != nil {
		return util.WrapError("find arecord", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.runLoop(ctx)
	return nil
}

// ReadFrames implements capture.FrameSource.
func (s *ALSASource) ReadFrames(dst []int32, timeout time.Duration) (int, error) {
	return s.queue.read(dst, timeout)
}

// Dropped returns how many queued blocks were discarded on overrun.
func (s *ALSASource) Dropped() int64 {
	return s.queue.droppedBlocks()
}

// LastError returns the last arecord failure, if any.
func (s *ALSASource) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Close stops arecord and unblocks pending reads.
func (s *ALSASource) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.queue.close()
	return nil
}

func (s *ALSASource) args() []string {
	return []string{
		"-D", s.cfg.Device,
		"-f", "S32_LE",
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", "1",
		"-t", "raw",
		"-q",
		"-",
	}
}

// runLoop restarts arecord with exponential backoff whenever it exits.
func (s *ALSASource) runLoop(ctx context.Context) {
	defer close(s.done)
	for {
		start := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		if time.Since(start) >= stableRunThreshold {
			s.backoff.Reset()
		}
		if err != nil {
			s.mu.Lock()
			s.lastErr = err.Error()
			s.mu.Unlock()
			slog.Error("audio capture error", "device", s.cfg.Device, "error", err)
		}

		delay := s.backoff.Next()
		slog.Info("audio capture stopped, waiting before restart", "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runOnce executes arecord until it exits.
func (s *ALSASource) runOnce(ctx context.Context) error {
	slog.Info("starting audio capture", "device", s.cfg.Device, "sample_rate", s.cfg.SampleRate)

	cmd := exec.CommandContext(ctx, "arecord", s.args()...)
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = shutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return util.WrapError("open arecord stdout", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return util.WrapError("start arecord", err)
	}

	pumpErr := pump(stdout, s.queue, s.cfg.BlockFrames)
	waitErr := cmd.Wait()

	if msg := lastLine(stderr.String()); msg != "" {
		return errors.New(msg)
	}
	return errors.Join(pumpErr, waitErr)
}

// pump decodes little-endian int32 frames from r into blocks of at most
// blockFrames frames. Bytes of a frame split across reads are carried over.
func pump(r io.Reader, q *frameQueue, blockFrames int) error {
	buf := make([]byte, blockFrames*bytesPerFrame)
	carry := 0
	for {
		n, err := r.Read(buf[carry:])
		n += carry
		frames := n / bytesPerFrame
		if frames > 0 {
			block := make([]int32, frames)
			for i := range block {
				block[i] = int32(binary.LittleEndian.Uint32(buf[i*bytesPerFrame:])) //nolint:gosec // two's complement reinterpretation
			}
			q.push(block)
		}
		carry = copy(buf, buf[frames*bytesPerFrame:n])

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// lastLine returns the last non-empty line of arecord's stderr.
func lastLine(s string) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(s)), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if l := bytes.TrimSpace(lines[i]); len(l) > 0 {
			return string(l)
		}
	}
	return ""
}
