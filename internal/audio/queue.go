package audio

import (
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-soundgate/internal/capture"
)

// Queue layout of the capture ring: eight blocks of 512 frames.
const (
	DefaultQueueBlocks = 8
	DefaultBlockFrames = 512
)

// frameQueue is a bounded FIFO of frame blocks. When full, pushing a block
// drops the oldest one so that a slow consumer sees the most recent audio.
type frameQueue struct {
	mu       sync.Mutex
	blocks   [][]int32
	head     int // frames already consumed from blocks[0]
	capacity int
	dropped  int64
	closed   bool
	ready    chan struct{}
}

func newFrameQueue(capacity int) *frameQueue {
	return &frameQueue{
		capacity: max(capacity, 1),
		ready:    make(chan struct{}, 1),
	}
}

// push appends a block. The block is owned by the queue afterwards.
func (q *frameQueue) push(block []int32) {
	if len(block) == 0 {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.blocks) >= q.capacity {
		q.blocks[0] = nil
		q.blocks = q.blocks[1:]
		q.head = 0
		q.dropped++
	}
	q.blocks = append(q.blocks, block)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// take copies up to len(dst) queued frames into dst.
func (q *frameQueue) take(dst []int32) (n int, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for n < len(dst) && len(q.blocks) > 0 {
		b := q.blocks[0][q.head:]
		c := copy(dst[n:], b)
		n += c
		q.head += c
		if c == len(b) {
			q.blocks[0] = nil
			q.blocks = q.blocks[1:]
			q.head = 0
		}
	}
	if len(q.blocks) > 0 {
		// Frames remain; keep the ready signal armed for the next reader.
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return n, q.closed
}

// read waits at most timeout for frames.
func (q *frameQueue) read(dst []int32, timeout time.Duration) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		n, closed := q.take(dst)
		if n > 0 {
			return n, nil
		}
		if closed {
			return 0, ErrSourceClosed
		}
		select {
		case <-q.ready:
		case <-timer.C:
			return 0, capture.ErrReadTimeout
		}
	}
}

func (q *frameQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.blocks = nil
	q.head = 0
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *frameQueue) droppedBlocks() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
