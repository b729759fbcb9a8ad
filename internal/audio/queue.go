package audio

import (
	"encoding/binary"
	"errors"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"
)

const bytesPerSample = 2

// pcmQueue carries S16LE bytes from a backend's callback thread to a
// blocking reader. The writer never blocks: when the ring is full the
// incoming chunk is dropped and the next Read reports ErrOverflow.
type pcmQueue struct {
	ring     *ringbuffer.RingBuffer
	ready    chan struct{}
	done     chan struct{}
	closed   atomic.Bool
	overflow atomic.Bool
	scratch  []byte
}

func newPCMQueue(capacityFrames int) *pcmQueue {
	return &pcmQueue{
		ring:  ringbuffer.New(capacityFrames * bytesPerSample),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// push is called from the audio callback.
func (q *pcmQueue) push(data []byte) {
	if len(data) == 0 || q.closed.Load() {
		return
	}
	if q.ring.Free() < len(data) {
		q.overflow.Store(true)
	} else if _, err := q.ring.Write(data); err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		q.overflow.Store(true)
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// read fills buf as data arrives, draining the ring on every wake-up so a
// request larger than the ring still completes. On timeout it returns what
// it gathered, or ErrReadTimeout when that is nothing. An overflow discards
// the partial block, since the samples around the gap are discontinuous.
func (q *pcmQueue) read(buf []int16, timeout time.Duration) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	filled := 0
	for {
		if q.closed.Load() {
			return 0, ErrStreamClosed
		}
		n, err := q.take(buf[filled:])
		if err != nil {
			return 0, err
		}
		filled += n
		// checked after taking so samples written past a gap are never kept
		if q.overflow.Swap(false) {
			return 0, ErrOverflow
		}
		if filled == len(buf) {
			return filled, nil
		}
		select {
		case <-q.ready:
		case <-q.done:
			return 0, ErrStreamClosed
		case <-timer.C:
			n, err := q.take(buf[filled:])
			if err != nil {
				return 0, err
			}
			filled += n
			if q.overflow.Swap(false) {
				return 0, ErrOverflow
			}
			if filled == 0 {
				return 0, ErrReadTimeout
			}
			return filled, nil
		}
	}
}

// take moves whole samples already in the ring into buf.
func (q *pcmQueue) take(buf []int16) (int, error) {
	avail := min(q.ring.Length()&^1, len(buf)*bytesPerSample)
	if avail == 0 {
		return 0, nil
	}
	return q.drain(buf, avail)
}

func (q *pcmQueue) drain(buf []int16, n int) (int, error) {
	if cap(q.scratch) < n {
		q.scratch = make([]byte, n)
	}
	b := q.scratch[:n]
	got, err := q.ring.Read(b)
	if err != nil {
		if errors.Is(err, ringbuffer.ErrIsEmpty) {
			return 0, nil
		}
		return 0, err
	}
	frames := got / bytesPerSample
	for i := 0; i < frames; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(b[i*bytesPerSample:]))
	}
	return frames, nil
}

func (q *pcmQueue) reset() {
	q.ring.Reset()
	q.overflow.Store(false)
}

func (q *pcmQueue) close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.done)
	}
}
