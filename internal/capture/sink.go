package capture

import "sync"

// PCMSink receives captured frames on the capture goroutine. The samples
// slice is only valid for the duration of the call; copy it to retain.
type PCMSink interface {
	OnPCM(samples []int16, frameCount int)
}

// ConfigListener is implemented by sinks that want the negotiated sample
// rate. OnStreamConfig runs once per session, before the first OnPCM.
type ConfigListener interface {
	OnStreamConfig(sampleRate int)
}

// Attacher is implemented by sinks that need per-goroutine setup around
// their callbacks. Attach runs on the capture goroutine before any other
// callback; Detach runs when the loop exits, whichever way it exits.
type Attacher interface {
	Attach() error
	Detach()
}

// FrameAllocator hands out the transient container each frame is
// delivered in. Get may refuse, in which case the frame is dropped.
type FrameAllocator interface {
	Get(n int) ([]int16, bool)
	Put(frame []int16)
}

// FramePool recycles frame containers through a sync.Pool. Requests larger
// than Limit samples are refused; a zero Limit accepts any size.
type FramePool struct {
	Limit int
	pool  sync.Pool
}

// NewFramePool returns a pool refusing frames over limit samples.
func NewFramePool(limit int) *FramePool {
	return &FramePool{Limit: limit}
}

func (p *FramePool) Get(n int) ([]int16, bool) {
	if n <= 0 || (p.Limit > 0 && n > p.Limit) {
		return nil, false
	}
	if v, ok := p.pool.Get().(*[]int16); ok && cap(*v) >= n {
		return (*v)[:n], true
	}
	return make([]int16, n), true
}

func (p *FramePool) Put(frame []int16) {
	if cap(frame) == 0 {
		return
	}
	frame = frame[:0]
	p.pool.Put(&frame)
}
