package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/tunertray/internal/audio"
)

type readResult struct {
	samples []int16
	n       int
	err     error
}

func frame(samples ...int16) readResult {
	return readResult{samples: samples, n: len(samples)}
}

// fakeStream replays scripted reads, then times out like an idle device.
type fakeStream struct {
	sampleRate int
	burst      int
	startErr   error
	reads      chan readResult

	started  atomic.Int32
	stopped  atomic.Int32
	closed   atomic.Int32
	lastRead atomic.Int32
}

func newFakeStream(sampleRate, burst int, script ...readResult) *fakeStream {
	reads := make(chan readResult, len(script))
	for _, r := range script {
		reads <- r
	}
	return &fakeStream{sampleRate: sampleRate, burst: burst, reads: reads}
}

func (f *fakeStream) SampleRate() int     { return f.sampleRate }
func (f *fakeStream) FramesPerBurst() int { return f.burst }

func (f *fakeStream) Start() error {
	f.started.Add(1)
	return f.startErr
}

func (f *fakeStream) Stop() error {
	f.stopped.Add(1)
	return errors.New("stop is best effort")
}

func (f *fakeStream) Read(buf []int16, timeout time.Duration) (int, error) {
	if f.closed.Load() > 0 {
		return 0, audio.ErrStreamClosed
	}
	f.lastRead.Store(int32(len(buf)))
	select {
	case r := <-f.reads:
		copy(buf, r.samples)
		return r.n, r.err
	case <-time.After(timeout):
		return 0, audio.ErrReadTimeout
	}
}

func (f *fakeStream) Close() error {
	f.closed.Add(1)
	return nil
}

type fakeBackend struct {
	mu       sync.Mutex
	openErr  map[audio.SharingMode]error
	streams  []*fakeStream
	requests []audio.StreamRequest
	opened   int
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Open(req audio.StreamRequest) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests = append(b.requests, req)
	if err := b.openErr[req.Sharing]; err != nil {
		return nil, err
	}
	if b.opened >= len(b.streams) {
		return nil, fmt.Errorf("no stream scripted for open #%d", b.opened+1)
	}
	s := b.streams[b.opened]
	b.opened++
	return s, nil
}

func (b *fakeBackend) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

func (b *fakeBackend) Requests() []audio.StreamRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]audio.StreamRequest(nil), b.requests...)
}

func (b *fakeBackend) ListDevices() ([]audio.Device, error) { return nil, nil }
func (b *fakeBackend) Close() error                         { return nil }

// recordingSink logs every callback in order and keeps copies of frames.
type recordingSink struct {
	mu        sync.Mutex
	events    []string
	frames    [][]int16
	counts    []int
	attachErr error
	attached  int
	detached  int
}

func (r *recordingSink) OnStreamConfig(sampleRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("config:%d", sampleRate))
}

func (r *recordingSink) OnPCM(samples []int16, frameCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("pcm:%d", frameCount))
	r.frames = append(r.frames, append([]int16(nil), samples...))
	r.counts = append(r.counts, frameCount)
}

func (r *recordingSink) Attach() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached++
	return r.attachErr
}

func (r *recordingSink) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached++
}

func (r *recordingSink) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingSink) Frames() [][]int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int16(nil), r.frames...)
}

func (r *recordingSink) PCMCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// pcmOnlySink does not implement ConfigListener or Attacher.
type pcmOnlySink struct {
	n atomic.Int32
}

func (p *pcmOnlySink) OnPCM(_ []int16, _ int) { p.n.Add(1) }
