// Package capture runs the real-time microphone pipeline: it negotiates an
// input stream, reads fixed-size blocks from it on a dedicated goroutine,
// and hands each block to a sink.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petems/tunertray/internal/audio"
	"github.com/rs/zerolog"
)

// DefaultReadTimeout bounds each blocking read, and therefore how long the
// loop takes to notice a stop request.
const DefaultReadTimeout = 200 * time.Millisecond

// ErrNoSink is returned by Start when no sink is registered.
var ErrNoSink = errors.New("capture: no sink registered")

// State is where a Session is in its start/stop lifecycle.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Stats counts what the capture loop did with each read.
type Stats struct {
	Delivered  uint64
	Dropped    uint64
	ReadErrors uint64
	EmptyReads uint64
}

// Config wires a Session to a backend and a sink.
type Config struct {
	Backend     audio.Backend
	Sink        PCMSink
	DeviceID    string
	ReadTimeout time.Duration  // defaults to DefaultReadTimeout
	Allocator   FrameAllocator // defaults to an unbounded FramePool
	Logger      zerolog.Logger
}

// Session owns at most one open stream and the goroutine reading it.
// Start and Stop may be called from any goroutine; they are serialized.
type Session struct {
	backend     audio.Backend
	sink        PCMSink
	deviceID    string
	readTimeout time.Duration
	alloc       FrameAllocator
	log         zerolog.Logger
	errLog      zerolog.Logger

	mu   sync.Mutex
	done chan struct{}

	state   atomic.Int32
	running atomic.Bool
	handle  atomic.Pointer[Negotiated]

	delivered  atomic.Uint64
	dropped    atomic.Uint64
	readErrors atomic.Uint64
	emptyReads atomic.Uint64
}

// NewSession returns a stopped session; nothing is opened until Start.
func NewSession(cfg Config) *Session {
	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	alloc := cfg.Allocator
	if alloc == nil {
		alloc = NewFramePool(0)
	}
	log := cfg.Logger.With().Str("component", "capture").Logger()

	return &Session{
		backend:     cfg.Backend,
		sink:        cfg.Sink,
		deviceID:    cfg.DeviceID,
		readTimeout: timeout,
		alloc:       alloc,
		log:         log,
		errLog:      log.Sample(&zerolog.BasicSampler{N: 50}),
	}
}

// Start negotiates a stream and launches the capture loop. It returns nil
// if capture is running afterwards, including when it already was.
func (s *Session) Start(sampleRate, framesPerRead int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return nil
	}
	// the loop may have exited on its own; reclaim what it left behind
	s.stopLocked()

	if s.sink == nil {
		return ErrNoSink
	}
	if s.backend == nil {
		return errors.New("capture: no audio backend")
	}

	s.state.Store(int32(Starting))

	n, err := Negotiate(s.backend, s.deviceID, sampleRate, framesPerRead)
	if err != nil {
		s.state.Store(int32(Stopped))
		s.log.Warn().Err(err).Int("sample_rate", sampleRate).Msg("Failed to open input stream")
		return err
	}

	if err := n.Stream.Start(); err != nil {
		if cerr := n.Stream.Close(); cerr != nil {
			s.log.Debug().Err(cerr).Msg("Close after failed start")
		}
		s.state.Store(int32(Stopped))
		s.log.Warn().Err(err).Msg("Failed to start input stream")
		return fmt.Errorf("start input stream: %w", err)
	}

	s.handle.Store(n)
	s.running.Store(true)
	s.done = make(chan struct{})
	s.state.Store(int32(Running))

	go s.loop(n, s.done)

	s.log.Info().
		Int("requested_rate", sampleRate).
		Int("sample_rate", n.Stream.SampleRate()).
		Int("frames_per_read", n.FramesPerRead).
		Str("sharing", n.Sharing.String()).
		Msg("Capture started")

	return nil
}

// Stop ends capture. It is safe to call at any time; once it returns the
// loop goroutine has exited and the stream is closed.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopLocked() {
		stats := s.Stats()
		s.log.Info().
			Uint64("delivered", stats.Delivered).
			Uint64("dropped", stats.Dropped).
			Uint64("read_errors", stats.ReadErrors).
			Msg("Capture stopped")
	}
}

func (s *Session) stopLocked() bool {
	n := s.handle.Load()
	if n == nil && s.done == nil {
		return false
	}

	s.state.Store(int32(Stopping))
	s.running.Store(false)

	if n != nil {
		if err := n.Stream.Stop(); err != nil {
			s.log.Debug().Err(err).Msg("Stream stop request failed")
		}
	}
	if s.done != nil {
		<-s.done
		s.done = nil
	}
	if n != nil {
		if err := n.Stream.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Stream close failed")
		}
		s.handle.Store(nil)
	}

	s.state.Store(int32(Stopped))
	return true
}

// Running reports whether the capture loop is active.
func (s *Session) Running() bool {
	return s.running.Load()
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// SampleRate is the negotiated rate of the open stream, or 0.
func (s *Session) SampleRate() int {
	if n := s.handle.Load(); n != nil {
		return n.Stream.SampleRate()
	}
	return 0
}

// FramesPerRead is the resolved read size of the open stream, or 0.
func (s *Session) FramesPerRead() int {
	if n := s.handle.Load(); n != nil {
		return n.FramesPerRead
	}
	return 0
}

// Stats returns a snapshot of the loop counters since the session was created.
func (s *Session) Stats() Stats {
	return Stats{
		Delivered:  s.delivered.Load(),
		Dropped:    s.dropped.Load(),
		ReadErrors: s.readErrors.Load(),
		EmptyReads: s.emptyReads.Load(),
	}
}
