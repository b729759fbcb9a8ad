package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// how often a blocked Read checks for available input
const pollInterval = 2 * time.Millisecond

type portAudioBackend struct {
	log zerolog.Logger
}

// NewPortAudio creates a PortAudio-based backend.
func NewPortAudio(log zerolog.Logger) (Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioBackend{log: log.With().Str("backend", BackendPortAudio).Logger()}, nil
}

func (p *portAudioBackend) Name() string { return BackendPortAudio }

func (p *portAudioBackend) Open(req StreamRequest) (Stream, error) {
	// PortAudio has no portable share mode; let the caller fall back
	if req.Sharing == Exclusive {
		return nil, ErrExclusiveUnsupported
	}
	if req.Format != FormatS16 {
		return nil, fmt.Errorf("unsupported sample format %d", req.Format)
	}

	device, err := p.findDevice(req.DeviceID)
	if err != nil {
		return nil, err
	}

	latency := device.DefaultLowInputLatency
	if req.Profile == Conservative {
		latency = device.DefaultHighInputLatency
	}
	burst := burstFromLatency(latency, float64(req.SampleRate))

	// Open stream: mono, requested sample rate, int16
	buffer := make([]int16, burst*req.Channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: req.Channels,
			Latency:  latency,
		},
		SampleRate:      float64(req.SampleRate),
		FramesPerBuffer: burst,
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	rate := req.SampleRate
	if info := stream.Info(); info != nil && info.SampleRate > 0 {
		rate = int(info.SampleRate)
	}

	p.log.Debug().
		Str("device", device.Name).
		Int("sample_rate", rate).
		Int("burst", burst).
		Dur("latency", latency).
		Msg("Opened audio stream")

	return &portAudioStream{
		stream:     stream,
		buffer:     buffer,
		sampleRate: rate,
		burst:      burst,
	}, nil
}

func (p *portAudioBackend) findDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
}

// burstFromLatency converts a suggested hardware latency into a block size,
// rounded up to a power of two so PortAudio can size host buffers evenly.
func burstFromLatency(latency time.Duration, sampleRate float64) int {
	frames := int(math.Ceil(latency.Seconds() * sampleRate))
	if frames < 64 {
		return 64
	}
	burst := 1
	for burst < frames {
		burst <<= 1
	}
	return burst
}

func (p *portAudioBackend) ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]Device, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, Device{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (p *portAudioBackend) Close() error {
	return portaudio.Terminate()
}

// portAudioStream serves reads of any length from a stream whose hardware
// block is fixed at open time; leftover frames carry over to the next Read.
type portAudioStream struct {
	stream     *portaudio.Stream
	buffer     []int16
	pending    []int16
	sampleRate int
	burst      int

	mu     sync.Mutex
	closed bool
}

func (s *portAudioStream) SampleRate() int     { return s.sampleRate }
func (s *portAudioStream) FramesPerBurst() int { return s.burst }

func (s *portAudioStream) Start() error {
	s.pending = s.pending[:0]
	return s.stream.Start()
}

func (s *portAudioStream) Stop() error {
	return s.stream.Stop()
}

func (s *portAudioStream) Read(buf []int16, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)

	for len(s.pending) < len(buf) {
		ready, err := s.waitAvailable(deadline)
		if err != nil {
			return 0, err
		}
		if !ready {
			if len(s.pending) == 0 {
				return 0, ErrReadTimeout
			}
			break
		}
		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				return 0, ErrOverflow
			}
			return 0, fmt.Errorf("failed to read audio stream: %w", err)
		}
		s.pending = append(s.pending, s.buffer...)
	}

	n := copy(buf, s.pending)
	s.pending = s.pending[:copy(s.pending, s.pending[n:])]
	return n, nil
}

// waitAvailable polls until one hardware block can be read without blocking.
func (s *portAudioStream) waitAvailable(deadline time.Time) (bool, error) {
	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return false, ErrStreamClosed
		}

		avail, err := s.stream.AvailableToRead()
		if err != nil {
			return false, fmt.Errorf("failed to query audio stream: %w", err)
		}
		if avail >= s.burst {
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		time.Sleep(min(pollInterval, remaining))
	}
}

func (s *portAudioStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.stream.Close()
}
