package audio

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

const (
	// period requested for the low-latency profile; miniaudio picks its own otherwise
	lowLatencyPeriodMs   = 10
	conservativePeriodMs = 25
	// ring capacity, in periods, between the callback and the reader
	queuePeriods = 16
)

type malgoBackend struct {
	ctx *malgo.AllocatedContext
	log zerolog.Logger
	mu  sync.Mutex
}

// NewMalgo creates a miniaudio-based backend using the platform's default host API.
func NewMalgo(log zerolog.Logger) (Backend, error) {
	log = log.With().Str("backend", BackendMalgo).Logger()
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Msg(strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio context: %w", err)
	}
	return &malgoBackend{ctx: ctx, log: log}, nil
}

func (b *malgoBackend) Name() string { return BackendMalgo }

func (b *malgoBackend) Open(req StreamRequest) (Stream, error) {
	if req.Format != FormatS16 {
		return nil, fmt.Errorf("unsupported sample format %d", req.Format)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	periodMs := lowLatencyPeriodMs
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(req.Channels)
	cfg.SampleRate = uint32(req.SampleRate)
	cfg.PerformanceProfile = malgo.LowLatency
	if req.Profile == Conservative {
		cfg.PerformanceProfile = malgo.Conservative
		periodMs = conservativePeriodMs
	}
	cfg.PeriodSizeInMilliseconds = uint32(periodMs)
	cfg.Capture.ShareMode = malgo.Shared
	if req.Sharing == Exclusive {
		cfg.Capture.ShareMode = malgo.Exclusive
	}

	// devices must stay referenced until InitDevice has copied the ID
	var devices []malgo.DeviceInfo
	if req.DeviceID != "" {
		var err error
		devices, err = b.ctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate devices: %w", err)
		}
		ptr, ok := findMalgoDevice(devices, req.DeviceID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, req.DeviceID)
		}
		cfg.Capture.DeviceID = ptr
	}

	s := &malgoStream{log: b.log}
	device, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.queue.push(input)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s capture device: %w", req.Sharing, err)
	}

	s.device = device
	s.sampleRate = int(device.SampleRate())
	s.burst = s.sampleRate * periodMs / 1000
	s.queue = newPCMQueue(s.burst * queuePeriods)

	b.log.Debug().
		Str("sharing", req.Sharing.String()).
		Int("sample_rate", s.sampleRate).
		Int("burst", s.burst).
		Msg("Opened capture device")

	return s, nil
}

func findMalgoDevice(devices []malgo.DeviceInfo, id string) (unsafe.Pointer, bool) {
	for i := range devices {
		if devices[i].Name() == id || devices[i].ID.String() == id {
			return devices[i].ID.Pointer(), true
		}
	}
	return nil, false
}

func (b *malgoBackend) ListDevices() ([]Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	infos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]Device, 0, len(infos))
	for _, info := range infos {
		result = append(result, Device{
			ID:      info.Name(),
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return result, nil
}

func (b *malgoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

type malgoStream struct {
	device     *malgo.Device
	queue      *pcmQueue
	sampleRate int
	burst      int
	log        zerolog.Logger
	closeOnce  sync.Once
}

func (s *malgoStream) SampleRate() int     { return s.sampleRate }
func (s *malgoStream) FramesPerBurst() int { return s.burst }

func (s *malgoStream) Start() error {
	s.queue.reset()
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (s *malgoStream) Stop() error {
	if err := s.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

func (s *malgoStream) Read(buf []int16, timeout time.Duration) (int, error) {
	return s.queue.read(buf, timeout)
}

func (s *malgoStream) Close() error {
	s.closeOnce.Do(func() {
		s.queue.close()
		s.device.Uninit()
	})
	return nil
}
