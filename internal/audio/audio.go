package audio

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrReadTimeout is returned by Stream.Read when no frames arrived before the deadline.
	ErrReadTimeout = errors.New("audio: read timed out")
	// ErrOverflow is returned when the device dropped input because nobody read fast enough.
	ErrOverflow = errors.New("audio: input overflowed")
	// ErrExclusiveUnsupported is returned by backends that cannot honour exclusive mode.
	ErrExclusiveUnsupported = errors.New("audio: exclusive mode not supported")
	// ErrStreamClosed is returned when reading from a closed stream.
	ErrStreamClosed = errors.New("audio: stream closed")

	ErrDeviceNotFound = errors.New("audio: device not found")
	ErrUnknownBackend = errors.New("audio: unknown backend")
)

// SharingMode selects whether the device may be shared with other applications.
type SharingMode int

const (
	Exclusive SharingMode = iota
	Shared
)

func (m SharingMode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// PerformanceProfile hints how aggressively the backend should size hardware buffers.
type PerformanceProfile int

const (
	LowLatency PerformanceProfile = iota
	Conservative
)

// SampleFormat is the PCM encoding delivered by a stream. Only S16 is produced today.
type SampleFormat int

const (
	FormatS16 SampleFormat = iota
)

// StreamRequest describes the input stream a caller would like to open.
// SampleRate is a hint: the opened stream reports what the device accepted.
type StreamRequest struct {
	DeviceID   string
	SampleRate int
	Channels   int
	Format     SampleFormat
	Profile    PerformanceProfile
	Sharing    SharingMode
}

// Stream is an open input stream delivering mono signed 16-bit samples.
type Stream interface {
	// SampleRate is the rate the device actually runs at.
	SampleRate() int
	// FramesPerBurst is the device's preferred minimum block size.
	FramesPerBurst() int
	Start() error
	Stop() error
	// Read blocks until len(buf) frames are available or timeout elapses.
	// A timeout with some frames buffered returns the partial count;
	// a timeout with none returns ErrReadTimeout.
	Read(buf []int16, timeout time.Duration) (int, error)
	Close() error
}

// Backend opens input streams on one host audio API.
type Backend interface {
	Name() string
	Open(req StreamRequest) (Stream, error)
	ListDevices() ([]Device, error)
	Close() error
}

// Device represents an audio input device
type Device struct {
	ID      string
	Name    string
	Default bool
}

// Backend names accepted by New.
const (
	BackendMalgo     = "malgo"
	BackendPortAudio = "portaudio"
)

// New initializes the named backend.
func New(name string, log zerolog.Logger) (Backend, error) {
	switch name {
	case BackendMalgo, "":
		return NewMalgo(log)
	case BackendPortAudio:
		return NewPortAudio(log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}
