package capture

import (
	"errors"
	"fmt"

	"github.com/petems/tunertray/internal/audio"
)

// Negotiated is an open input stream together with the frame count the
// capture loop reads per call.
type Negotiated struct {
	Stream        audio.Stream
	FramesPerRead int
	Sharing       audio.SharingMode
}

// OpenError reports that the device refused both the exclusive and the
// shared configuration.
type OpenError struct {
	Exclusive error
	Shared    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open input stream: exclusive: %v; shared: %v", e.Exclusive, e.Shared)
}

func (e *OpenError) Unwrap() []error {
	return []error{e.Exclusive, e.Shared}
}

// ErrInvalidSampleRate is returned for a non-positive requested sample rate.
var ErrInvalidSampleRate = errors.New("capture: sample rate must be positive")

// Negotiate opens a mono S16 low-latency input stream, preferring
// exclusive mode and retrying once in shared mode. A framesPerRead of zero
// or less resolves to the device's burst size; any positive value is used
// as given, even if the device would prefer another size.
func Negotiate(backend audio.Backend, deviceID string, sampleRate, framesPerRead int) (*Negotiated, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSampleRate, sampleRate)
	}

	req := audio.StreamRequest{
		DeviceID:   deviceID,
		SampleRate: sampleRate,
		Channels:   1,
		Format:     audio.FormatS16,
		Profile:    audio.LowLatency,
		Sharing:    audio.Exclusive,
	}

	stream, exclusiveErr := backend.Open(req)
	if exclusiveErr != nil {
		req.Sharing = audio.Shared
		var sharedErr error
		stream, sharedErr = backend.Open(req)
		if sharedErr != nil {
			return nil, &OpenError{Exclusive: exclusiveErr, Shared: sharedErr}
		}
	}

	if framesPerRead <= 0 {
		framesPerRead = stream.FramesPerBurst()
	}

	return &Negotiated{
		Stream:        stream,
		FramesPerRead: framesPerRead,
		Sharing:       req.Sharing,
	}, nil
}
