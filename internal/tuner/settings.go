package tuner

import (
	"errors"
	"fmt"
)

// WindowOptions are the analysis window sizes offered to users.
var WindowOptions = []int{2048, 4096, 8192, 16384}

type Settings struct {
	WindowSize     int
	SmoothingAlpha float64
	NoiseFloorDB   float64
	YinThreshold   float64
	MinFreq        float64
	MaxFreq        float64
	Strings        Tuning
}

func DefaultSettings() Settings {
	return Settings{
		WindowSize:     4096,
		SmoothingAlpha: 0.08,
		NoiseFloorDB:   -50,
		YinThreshold:   0.12,
		MinFreq:        70,   // below low E to keep margin
		MaxFreq:        1300, // above high E's upper harmonics
		Strings:        StandardTuning,
	}
}

var errInvalidSettings = errors.New("invalid tuner settings")

func (s Settings) Validate() error {
	switch {
	case s.WindowSize < 512:
		return fmt.Errorf("%w: window size %d is below 512", errInvalidSettings, s.WindowSize)
	case s.SmoothingAlpha <= 0 || s.SmoothingAlpha > 1:
		return fmt.Errorf("%w: smoothing alpha %.2f must be in (0, 1]", errInvalidSettings, s.SmoothingAlpha)
	case s.NoiseFloorDB >= 0:
		return fmt.Errorf("%w: noise floor %.1f dB must be negative", errInvalidSettings, s.NoiseFloorDB)
	case s.YinThreshold <= 0 || s.YinThreshold >= 1:
		return fmt.Errorf("%w: yin threshold %.2f must be in (0, 1)", errInvalidSettings, s.YinThreshold)
	case s.MinFreq <= 0 || s.MaxFreq <= s.MinFreq:
		return fmt.Errorf("%w: frequency range %.0f-%.0f Hz", errInvalidSettings, s.MinFreq, s.MaxFreq)
	}
	if err := s.Strings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errInvalidSettings, err)
	}
	return nil
}
