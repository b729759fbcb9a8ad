// Package tuner turns captured PCM into guitar tuning readings.
package tuner

import (
	"fmt"
	"math"
	"sync"
)

// defaultSampleRate is assumed until the stream reports its own.
const defaultSampleRate = 44100

// stableAfter is how many consecutive in-tune readings make a pitch stable.
const stableAfter = 2

// inTuneCents bounds the offset counted towards stability.
const inTuneCents = 20

type Reading struct {
	HasSignal   bool
	FrequencyHz float64
	Cents       float64
	Note        string
	AmplitudeDB float64
	Stable      bool
}

func (r Reading) String() string {
	if !r.HasSignal {
		return "--"
	}
	return fmt.Sprintf("%s %+.0f¢ (%.1f Hz)", r.Note, r.Cents, r.FrequencyHz)
}

// Listener receives readings on the capture goroutine.
type Listener func(Reading)

// Analyzer is a capture sink. It gathers delivered frames into analysis
// windows that overlap by half and emits one Reading per window.
type Analyzer struct {
	mu         sync.Mutex
	settings   Settings
	ref        reference
	sampleRate int
	pending    []int16
	samples    []float64
	yin        yin
	smoothed   float64
	stableHits int
	latest     Reading
	listener   Listener
}

func NewAnalyzer(settings Settings, listener Listener) *Analyzer {
	return &Analyzer{
		settings:   settings,
		ref:        settings.Strings.resolve(),
		sampleRate: defaultSampleRate,
		listener:   listener,
	}
}

// OnStreamConfig resets analysis for a stream running at sampleRate.
func (a *Analyzer) OnStreamConfig(sampleRate int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if sampleRate > 0 {
		a.sampleRate = sampleRate
	}
	a.resetLocked()
}

// OnPCM copies samples; the caller may reuse them after return.
func (a *Analyzer) OnPCM(samples []int16, frameCount int) {
	if frameCount > len(samples) {
		frameCount = len(samples)
	}

	a.mu.Lock()
	a.pending = append(a.pending, samples[:frameCount]...)
	var readings []Reading
	size := a.settings.WindowSize
	hop := size / 2
	for len(a.pending) >= size {
		readings = append(readings, a.analyzeLocked(a.pending[:size]))
		a.pending = a.pending[:copy(a.pending, a.pending[hop:])]
	}
	listener := a.listener
	a.mu.Unlock()

	if listener == nil {
		return
	}
	for _, r := range readings {
		listener(r)
	}
}

// UpdateSettings swaps settings between windows; buffered audio is discarded.
func (a *Analyzer) UpdateSettings(s Settings) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.settings = s
	a.ref = s.Strings.resolve()
	a.resetLocked()
}

func (a *Analyzer) Settings() Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// Latest returns the most recent reading.
func (a *Analyzer) Latest() Reading {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest
}

func (a *Analyzer) resetLocked() {
	a.pending = a.pending[:0]
	a.smoothed = 0
	a.stableHits = 0
	a.latest = Reading{}
}

func (a *Analyzer) analyzeLocked(window []int16) Reading {
	db := levelDB(window)
	freq := -1.0
	if db > a.settings.NoiseFloorDB {
		if cap(a.samples) < len(window) {
			a.samples = make([]float64, len(window))
		}
		x := a.samples[:len(window)]
		for i, s := range window {
			x[i] = float64(s)
		}
		freq = a.yin.detect(x, float64(a.sampleRate), a.settings.MinFreq, a.settings.MaxFreq, a.settings.YinThreshold)
	}

	if freq > 0 {
		a.smoothed = a.smooth(freq)
	} else {
		a.smoothed = 0
	}

	a.latest = a.classify(a.smoothed, db)
	return a.latest
}

func (a *Analyzer) smooth(measured float64) float64 {
	if a.smoothed == 0 {
		return measured
	}
	return a.smoothed + a.settings.SmoothingAlpha*(measured-a.smoothed)
}

func (a *Analyzer) classify(freq, db float64) Reading {
	if freq <= 0 || math.IsNaN(freq) {
		a.stableHits = 0
		return Reading{AmplitudeDB: db}
	}

	idx, cents := a.ref.nearest(freq)
	if math.Abs(cents) < inTuneCents {
		a.stableHits++
	} else {
		a.stableHits = 0
	}

	return Reading{
		HasSignal:   true,
		FrequencyHz: freq,
		Cents:       cents,
		Note:        a.ref.names[idx],
		AmplitudeDB: db,
		Stable:      a.stableHits > stableAfter,
	}
}
