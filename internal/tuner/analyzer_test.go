package tuner

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq float64, rate, n int, amplitude float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

type collector struct {
	mu       sync.Mutex
	readings []Reading
}

func (c *collector) listen(r Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings = append(c.readings, r)
}

// feed delivers samples in capture-sized blocks through a reused buffer.
func feed(a *Analyzer, samples []int16, block int) {
	buf := make([]int16, block)
	for off := 0; off < len(samples); off += block {
		n := copy(buf, samples[off:])
		a.OnPCM(buf[:n], n)
		for i := range buf {
			buf[i] = 0
		}
	}
}

func TestAnalyzerDetectsOpenStrings(t *testing.T) {
	for i, freq := range StringFreqs {
		t.Run(StringNames[i], func(t *testing.T) {
			c := &collector{}
			a := NewAnalyzer(DefaultSettings(), c.listen)
			a.OnStreamConfig(44100)

			feed(a, sine(freq, 44100, 4096, 12000), 256)

			require.Len(t, c.readings, 1)
			r := c.readings[0]
			assert.True(t, r.HasSignal)
			assert.Equal(t, StringNames[i], r.Note)
			assert.InDelta(t, freq, r.FrequencyHz, 0.5)
			assert.InDelta(t, 0, r.Cents, 2)
		})
	}
}

func TestAnalyzerOverlapsWindowsAndBecomesStable(t *testing.T) {
	c := &collector{}
	a := NewAnalyzer(DefaultSettings(), c.listen)
	a.OnStreamConfig(44100)

	feed(a, sine(110, 44100, 8192, 12000), 192)

	require.Len(t, c.readings, 3)
	assert.False(t, c.readings[0].Stable)
	assert.False(t, c.readings[1].Stable)
	assert.True(t, c.readings[2].Stable)
	assert.Equal(t, c.readings[2], a.Latest())
}

func TestAnalyzerUsesNegotiatedSampleRate(t *testing.T) {
	c := &collector{}
	a := NewAnalyzer(DefaultSettings(), c.listen)
	a.OnStreamConfig(48000)

	feed(a, sine(146.832, 48000, 4096, 8000), 480)

	require.Len(t, c.readings, 1)
	assert.Equal(t, "D3", c.readings[0].Note)
	assert.InDelta(t, 146.832, c.readings[0].FrequencyHz, 0.5)
}

func TestAnalyzerSilenceHasNoSignal(t *testing.T) {
	c := &collector{}
	a := NewAnalyzer(DefaultSettings(), c.listen)

	feed(a, make([]int16, 4096), 256)

	require.Len(t, c.readings, 1)
	assert.False(t, c.readings[0].HasSignal)
	assert.Less(t, c.readings[0].AmplitudeDB, -50.0)
	assert.Equal(t, "--", c.readings[0].String())
}

func TestAnalyzerQuietSignalIsGated(t *testing.T) {
	c := &collector{}
	a := NewAnalyzer(DefaultSettings(), c.listen)

	// about -73 dBFS
	feed(a, sine(110, 44100, 4096, 10), 256)

	require.Len(t, c.readings, 1)
	assert.False(t, c.readings[0].HasSignal)
}

func TestAnalyzerDetuned(t *testing.T) {
	c := &collector{}
	a := NewAnalyzer(DefaultSettings(), c.listen)

	// 30 cents sharp of A2
	freq := 110 * math.Pow(2, 30.0/1200)
	feed(a, sine(freq, 44100, 4096, 12000), 256)

	require.Len(t, c.readings, 1)
	assert.Equal(t, "A2", c.readings[0].Note)
	assert.InDelta(t, 30, c.readings[0].Cents, 2)
	assert.False(t, c.readings[0].Stable)
}

func TestUpdateSettingsDiscardsBufferedAudio(t *testing.T) {
	c := &collector{}
	a := NewAnalyzer(DefaultSettings(), c.listen)

	feed(a, sine(110, 44100, 3000, 12000), 256)
	s := DefaultSettings()
	s.WindowSize = 2048
	a.UpdateSettings(s)
	feed(a, sine(110, 44100, 2000, 12000), 256)

	assert.Empty(t, c.readings)
	assert.Equal(t, 2048, a.Settings().WindowSize)
}

func TestNearestString(t *testing.T) {
	tests := []struct {
		freq      float64
		wantNote  string
		wantCents float64
	}{
		{freq: 82.4069, wantNote: "E2", wantCents: 0},
		{freq: 116.541, wantNote: "A2", wantCents: 100},
		{freq: 196.0, wantNote: "G3", wantCents: 0},
		{freq: 440.0, wantNote: "E4", wantCents: 500},
		{freq: 75.0, wantNote: "E2", wantCents: -163},
	}
	ref := StandardTuning.resolve()
	for _, tt := range tests {
		idx, cents := ref.nearest(tt.freq)
		assert.Equal(t, tt.wantNote, ref.names[idx], "freq %.3f", tt.freq)
		assert.InDelta(t, tt.wantCents, cents, 1, "freq %.3f", tt.freq)
	}
}

func TestNoteFrequency(t *testing.T) {
	tests := map[string]float64{
		"A4":  440,
		"E2":  82.4069,
		"D2":  73.4162,
		"F#3": 184.997,
		"Gb3": 184.997,
		"C0":  16.3516,
	}
	for note, want := range tests {
		got, err := NoteFrequency(note)
		require.NoError(t, err, note)
		assert.InDelta(t, want, got, 0.01, note)
	}

	for _, bad := range []string{"", "H2", "A", "A#", "E9", "Ex"} {
		_, err := NoteFrequency(bad)
		assert.Error(t, err, bad)
	}
}

func TestStandardTuningMatchesStringTable(t *testing.T) {
	ref := StandardTuning.resolve()
	for i := range StringFreqs {
		assert.InDelta(t, StringFreqs[i], ref.freqs[i], 0.01, StringNames[i])
	}
	// an empty tuning resolves to standard as well
	assert.Equal(t, ref, Tuning{}.resolve())
}

func TestAnalyzerUsesConfiguredTuning(t *testing.T) {
	c := &collector{}
	s := DefaultSettings()
	s.Strings = Tuning{"D2", "A2", "D3", "G3", "B3", "E4"}
	a := NewAnalyzer(s, c.listen)
	a.OnStreamConfig(44100)

	feed(a, sine(73.4162, 44100, 4096, 12000), 256)

	require.Len(t, c.readings, 1)
	assert.Equal(t, "D2", c.readings[0].Note)
	assert.InDelta(t, 0, c.readings[0].Cents, 3)

	// back to standard: the same pitch is now a flat low E
	a.UpdateSettings(DefaultSettings())
	feed(a, sine(73.4162, 44100, 4096, 12000), 256)

	require.Len(t, c.readings, 2)
	assert.Equal(t, "E2", c.readings[1].Note)
	assert.InDelta(t, -200, c.readings[1].Cents, 3)
}

func TestReadingString(t *testing.T) {
	r := Reading{HasSignal: true, Note: "A2", Cents: -4.4, FrequencyHz: 109.72}
	assert.Equal(t, "A2 -4¢ (109.7 Hz)", r.String())
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())

	tests := map[string]func(*Settings){
		"tiny window":      func(s *Settings) { s.WindowSize = 128 },
		"zero smoothing":   func(s *Settings) { s.SmoothingAlpha = 0 },
		"positive floor":   func(s *Settings) { s.NoiseFloorDB = 3 },
		"threshold of one": func(s *Settings) { s.YinThreshold = 1 },
		"inverted range":   func(s *Settings) { s.MinFreq, s.MaxFreq = 500, 100 },
		"unknown note":     func(s *Settings) { s.Strings[0] = "X2" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			s := DefaultSettings()
			mutate(&s)
			assert.ErrorIs(t, s.Validate(), errInvalidSettings)
		})
	}
}
