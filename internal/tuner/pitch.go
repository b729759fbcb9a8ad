package tuner

import (
	"fmt"
	"math"
	"strconv"
)

// Guitar strings in standard tuning, low to high.
var (
	StringNames = [...]string{"E2", "A2", "D3", "G3", "B3", "E4"}
	StringFreqs = [...]float64{82.4069, 110.0, 146.832, 195.998, 246.942, 329.628}
)

// Tuning names the note each string is tuned to, low to high.
// An empty entry keeps that string's standard note.
type Tuning [6]string

// StandardTuning is E A D G B E.
var StandardTuning = Tuning(StringNames)

// Presets are the alternate tunings offered in menus.
var Presets = []struct {
	Name   string
	Tuning Tuning
}{
	{"Standard", StandardTuning},
	{"Drop D", Tuning{"D2", "A2", "D3", "G3", "B3", "E4"}},
	{"Half Step Down", Tuning{"D#2", "G#2", "C#3", "F#3", "A#3", "D#4"}},
	{"DADGAD", Tuning{"D2", "A2", "D3", "G3", "A3", "D4"}},
	{"Open G", Tuning{"D2", "G2", "D3", "G3", "B3", "D4"}},
}

var semitones = map[byte]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

// NoteFrequency converts scientific pitch notation such as "A4", "F#3" or
// "Bb1" to Hz, with A4 at 440 Hz in equal temperament.
func NoteFrequency(note string) (float64, error) {
	if len(note) < 2 {
		return 0, fmt.Errorf("note %q: too short", note)
	}
	semi, ok := semitones[note[0]]
	if !ok {
		return 0, fmt.Errorf("note %q: unknown letter", note)
	}
	rest := note[1:]
	switch rest[0] {
	case '#':
		semi++
		rest = rest[1:]
	case 'b':
		semi--
		rest = rest[1:]
	}
	octave, err := strconv.Atoi(rest)
	if err != nil || octave < 0 || octave > 8 {
		return 0, fmt.Errorf("note %q: octave must be 0-8", note)
	}
	midi := (octave+1)*12 + semi
	return 440 * math.Pow(2, float64(midi-69)/12), nil
}

// Validate reports the first note that cannot be parsed.
func (t Tuning) Validate() error {
	for i, n := range t {
		if n == "" {
			continue
		}
		if _, err := NoteFrequency(n); err != nil {
			return fmt.Errorf("string %d: %w", i+1, err)
		}
	}
	return nil
}

// reference is a tuning resolved to frequencies.
type reference struct {
	names [6]string
	freqs [6]float64
}

// resolve fills empty or unparsable entries from standard tuning.
func (t Tuning) resolve() reference {
	var r reference
	for i := range t {
		r.names[i], r.freqs[i] = StringNames[i], StringFreqs[i]
		if t[i] == "" {
			continue
		}
		if f, err := NoteFrequency(t[i]); err == nil {
			r.names[i], r.freqs[i] = t[i], f
		}
	}
	return r
}

// levelDB returns the RMS level of samples in dBFS.
func levelDB(samples []int16) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return 20 * math.Log10(rms+1e-10)
}

// yin holds scratch space reused across detections.
type yin struct {
	diff []float64
	cmnd []float64
}

// detect estimates the fundamental of x using the YIN cumulative mean
// normalized difference. It returns -1 when no lag in
// [rate/maxFreq, rate/minFreq] dips below threshold.
func (y *yin) detect(x []float64, rate, minFreq, maxFreq, threshold float64) float64 {
	maxTau := int(rate / minFreq)
	minTau := int(rate / maxFreq)
	if minTau < 1 {
		minTau = 1
	}
	if maxTau+2 >= len(x) {
		maxTau = len(x) - 3
	}
	if maxTau <= minTau {
		return -1
	}
	n := len(x) - maxTau - 1

	if cap(y.diff) < maxTau+2 {
		y.diff = make([]float64, maxTau+2)
		y.cmnd = make([]float64, maxTau+2)
	}
	diff := y.diff[:maxTau+2]
	cmnd := y.cmnd[:maxTau+2]

	for tau := 1; tau < len(diff); tau++ {
		var sum float64
		for i := 0; i < n; i++ {
			d := x[i] - x[i+tau]
			sum += d * d
		}
		diff[tau] = sum
	}

	cmnd[0] = 1
	var running float64
	for tau := 1; tau < len(cmnd); tau++ {
		running += diff[tau]
		if running == 0 {
			cmnd[tau] = 1
			continue
		}
		cmnd[tau] = diff[tau] * float64(tau) / running
	}

	best := -1
	for tau := minTau; tau <= maxTau; tau++ {
		if cmnd[tau] < threshold {
			for tau+1 <= maxTau && cmnd[tau+1] < cmnd[tau] {
				tau++
			}
			best = tau
			break
		}
	}
	if best < 0 {
		return -1
	}

	refined := float64(best) + parabolicShift(cmnd[best-1], cmnd[best], cmnd[best+1])
	if refined <= 0 {
		return -1
	}
	return rate / refined
}

func parabolicShift(left, center, right float64) float64 {
	den := left - 2*center + right
	if den == 0 {
		return 0
	}
	return 0.5 * (left - right) / den
}

// nearest returns the index of the closest string and the signed offset
// from it in cents.
func (r reference) nearest(freq float64) (int, float64) {
	best := 0
	bestAbs := math.MaxFloat64
	var cents float64
	for i, ref := range r.freqs {
		c := 1200 * math.Log2(freq/ref)
		if a := math.Abs(c); a < bestAbs {
			best, bestAbs, cents = i, a, c
		}
	}
	return best, cents
}
