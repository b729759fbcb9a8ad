package tray

import (
	"testing"

	"github.com/petems/tunertray/internal/audio"
	"github.com/petems/tunertray/internal/tuner"
)

func TestStatusForReading(t *testing.T) {
	tests := []struct {
		name     string
		reading  tuner.Reading
		expected string
	}{
		{
			name:     "no signal",
			reading:  tuner.Reading{},
			expected: statusListening,
		},
		{
			name:     "unsettled pitch",
			reading:  tuner.Reading{HasSignal: true, Note: "E2", Cents: -35},
			expected: statusSignal,
		},
		{
			name:     "stable pitch",
			reading:  tuner.Reading{HasSignal: true, Note: "E2", Cents: 3, Stable: true},
			expected: statusInTune,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForReading(tt.reading); got != tt.expected {
				t.Errorf("expected status %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestTitleFor(t *testing.T) {
	tests := []struct {
		name     string
		status   string
		reading  tuner.Reading
		expected string
	}{
		{
			name:     "idle",
			status:   statusIdle,
			expected: "🎸 ⚪️",
		},
		{
			name:     "error",
			status:   statusError,
			expected: "🎸 🔴",
		},
		{
			name:     "listening without pitch",
			status:   statusListening,
			expected: "🎸 👂 --",
		},
		{
			name:     "flat string",
			status:   statusSignal,
			reading:  tuner.Reading{HasSignal: true, Note: "A2", Cents: -12.4},
			expected: "🎸 🟡 A2 -12¢",
		},
		{
			name:     "in tune",
			status:   statusInTune,
			reading:  tuner.Reading{HasSignal: true, Note: "G3", Cents: 0.2, Stable: true},
			expected: "🎸 🟢 G3 +0¢",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := titleFor(tt.status, tt.reading); got != tt.expected {
				t.Errorf("expected title %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestEmojiForUnknownStatus(t *testing.T) {
	if got := emojiForStatus("bogus"); got != emojiForStatus(statusIdle) {
		t.Errorf("expected idle emoji for unknown status, got %s", got)
	}
}

func TestSelectedDeviceID(t *testing.T) {
	builtin := audio.Device{ID: "Built-in Microphone", Name: "Built-in Microphone", Default: true}
	usb := audio.Device{ID: "USB Audio", Name: "USB Audio"}
	devices := []audio.Device{usb, builtin}

	tests := []struct {
		name       string
		configured string
		devices    []audio.Device
		expected   string
	}{
		{name: "none configured", configured: "", devices: devices, expected: builtin.ID},
		{name: "configured present", configured: usb.ID, devices: devices, expected: usb.ID},
		// after a backend switch the old device name is not listed
		{name: "configured missing", configured: "hw:1,0", devices: devices, expected: builtin.ID},
		{name: "no default", configured: "", devices: []audio.Device{usb}, expected: ""},
		{name: "no devices", configured: usb.ID, devices: nil, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectedDeviceID(tt.configured, tt.devices); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestPresetName(t *testing.T) {
	tests := []struct {
		name     string
		tuning   tuner.Tuning
		expected string
	}{
		{name: "standard", tuning: tuner.StandardTuning, expected: "Standard"},
		{name: "unset", tuning: tuner.Tuning{}, expected: "Standard"},
		{name: "drop d", tuning: tuner.Tuning{"D2", "A2", "D3", "G3", "B3", "E4"}, expected: "Drop D"},
		{name: "custom", tuning: tuner.Tuning{"C2", "G2", "C3", "F3", "A3", "D4"}, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := presetName(tt.tuning); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestTuningLabel(t *testing.T) {
	if got := tuningLabel(tuner.StandardTuning); got != "E2 A2 D3 G3 B3 E4" {
		t.Errorf("unexpected label %q", got)
	}
}
