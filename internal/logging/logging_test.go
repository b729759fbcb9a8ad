package logging

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWithLevel(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_STATE_HOME only applies on linux")
	}
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{level: "debug", want: zerolog.DebugLevel},
		{level: "warn", want: zerolog.WarnLevel},
		{level: "", want: zerolog.InfoLevel},
		{level: "chatty", want: zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log := NewWithLevel(tt.level)
			if log.GetLevel() != tt.want {
				t.Fatalf("expected level %s, got %s", tt.want, log.GetLevel())
			}
		})
	}
}

func TestLogFileIsCreated(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_STATE_HOME only applies on linux")
	}
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)

	log := New()
	log.Info().Msg("hello")

	path := filepath.Join(dir, "tunertray", "tunertray.log")
	if LogPath() != path {
		t.Fatalf("expected log path %s, got %s", path, LogPath())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log file to contain the message")
	}
}
