package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
	"github.com/petems/tunertray/internal/audio"
	"github.com/petems/tunertray/internal/capture"
	"github.com/petems/tunertray/internal/config"
	"github.com/petems/tunertray/internal/tuner"
	"github.com/rs/zerolog"
)

var errListening = errors.New("cannot change while listening")

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetListening()
	SetReading(r tuner.Reading)
	SetError()
}

// BackendFactory opens an audio backend by name.
type BackendFactory func(name string, log zerolog.Logger) (audio.Backend, error)

type Config struct {
	Backend       audio.Backend
	NewBackend    BackendFactory // Optional - defaults to audio.New
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater           // Optional - can be nil
	OnReading     func(r tuner.Reading)   // Optional - called on the capture goroutine
	Clipboard     func(text string) error // Optional - defaults to the system clipboard
}

type App struct {
	newBackend BackendFactory
	cfg        *config.Config
	log        zerolog.Logger
	status     StatusUpdater
	onReading  func(tuner.Reading)
	copyText   func(string) error

	mu       sync.Mutex
	backend  audio.Backend
	session  *capture.Session
	analyzer *tuner.Analyzer

	// separate from mu: readings arrive on the capture goroutine, which
	// StopListening joins while holding mu
	readingMu sync.Mutex
	latest    tuner.Reading
}

func New(cfg Config) *App {
	newBackend := cfg.NewBackend
	if newBackend == nil {
		newBackend = audio.New
	}
	copyText := cfg.Clipboard
	if copyText == nil {
		copyText = clipboard.WriteAll
	}
	return &App{
		newBackend: newBackend,
		backend:    cfg.Backend,
		cfg:        cfg.Config,
		log:        cfg.Logger,
		status:     cfg.StatusUpdater,
		onReading:  cfg.OnReading,
		copyText:   copyText,
	}
}

// StartListening opens the microphone and starts feeding the tuner.
// Calling it while already listening does nothing.
func (a *App) StartListening() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil && a.session.Running() {
		return nil
	}
	a.discardSessionLocked()

	if a.backend == nil {
		return errors.New("no audio backend")
	}

	a.log.Info().Str("backend", a.backend.Name()).Msg("Starting tuner")

	analyzer := tuner.NewAnalyzer(a.cfg.Tuner.Settings(), a.handleReading)
	session := capture.NewSession(capture.Config{
		Backend:     a.backend,
		Sink:        analyzer,
		DeviceID:    a.cfg.Audio.DeviceID,
		ReadTimeout: a.cfg.Audio.ReadTimeout,
		Logger:      a.log,
	})

	if err := session.Start(a.cfg.Audio.SampleRate, a.cfg.Audio.FramesPerRead); err != nil {
		a.log.Error().Err(err).Msg("Failed to start capture")
		if a.status != nil {
			a.status.SetError()
		}
		return fmt.Errorf("start capture: %w", err)
	}

	a.session = session
	a.analyzer = analyzer
	if a.status != nil {
		a.status.SetListening()
	}
	return nil
}

// StopListening releases the microphone. It is safe to call when idle.
func (a *App) StopListening() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return
	}
	a.log.Info().Msg("Stopping tuner")
	a.discardSessionLocked()
	if a.status != nil {
		a.status.SetIdle()
	}
}

func (a *App) discardSessionLocked() {
	if a.session == nil {
		return
	}
	a.session.Stop()
	a.session = nil
	a.analyzer = nil
}

// Toggle starts or stops listening.
func (a *App) Toggle() error {
	if a.IsListening() {
		a.StopListening()
		return nil
	}
	return a.StartListening()
}

func (a *App) IsListening() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil && a.session.Running()
}

func (a *App) handleReading(r tuner.Reading) {
	a.readingMu.Lock()
	a.latest = r
	a.readingMu.Unlock()

	if a.status != nil {
		a.status.SetReading(r)
	}
	if a.onReading != nil {
		a.onReading(r)
	}
}

// Latest returns the most recent tuner reading.
func (a *App) Latest() tuner.Reading {
	a.readingMu.Lock()
	defer a.readingMu.Unlock()
	return a.latest
}

// CopyReading puts the latest reading on the clipboard.
func (a *App) CopyReading() error {
	r := a.Latest()
	if !r.HasSignal {
		return errors.New("no pitch detected yet")
	}
	if err := a.copyText(r.String()); err != nil {
		return fmt.Errorf("copy reading: %w", err)
	}
	a.log.Info().Str("reading", r.String()).Msg("Copied reading")
	return nil
}

// Stats reports capture counters for the current session.
func (a *App) Stats() capture.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return capture.Stats{}
	}
	return a.session.Stats()
}

// ApplyConfig takes a reloaded config. Tuner settings apply immediately;
// audio settings apply the next time listening starts.
func (a *App) ApplyConfig(next *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg.Tuner = next.Tuner
	a.cfg.LogLevel = next.LogLevel
	if a.session == nil {
		a.cfg.Audio = next.Audio
	} else if a.cfg.Audio != next.Audio {
		a.log.Info().Msg("Audio settings changed, restart listening to apply")
	}
	if a.analyzer != nil {
		a.analyzer.UpdateSettings(next.Tuner.Settings())
	}
}

// Tray actions

// SetTuning retunes the strings, live if listening, and saves the choice.
func (a *App) SetTuning(t tuner.Tuning) error {
	if err := t.Validate(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.cfg.Tuner.Strings = t
	if a.analyzer != nil {
		a.analyzer.UpdateSettings(a.cfg.Tuner.Settings())
	}
	return a.cfg.Save()
}

// Tuning is the current string tuning.
func (a *App) Tuning() tuner.Tuning {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Tuner.Strings
}

func (a *App) SetDevice(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return errListening
	}

	a.cfg.Audio.DeviceID = id
	return a.cfg.Save()
}

func (a *App) SetBackend(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return errListening
	}
	if a.backend != nil && a.backend.Name() == name {
		return nil
	}

	backend, err := a.newBackend(name, a.log)
	if err != nil {
		return fmt.Errorf("open backend %s: %w", name, err)
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close previous backend")
		}
	}

	a.backend = backend
	a.cfg.Audio.Backend = name
	a.cfg.Audio.DeviceID = ""
	return a.cfg.Save()
}

// DeviceID is the configured capture device; empty means the system default.
func (a *App) DeviceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Audio.DeviceID
}

func (a *App) BackendName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.backend == nil {
		return ""
	}
	return a.backend.Name()
}

func (a *App) ListDevices() ([]audio.Device, error) {
	a.mu.Lock()
	backend := a.backend
	a.mu.Unlock()

	if backend == nil {
		return nil, errors.New("no audio backend")
	}
	return backend.ListDevices()
}

func (a *App) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.StopListening()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.backend != nil {
		err := a.backend.Close()
		a.backend = nil
		return err
	}
	return nil
}
