package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/getlantern/systray"
	"github.com/petems/tunertray/internal/app"
	"github.com/petems/tunertray/internal/audio"
	"github.com/petems/tunertray/internal/logging"
	"github.com/petems/tunertray/internal/tuner"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

const (
	statusIdle      = "idle"
	statusListening = "listening"
	statusSignal    = "signal"
	statusInTune    = "in-tune"
	statusError     = "error"
)

type UI struct {
	app     *app.App
	version string
	commit  string
	log     zerolog.Logger

	mu        sync.Mutex
	lastTitle string

	menuMu      sync.Mutex
	deviceItems map[string]*systray.MenuItem

	// Menu items
	mStartStop *systray.MenuItem
	mCopy      *systray.MenuItem
	mDevices   *systray.MenuItem
	mBackends  *systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.setTitle(titleFor(statusIdle, tuner.Reading{}))
	u.setListeningItem(false)
}

func (u *UI) SetListening() {
	u.setTitle(titleFor(statusListening, tuner.Reading{}))
	u.setListeningItem(true)
}

// SetReading is called on the capture goroutine for every analysis window.
func (u *UI) SetReading(r tuner.Reading) {
	u.setTitle(titleFor(statusForReading(r), r))
}

func (u *UI) SetError() {
	u.setTitle(titleFor(statusError, tuner.Reading{}))
	u.setListeningItem(false)
}

func New(application *app.App, version, commit string, log zerolog.Logger) *UI {
	return &UI{
		app:     application,
		version: version,
		commit:  commit,
		log:     log,
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

// Run blocks on the tray event loop until Quit is chosen or ctx is cancelled.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	u.setTitle(titleFor(statusIdle, tuner.Reading{}))
	systray.SetTooltip("Guitar tuner")

	// Build menu
	u.mStartStop = systray.AddMenuItem("Start Listening", "Open the microphone and start tuning")
	u.mCopy = systray.AddMenuItem("Copy Reading", "Copy the current reading to the clipboard")
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	u.mBackends = systray.AddMenuItem("Audio Backend", "Select audio backend")
	u.buildBackendMenu()

	mTuning := systray.AddMenuItem("Tuning", "Select the note each string is tuned to")
	u.buildTuningMenu(mTuning)

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About TunerTray")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			if err := u.app.Toggle(); err != nil {
				u.log.Error().Err(err).Msg("Failed to start listening")
			}
		case <-u.mCopy.ClickedCh:
			if err := u.app.CopyReading(); err != nil {
				u.log.Warn().Err(err).Msg("Nothing copied")
			}
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) buildDeviceMenu() {
	u.menuMu.Lock()
	defer u.menuMu.Unlock()

	// systray cannot remove items; the previous backend's are hidden
	for _, itm := range u.deviceItems {
		itm.Hide()
	}
	u.deviceItems = nil

	// Get devices from app
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		return
	}

	items := make(map[string]*systray.MenuItem)
	selected := selectedDeviceID(u.app.DeviceID(), devices)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(dev.Name, "")
		if dev.ID == selected {
			item.Check()
		}
		items[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				if err := u.app.SetDevice(deviceID); err != nil {
					u.log.Warn().Err(err).Str("device", deviceName).Msg("Stop listening before changing device")
					continue
				}
				checkOnly(items, deviceID)
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
	u.deviceItems = items
}

func (u *UI) buildBackendMenu() {
	items := make(map[string]*systray.MenuItem)

	for _, name := range []string{audio.BackendMalgo, audio.BackendPortAudio} {
		item := u.mBackends.AddSubMenuItem(name, "")
		if name == u.app.BackendName() {
			item.Check()
		}
		items[name] = item

		go func(name string, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				from := u.app.BackendName()
				if err := u.app.SetBackend(name); err != nil {
					u.log.Warn().Err(err).Str("backend", name).Msg("Failed to change audio backend")
					continue
				}
				checkOnly(items, name)
				u.log.Info().Str("from", from).Str("to", name).Msg("Changed audio backend")
				// device names differ between backends
				u.buildDeviceMenu()
			}
		}(name, item)
	}
}

func (u *UI) buildTuningMenu(parent *systray.MenuItem) {
	items := make(map[string]*systray.MenuItem)
	current := presetName(u.app.Tuning())

	for _, p := range tuner.Presets {
		item := parent.AddSubMenuItem(p.Name, tuningLabel(p.Tuning))
		if p.Name == current {
			item.Check()
		}
		items[p.Name] = item

		go func(name string, t tuner.Tuning, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				if err := u.app.SetTuning(t); err != nil {
					u.log.Warn().Err(err).Str("tuning", name).Msg("Failed to change tuning")
					continue
				}
				checkOnly(items, name)
				u.log.Info().Str("tuning", name).Msg("Changed tuning")
			}
		}(p.Name, p.Tuning, item)
	}
}

// presetName returns the preset matching t, or "" for a custom tuning.
func presetName(t tuner.Tuning) string {
	if t == (tuner.Tuning{}) {
		t = tuner.StandardTuning
	}
	for _, p := range tuner.Presets {
		if p.Tuning == t {
			return p.Name
		}
	}
	return ""
}

func tuningLabel(t tuner.Tuning) string {
	return strings.Join(t[:], " ")
}

func checkOnly(items map[string]*systray.MenuItem, selected string) {
	for id, itm := range items {
		if id == selected {
			itm.Check()
		} else {
			itm.Uncheck()
		}
	}
}

// selectedDeviceID picks the configured device, or the system default when
// none is configured or the configured one is gone.
func selectedDeviceID(configured string, devices []audio.Device) string {
	fallback := ""
	for _, d := range devices {
		if configured != "" && d.ID == configured {
			return d.ID
		}
		if d.Default && fallback == "" {
			fallback = d.ID
		}
	}
	return fallback
}

func (u *UI) openLogs() {
	path := logging.LogPath()

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open logs")
		return
	}
	go cmd.Wait()
}

func (u *UI) showAbout() {
	u.log.Info().
		Str("version", u.version).
		Str("commit", u.commit).
		Str("backend", u.app.BackendName()).
		Msg("TunerTray - guitar tuner")
}

func (u *UI) onExit() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := u.app.Shutdown(ctx); err != nil {
		u.log.Error().Err(err).Msg("Shutdown did not complete")
	}
}

func (u *UI) setListeningItem(listening bool) {
	if u.mStartStop == nil {
		return
	}
	if listening {
		u.mStartStop.SetTitle("Stop Listening")
	} else {
		u.mStartStop.SetTitle("Start Listening")
	}
}

// setTitle skips redundant updates; readings arrive many times a second.
func (u *UI) setTitle(title string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if title == u.lastTitle {
		return
	}
	u.lastTitle = title
	systray.SetTitle(title)
}

// statusForReading maps a reading to the indicator shown next to it
func statusForReading(r tuner.Reading) string {
	switch {
	case !r.HasSignal:
		return statusListening
	case r.Stable:
		return statusInTune
	default:
		return statusSignal
	}
}

// titleFor builds the tray title: guitar, status emoji, and the note while one is heard
func titleFor(status string, r tuner.Reading) string {
	emoji := emojiForStatus(status)
	if !r.HasSignal {
		if status == statusListening {
			return fmt.Sprintf("🎸 %s --", emoji)
		}
		return fmt.Sprintf("🎸 %s", emoji)
	}
	return fmt.Sprintf("🎸 %s %s %+.0f¢", emoji, r.Note, r.Cents)
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case statusListening:
		return "👂" // Listening - no pitch yet
	case statusSignal:
		return "🟡" // Yellow - pitch heard, not settled
	case statusInTune:
		return "🟢" // Green - stable and in tune
	case statusError:
		return "🔴" // Red - microphone failed
	case statusIdle:
		return "⚪️" // White - microphone closed
	default:
		return "⚪️"
	}
}
