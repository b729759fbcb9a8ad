package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/petems/tunertray/internal/tuner"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	appName    = "tunertray"
	configName = "config"
	configType = "yaml"
	envPrefix  = "TUNERTRAY"
)

type Config struct {
	LogLevel string      `mapstructure:"log_level"`
	Audio    AudioConfig `mapstructure:"audio"`
	Tuner    TunerConfig `mapstructure:"tuner"`

	v *viper.Viper
}

type AudioConfig struct {
	Backend       string        `mapstructure:"backend"` // "malgo" or "portaudio"
	DeviceID      string        `mapstructure:"device_id"`
	SampleRate    int           `mapstructure:"sample_rate"`
	FramesPerRead int           `mapstructure:"frames_per_read"` // 0 = device burst size
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
}

type TunerConfig struct {
	WindowSize     int          `mapstructure:"window_size"`
	SmoothingAlpha float64      `mapstructure:"smoothing_alpha"`
	NoiseFloorDB   float64      `mapstructure:"noise_floor_db"`
	YinThreshold   float64      `mapstructure:"yin_threshold"`
	MinFreq        float64      `mapstructure:"min_freq"`
	MaxFreq        float64      `mapstructure:"max_freq"`
	Strings        tuner.Tuning `mapstructure:"strings"` // low to high, e.g. [D2, A2, D3, G3, B3, E4]
}

// Settings converts the tuner section for the analyzer.
func (t TunerConfig) Settings() tuner.Settings {
	return tuner.Settings{
		WindowSize:     t.WindowSize,
		SmoothingAlpha: t.SmoothingAlpha,
		NoiseFloorDB:   t.NoiseFloorDB,
		YinThreshold:   t.YinThreshold,
		MinFreq:        t.MinFreq,
		MaxFreq:        t.MaxFreq,
		Strings:        t.Strings,
	}
}

func setDefaults(v *viper.Viper) {
	d := tuner.DefaultSettings()

	v.SetDefault("log_level", "info")
	v.SetDefault("audio.backend", "malgo")
	v.SetDefault("audio.device_id", "")
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.frames_per_read", 0)
	v.SetDefault("audio.read_timeout", 200*time.Millisecond)
	v.SetDefault("tuner.window_size", d.WindowSize)
	v.SetDefault("tuner.smoothing_alpha", d.SmoothingAlpha)
	v.SetDefault("tuner.noise_floor_db", d.NoiseFloorDB)
	v.SetDefault("tuner.yin_threshold", d.YinThreshold)
	v.SetDefault("tuner.min_freq", d.MinFreq)
	v.SetDefault("tuner.max_freq", d.MaxFreq)
	v.SetDefault("tuner.strings", d.Strings[:])
}

// Load reads the config file (the platform default when path is empty),
// applies TUNERTRAY_* environment overrides and fills in defaults.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(configDir())
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Audio.Backend {
	case "malgo", "portaudio":
	default:
		return fmt.Errorf("audio.backend: unknown backend %q", c.Audio.Backend)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate: must be positive, got %d", c.Audio.SampleRate)
	}
	if c.Audio.ReadTimeout <= 0 {
		return fmt.Errorf("audio.read_timeout: must be positive, got %s", c.Audio.ReadTimeout)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if err := c.Tuner.Settings().Validate(); err != nil {
		return fmt.Errorf("tuner: %w", err)
	}
	return nil
}

// Path returns the file the config was read from or will be saved to.
func (c *Config) Path() string {
	if c.v != nil {
		if used := c.v.ConfigFileUsed(); used != "" {
			return used
		}
	}
	return filepath.Join(configDir(), configName+"."+configType)
}

// Save writes the config to disk. It goes through a separate viper
// instance: values set on the loaded one would shadow later file edits.
func (c *Config) Save() error {
	v := viper.New()

	v.Set("log_level", c.LogLevel)
	v.Set("audio.backend", c.Audio.Backend)
	v.Set("audio.device_id", c.Audio.DeviceID)
	v.Set("audio.sample_rate", c.Audio.SampleRate)
	v.Set("audio.frames_per_read", c.Audio.FramesPerRead)
	v.Set("audio.read_timeout", c.Audio.ReadTimeout.String())
	v.Set("tuner.window_size", c.Tuner.WindowSize)
	v.Set("tuner.smoothing_alpha", c.Tuner.SmoothingAlpha)
	v.Set("tuner.noise_floor_db", c.Tuner.NoiseFloorDB)
	v.Set("tuner.yin_threshold", c.Tuner.YinThreshold)
	v.Set("tuner.min_freq", c.Tuner.MinFreq)
	v.Set("tuner.max_freq", c.Tuner.MaxFreq)
	v.Set("tuner.strings", c.Tuner.Strings[:])

	path := c.Path()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// sameSettings reports whether two configs would behave identically.
func sameSettings(a, b *Config) bool {
	return a.LogLevel == b.LogLevel && a.Audio == b.Audio && a.Tuner == b.Tuner
}

// Watch reloads the config file whenever it is written and passes every
// valid result that differs from the last one to onChange. Invalid edits
// are logged and ignored.
func (c *Config) Watch(log zerolog.Logger, onChange func(*Config)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		log.Debug().Msg("No config file to watch")
		return
	}
	if _, err := os.Stat(c.v.ConfigFileUsed()); err != nil {
		log.Debug().Err(err).Msg("Config file not on disk, not watching")
		return
	}

	// a copy: the caller keeps mutating c
	last := *c
	w := &watcher{v: c.v, log: log, onChange: onChange, last: &last}
	c.v.OnConfigChange(w.handle)
	c.v.WatchConfig()
}

// watcher turns viper change events into deduplicated config updates.
type watcher struct {
	v        *viper.Viper
	log      zerolog.Logger
	onChange func(*Config)

	mu   sync.Mutex
	last *Config
}

// handle runs after viper has re-read the file. Editors often write more
// than once per save; repeats of the same settings are dropped.
func (w *watcher) handle(event fsnotify.Event) {
	if event.Op&fsnotify.Write != fsnotify.Write && event.Op&fsnotify.Create != fsnotify.Create {
		return
	}

	next, err := decode(w.v)
	if err != nil {
		w.log.Warn().Err(err).Str("path", event.Name).Msg("Ignoring invalid config change")
		return
	}

	w.mu.Lock()
	if sameSettings(w.last, next) {
		w.mu.Unlock()
		return
	}
	w.last = next
	w.mu.Unlock()

	w.log.Info().Str("path", event.Name).Msg("Reloaded config")
	w.onChange(next)
}

// configDir returns the platform-specific config directory
func configDir() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, appName)
}
