package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/petems/tunertray/internal/app"
	"github.com/petems/tunertray/internal/audio"
	"github.com/petems/tunertray/internal/config"
	"github.com/petems/tunertray/internal/logging"
	"github.com/petems/tunertray/internal/permissions"
	"github.com/petems/tunertray/internal/tray"
	"github.com/petems/tunertray/internal/tuner"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

var (
	cfgFile  string
	logLevel string
	duration time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "tunertray",
	Short:         "Guitar tuner in the system tray",
	Long:          `TunerTray listens to the microphone and shows the nearest guitar string and how far off it is.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTray()
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print readings to the terminal without the tray",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListen(cmd)
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices for the configured backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "TunerTray %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the platform config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	listenCmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads config, builds the logger and opens the configured backend.
func setup() (*config.Config, zerolog.Logger, audio.Backend, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log := logging.NewWithLevel(cfg.LogLevel)

	backend, err := audio.New(cfg.Audio.Backend, log)
	if err != nil {
		return nil, log, nil, fmt.Errorf("failed to initialize audio: %w", err)
	}
	return cfg, log, backend, nil
}

func runTray() error {
	cfg, log, backend, err := setup()
	if err != nil {
		return err
	}

	// macOS requires explicit microphone approval before capture works
	if err := permissions.EnsurePermissions(log); err != nil {
		backend.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create tray UI first (we'll pass it to app)
	trayUI := tray.New(nil, Version, Commit, log) // App reference set below

	application := app.New(app.Config{
		Backend:       backend,
		Config:        cfg,
		Logger:        log,
		StatusUpdater: trayUI,
	})

	// Set app reference in tray
	trayUI.SetApp(application)

	cfg.Watch(log, application.ApplyConfig)

	log.Info().Str("version", Version).Msg("TunerTray starting...")

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	// Start tray UI - MUST run on main thread; it shuts the app down on exit
	return trayUI.Run(ctx)
}

func runListen(cmd *cobra.Command) error {
	cfg, log, backend, err := setup()
	if err != nil {
		return err
	}

	if err := permissions.EnsurePermissions(log); err != nil {
		backend.Close()
		return err
	}

	out := cmd.OutOrStdout()
	printer := &readingPrinter{}

	application := app.New(app.Config{
		Backend: backend,
		Config:  cfg,
		Logger:  log,
		OnReading: func(r tuner.Reading) {
			if line, ok := printer.next(r); ok {
				fmt.Fprintln(out, line)
			}
		},
	})

	cfg.Watch(log, application.ApplyConfig)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if err := application.StartListening(); err != nil {
		application.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()

	stats := application.Stats()
	log.Info().
		Uint64("delivered", stats.Delivered).
		Uint64("dropped", stats.Dropped).
		Uint64("read_errors", stats.ReadErrors).
		Msg("Stopped listening")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return application.Shutdown(shutdownCtx)
}

func listDevices(cmd *cobra.Command) error {
	_, _, backend, err := setup()
	if err != nil {
		return err
	}
	defer backend.Close()

	devices, err := backend.ListDevices()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEFAULT\tID\tNAME")
	for _, d := range devices {
		mark := ""
		if d.Default {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", mark, d.ID, d.Name)
	}
	return w.Flush()
}

// readingPrinter suppresses repeats so the terminal shows changes only.
type readingPrinter struct {
	last string
}

func (p *readingPrinter) next(r tuner.Reading) (string, bool) {
	line := r.String()
	if r.Stable {
		line += " ✓"
	}
	if line == p.last {
		return "", false
	}
	p.last = line
	return line, true
}
