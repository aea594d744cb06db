package cli

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/queuerunner/internal/control"
	"github.com/vietddude/queuerunner/internal/core/config"
)

const defaultConfigPath = "config.yaml"

var (
	cfgPath string
	isDebug bool
	modes   Modes
)

// Modes selects the pipelines to run, in queue, process, finalize order.
type Modes struct {
	Queue    bool
	Process  bool
	Finalize bool
}

// Any reports whether at least one mode is selected.
func (m Modes) Any() bool {
	return m.Queue || m.Process || m.Finalize
}

var rootCmd = &cobra.Command{
	Use:   "queuerunner",
	Short: "Work queue ingestion and processing",
	Long: `queuerunner fills a work queue from a candidate source, processes the queued
items one at a time with environment recovery, and runs a finalize step.`,
	Run: runRoot,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath, "config file")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&modes.Queue, "queue", false, "populate the queue from the candidate source")
	rootCmd.Flags().BoolVar(&modes.Process, "process", false, "process the queued items")
	rootCmd.Flags().BoolVar(&modes.Finalize, "finalize", false, "run the finalize step")
}

// loadConfig reads the config file. A missing default config file means
// defaults plus environment.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	_ = godotenv.Load()

	path := cfgPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

func setupLogging(cfg *config.AppConfig) {
	slogLevel := slog.LevelInfo
	switch {
	case isDebug || cfg.Logging.Level == "debug":
		slogLevel = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		slogLevel = slog.LevelWarn
	case cfg.Logging.Level == "error":
		slogLevel = slog.LevelError
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
}

func runRoot(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	if !modes.Any() {
		slog.Warn("No mode selected, use --queue, --process and/or --finalize")
		_ = cmd.Help()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.New(ctx, cfg, control.Options{})
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}

	err = Run(ctx, app, modes)
	_ = app.Close()
	if err != nil {
		os.Exit(1)
	}
}

// Run executes the selected modes in order. Populate and process failures are
// logged and do not stop later modes; the finalize error is returned.
func Run(ctx context.Context, app *control.App, m Modes) error {
	if m.Queue {
		if _, err := app.Populate(ctx); err != nil {
			slog.Error("Populating queue failed", "error", err)
		}
	}

	if m.Process {
		slog.Info("Processing workqueue...")
		if _, err := app.Process(ctx); err != nil {
			slog.Error("Processing workqueue failed", "error", err)
		}
		slog.Info("Finished processing workqueue.")
	}

	if m.Finalize {
		if err := app.Finalize(ctx); err != nil {
			return err
		}
	}
	return nil
}
