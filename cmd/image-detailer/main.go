package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	imagedetailer "github.com/menta2k/image-detailer"
	"github.com/menta2k/image-detailer/internal/config"
	"github.com/menta2k/image-detailer/internal/utils"
)

var (
	configPath string
	debug      bool
	logFormat  string

	// cfg and logger are set up by the root command before any subcommand runs
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "image-detailer",
	Short:         "Detect and regenerate faces, hands and people in generated images",
	Version:       imagedetailer.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(logFormat, debug)
		slog.SetDefault(logger)

		var err error
		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.GetConfigPath(), "config file (.yaml or .json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text|json")
}

// loadConfig reads the config file. A missing default file falls back to the
// built-in defaults; a missing explicit file is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if !utils.FileExists(configPath) {
		if cmd.Flags().Changed("config") {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		logger.Debug("no config file, using defaults", slog.String("path", configPath))
		return config.Default(), nil
	}

	c, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	logger.Debug("config loaded", slog.String("path", configPath))
	return c, nil
}

func newLogger(format string, debug bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func main() {
	// Cancelled on Ctrl+C or SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
