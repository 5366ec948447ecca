package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/utils"
	"github.com/openmined/syftsync/internal/version"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:     version.AppName,
	Short:   "Keep a local folder in sync with S3, WebDAV and folder backends",
	Version: version.Detailed(),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logLevel.Set(slog.LevelDebug)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd, "")
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default "+config.DefaultConfigPath+")")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	setupLogging(config.DefaultLogPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setupLogging logs to the console and to a rotated file next to the config.
func setupLogging(logFile string) {
	logLevel.Set(slog.LevelInfo)

	stdoutHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		slog.SetDefault(slog.New(stdoutHandler))
		return
	}
	fileHandler := slog.NewTextHandler(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	}, &slog.HandlerOptions{Level: slog.LevelDebug})

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))
}

// loadSettings reads --config (or the default location) plus SYFTSYNC_* env.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	configPath := ""
	if f := cmd.Flag("config"); f != nil {
		configPath = f.Value.String()
	}
	if configPath != "" {
		resolved, err := utils.ResolvePath(configPath)
		if err != nil {
			return nil, err
		}
		configPath = resolved
	}
	return config.Load(config.NewViper(configPath))
}
