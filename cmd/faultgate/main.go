package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"faultgate/config"
	"faultgate/internal/logging"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

var (
	configPath string
	useEnv     bool
)

var rootCmd = &cobra.Command{
	Use:   "faultgate",
	Short: "Fault-management gateway",
	Long: `faultgate keeps a platform credential and fault subscription alive,
ingests fault notifications from the streaming broker and serves
status and read-only trail queries over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&useEnv, "env", false, "Load configuration from environment variables and .env files")
	rootCmd.Version = Version
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if useEnv {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. The returned func closes any log files.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	loggerConfig := logging.LoggerConfig{
		Format: cfg.Logging.Format,
		Level:  logging.ParseLevel(cfg.Logging.Level),
	}

	var files []io.Closer
	closeFiles := func() {
		for _, f := range files {
			f.Close()
		}
	}

	if cfg.Logging.File != "" {
		f, err := logging.OpenFile(cfg.Logging.File)
		if err != nil {
			return nil, nil, err
		}
		files = append(files, f)
		loggerConfig.Output = io.MultiWriter(os.Stdout, f)
	}
	if cfg.Logging.ErrorFile != "" {
		f, err := logging.OpenFile(cfg.Logging.ErrorFile)
		if err != nil {
			closeFiles()
			return nil, nil, err
		}
		files = append(files, f)
		loggerConfig.ErrorOutput = f
	}

	return logging.NewLogger(loggerConfig), closeFiles, nil
}
