package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"faultgate/config"
	"faultgate/internal/storage"
	"faultgate/internal/storage/jsonl"
	"faultgate/internal/storage/sqlite"

	"github.com/spf13/cobra"
)

var sinkCmd = &cobra.Command{
	Use:   "sink",
	Short: "Inspect the configured message sink",
}

var sinkStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the number of stored messages and the sink size",
	RunE:  runSinkStats,
}

var sinkClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every stored message",
	RunE:  runSinkClear,
}

var sinkListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print stored messages, newest first, as JSON lines",
	RunE:  runSinkList,
}

var (
	listSeverity string
	listLimit    int
)

func init() {
	rootCmd.AddCommand(sinkCmd)
	sinkCmd.AddCommand(sinkStatsCmd)
	sinkCmd.AddCommand(sinkClearCmd)
	sinkCmd.AddCommand(sinkListCmd)

	sinkListCmd.Flags().StringVar(&listSeverity, "severity", "", "Only print messages with this severity")
	sinkListCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of messages; 0 prints all")
}

// openSink opens the durable sink selected by cfg. The returned func
// releases it.
func openSink(cfg *config.Config, logger *slog.Logger) (storage.Archive, func(), error) {
	switch cfg.Sink.Driver {
	case config.SinkSQLite:
		sink, err := sqlite.New(cfg.Sink.SQLitePath, sqlite.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite sink: %w", err)
		}
		return sink, func() { sink.Close() }, nil
	default:
		sink, err := jsonl.New(cfg.Sink.JSONLPath, jsonl.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open jsonl sink: %w", err)
		}
		return sink, func() {}, nil
	}
}

func runSinkStats(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLogs, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	sink, closeSink, err := openSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	fmt.Fprintf(cmd.OutOrStdout(), "sink:       %s\ncount:      %d\nsize_bytes: %d\n",
		storage.NameOf(sink), sink.Count(), sink.SizeBytes())
	return nil
}

func runSinkClear(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLogs, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	sink, closeSink, err := openSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	if !sink.Clear() {
		return fmt.Errorf("failed to clear %s sink", storage.NameOf(sink))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s sink cleared\n", storage.NameOf(sink))
	return nil
}

func runSinkList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLogs, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	sink, closeSink, err := openSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	messages, err := sink.List(cmd.Context(), listSeverity, listLimit)
	if err != nil {
		return fmt.Errorf("failed to list %s sink: %w", storage.NameOf(sink), err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, m := range messages {
		if err := enc.Encode(m); err != nil {
			return err
		}
	}
	return nil
}
