package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"faultgate/config"
	"faultgate/internal/api"
	"faultgate/internal/credential"
	"faultgate/internal/lifecycle"
	"faultgate/internal/logging"
	"faultgate/internal/metrics"
	"faultgate/internal/notify"
	"faultgate/internal/relay"
	"faultgate/internal/storage"
	"faultgate/internal/stream"
	"faultgate/internal/subscription"
	"faultgate/internal/trails"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout   = 10 * time.Second
	initializeTimeout = 2 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion pipeline and the HTTP gateway",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLogs, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()
	logger.Info("Starting faultgate", "version", Version)

	var (
		collector metrics.Collector = metrics.NewNop()
		gatherer  prometheus.Gatherer
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = metrics.NewPrometheus(reg, cfg.Metrics.Namespace)
		gatherer = reg
	}

	primary, closeSink, err := openSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	extras, closeExtras, err := openRecorders(cfg, logger)
	if err != nil {
		return err
	}
	defer closeExtras()

	sink := storage.Tee(logging.NewSinkLogger(primary, logger), extras...).
		WithMetrics(collector).
		WithLogger(logger)

	credentials := credential.Shared(credential.Config{
		BaseURL:        cfg.Platform.BaseURL,
		Username:       cfg.Platform.Username,
		Password:       cfg.Platform.Password,
		RequestTimeout: cfg.Platform.RequestTimeout.Std(),
	}, credential.WithLogger(logger))

	subscriptions := subscription.NewService(subscription.Config{
		Host:           cfg.Subscription.Host,
		Port:           cfg.Subscription.Port,
		TTL:            cfg.Subscription.TTL.Std(),
		RequestTimeout: cfg.Platform.RequestTimeout.Std(),
	}, credentials, subscription.WithLogger(logger))

	tlsConfig, err := stream.TLSConfig{
		CAFile:     cfg.Kafka.CAFile,
		CertFile:   cfg.Kafka.CertFile,
		KeyFile:    cfg.Kafka.KeyFile,
		Passphrase: cfg.Kafka.Passphrase,
	}.Build()
	if err != nil {
		return fmt.Errorf("failed to load broker TLS material: %w", err)
	}

	var trace io.Writer
	if cfg.Kafka.Trace {
		trace = os.Stdout
	}
	consumer := stream.NewConsumer(
		stream.Config{
			StopTimeout: cfg.Kafka.StopTimeout.Std(),
			RetryDelay:  cfg.Kafka.RetryDelay.Std(),
		},
		stream.NewKafkaReaderFactory(stream.KafkaConfig{
			Brokers: cfg.KafkaBrokers(),
			GroupID: cfg.Kafka.GroupID,
			TLS:     tlsConfig,
		}, logger),
		stream.WithSink(sink),
		stream.WithTrace(trace),
		stream.WithMetrics(collector),
		stream.WithLogger(logger),
	)

	manager := lifecycle.NewManager(lifecycle.Config{
		Category:        cfg.Subscription.Category,
		PropertyFilter:  cfg.Subscription.PropertyFilter,
		RenewalInterval: cfg.Subscription.RenewalInterval.Std(),
		StopTimeout:     cfg.Subscription.StopTimeout.Std(),
	}, credentials, subscriptions, consumer,
		lifecycle.WithMetrics(collector),
		lifecycle.WithLogger(logger),
	)

	initCtx, cancelInit := context.WithTimeout(ctx, initializeTimeout)
	err = manager.Initialize(initCtx, nil)
	cancelInit()
	if err != nil {
		return fmt.Errorf("failed to start alarm pipeline: %w", err)
	}
	defer manager.Shutdown()

	if cfg.Platform.BackgroundRefresh {
		credentials.StartBackgroundRefresh(cfg.Platform.TokenRefreshInterval.Std())
		defer credentials.Stop()
	}

	router := api.NewRouter(api.RouterConfig{
		Credentials: credentials,
		Lifecycle:   manager,
		Sink:        sink,
		Messages:    primary,
		Trails: trails.NewClient(trails.Config{
			BaseURL:        cfg.Trails.BaseURL,
			RequestTimeout: cfg.Platform.RequestTimeout.Std(),
		}, credentials, nil, logger),
		Gatherer: gatherer,
		APIKey:   cfg.Security.APIKey,
		Version:  Version,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		logger.Info("Shutdown signal received, starting graceful shutdown")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}
		// Deferred calls stop the pipeline, then close the sinks.
		return nil
	}
}

// openRecorders builds the optional fan-out targets: the NATS relay and the
// Telegram notifier.
func openRecorders(cfg *config.Config, logger *slog.Logger) ([]storage.Recorder, func(), error) {
	var (
		recorders []storage.Recorder
		closers   []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Relay.URL != "" {
		conn, err := relay.Connect(cfg.Relay.URL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		publisher := relay.NewPublisher(conn, cfg.Relay.Subject, logger)
		recorders = append(recorders, publisher)
		closers = append(closers, func() { publisher.Close() })
	}

	if cfg.Notify.BotToken != "" {
		notifier, err := notify.NewTelegram(cfg.Notify.BotToken, notify.Config{
			ChatIDs:    cfg.Notify.ChatIDs,
			Severities: cfg.Notify.Severities,
			Timezone:   cfg.Notify.Timezone,
		}, notify.WithLogger(logger))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to start telegram notifier: %w", err)
		}
		recorders = append(recorders, notifier)
	}

	return recorders, closeAll, nil
}
