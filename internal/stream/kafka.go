package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig contains the broker connection settings
type KafkaConfig struct {
	Brokers     []string
	GroupID     string
	TLS         *tls.Config
	DialTimeout time.Duration
}

// NewKafkaReaderFactory returns a factory that joins GroupID on each topic.
// Without a committed offset the group starts from the earliest message, and
// offsets are committed as messages are read, independent of handler outcome.
func NewKafkaReaderFactory(config KafkaConfig, logger *slog.Logger) ReaderFactory {
	if config.GroupID == "" {
		config.GroupID = DefaultGroupID
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "kafka")

	return func(topic string) (Reader, error) {
		readerConfig := kafka.ReaderConfig{
			Brokers:        config.Brokers,
			GroupID:        config.GroupID,
			Topic:          topic,
			StartOffset:    kafka.FirstOffset,
			CommitInterval: time.Second,
			Dialer: &kafka.Dialer{
				Timeout:   config.DialTimeout,
				DualStack: true,
				TLS:       config.TLS,
			},
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				logger.Error(fmt.Sprintf(msg, args...))
			}),
		}
		if err := readerConfig.Validate(); err != nil {
			return nil, fmt.Errorf("invalid broker configuration: %w", err)
		}

		logger.Info("Kafka reader configured",
			"brokers", config.Brokers,
			"group_id", config.GroupID,
			"topic", topic,
			"tls", config.TLS != nil)
		return &kafkaReader{reader: kafka.NewReader(readerConfig)}, nil
	}
}

type kafkaReader struct {
	reader *kafka.Reader
}

func (k *kafkaReader) ReadMessage(ctx context.Context) (Message, error) {
	m, err := k.reader.ReadMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}, nil
}

func (k *kafkaReader) Close() error {
	return k.reader.Close()
}
