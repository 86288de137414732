// Package notify sends Telegram alerts for faults of selected severities.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"faultgate/internal/clock"
	"faultgate/internal/fault"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultSeverities trigger an alert when none are configured
var DefaultSeverities = []string{"critical", "major"}

// Sender delivers one Telegram message. *tgbotapi.BotAPI implements it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config contains the notifier settings
type Config struct {
	ChatIDs    []int64
	Severities []string
	Timezone   string
}

// Notifier implements storage.Recorder by alerting Telegram chats
type Notifier struct {
	sender     Sender
	chatIDs    []int64
	severities map[string]bool
	location   *time.Location
	clock      clock.Clock
	logger     *slog.Logger
}

// Option customises a Notifier
type Option func(*Notifier)

// WithClock overrides the clock used for the received timestamp
func WithClock(c clock.Clock) Option {
	return func(n *Notifier) { n.clock = c }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) { n.logger = logger }
}

// NewTelegram connects to the Bot API with token and builds a Notifier
func NewTelegram(token string, config Config, opts ...Option) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	return New(api, config, opts...)
}

// New creates a Notifier on top of sender
func New(sender Sender, config Config, opts ...Option) (*Notifier, error) {
	severities := config.Severities
	if len(severities) == 0 {
		severities = DefaultSeverities
	}

	n := &Notifier{
		sender:     sender,
		chatIDs:    config.ChatIDs,
		severities: make(map[string]bool, len(severities)),
		location:   time.UTC,
		clock:      clock.RealClock{},
		logger:     slog.Default(),
	}
	for _, s := range severities {
		n.severities[strings.ToLower(strings.TrimSpace(s))] = true
	}
	if config.Timezone != "" {
		loc, err := time.LoadLocation(config.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", config.Timezone, err)
		}
		n.location = loc
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "notify")

	n.logger.Info("Telegram notifier initialized",
		"chats", len(n.chatIDs),
		"severities", severities)
	return n, nil
}

// Record alerts every chat when msg's severity is selected. Other
// severities are ignored and reported as success.
func (n *Notifier) Record(msg json.RawMessage) bool {
	severity := fault.Severity(msg)
	if !n.severities[severity] {
		return true
	}

	text := FormatFault(msg, n.clock.Now(), n.location)

	ok := true
	for _, chatID := range n.chatIDs {
		out := tgbotapi.NewMessage(chatID, text)
		out.ParseMode = tgbotapi.ModeMarkdown
		if _, err := n.sender.Send(out); err != nil {
			n.logger.Error("Failed to send alert",
				"chat_id", chatID,
				"severity", severity,
				"error", err)
			ok = false
			continue
		}
		n.logger.Debug("Alert sent", "chat_id", chatID, "severity", severity)
	}
	return ok
}

// Name implements storage.Namer
func (n *Notifier) Name() string {
	return "telegram"
}
