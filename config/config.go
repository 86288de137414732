package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

const (
	SinkJSONL  = "jsonl"
	SinkSQLite = "sqlite"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `json:"server"`
	Security     SecurityConfig     `json:"security"`
	Platform     PlatformConfig     `json:"platform"`
	Subscription SubscriptionConfig `json:"subscription"`
	Kafka        KafkaConfig        `json:"kafka"`
	Sink         SinkConfig         `json:"sink"`
	Relay        RelayConfig        `json:"relay"`
	Notify       NotifyConfig       `json:"notify"`
	Trails       TrailsConfig       `json:"trails"`
	Logging      LoggingConfig      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// SecurityConfig contains gateway security settings
type SecurityConfig struct {
	APIKey string `json:"api_key"` // plain text or bcrypt hash; empty disables auth
}

// PlatformConfig contains the REST gateway credentials
type PlatformConfig struct {
	BaseURL              string   `json:"base_url"` // e.g. https://host/rest-gateway/rest/api/v1
	Username             string   `json:"username"`
	Password             string   `json:"password"`
	RequestTimeout       Duration `json:"request_timeout"`
	TokenRefreshInterval Duration `json:"token_refresh_interval"`
	BackgroundRefresh    bool     `json:"background_refresh"`
}

// SubscriptionConfig contains fault subscription settings
type SubscriptionConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	TTL             Duration `json:"ttl"`
	Category        string   `json:"category"`
	PropertyFilter  string   `json:"property_filter"`
	RenewalInterval Duration `json:"renewal_interval"`
	StopTimeout     Duration `json:"stop_timeout"`
}

// KafkaConfig contains broker connection settings
type KafkaConfig struct {
	Broker      string   `json:"broker"`
	Port        int      `json:"port"`
	GroupID     string   `json:"group_id"`
	CAFile      string   `json:"ca_file"`
	CertFile    string   `json:"cert_file"`
	KeyFile     string   `json:"key_file"`
	Passphrase  string   `json:"passphrase"`
	StopTimeout Duration `json:"stop_timeout"`
	RetryDelay  Duration `json:"retry_delay"`
	Trace       bool     `json:"trace"` // print every fault to stdout
}

// SinkConfig selects the durable message sink
type SinkConfig struct {
	Driver     string `json:"driver"` // "jsonl" or "sqlite"
	JSONLPath  string `json:"jsonl_path"`
	SQLitePath string `json:"sqlite_path"`
}

// RelayConfig contains NATS relay settings; an empty URL disables the relay
type RelayConfig struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

// NotifyConfig contains Telegram alert settings; an empty token disables alerts
type NotifyConfig struct {
	BotToken   string   `json:"bot_token"`
	ChatIDs    []int64  `json:"chat_ids"`
	Severities []string `json:"severities"`
	Timezone   string   `json:"timezone"`
}

// TrailsConfig contains the data API settings
type TrailsConfig struct {
	BaseURL string `json:"base_url"` // e.g. https://host:8443/oms1350/data/npr
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	File      string `json:"file,omitempty"`       // Optional: appended to alongside stdout
	ErrorFile string `json:"error_file,omitempty"` // Optional: error-level records only
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// Duration is a time.Duration that reads "30m"-style strings or whole seconds from JSON
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 6778
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port", ErrInvalidConfig)
	}

	c.Platform.BaseURL = strings.TrimRight(c.Platform.BaseURL, "/")
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("%w: platform base URL is required", ErrInvalidConfig)
	}
	platformURL, err := url.Parse(c.Platform.BaseURL)
	if err != nil || platformURL.Host == "" {
		return fmt.Errorf("%w: platform base URL %q is not an absolute URL", ErrInvalidConfig, c.Platform.BaseURL)
	}
	if c.Platform.Username == "" || c.Platform.Password == "" {
		return fmt.Errorf("%w: platform username and password are required", ErrInvalidConfig)
	}
	if c.Platform.RequestTimeout <= 0 {
		c.Platform.RequestTimeout = Duration(30 * time.Second)
	}
	if c.Platform.TokenRefreshInterval <= 0 {
		c.Platform.TokenRefreshInterval = Duration(3000 * time.Second)
	}

	if c.Subscription.Host == "" {
		c.Subscription.Host = platformURL.Hostname()
	}
	if c.Subscription.Port == 0 {
		c.Subscription.Port = 8544
	}
	if c.Subscription.Port < 0 || c.Subscription.Port > 65535 {
		return fmt.Errorf("%w: invalid subscription port", ErrInvalidConfig)
	}
	if c.Subscription.TTL <= 0 {
		c.Subscription.TTL = Duration(3400 * time.Second)
	}
	if c.Subscription.Category == "" {
		c.Subscription.Category = "NSP-FAULT"
	}
	if c.Subscription.PropertyFilter == "" {
		c.Subscription.PropertyFilter = "severity = 'warning'"
	}
	if c.Subscription.RenewalInterval <= 0 {
		c.Subscription.RenewalInterval = Duration(30 * time.Minute)
	}
	if c.Subscription.StopTimeout <= 0 {
		c.Subscription.StopTimeout = Duration(5 * time.Second)
	}

	if c.Kafka.Broker == "" {
		c.Kafka.Broker = platformURL.Hostname()
	}
	if c.Kafka.Port == 0 {
		c.Kafka.Port = 9193
	}
	if c.Kafka.Port < 0 || c.Kafka.Port > 65535 {
		return fmt.Errorf("%w: invalid kafka port", ErrInvalidConfig)
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "nokia-gateway-group"
	}
	if c.Kafka.CertFile == "" || c.Kafka.KeyFile == "" {
		return fmt.Errorf("%w: kafka client certificate and key are required", ErrInvalidConfig)
	}
	if c.Kafka.StopTimeout <= 0 {
		c.Kafka.StopTimeout = Duration(5 * time.Second)
	}
	if c.Kafka.RetryDelay <= 0 {
		c.Kafka.RetryDelay = Duration(5 * time.Second)
	}

	if c.Sink.Driver == "" {
		c.Sink.Driver = SinkJSONL
	}
	switch c.Sink.Driver {
	case SinkJSONL:
		if c.Sink.JSONLPath == "" {
			c.Sink.JSONLPath = "logs/kafka_messages.jsonl"
		}
	case SinkSQLite:
		if c.Sink.SQLitePath == "" {
			c.Sink.SQLitePath = "./faultgate.db"
		}
	default:
		return fmt.Errorf("%w: unknown sink driver %q", ErrInvalidConfig, c.Sink.Driver)
	}

	if c.Relay.URL != "" && c.Relay.Subject == "" {
		c.Relay.Subject = "faultgate.faults"
	}

	if c.Notify.BotToken != "" {
		if len(c.Notify.ChatIDs) == 0 {
			return fmt.Errorf("%w: notify.chat_ids cannot be empty when a bot token is set", ErrInvalidConfig)
		}
		if c.Notify.Timezone != "" {
			if _, err := time.LoadLocation(c.Notify.Timezone); err != nil {
				return fmt.Errorf("%w: invalid notify timezone %q", ErrInvalidConfig, c.Notify.Timezone)
			}
		}
	}

	if c.Trails.BaseURL == "" {
		c.Trails.BaseURL = fmt.Sprintf("https://%s:8443/oms1350/data/npr", platformURL.Hostname())
	}
	c.Trails.BaseURL = strings.TrimRight(c.Trails.BaseURL, "/")

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}

	return nil
}

// SubscriptionBaseURL returns the notification service root
func (c *Config) SubscriptionBaseURL() string {
	return fmt.Sprintf("https://%s:%d", c.Subscription.Host, c.Subscription.Port)
}

// KafkaBrokers returns the broker address list
func (c *Config) KafkaBrokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Kafka.Broker, c.Kafka.Port)}
}

// Load loads configuration from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Kafka:   KafkaConfig{Trace: true},
		Metrics: MetricsConfig{Enabled: true},
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromEnv loads configuration from environment variables after reading
// .env.local and .env from the working directory. Variables already set in
// the environment win over both files, and .env.local wins over .env.
func LoadFromEnv() (*Config, error) {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}

	config := &Config{
		Server: ServerConfig{
			Host: getEnv("FAULTGATE_HOST", "0.0.0.0"),
			Port: getEnvInt("FAULTGATE_PORT", 6778),
		},
		Security: SecurityConfig{
			APIKey: getEnv("FAULTGATE_API_KEY", ""),
		},
		Platform: PlatformConfig{
			BaseURL:              getEnv("API_BASE_URL", ""),
			Username:             getEnv("API_USERNAME", ""),
			Password:             getEnv("API_PASSWORD", ""),
			RequestTimeout:       Duration(getEnvDuration("FAULTGATE_REQUEST_TIMEOUT", 30*time.Second)),
			TokenRefreshInterval: Duration(time.Duration(getEnvInt("TOKEN_REFRESH_INTERVAL", 3000)) * time.Second),
			BackgroundRefresh:    getEnvBool("FAULTGATE_BACKGROUND_REFRESH", false),
		},
		Subscription: SubscriptionConfig{
			Host:            getEnv("SUBSCRIPTION_HOST", ""),
			Port:            getEnvInt("SUBSCRIPTION_PORT", 8544),
			TTL:             Duration(time.Duration(getEnvInt("SUBSCRIPTION_TIMEOUT", 3400000)) * time.Millisecond),
			Category:        getEnv("FAULTGATE_CATEGORY", "NSP-FAULT"),
			PropertyFilter:  getEnv("FAULTGATE_PROPERTY_FILTER", "severity = 'warning'"),
			RenewalInterval: Duration(getEnvDuration("FAULTGATE_RENEWAL_INTERVAL", 30*time.Minute)),
		},
		Kafka: KafkaConfig{
			Broker:     getEnv("KAFKA_BROKER", ""),
			Port:       getEnvInt("KAFKA_PORT", 9193),
			GroupID:    getEnv("KAFKA_GROUP_ID", "nokia-gateway-group"),
			CAFile:     getEnv("CA", ""),
			CertFile:   getEnv("PEM_CERT", "config/certs/nfmt.pem"),
			KeyFile:    getEnv("KEY", "config/certs/key.pem"),
			Passphrase: getEnv("PASSPHRASE", ""),
			Trace:      getEnvBool("FAULTGATE_TRACE", true),
		},
		Sink: SinkConfig{
			Driver:     getEnv("FAULTGATE_SINK", SinkJSONL),
			JSONLPath:  getEnv("KAFKA_MESSAGES_FILE", "logs/kafka_messages.jsonl"),
			SQLitePath: getEnv("FAULTGATE_SQLITE_PATH", "./faultgate.db"),
		},
		Relay: RelayConfig{
			URL:     getEnv("FAULTGATE_NATS_URL", ""),
			Subject: getEnv("FAULTGATE_NATS_SUBJECT", ""),
		},
		Notify: NotifyConfig{
			BotToken:   getEnv("FAULTGATE_TELEGRAM_TOKEN", ""),
			ChatIDs:    getEnvInt64List("FAULTGATE_TELEGRAM_CHAT_IDS"),
			Severities: getEnvList("FAULTGATE_NOTIFY_SEVERITIES"),
			Timezone:   getEnv("FAULTGATE_TIMEZONE", ""),
		},
		Trails: TrailsConfig{
			BaseURL: getEnv("FAULTGATE_TRAILS_BASE_URL", ""),
		},
		Logging: LoggingConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("FAULTGATE_LOG_FORMAT", "json"),
			File:      getEnv("FAULTGATE_LOG_FILE", ""),
			ErrorFile: getEnv("FAULTGATE_ERROR_LOG_FILE", ""),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("FAULTGATE_METRICS_ENABLED", true),
			Namespace: getEnv("FAULTGATE_METRICS_NAMESPACE", ""),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		fmt.Sscanf(value, "%d", &intVal)
		return intVal
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvInt64List(key string) []int64 {
	var ids []int64
	for _, item := range getEnvList(key) {
		var id int64
		if _, err := fmt.Sscanf(item, "%d", &id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}
