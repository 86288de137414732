package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"faultgate/internal/clock"
	"faultgate/internal/platform"
)

const (
	// DefaultCategory is the fault notification category
	DefaultCategory = "NSP-FAULT"
	// DefaultPropertyFilter selects which faults are published
	DefaultPropertyFilter = "severity = 'warning'"
	// DefaultTTL is assumed when a renewal reply carries no new expiry
	DefaultTTL = 3400 * time.Second

	subscriptionsPath = "/nbi-notification/api/v1/notifications/subscriptions"
)

// Authorizer supplies the Authorization header for each call
type Authorizer interface {
	AuthorizationHeader() (string, error)
}

// Config contains the subscription endpoint settings
type Config struct {
	Host           string
	Port           int
	BaseURL        string // overrides https://Host:Port when set
	TTL            time.Duration
	RequestTimeout time.Duration
}

// Info is a snapshot of the held subscription. TopicID is set iff ID is set.
type Info struct {
	ID        string     `json:"subscription_id,omitempty"`
	TopicID   string     `json:"topic_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether a subscription is held
func (i Info) Active() bool {
	return i.ID != ""
}

// Service manages the remote fault subscription lifecycle.
//
// State machine: EMPTY -> ACTIVE via Create, ACTIVE -> ACTIVE via Renew,
// ACTIVE -> EMPTY via a confirmed Delete. All fields are guarded by mu.
type Service struct {
	config     Config
	auth       Authorizer
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger

	mu   sync.Mutex
	info Info
}

// Option customises a Service
type Option func(*Service)

// WithHTTPClient overrides the TLS-relaxed default client
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) { s.httpClient = client }
}

// WithClock overrides the wall clock
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a subscription service
func NewService(config Config, auth Authorizer, opts ...Option) *Service {
	if config.BaseURL == "" {
		config.BaseURL = fmt.Sprintf("https://%s:%d", config.Host, config.Port)
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}

	s := &Service{
		config: config,
		auth:   auth,
		clock:  clock.RealClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = platform.NewHTTPClient(config.RequestTimeout)
	}
	s.logger = s.logger.With("component", "subscription")

	s.logger.Info("Subscription service initialized", "base_url", config.BaseURL)
	return s
}

// createRequest is the body of a subscription request
type createRequest struct {
	Categories []category `json:"categories"`
}

type category struct {
	Name           string `json:"name"`
	PropertyFilter string `json:"propertyFilter"`
}

// createResponse is the subscription payload, flat or inside response.data
type createResponse struct {
	SubscriptionID string          `json:"subscriptionId"`
	TopicID        string          `json:"topicId"`
	ExpiresAt      json.RawMessage `json:"expiresAt"`
}

// Create registers a subscription for category/propertyFilter and stores its
// identity. A credential must already be available from the Authorizer.
func (s *Service) Create(ctx context.Context, categoryName, propertyFilter string) (Info, error) {
	header, err := s.auth.AuthorizationHeader()
	if err != nil {
		return Info{}, fmt.Errorf("create subscription: %w", err)
	}

	s.logger.Info("Creating subscription",
		"category", categoryName,
		"property_filter", propertyFilter)

	body, err := platform.Do(ctx, s.httpClient, platform.Request{
		Method:  http.MethodPost,
		URL:     s.config.BaseURL + subscriptionsPath,
		Headers: map[string]string{"Authorization": header},
		Body: createRequest{Categories: []category{{
			Name:           categoryName,
			PropertyFilter: propertyFilter,
		}}},
	})
	if err != nil {
		s.logger.Error("Failed to create subscription", "error", err)
		return Info{}, fmt.Errorf("create subscription: %w", err)
	}

	data, err := platform.UnwrapData(body)
	if err != nil {
		return Info{}, fmt.Errorf("create subscription: %w", err)
	}

	var resp createResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Info{}, fmt.Errorf("%w: create subscription: failed to parse response: %v", platform.ErrProtocol, err)
	}
	if resp.SubscriptionID == "" {
		return Info{}, fmt.Errorf("%w: create subscription: response has no subscriptionId", platform.ErrProtocol)
	}

	expiresAt, err := parseExpiry(resp.ExpiresAt)
	if err != nil {
		s.logger.Warn("Ignoring unparseable subscription expiry", "expires_at", string(resp.ExpiresAt), "error", err)
	}

	info := Info{
		ID:        resp.SubscriptionID,
		TopicID:   resp.TopicID,
		ExpiresAt: expiresAt,
	}
	if info.TopicID == "" {
		// Keep the ID/topic invariant; the caller decides whether a topicless
		// subscription is usable.
		s.logger.Warn("Subscription created without a topic", "subscription_id", info.ID)
	} else {
		s.mu.Lock()
		s.info = info
		s.mu.Unlock()
	}

	s.logger.Info("Subscription created",
		"subscription_id", info.ID,
		"topic_id", info.TopicID,
		"expires_at", info.ExpiresAt)
	return info.clone(), nil
}

// Renew extends the held subscription. It returns false, without touching
// state, when nothing is held or the platform does not confirm the renewal.
func (s *Service) Renew(ctx context.Context) bool {
	current := s.Status()
	if !current.Active() {
		s.logger.Error("No subscription available for renewal")
		return false
	}

	header, err := s.auth.AuthorizationHeader()
	if err != nil {
		s.logger.Error("Failed to renew subscription", "subscription_id", current.ID, "error", err)
		return false
	}

	s.logger.Info("Renewing subscription", "subscription_id", current.ID)

	body, err := platform.Do(ctx, s.httpClient, platform.Request{
		Method:  http.MethodPost,
		URL:     s.config.BaseURL + subscriptionsPath + "/" + current.ID + "/renewals",
		Headers: map[string]string{"Authorization": header},
		Body:    struct{}{},
	})
	if err != nil {
		s.logger.Error("Failed to renew subscription", "subscription_id", current.ID, "error", err)
		return false
	}

	expiresAt := s.renewedExpiry(body)

	s.mu.Lock()
	if s.info.ID == current.ID {
		s.info.ExpiresAt = &expiresAt
	}
	s.mu.Unlock()

	s.logger.Info("Subscription renewed",
		"subscription_id", current.ID,
		"expires_at", expiresAt)
	return true
}

// Delete removes the held subscription. State is cleared only after the
// platform confirms; on failure it is kept so the same ID can be retried.
func (s *Service) Delete(ctx context.Context) bool {
	current := s.Status()
	if !current.Active() {
		s.logger.Warn("No subscription available for deletion")
		return false
	}
	return s.deleteID(ctx, current.ID)
}

// DeleteByID removes subscription id on the platform, whether or not it is
// the held one. Held state is cleared only if it carries the same ID.
func (s *Service) DeleteByID(ctx context.Context, id string) bool {
	if id == "" {
		s.logger.Warn("No subscription ID given for deletion")
		return false
	}
	return s.deleteID(ctx, id)
}

func (s *Service) deleteID(ctx context.Context, id string) bool {
	header, err := s.auth.AuthorizationHeader()
	if err != nil {
		s.logger.Error("Failed to delete subscription", "subscription_id", id, "error", err)
		return false
	}

	s.logger.Info("Deleting subscription", "subscription_id", id)

	_, err = platform.Do(ctx, s.httpClient, platform.Request{
		Method:  http.MethodDelete,
		URL:     s.config.BaseURL + subscriptionsPath + "/" + id,
		Headers: map[string]string{"Authorization": header},
	})
	if err != nil {
		s.logger.Error("Failed to delete subscription", "subscription_id", id, "error", err)
		return false
	}

	s.mu.Lock()
	if s.info.ID == id {
		s.info = Info{}
	}
	s.mu.Unlock()

	s.logger.Info("Subscription deleted", "subscription_id", id)
	return true
}

// Status returns a copy of the held subscription; every field may be empty
func (s *Service) Status() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.clone()
}

// renewedExpiry takes the expiry from the renewal reply when present and
// falls back to now + TTL.
func (s *Service) renewedExpiry(body []byte) time.Time {
	if data, err := platform.UnwrapData(body); err == nil && len(data) > 0 {
		var resp createResponse
		if json.Unmarshal(data, &resp) == nil {
			if t, err := parseExpiry(resp.ExpiresAt); err == nil && t != nil {
				return *t
			}
		}
	}
	return s.clock.Now().Add(s.config.TTL)
}

func (i Info) clone() Info {
	out := i
	if i.ExpiresAt != nil {
		t := *i.ExpiresAt
		out.ExpiresAt = &t
	}
	return out
}

// parseExpiry accepts epoch milliseconds (number or numeric string) or an
// RFC 3339 timestamp. Absent values yield nil.
func parseExpiry(raw json.RawMessage) (*time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, err
		}
	} else {
		text = string(raw)
	}
	if text == "" {
		return nil, nil
	}

	if millis, err := strconv.ParseInt(text, 10, 64); err == nil {
		t := time.UnixMilli(millis).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return nil, fmt.Errorf("unsupported expiry format %q", text)
	}
	return &t, nil
}
