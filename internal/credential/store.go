package credential

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"faultgate/internal/clock"
	"faultgate/internal/platform"
)

const (
	// DefaultTokenType is used when the platform omits token_type
	DefaultTokenType = "Bearer"
	// ValidityMargin is how long before the real expiry a credential is
	// already treated as invalid, so a header handed out now does not expire
	// mid-request.
	ValidityMargin = 60 * time.Second
	// DefaultRefreshInterval is used by StartBackgroundRefresh for a
	// non-positive interval
	DefaultRefreshInterval = 3000 * time.Second

	defaultExpiresIn   = 3600
	defaultStopTimeout = 5 * time.Second
)

// Config contains the token endpoint settings
type Config struct {
	BaseURL        string // e.g. https://host/rest-gateway/rest/api/v1
	Username       string
	Password       string
	RequestTimeout time.Duration
	StopTimeout    time.Duration // bounded wait for the background refresh worker
}

// Credential is an immutable snapshot of the current bearer credential
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// Header returns the Authorization header value
func (c Credential) Header() string {
	return c.TokenType + " " + c.AccessToken
}

// tokenResponse is the shape of both grant replies
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    *int   `json:"expires_in"`
}

// Store owns the process-wide bearer credential. All reads and writes of the
// credential happen under mu, and callers only ever receive copies.
type Store struct {
	config     Config
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger

	mu   sync.Mutex
	cred *Credential

	workerMu sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc
}

// Option customises a Store
type Option func(*Store)

// WithHTTPClient overrides the TLS-relaxed default client
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) { s.httpClient = client }
}

// WithClock overrides the wall clock
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

var (
	shared     *Store
	sharedOnce sync.Once
)

// Shared returns the process-wide Store, constructing it on first use.
// Concurrent first calls still construct exactly one instance; config and
// options of later calls are ignored.
func Shared(config Config, opts ...Option) *Store {
	sharedOnce.Do(func() {
		shared = New(config, opts...)
	})
	return shared
}

// New creates a Store. Most code should obtain the instance through Shared
// and pass it down explicitly.
func New(config Config, opts ...Option) *Store {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.StopTimeout <= 0 {
		config.StopTimeout = defaultStopTimeout
	}

	s := &Store{
		config: config,
		clock:  clock.RealClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.httpClient == nil {
		s.httpClient = platform.NewHTTPClient(config.RequestTimeout)
	}
	s.logger = s.logger.With("component", "credential")

	s.logger.Info("Credential store initialized", "base_url", config.BaseURL)
	return s
}

// AcquireInitial obtains a fresh credential with the client-credentials grant.
// On failure the previous credential, if any, is left untouched and the
// returned error matches platform.ErrAuth.
func (s *Store) AcquireInitial(ctx context.Context) error {
	basic := base64.StdEncoding.EncodeToString([]byte(s.config.Username + ":" + s.config.Password))

	s.logger.Info("Requesting initial token", "url", s.tokenURL())

	resp, err := s.exchange(ctx, map[string]string{"grant_type": "client_credentials"}, map[string]string{
		"Authorization": "Basic " + basic,
	})
	if err != nil {
		s.logger.Error("Failed to obtain initial token", "error", err)
		if errors.Is(err, platform.ErrAuth) {
			return fmt.Errorf("initial token request failed: %w", err)
		}
		return fmt.Errorf("%w: initial token request failed: %w", platform.ErrAuth, err)
	}

	cred := s.install(resp)
	s.logger.Info("Token obtained",
		"token_type", cred.TokenType,
		"expires_at", cred.ExpiresAt)
	return nil
}

// Refresh replaces the credential using the stored refresh token. It fails
// with platform.ErrState when no refresh token is held. A 4xx rejection is
// reported as platform.ErrAuth; recovering from that with AcquireInitial is
// left to the caller.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	var refreshToken string
	if s.cred != nil {
		refreshToken = s.cred.RefreshToken
	}
	s.mu.Unlock()

	if refreshToken == "" {
		return fmt.Errorf("%w: no refresh token available, obtain an initial token first", platform.ErrState)
	}

	s.logger.Info("Refreshing access token")

	resp, err := s.exchange(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}, nil)
	if err != nil {
		s.logger.Error("Failed to refresh token", "error", err)
		if status := platform.StatusOf(err); status >= 400 && status < 500 && !errors.Is(err, platform.ErrAuth) {
			return fmt.Errorf("%w: refresh token rejected: %w", platform.ErrAuth, err)
		}
		return fmt.Errorf("token refresh failed: %w", err)
	}

	cred := s.install(resp)
	s.logger.Info("Token refreshed", "expires_at", cred.ExpiresAt)
	return nil
}

// IsValid reports whether a credential exists and now < expiry - ValidityMargin
func (s *Store) IsValid() bool {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred == nil || s.cred.AccessToken == "" {
		return false
	}
	return now.Before(s.cred.ExpiresAt.Add(-ValidityMargin))
}

// AuthorizationHeader returns "<type> <token>" for the current credential
func (s *Store) AuthorizationHeader() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred == nil || s.cred.AccessToken == "" {
		return "", fmt.Errorf("%w: no access token available, authenticate first", platform.ErrState)
	}
	return s.cred.Header(), nil
}

// Snapshot returns a copy of the current credential
func (s *Store) Snapshot() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred == nil {
		return Credential{}, false
	}
	return *s.cred, true
}

// StartBackgroundRefresh runs Refresh every interval until Stop is called.
// Failures are logged and retried on the next tick only. A non-positive
// interval falls back to DefaultRefreshInterval.
func (s *Store) StartBackgroundRefresh(interval time.Duration) {
	if interval <= 0 {
		s.logger.Warn("Invalid background refresh interval, using default",
			"interval", interval,
			"default", DefaultRefreshInterval)
		interval = DefaultRefreshInterval
	}

	s.workerMu.Lock()
	defer s.workerMu.Unlock()

	if s.done != nil {
		select {
		case <-s.done:
		default:
			s.logger.Warn("Background refresh is already running")
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	s.cancel = cancel

	go s.refreshLoop(ctx, interval, s.stopChan, s.done)
	s.logger.Info("Background refresh started", "interval", interval)
}

func (s *Store) refreshLoop(ctx context.Context, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("Background refresh failed, waiting for next tick", "error", err)
			}
		}
	}
}

// Stop stops the background refresh worker, waiting at most StopTimeout
func (s *Store) Stop() {
	s.workerMu.Lock()
	stop, done, cancel := s.stopChan, s.done, s.cancel
	s.stopChan, s.cancel = nil, nil
	s.workerMu.Unlock()

	if stop == nil {
		return
	}

	s.logger.Info("Stopping background refresh")
	close(stop)
	cancel()

	select {
	case <-done:
		s.logger.Info("Background refresh stopped")
	case <-time.After(s.config.StopTimeout):
		s.logger.Warn("Background refresh did not stop within timeout", "timeout", s.config.StopTimeout)
	}
}

func (s *Store) tokenURL() string {
	return s.config.BaseURL + "/auth/token"
}

func (s *Store) exchange(ctx context.Context, payload map[string]string, headers map[string]string) (*tokenResponse, error) {
	body, err := platform.Do(ctx, s.httpClient, platform.Request{
		Method:  http.MethodPost,
		URL:     s.tokenURL(),
		Headers: headers,
		Body:    payload,
	})
	if err != nil {
		return nil, err
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse token response: %v", platform.ErrProtocol, err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response has no access_token", platform.ErrProtocol)
	}
	return &resp, nil
}

// install swaps in a new credential built from resp as a single update
func (s *Store) install(resp *tokenResponse) Credential {
	expiresIn := defaultExpiresIn
	if resp.ExpiresIn != nil {
		expiresIn = *resp.ExpiresIn
	}
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = DefaultTokenType
	}

	cred := &Credential{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    tokenType,
		ExpiresAt:    s.clock.Now().Add(time.Duration(expiresIn) * time.Second),
	}

	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()

	return *cred
}
