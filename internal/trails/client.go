// Package trails is a read-only client for the platform's trail data API.
package trails

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"faultgate/internal/platform"
)

// Errors returned by Client. The underlying platform error stays wrapped.
var (
	// ErrUnauthorized means no credential was available or the platform
	// answered 401.
	ErrUnauthorized = errors.New("upstream rejected the credential")
	// ErrNotFound means the platform answered 404 for the trail or network.
	ErrNotFound = errors.New("resource not found upstream")
	// ErrTimeout means the request deadline passed before a reply arrived.
	ErrTimeout = errors.New("upstream request timed out")
	// ErrUpstream covers every other failure, including a non-JSON body.
	ErrUpstream = errors.New("upstream request failed")
)

// Authorizer supplies the Authorization header for each call
type Authorizer interface {
	AuthorizationHeader() (string, error)
}

// Config contains the data API settings
type Config struct {
	BaseURL        string // e.g. https://host:8443/oms1350/data/npr
	RequestTimeout time.Duration
}

// Client proxies trail queries
type Client struct {
	baseURL    string
	auth       Authorizer
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a trails client. A nil httpClient uses the TLS-relaxed
// platform client.
func NewClient(config Config, auth Authorizer, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = platform.NewHTTPClient(config.RequestTimeout)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		auth:       auth,
		httpClient: httpClient,
		logger:     logger.With("component", "trails"),
	}
}

// TrailList returns the trails of networkID
func (c *Client) TrailList(ctx context.Context, networkID string) (json.RawMessage, error) {
	return c.get(ctx, "/trails/"+url.PathEscape(networkID))
}

// CurrentRoute returns the current route of trailID
func (c *Client) CurrentRoute(ctx context.Context, trailID string) (json.RawMessage, error) {
	return c.get(ctx, "/trails/"+url.PathEscape(trailID)+"/currentRoute")
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	header, err := c.auth.AuthorizationHeader()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	endpoint := c.baseURL + path
	c.logger.Info("Requesting trail data", "endpoint", endpoint)

	body, err := platform.Do(ctx, c.httpClient, platform.Request{
		Method:  http.MethodGet,
		URL:     endpoint,
		Headers: map[string]string{"Authorization": header},
	})
	if err != nil {
		mapped := classify(err)
		c.logger.Error("Trail data request failed", "endpoint", endpoint, "error", err)
		return nil, mapped
	}

	if !json.Valid(body) {
		c.logger.Error("Trail data is not JSON", "endpoint", endpoint)
		return nil, fmt.Errorf("%w: response is not JSON", ErrUpstream)
	}
	return json.RawMessage(body), nil
}

// classify maps platform errors onto the client's error set
func classify(err error) error {
	switch status := platform.StatusOf(err); {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case platform.IsTimeout(err):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
}
