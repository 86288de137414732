package platform

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds every REST call made to the platform.
const DefaultRequestTimeout = 30 * time.Second

// NewHTTPClient returns a client for the platform's REST endpoints.
// Certificate verification is disabled: deployments terminate TLS with a
// self-signed chain that is not distributed to clients.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Request describes one JSON call against the platform.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any // marshalled as JSON when non-nil
}

// Do executes req and returns the raw response body for 2xx replies.
// Non-2xx replies and transport failures are mapped to the error taxonomy.
func Do(ctx context.Context, client *http.Client, req Request) ([]byte, error) {
	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, TransportError(req.Method+" "+req.URL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, TransportError("read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, StatusError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

// UnwrapData returns the payload of a reply that may or may not be wrapped
// in the platform's {"response": {"data": ...}} envelope.
func UnwrapData(body []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var envelope struct {
		Response *struct {
			Data json.RawMessage `json:"data"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrProtocol, err)
	}
	if envelope.Response != nil && len(envelope.Response.Data) > 0 {
		return envelope.Response.Data, nil
	}
	return body, nil
}
