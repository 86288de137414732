package credential

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"faultgate/internal/clock"
	"faultgate/internal/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// tokenServer stubs the platform token endpoint. responses are served in order,
// the last one repeating.
type tokenServer struct {
	*httptest.Server
	mu        sync.Mutex
	requests  []map[string]string
	auth      []string
	responses []stubResponse
}

type stubResponse struct {
	status int
	body   map[string]interface{}
}

func newTokenServer(t *testing.T, responses ...stubResponse) *tokenServer {
	ts := &tokenServer{responses: responses}
	ts.Server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/token", r.URL.Path)

		var payload map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		ts.mu.Lock()
		idx := len(ts.requests)
		ts.requests = append(ts.requests, payload)
		ts.auth = append(ts.auth, r.Header.Get("Authorization"))
		if idx >= len(ts.responses) {
			idx = len(ts.responses) - 1
		}
		resp := ts.responses[idx]
		ts.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		json.NewEncoder(w).Encode(resp.body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) request(i int) (map[string]string, string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.requests[i], ts.auth[i]
}

func (ts *tokenServer) requestCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.requests)
}

func ok(access, refresh string, expiresIn int) stubResponse {
	return stubResponse{status: http.StatusOK, body: map[string]interface{}{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    expiresIn,
	}}
}

func newTestStore(ts *tokenServer, clk clock.Clock) *Store {
	return New(Config{
		BaseURL:  ts.URL + "/",
		Username: "api_user",
		Password: "secret",
	}, WithClock(clk), WithLogger(testLogger()), WithHTTPClient(platform.NewHTTPClient(2*time.Second)))
}

func TestStore_AcquireInitial(t *testing.T) {
	ts := newTokenServer(t, ok("T1", "R1", 3600))
	store := newTestStore(ts, clock.NewMockClock(time.Now()))

	require.NoError(t, store.AcquireInitial(context.Background()))

	assert.True(t, store.IsValid())
	header, err := store.AuthorizationHeader()
	require.NoError(t, err)
	assert.Equal(t, "Bearer T1", header)

	require.Equal(t, 1, ts.requestCount())
	payload, auth := ts.request(0)
	assert.Equal(t, "client_credentials", payload["grant_type"])
	assert.Equal(t, "Basic YXBpX3VzZXI6c2VjcmV0", auth)
}

func TestStore_AcquireInitial_NearExpiry(t *testing.T) {
	ts := newTokenServer(t, ok("T1", "R1", 30))
	store := newTestStore(ts, clock.NewMockClock(time.Now()))

	require.NoError(t, store.AcquireInitial(context.Background()))

	assert.False(t, store.IsValid(), "30s left is inside the 60s validity margin")
	_, err := store.AuthorizationHeader()
	assert.NoError(t, err)
}

func TestStore_AcquireInitial_DefaultsTokenTypeAndExpiry(t *testing.T) {
	ts := newTokenServer(t, stubResponse{status: http.StatusOK, body: map[string]interface{}{
		"access_token": "T1",
	}})
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store := newTestStore(ts, clock.NewMockClock(start))

	require.NoError(t, store.AcquireInitial(context.Background()))

	cred, ok := store.Snapshot()
	require.True(t, ok)
	assert.Equal(t, DefaultTokenType, cred.TokenType)
	assert.Equal(t, start.Add(time.Hour), cred.ExpiresAt)
}

func TestStore_IsValid_Boundary(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.NewMockClock(start)
	ts := newTokenServer(t, ok("T1", "R1", 3600))
	store := newTestStore(ts, clk)

	assert.False(t, store.IsValid(), "no credential yet")

	require.NoError(t, store.AcquireInitial(context.Background()))

	clk.Set(start.Add(3600*time.Second - ValidityMargin - time.Nanosecond))
	assert.True(t, store.IsValid())

	clk.Set(start.Add(3600*time.Second - ValidityMargin))
	assert.False(t, store.IsValid(), "exactly expiry minus margin is invalid")

	clk.Set(start.Add(2 * time.Hour))
	assert.False(t, store.IsValid())
}

func TestStore_AcquireInitial_FailureKeepsPrevious(t *testing.T) {
	ts := newTokenServer(t,
		ok("T1", "R1", 3600),
		stubResponse{status: http.StatusUnauthorized, body: map[string]interface{}{"error": "bad credentials"}},
	)
	store := newTestStore(ts, clock.NewMockClock(time.Now()))

	require.NoError(t, store.AcquireInitial(context.Background()))
	err := store.AcquireInitial(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrAuth)

	header, err := store.AuthorizationHeader()
	require.NoError(t, err)
	assert.Equal(t, "Bearer T1", header)
}

func TestStore_AcquireInitial_NetworkFailureIsAuthError(t *testing.T) {
	ts := newTokenServer(t, ok("T1", "R1", 3600))
	ts.Close()
	store := newTestStore(ts, clock.NewMockClock(time.Now()))

	err := store.AcquireInitial(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrAuth)
	assert.ErrorIs(t, err, platform.ErrNetwork)
}

func TestStore_AcquireInitial_MissingAccessToken(t *testing.T) {
	ts := newTokenServer(t, stubResponse{status: http.StatusOK, body: map[string]interface{}{"token_type": "Bearer"}})
	store := newTestStore(ts, clock.NewMockClock(time.Now()))

	err := store.AcquireInitial(context.Background())
	assert.ErrorIs(t, err, platform.ErrProtocol)
	_, ok := store.Snapshot()
	assert.False(t, ok)
}

func TestStore_Refresh(t *testing.T) {
	ts := newTokenServer(t, ok("T1", "R1", 3600), ok("T2", "R2", 3600))
	store := newTestStore(ts, clock.NewMockClock(time.Now()))

	require.NoError(t, store.AcquireInitial(context.Background()))
	require.NoError(t, store.Refresh(context.Background()))

	require.Equal(t, 2, ts.requestCount())
	payload, auth := ts.request(1)
	assert.Equal(t, "refresh_token", payload["grant_type"])
	assert.Equal(t, "R1", payload["refresh_token"])
	assert.Empty(t, auth)

	cred, _ := store.Snapshot()
	assert.Equal(t, "T2", cred.AccessToken)
	assert.Equal(t, "R2", cred.RefreshToken)
}

func TestStore_Refresh_NoRefreshToken(t *testing.T) {
	t.Run("never acquired", func(t *testing.T) {
		ts := newTokenServer(t, ok("T1", "R1", 3600))
		store := newTestStore(ts, clock.NewMockClock(time.Now()))

		err := store.Refresh(context.Background())
		assert.ErrorIs(t, err, platform.ErrState)
		assert.Equal(t, 0, ts.requestCount())
	})

	t.Run("credential without refresh token stays unchanged", func(t *testing.T) {
		ts := newTokenServer(t, ok("T1", "", 3600))
		store := newTestStore(ts, clock.NewMockClock(time.Now()))
		require.NoError(t, store.AcquireInitial(context.Background()))
		before, _ := store.Snapshot()

		err := store.Refresh(context.Background())
		assert.ErrorIs(t, err, platform.ErrState)

		after, _ := store.Snapshot()
		assert.Equal(t, before, after)
		assert.Equal(t, 1, ts.requestCount())
	})
}

func TestStore_Refresh_RejectedIsAuthError(t *testing.T) {
	ts := newTokenServer(t,
		ok("T1", "R1", 3600),
		stubResponse{status: http.StatusBadRequest, body: map[string]interface{}{"error": "invalid_grant"}},
	)
	store := newTestStore(ts, clock.NewMockClock(time.Now()))
	require.NoError(t, store.AcquireInitial(context.Background()))

	err := store.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrAuth)

	cred, _ := store.Snapshot()
	assert.Equal(t, "T1", cred.AccessToken, "failed refresh leaves the credential untouched")
}

func TestStore_Refresh_ServerErrorIsNetworkError(t *testing.T) {
	ts := newTokenServer(t,
		ok("T1", "R1", 3600),
		stubResponse{status: http.StatusServiceUnavailable, body: map[string]interface{}{}},
	)
	store := newTestStore(ts, clock.NewMockClock(time.Now()))
	require.NoError(t, store.AcquireInitial(context.Background()))

	err := store.Refresh(context.Background())
	assert.ErrorIs(t, err, platform.ErrNetwork)
	assert.NotErrorIs(t, err, platform.ErrAuth)
}

func TestStore_AuthorizationHeader_NoCredential(t *testing.T) {
	store := New(Config{BaseURL: "https://127.0.0.1:1"}, WithLogger(testLogger()))
	_, err := store.AuthorizationHeader()
	assert.ErrorIs(t, err, platform.ErrState)
}

func TestShared_ConstructsOnce(t *testing.T) {
	shared, sharedOnce = nil, sync.Once{}
	t.Cleanup(func() { shared, sharedOnce = nil, sync.Once{} })

	const callers = 32
	results := make([]*Store, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Shared(Config{BaseURL: "https://127.0.0.1:1"}, WithLogger(testLogger()))
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		assert.Same(t, results[0], s)
	}
}

func TestStore_BackgroundRefresh(t *testing.T) {
	ts := newTokenServer(t, ok("T1", "R1", 3600), ok("T2", "R2", 3600))
	clk := clock.NewMockClock(time.Now())
	store := newTestStore(ts, clk)
	require.NoError(t, store.AcquireInitial(context.Background()))

	store.StartBackgroundRefresh(50 * time.Minute)
	store.StartBackgroundRefresh(50 * time.Minute) // second start is ignored
	require.Eventually(t, func() bool { return clk.Tickers() == 1 }, time.Second, 5*time.Millisecond)

	clk.Advance(50 * time.Minute)
	require.Eventually(t, func() bool {
		cred, _ := store.Snapshot()
		return cred.AccessToken == "T2"
	}, 2*time.Second, 10*time.Millisecond)

	store.Stop()
	store.Stop() // idempotent
	assert.Equal(t, 2, ts.requestCount())
}

func TestStore_BackgroundRefresh_NonPositiveIntervalUsesDefault(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Minute} {
		t.Run(interval.String(), func(t *testing.T) {
			ts := newTokenServer(t, ok("T1", "R1", 7200), ok("T2", "R2", 7200))
			clk := clock.NewMockClock(time.Now())
			store := newTestStore(ts, clk)
			require.NoError(t, store.AcquireInitial(context.Background()))

			store.StartBackgroundRefresh(interval)
			defer store.Stop()
			require.Eventually(t, func() bool { return clk.Tickers() == 1 }, time.Second, 5*time.Millisecond)

			clk.Advance(DefaultRefreshInterval - time.Second)
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, 1, ts.requestCount())

			clk.Advance(time.Second)
			require.Eventually(t, func() bool { return ts.requestCount() == 2 }, 2*time.Second, 10*time.Millisecond)
		})
	}
}

func TestStore_BackgroundRefresh_FailureWaitsForNextTick(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "T1", "refresh_token": "R1", "expires_in": 3600})
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	clk := clock.NewMockClock(time.Now())
	store := New(Config{BaseURL: server.URL}, WithClock(clk), WithLogger(testLogger()),
		WithHTTPClient(platform.NewHTTPClient(time.Second)))
	require.NoError(t, store.AcquireInitial(context.Background()))

	store.StartBackgroundRefresh(time.Minute)
	defer store.Stop()
	require.Eventually(t, func() bool { return clk.Tickers() == 1 }, time.Second, 5*time.Millisecond)

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)

	// No immediate retry after the failure
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())

	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
}
