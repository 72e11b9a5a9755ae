package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/stocksyncgo/internal/utils"
)

const testSecret = "test-secret"

func protected() http.Handler {
	return AdminAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, _ := AdminFromContext(r.Context())
		w.Write([]byte(name))
	}))
}

func TestAdminAuth(t *testing.T) {
	good, err := utils.GenerateAdminToken("admin", testSecret, time.Hour)
	require.NoError(t, err)
	forged, err := utils.GenerateAdminToken("admin", "other-secret", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong key", "Bearer " + forged, http.StatusUnauthorized},
		{"valid", "Bearer " + good, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/stores", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "admin", rec.Body.String())
			}
		})
	}
}

func TestAdminAuthQueryTokenOnlyForWebsocket(t *testing.T) {
	good, err := utils.GenerateAdminToken("admin", testSecret, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+good, nil)
	rec := httptest.NewRecorder()
	protected().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/ws?token="+good, nil)
	req.Header.Set("Upgrade", "websocket")
	rec = httptest.NewRecorder()
	protected().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterPerAddress(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "buckets are per address")

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"))
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/api/stocksync", nil)
	req.RemoteAddr = "192.0.2.7:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow("x"))
	}
}

func TestClientAddrHonorsForwardedOnlyFromTrustedProxies(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	require.NoError(t, rl.TrustProxies([]string{"10.0.0.0/8", "192.0.2.1"}))
	assert.Error(t, rl.TrustProxies([]string{"not-an-ip"}))

	tests := []struct {
		name   string
		remote string
		fwd    string
		want   string
	}{
		{"direct client spoofing the header", "198.51.100.9:4000", "1.2.3.4", "198.51.100.9"},
		{"trusted proxy", "10.1.2.3:4000", "203.0.113.5", "203.0.113.5"},
		{"spoofed hop before the proxy chain", "192.0.2.1:4000", "1.2.3.4, 203.0.113.5, 10.0.0.2", "203.0.113.5"},
		{"trusted proxy without header", "10.1.2.3:4000", "", "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/stocksync", nil)
			req.RemoteAddr = tt.remote
			if tt.fwd != "" {
				req.Header.Set("X-Forwarded-For", tt.fwd)
			}
			assert.Equal(t, tt.want, rl.clientAddr(req))
		})
	}
}

func TestRateLimiterIgnoresSpoofedForwardedFor(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/stocksync", nil)
		req.RemoteAddr = "198.51.100.9:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code)
	}
}
