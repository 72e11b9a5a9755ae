package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xelth-com/stocksyncgo/internal/models"
)

type touchRecorder struct {
	mu  sync.Mutex
	ids []uint
}

func (r *touchRecorder) TouchLastSync(ctx context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func newTestClient(rec LastSyncRecorder) (*Client, *sleepRecorder) {
	c := New(Config{BaseTimeout: 50 * time.Millisecond, DeliverRetries: 3, ConnectRetries: 2}, rec)
	s := &sleepRecorder{}
	c.sleep = s.sleep
	return c, s
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

var task = &models.QueueTask{ID: 42, Reference: "SKU-100", NewQuantity: 15}

func TestDeliverPostsFormAndRecordsSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/stocksync", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Contains(t, r.Header.Get("User-Agent"), "StockSyncGo/")
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "update_stock", r.PostForm.Get("action"))
		assert.Equal(t, "s3cret", r.PostForm.Get("token"))
		assert.Equal(t, "s3cret", r.PostForm.Get("api_key"))
		assert.Equal(t, "SKU-100", r.PostForm.Get("reference"))
		assert.Equal(t, "15", r.PostForm.Get("quantity"))
		assert.Equal(t, "42", r.PostForm.Get("queue_id"))
		writeJSON(w, map[string]interface{}{"success": true, "reference": "SKU-100", "quantity": 15, "queue_id": 42})
	}))
	defer srv.Close()

	rec := &touchRecorder{}
	c, _ := newTestClient(rec)

	err := c.Deliver(context.Background(), task, Peer{ID: 7, Name: "B", BaseURL: srv.URL + "/", Secret: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, []uint{7}, rec.ids)
}

func TestDeliverFallsBackToSecondPath(t *testing.T) {
	var first, second int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stocksync", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&first, 1)
		http.NotFound(w, r)
	})
	mux.HandleFunc("/modules/stocksync/api/sync", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&second, 1)
		writeJSON(w, map[string]interface{}{"success": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, sleeps := newTestClient(nil)
	require.NoError(t, c.Deliver(context.Background(), task, Peer{BaseURL: srv.URL}))

	assert.Equal(t, int32(1), atomic.LoadInt32(&first), "HTTP errors are not retried")
	assert.Equal(t, int32(1), atomic.LoadInt32(&second))
	assert.Empty(t, sleeps.delays)

	routes := c.RouteStatuses()
	require.Len(t, routes, 2)
	assert.False(t, routes[0].IsAvailable)
	assert.Contains(t, routes[0].LastError, "HTTP 404")
	assert.True(t, routes[1].IsAvailable)
}

func TestDeliverAcceptsAny2xx(t *testing.T) {
	var second int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stocksync", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
	})
	mux.HandleFunc("/modules/stocksync/api/sync", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&second, 1)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, _ := newTestClient(nil)
	require.NoError(t, c.Deliver(context.Background(), task, Peer{BaseURL: srv.URL}))
	assert.Zero(t, atomic.LoadInt32(&second), "a 202 is a success on the first path")
}

func TestDeliverRejectedDoesNotFallBack(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeJSON(w, map[string]interface{}{"success": false, "message": "Invalid token", "code": "INVALID_TOKEN"})
	}))
	defer srv.Close()

	rec := &touchRecorder{}
	c, _ := newTestClient(rec)
	err := c.Deliver(context.Background(), task, Peer{BaseURL: srv.URL})

	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "INVALID_TOKEN")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Empty(t, rec.ids)
}

func TestDeliverMalformedPayloadIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	c, sleeps := newTestClient(nil)
	err := c.Deliver(context.Background(), task, Peer{BaseURL: srv.URL})

	assert.ErrorIs(t, err, ErrBadPayload)
	assert.False(t, Retryable(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "one call per endpoint path")
	assert.Empty(t, sleeps.delays)
}

func TestDeliverRetriesTimeouts(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		writeJSON(w, map[string]interface{}{"success": true})
	}))
	defer srv.Close()

	c, sleeps := newTestClient(nil)
	require.NoError(t, c.Deliver(context.Background(), task, Peer{BaseURL: srv.URL}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, sleeps.delays)
}

func TestDeliverConnectFailureExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, sleeps := newTestClient(nil)
	err := c.Deliver(context.Background(), task, Peer{BaseURL: addr})

	assert.ErrorIs(t, err, ErrConnect)
	assert.True(t, Retryable(err))
	// two sleeps per path: 200ms then 400ms
	assert.Equal(t, []time.Duration{
		200 * time.Millisecond, 400 * time.Millisecond,
		200 * time.Millisecond, 400 * time.Millisecond,
	}, sleeps.delays)
}

func TestDNSPreCheck(t *testing.T) {
	c, _ := newTestClient(nil)
	c.lookupHost = func(ctx context.Context, host string) ([]string, error) {
		assert.Equal(t, "shop.invalid", host)
		return nil, errors.New("no such host")
	}

	err := c.Deliver(context.Background(), task, Peer{BaseURL: "https://shop.invalid"})
	assert.ErrorIs(t, err, ErrDNS)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Empty(t, c.RouteStatuses(), "no request is attempted")
}

func TestFetchRemoteQuantity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "get_stock", r.PostForm.Get("action"))
		switch r.PostForm.Get("reference") {
		case "SKU-100":
			writeJSON(w, map[string]interface{}{
				"success": true, "reference": "SKU-100", "quantity": "7",
				"id_product": 3, "id_product_attribute": 0,
			})
		default:
			writeJSON(w, map[string]interface{}{"success": false, "code": "REFERENCE_NOT_FOUND"})
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(nil)
	stock, err := c.FetchRemoteQuantity(context.Background(), Peer{BaseURL: srv.URL}, "SKU-100")
	require.NoError(t, err)
	assert.Equal(t, &RemoteStock{Reference: "SKU-100", Quantity: 7, ProductID: 3}, stock)

	_, err = c.FetchRemoteQuantity(context.Background(), Peer{BaseURL: srv.URL}, "NOPE-1")
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestTestConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.PostForm.Get("token") != "good" {
			writeJSON(w, map[string]interface{}{"success": false, "message": "Invalid token"})
			return
		}
		writeJSON(w, map[string]interface{}{"success": true, "version": "1.0.0"})
	}))
	defer srv.Close()

	c, _ := newTestClient(nil)

	res := c.TestConnectivity(context.Background(), Peer{BaseURL: srv.URL, Secret: "good"})
	assert.True(t, res.Success)
	assert.Equal(t, "Connection successful", res.Message)
	assert.Equal(t, "1.0.0", res.Response["version"])

	res = c.TestConnectivity(context.Background(), Peer{BaseURL: srv.URL, Secret: "bad"})
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid token", res.Message)

	res = c.TestConnectivity(context.Background(), Peer{BaseURL: "::not a url"})
	assert.False(t, res.Success)
}
