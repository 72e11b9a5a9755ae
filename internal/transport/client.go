// Package transport performs the authenticated HTTP calls to peer stores.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xelth-com/stocksyncgo/internal/buildinfo"
	"github.com/xelth-com/stocksyncgo/internal/models"
)

// Failure classes. Only DNS, connect and timeout failures are retried.
var (
	ErrDNS        = stderrors.New("dns resolution failed")
	ErrConnect    = stderrors.New("connection failed")
	ErrTimeout    = stderrors.New("request timed out")
	ErrHTTPStatus = stderrors.New("unexpected http status")
	ErrBadPayload = stderrors.New("malformed response payload")
	// ErrRejected means the peer answered with success=false
	ErrRejected = stderrors.New("peer rejected request")
	// ErrNotAvailable means a remote quantity could not be read
	ErrNotAvailable = stderrors.New("remote quantity not available")
)

const maxResponseBytes = 1 << 20

// Peer is the subset of a store needed to call it
type Peer struct {
	ID      uint
	Name    string
	BaseURL string
	Secret  string
}

// PeerFromStore builds a Peer from a registry row
func PeerFromStore(s *models.Store) Peer {
	return Peer{ID: s.ID, Name: s.Name, BaseURL: s.BaseURL, Secret: s.SharedSecret}
}

// Response is the JSON body every peer action returns
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	Raw map[string]interface{} `json:"-"`
}

// Config tunes the client
type Config struct {
	BaseTimeout        time.Duration
	DeliverRetries     int
	ConnectRetries     int
	Paths              []string
	InsecureSkipVerify bool
	Debug              bool
}

// LastSyncRecorder is told about every successful delivery
type LastSyncRecorder interface {
	TouchLastSync(ctx context.Context, storeID uint) error
}

// Client talks to peer stores
type Client struct {
	cfg      Config
	http     *http.Client
	recorder LastSyncRecorder

	mu     sync.Mutex
	routes map[string]*RouteStatus

	// swapped in tests
	lookupHost func(ctx context.Context, host string) ([]string, error)
	sleep      func(ctx context.Context, d time.Duration) error
}

// New creates a client. recorder may be nil.
func New(cfg Config, recorder LastSyncRecorder) *Client {
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = 5 * time.Second
	}
	if cfg.DeliverRetries <= 0 {
		cfg.DeliverRetries = 3
	}
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = 2
	}
	if len(cfg.Paths) == 0 {
		cfg.Paths = []string{"/api/stocksync", "/modules/stocksync/api/sync"}
	}

	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if cfg.InsecureSkipVerify {
		log.Println("🚨 Transport: TLS certificate verification disabled for peer calls")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		cfg:      cfg,
		recorder: recorder,
		routes:   make(map[string]*RouteStatus),
		http: &http.Client{
			Transport: transport,
			// redirects are not followed; a moved endpoint is a failed path
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		lookupHost: net.DefaultResolver.LookupHost,
		sleep:      sleepWithContext,
	}
}

// call sends one action to a peer. It checks DNS, then tries each endpoint
// path in order, falling through only when a path is unreachable or does not
// answer 200 with a JSON object.
func (c *Client) call(ctx context.Context, peer Peer, form url.Values, retries int) (*Response, error) {
	base, err := url.Parse(strings.TrimRight(peer.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid store url %q: %w", peer.BaseURL, ErrBadPayload)
	}

	if err := c.checkDNS(ctx, base.Hostname()); err != nil {
		return nil, err
	}

	form.Set("token", peer.Secret)
	form.Set("api_key", peer.Secret)

	var lastErr error
	for _, path := range c.cfg.Paths {
		endpoint := base.String() + path
		resp, err := c.sendWithRetry(ctx, endpoint, form, retries)
		c.recordRoute(endpoint, err)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if c.cfg.Debug {
			log.Printf("🔁 Transport: %s failed (%v), trying next endpoint", endpoint, err)
		}
	}
	return nil, lastErr
}

func (c *Client) checkDNS(ctx context.Context, host string) error {
	if net.ParseIP(host) != nil || host == "localhost" {
		return nil
	}
	addrs, err := c.lookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		return fmt.Errorf("%w for host %s: %v", ErrDNS, host, err)
	}
	return nil
}

// sendWithRetry posts the form with an attempt timeout of base*2^attempt.
// Transient failures are retried after 200ms*attempt.
func (c *Client) sendWithRetry(ctx context.Context, endpoint string, form url.Values, retries int) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		timeout := c.cfg.BaseTimeout * time.Duration(1<<uint(attempt))

		start := time.Now()
		resp, err := c.send(ctx, endpoint, form, timeout)
		if c.cfg.Debug {
			log.Printf("🌐 Transport: attempt %d/%d %s action=%s timeout=%v took=%v err=%v",
				attempt+1, retries, endpoint, form.Get("action"), timeout, time.Since(start), err)
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !Retryable(err) || ctx.Err() != nil {
			break
		}
		if attempt+1 < retries {
			if err := c.sleep(ctx, time.Duration(attempt+1)*200*time.Millisecond); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, endpoint string, form url.Values, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	req.Header.Set("X-Request-ID", uuid.NewString())

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrHTTPStatus, httpResp.StatusCode)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	resp := &Response{Raw: raw}
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return resp, nil
}

// classify maps a net/http error to a failure class
func classify(err error) error {
	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrDNS, err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if stderrors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrConnect, err)
}

// Retryable reports whether err belongs to a transient failure class
func Retryable(err error) bool {
	return stderrors.Is(err, ErrDNS) || stderrors.Is(err, ErrConnect) || stderrors.Is(err, ErrTimeout)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
