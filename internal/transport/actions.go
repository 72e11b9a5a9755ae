package transport

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/xelth-com/stocksyncgo/internal/models"
)

// Deliver pushes a task's quantity to its target peer. A nil error means the
// peer applied it; the target's last-sync time is then recorded.
func (c *Client) Deliver(ctx context.Context, task *models.QueueTask, peer Peer) error {
	form := url.Values{}
	form.Set("action", "update_stock")
	form.Set("reference", task.Reference)
	form.Set("quantity", formatQuantity(task.NewQuantity))
	form.Set("queue_id", strconv.FormatUint(uint64(task.ID), 10))

	resp, err := c.call(ctx, peer, form, c.cfg.DeliverRetries)
	if err != nil {
		return fmt.Errorf("failed to deliver %s to %s: %w", task.Reference, peer.Name, err)
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s (%s)", ErrRejected, orDefault(resp.Message, "Unknown error"), resp.Code)
	}

	if c.recorder != nil {
		if err := c.recorder.TouchLastSync(ctx, peer.ID); err != nil {
			log.Printf("⚠️ Transport: failed to record last sync for store %d: %v", peer.ID, err)
		}
	}
	return nil
}

// RemoteStock is a peer's answer to get_stock
type RemoteStock struct {
	Reference string  `json:"reference"`
	Quantity  float64 `json:"quantity"`
	ProductID int64   `json:"id_product"`
	VariantID int64   `json:"id_product_attribute"`
}

// FetchRemoteQuantity reads a reference's quantity from a peer. Any failure
// is reported as ErrNotAvailable wrapping the cause.
func (c *Client) FetchRemoteQuantity(ctx context.Context, peer Peer, reference string) (*RemoteStock, error) {
	form := url.Values{}
	form.Set("action", "get_stock")
	form.Set("reference", reference)

	resp, err := c.call(ctx, peer, form, c.cfg.DeliverRetries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrNotAvailable, orDefault(resp.Message, resp.Code))
	}

	qty, ok := number(resp.Raw["quantity"])
	if !ok {
		return nil, fmt.Errorf("%w: response has no quantity", ErrNotAvailable)
	}
	stock := &RemoteStock{Reference: reference, Quantity: qty}
	if v, ok := number(resp.Raw["id_product"]); ok {
		stock.ProductID = int64(v)
	}
	if v, ok := number(resp.Raw["id_product_attribute"]); ok {
		stock.VariantID = int64(v)
	}
	return stock, nil
}

// ConnectivityResult reports a test action
type ConnectivityResult struct {
	Success  bool                   `json:"success"`
	Message  string                 `json:"message"`
	Latency  time.Duration          `json:"latency"`
	Response map[string]interface{} `json:"response,omitempty"`
}

// TestConnectivity sends the test action with the connectivity retry budget
func (c *Client) TestConnectivity(ctx context.Context, peer Peer) ConnectivityResult {
	form := url.Values{}
	form.Set("action", "test")

	start := time.Now()
	resp, err := c.call(ctx, peer, form, c.cfg.ConnectRetries)
	result := ConnectivityResult{Latency: time.Since(start)}

	switch {
	case err != nil:
		result.Message = err.Error()
	case !resp.Success:
		result.Message = orDefault(resp.Message, "Invalid response from server")
		result.Response = resp.Raw
	default:
		result.Success = true
		result.Message = "Connection successful"
		result.Response = resp.Raw
	}
	return result
}

func formatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

// number accepts JSON numbers and numeric strings
func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
