package transport

import (
	"sort"
	"time"
)

// RouteStatus tracks the health of one peer endpoint
type RouteStatus struct {
	URL          string     `json:"url"`
	IsAvailable  bool       `json:"is_available"`
	LastCheck    time.Time  `json:"last_check"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
}

func (c *Client) recordRoute(endpoint string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.routes[endpoint]
	if !ok {
		status = &RouteStatus{URL: endpoint}
		c.routes[endpoint] = status
	}

	now := time.Now().UTC()
	status.LastCheck = now
	if err == nil {
		status.IsAvailable = true
		status.LastSuccess = &now
		status.SuccessCount++
		status.FailureCount = 0 // consecutive failures only
		status.LastError = ""
		return
	}
	status.IsAvailable = false
	status.LastFailure = &now
	status.FailureCount++
	status.LastError = err.Error()
}

// RouteStatuses returns a snapshot of every endpoint the client has called
func (c *Client) RouteStatuses() []RouteStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]RouteStatus, 0, len(c.routes))
	for _, s := range c.routes {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
