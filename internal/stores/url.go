package stores

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL returns the canonical absolute form of a store base URL:
// scheme and host (plus any path prefix), never a trailing slash.
func NormalizeURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty store URL")
	}

	// Repair a single-slash scheme ("https:/shop.example")
	for _, scheme := range []string{"https:/", "http:/"} {
		if strings.HasPrefix(strings.ToLower(s), scheme) && !strings.HasPrefix(strings.ToLower(s), scheme+"/") {
			s = scheme + "/" + s[len(scheme):]
		}
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid store URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("store URL %q has no host", raw)
	}

	normalized := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/")
	return normalized, nil
}
