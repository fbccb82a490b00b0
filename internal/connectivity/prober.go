package connectivity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultProbeTimeout caps one reachability check.
const DefaultProbeTimeout = 5 * time.Second

// HTTPProber checks reachability with GET <baseURL>/api/method/ping.
// Any status below 500 proves the backend is up (an auth failure is still
// an answer); transport errors, timeouts, and 5xx count as unreachable.
type HTTPProber struct {
	mu      sync.RWMutex
	baseURL string
	client  *http.Client
}

// NewHTTPProber creates a prober against baseURL. A zero timeout uses
// DefaultProbeTimeout. An empty baseURL means unconfigured; probes fail
// until SetBaseURL is called.
func NewHTTPProber(baseURL string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBaseURL points the prober at a new backend.
func (p *HTTPProber) SetBaseURL(baseURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseURL = strings.TrimRight(baseURL, "/")
}

// Probe performs one ping round-trip.
func (p *HTTPProber) Probe(ctx context.Context) (int64, error) {
	p.mu.RLock()
	baseURL := p.baseURL
	p.mu.RUnlock()

	if baseURL == "" {
		return 0, fmt.Errorf("no backend configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/method/ping", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build probe request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	latency := time.Since(start).Milliseconds()
	if resp.StatusCode >= http.StatusInternalServerError {
		return latency, fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	return latency, nil
}
