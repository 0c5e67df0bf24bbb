package validation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnreachable is wrapped by every failed connectivity check.
var ErrUnreachable = errors.New("endpoint unreachable")

// ConnectivityResult represents the result of a connectivity check.
type ConnectivityResult struct {
	Reachable  bool
	StatusCode int
	Message    string
	Latency    time.Duration
	Error      error
}

// ConnectivityChecker verifies that an inference endpoint answers HTTP.
// Any status code counts as reachable; auth and routing problems surface
// later as load errors with a clearer message.
type ConnectivityChecker struct {
	timeout time.Duration
	client  *http.Client
}

// NewConnectivityChecker creates a ConnectivityChecker with a 10 second
// timeout.
func NewConnectivityChecker() *ConnectivityChecker {
	return &ConnectivityChecker{
		timeout: 10 * time.Second,
		client:  &http.Client{},
	}
}

// WithTimeout sets the timeout for connectivity checks.
func (c *ConnectivityChecker) WithTimeout(timeout time.Duration) *ConnectivityChecker {
	c.timeout = timeout
	return c
}

// ValidateEndpointURL checks that raw is an absolute http(s) URL with a host.
func ValidateEndpointURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("URL must use http or https scheme, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must include a host")
	}
	return nil
}

// Check sends a HEAD request to endpoint.
func (c *ConnectivityChecker) Check(ctx context.Context, endpoint string) ConnectivityResult {
	if err := ValidateEndpointURL(endpoint); err != nil {
		return ConnectivityResult{Message: "Invalid URL format", Error: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return ConnectivityResult{
			Message: "Failed to create request",
			Error:   fmt.Errorf("%w: %s: %v", ErrUnreachable, endpoint, err),
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ConnectivityResult{
				Message: "Connection timed out",
				Latency: latency,
				Error:   fmt.Errorf("%w: %s: timed out after %v", ErrUnreachable, endpoint, c.timeout),
			}
		}
		return ConnectivityResult{
			Message: "Connection failed",
			Latency: latency,
			Error:   fmt.Errorf("%w: %s: %v", ErrUnreachable, endpoint, err),
		}
	}
	defer resp.Body.Close()

	return ConnectivityResult{
		Reachable:  true,
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("reachable (status: %d)", resp.StatusCode),
		Latency:    latency,
	}
}
