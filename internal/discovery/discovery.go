// Package discovery fetches the configuration documents external agents
// expose at GET /configuration and memoizes them in an in-process cache.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/planweave/planweave/internal/adapter/ristretto"
	"github.com/planweave/planweave/internal/domain"
	"github.com/planweave/planweave/internal/registry"
)

// Configuration is the discovery document an external agent serves: the
// agents it executes for and their task schemas.
type Configuration struct {
	Agents []registry.AgentSnapshot `json:"agents"`
}

// Client fetches agent configurations with TTL caching, so repeated
// dispatches to the same endpoint do not refetch the document each call.
type Client struct {
	httpClient *http.Client
	cache      *ristretto.Cache
	ttl        time.Duration
}

// NewClient creates a discovery client. cache may be nil to disable caching.
func NewClient(cache *ristretto.Cache, ttl time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{},
		cache:      cache,
		ttl:        ttl,
	}
}

// Fetch returns the configuration document served at endpoint, from cache
// when fresh.
func (c *Client) Fetch(ctx context.Context, endpoint string) (*Configuration, error) {
	key := "config:" + endpoint
	if c.cache != nil {
		if data, ok, _ := c.cache.Get(ctx, key); ok {
			var cfg Configuration
			if err := json.Unmarshal(data, &cfg); err == nil {
				return &cfg, nil
			}
			_ = c.cache.Delete(ctx, key)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/configuration", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch configuration: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", domain.ErrBackendUnavailable, endpoint, resp.StatusCode)
	}

	var cfg Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: configuration from %s: %v", domain.ErrMalformedPayload, endpoint, err)
	}

	if c.cache != nil {
		_ = c.cache.Set(ctx, key, data, c.ttl)
	}
	return &cfg, nil
}

// Invalidate drops the cached configuration for endpoint.
func (c *Client) Invalidate(ctx context.Context, endpoint string) {
	if c.cache != nil {
		_ = c.cache.Delete(ctx, "config:"+endpoint)
	}
}
