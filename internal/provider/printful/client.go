// Package printful adapts the Printful REST API to the storefront's catalog
// and fulfillment interfaces.
package printful

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sundai-club/shop/pkg/httpclient"
	"github.com/sundai-club/shop/pkg/tracing"
)

const providerName = "printful"

// DefaultBaseURL is the Printful API root.
const DefaultBaseURL = "https://api.printful.com"

// Config configures the Printful client.
type Config struct {
	BaseURL string
	APIKey  string
	// StoreID selects store (sync) products. When empty the public catalog
	// is served instead.
	StoreID string
	// CatalogLimit caps how many catalog products are listed when no store
	// is configured.
	CatalogLimit int
	// DetailConcurrency bounds parallel product detail fetches.
	DetailConcurrency int
}

// Client talks to Printful. It implements provider.Catalog and
// provider.Fulfillment.
type Client struct {
	http   httpclient.Doer
	cfg    Config
	logger *slog.Logger
}

// New creates a Client. doer is normally a *httpclient.CircuitBreakerClient.
func New(doer httpclient.Doer, cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CatalogLimit <= 0 {
		cfg.CatalogLimit = 20
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = 4
	}
	return &Client{http: doer, cfg: cfg, logger: logger}
}

// envelope is Printful's response wrapper.
type envelope struct {
	Code   int             `json:"code"`
	Result json.RawMessage `json:"result"`
}

// call performs a request and decodes envelope.result into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any) (err error) {
	ctx, span := tracing.StartSpan(ctx, "printful "+method+" "+spanPath(path))
	defer tracing.End(span, &err)

	var reader io.Reader = http.NoBody
	if body != nil {
		b, merr := json.Marshal(body)
		if merr != nil {
			return fmt.Errorf("marshal %s request: %w", path, merr)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.StoreID != "" {
		req.Header.Set("X-PF-Store-Id", c.cfg.StoreID)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("call printful %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpclient.ParseResponseError(resp, providerName)
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode printful %s response: %w", path, err)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode printful %s result: %w", path, err)
	}
	return nil
}

// spanPath drops ids from a request path so span names stay low-cardinality.
func spanPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if p[0] == '@' || (p[0] >= '0' && p[0] <= '9') {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
