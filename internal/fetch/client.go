// Package fetch is a JSON client for upstream HTTP APIs that caches
// responses in a namespaced store for as long as Cache-Control allows.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FormidableLabs/trygql/internal/cache"
	"github.com/FormidableLabs/trygql/internal/tracing"
)

var (
	// ErrNotFound is returned when the upstream answers 404.
	ErrNotFound = errors.New("upstream resource not found")
	// ErrCircuitOpen is returned while the upstream's breaker is open.
	ErrCircuitOpen = errors.New("upstream circuit breaker is open")
	// ErrResponseTooLarge is returned when a body exceeds Config.MaxBodySize.
	ErrResponseTooLarge = errors.New("upstream response too large")
)

// DefaultMaxBodySize bounds upstream response bodies when Config.MaxBodySize
// is unset.
const DefaultMaxBodySize = 32 << 20

// StatusError is returned for unexpected upstream status codes.
type StatusError struct {
	Upstream string
	URL      string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: GET %s: unexpected status %d", e.Upstream, e.URL, e.Code)
}

// Recorder receives upstream request events.
type Recorder interface {
	RecordUpstreamRequest(upstream, endpoint string, status int, duration time.Duration)
	RecordUpstreamError(upstream, endpoint, errorType string)
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpstreamRequest(string, string, int, time.Duration) {}
func (nopRecorder) RecordUpstreamError(string, string, string) {}
func (nopRecorder) RecordCacheHit(string) {}
func (nopRecorder) RecordCacheMiss(string) {}

// Config configures a Client.
type Config struct {
	// Name labels the upstream in logs and metrics, e.g. "npm".
	Name string
	// BaseURL is prefixed to every request path.
	BaseURL string
	// Store caches response bodies under the Name namespace. Nil disables
	// caching.
	Store cache.Store
	// Timeout bounds each upstream request. Defaults to 10s.
	Timeout time.Duration
	// DefaultTTL applies to cacheable responses without a max-age.
	DefaultTTL time.Duration
	// MaxBodySize bounds response bodies. Defaults to DefaultMaxBodySize.
	MaxBodySize int64
	// Breaker guards the upstream. Nil creates one with defaults.
	Breaker    *Breaker
	HTTPClient *http.Client
	Logger     *slog.Logger
	Recorder   Recorder
}

// Client fetches JSON documents from one upstream.
type Client struct {
	name       string
	baseURL    string
	cache      *cache.Namespaced
	defaultTTL time.Duration
	maxBody    int64
	breaker    *Breaker
	http       *http.Client
	logger     *slog.Logger
	recorder   Recorder
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.Name == "" {
		return nil, errors.New("fetch: name is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("fetch: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewBreaker(0, 0, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}

	c := &Client{
		name:       cfg.Name,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		defaultTTL: cfg.DefaultTTL,
		maxBody:    cfg.MaxBodySize,
		breaker:    cfg.Breaker,
		http:       cfg.HTTPClient,
		logger:     cfg.Logger.With("upstream", cfg.Name),
		recorder:   cfg.Recorder,
	}
	if cfg.Store != nil {
		c.cache = cache.Namespace(cfg.Store, cfg.Name)
	}
	return c, nil
}

// Breaker returns the upstream's circuit breaker.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Request describes one upstream GET.
type Request struct {
	// Endpoint is a low-cardinality label for metrics, e.g. "package".
	Endpoint string
	Path     string
	Query    url.Values
}

// GetJSON fetches req and decodes the JSON body into out. A 404 answer
// returns ErrNotFound.
func (c *Client) GetJSON(ctx context.Context, req Request, out any) error {
	target := c.baseURL + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = "default"
	}

	body, err := c.get(ctx, endpoint, target)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decoding %s: %w", c.name, target, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint, target string) ([]byte, error) {
	if body, ok := c.cached(ctx, target); ok {
		return body, nil
	}

	if !c.breaker.Allow() {
		c.recorder.RecordUpstreamError(c.name, endpoint, "circuit_open")
		return nil, fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: building request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	tracing.InjectContext(ctx, req.Header)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Failure()
		c.recorder.RecordUpstreamError(c.name, endpoint, "transport")
		err = fmt.Errorf("%s: GET %s: %w", c.name, target, err)
		tracing.RecordError(ctx, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	c.recorder.RecordUpstreamRequest(c.name, endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		c.breaker.Failure()
		c.recorder.RecordUpstreamError(c.name, endpoint, "read")
		return nil, fmt.Errorf("%s: reading %s: %w", c.name, target, err)
	}
	if int64(len(body)) > c.maxBody {
		c.breaker.Success()
		c.recorder.RecordUpstreamError(c.name, endpoint, "too_large")
		return nil, fmt.Errorf("%s: %s exceeds %d bytes: %w", c.name, target, c.maxBody, ErrResponseTooLarge)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.breaker.Success()
		return nil, fmt.Errorf("%s: %s: %w", c.name, target, ErrNotFound)
	case resp.StatusCode >= 500:
		c.breaker.Failure()
		c.recorder.RecordUpstreamError(c.name, endpoint, "status")
		return nil, &StatusError{Upstream: c.name, URL: target, Code: resp.StatusCode}
	case resp.StatusCode >= 300:
		c.breaker.Success()
		return nil, &StatusError{Upstream: c.name, URL: target, Code: resp.StatusCode}
	}
	c.breaker.Success()

	c.store(ctx, target, body, resp.Header.Get("Cache-Control"))
	return body, nil
}

func (c *Client) cached(ctx context.Context, target string) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}

	body, found, err := c.cache.Get(ctx, target)
	if err != nil {
		c.logger.Warn("upstream cache read failed", "url", target, "error", err)
		return nil, false
	}
	if !found {
		c.recorder.RecordCacheMiss(c.name)
		return nil, false
	}
	c.recorder.RecordCacheHit(c.name)
	return body, true
}

func (c *Client) store(ctx context.Context, target string, body []byte, cacheControl string) {
	if c.cache == nil {
		return
	}

	ttl := c.defaultTTL
	if cacheControl != "" {
		ttl = ParseCacheControl(cacheControl).TTL()
	}
	if ttl <= 0 {
		return
	}

	if err := c.cache.Set(ctx, target, body, ttl); err != nil {
		c.logger.Warn("upstream cache write failed", "url", target, "error", err)
	}
}
