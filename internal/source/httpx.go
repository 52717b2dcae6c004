package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/cache"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/resilience"
)

const defaultUserAgent = "kidney-genetics-db/1.0"

// HTTPOptions configures the shared source transport.
type HTTPOptions struct {
	Source     string
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int

	Retry   resilience.RetryConfig
	Breaker *resilience.CircuitBreaker

	// Cache enables read-through caching under namespace = source name.
	Cache    *cache.Cache
	CacheTTL time.Duration
}

// HTTPClient is the shared transport for HTTP-based source clients: one
// rate limiter, retry policy, circuit breaker and cache namespace per source.
type HTTPClient struct {
	source  string
	baseURL string
	agent   string
	client  *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	cache   *cache.Cache
	ttl     time.Duration
	log     *zap.Logger

	// bypassCache skips cache reads (writes still happen) for FORCED runs.
	bypassCache bool
}

// NewHTTPClient builds the transport for one source.
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
		opts.Retry.OnRetry = resilience.RetryLogger(opts.Source, "http")
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPClient{
		source:  opts.Source,
		baseURL: opts.BaseURL,
		agent:   opts.UserAgent,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		retry:   opts.Retry,
		breaker: opts.Breaker,
		cache:   opts.Cache,
		ttl:     opts.CacheTTL,
		log:     zap.L().With(zap.String("source", opts.Source)),
	}
}

// WithCacheBypass returns a shallow copy that skips cache reads. Responses
// are still written to the cache so the next normal run benefits.
func (c *HTTPClient) WithCacheBypass() *HTTPClient {
	clone := *c
	clone.bypassCache = true
	return &clone
}

type cacheBypassKey struct{}

// CacheBypass marks the context so every fetch under it skips cache reads,
// letting forced pipeline runs refresh through shared clients. Writes still
// happen.
func CacheBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheBypassKey{}, true)
}

func cacheBypassed(ctx context.Context) bool {
	v, _ := ctx.Value(cacheBypassKey{}).(bool)
	return v
}

// Breaker exposes the circuit breaker for observability.
func (c *HTTPClient) Breaker() *resilience.CircuitBreaker { return c.breaker }

// GetJSON fetches path?query and decodes the JSON body into out, reading
// through the cache. A 404 yields ErrNoData.
func (c *HTTPClient) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	body, err := c.fetch(ctx, http.MethodGet, fullURL, nil, cacheKey(http.MethodGet, fullURL, nil))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resilience.NewPermanentError(
			eris.Wrapf(err, "%s: decode response from %s", c.source, path), 0)
	}
	return nil
}

// PostJSON sends a JSON payload (GraphQL endpoints) and decodes the
// response, reading through the cache keyed on the request body.
func (c *HTTPClient) PostJSON(ctx context.Context, path string, payload any, out any) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "%s: marshal request", c.source)
	}
	fullURL := c.baseURL + path
	body, err := c.fetch(ctx, http.MethodPost, fullURL, reqBody, cacheKey(http.MethodPost, fullURL, reqBody))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resilience.NewPermanentError(
			eris.Wrapf(err, "%s: decode response from %s", c.source, path), 0)
	}
	return nil
}

func (c *HTTPClient) fetch(ctx context.Context, method, fullURL string, reqBody []byte, key string) ([]byte, error) {
	if c.cache != nil && !c.bypassCache && !cacheBypassed(ctx) {
		if val, ok := c.cache.Get(ctx, c.source, key); ok {
			return val, nil
		}
	}

	body, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
			return c.do(ctx, method, fullURL, reqBody)
		})
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil && c.ttl > 0 {
		c.cache.Set(ctx, c.source, key, body, c.ttl)
	}
	return body, nil
}

// do performs one attempt. The rate limiter gates every attempt so retries
// cannot burst past the source's limit.
func (c *HTTPClient) do(ctx context.Context, method, fullURL string, reqBody []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrapf(err, "%s: rate limiter wait", c.source)
	}

	var bodyReader io.Reader
	if reqBody != nil {
		bodyReader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: create request", c.source)
	}
	req.Header.Set("User-Agent", c.agent)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: request %s", c.source, fullURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resilience.NewTransientError(
				eris.Wrapf(err, "%s: read response body", c.source), resp.StatusCode)
		}
		return body, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.log.Warn("source throttled request",
			zap.String("url", fullURL),
			zap.Duration("retry_after", retryAfter),
		)
		return nil, resilience.NewRateLimitError(
			eris.Errorf("%s: http 429 from %s", c.source, fullURL), retryAfter)

	case resp.StatusCode == http.StatusNotFound:
		return nil, resilience.NewPermanentError(
			eris.Wrapf(ErrNoData, "%s: http 404 from %s", c.source, fullURL), resp.StatusCode)

	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("%s: http %d from %s", c.source, resp.StatusCode, fullURL), resp.StatusCode)

	default:
		return nil, resilience.NewPermanentError(
			eris.Errorf("%s: http %d from %s", c.source, resp.StatusCode, fullURL), resp.StatusCode)
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// cacheKey hashes the request identity. Hashing keeps long GraphQL bodies
// out of the cache key space.
func cacheKey(method, fullURL string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(fullURL))
	if body != nil {
		h.Write([]byte{0})
		h.Write(body)
	}
	return hex.EncodeToString(h.Sum(nil))
}
