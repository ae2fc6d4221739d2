// Package client provides a resilient HTTP client for flaky upstream APIs:
// response caching, sliding-window rate limiting, bounded-concurrency
// queueing, circuit breaking, and classified retry with jittered backoff,
// with live metrics over all of it.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/clinrelay/upstream-client/pkg/audit"
	"github.com/clinrelay/upstream-client/pkg/breaker"
	"github.com/clinrelay/upstream-client/pkg/cache"
	"github.com/clinrelay/upstream-client/pkg/keys"
	"github.com/clinrelay/upstream-client/pkg/logging"
	"github.com/clinrelay/upstream-client/pkg/metrics"
	"github.com/clinrelay/upstream-client/pkg/queue"
	"github.com/clinrelay/upstream-client/pkg/ratelimit"
)

const (
	// maxBodySize bounds how much of an upstream response is read.
	maxBodySize = 10 * 1024 * 1024

	// healthCheckTimeout bounds the HealthCheck probe.
	healthCheckTimeout = 5 * time.Second

	// cleanupInterval is how often stale rate-limit windows are purged.
	cleanupInterval = time.Minute

	// requestIDHeader correlates requests with audit events and logs.
	requestIDHeader = "X-Request-ID"
)

// Config holds the client configuration.
type Config struct {
	// KeyName is the logical upstream identifier resolved through the
	// Provider. Required.
	KeyName string

	// Provider resolves KeyName to a credential and base address. Required.
	Provider keys.Provider

	// Audit receives security and operational events. Defaults to a
	// structured-log sink on the client's logger.
	Audit audit.Sink

	// Name labels this client in metrics. Defaults to KeyName. Clients
	// sharing a Registry must have distinct names.
	Name string

	// Timeout is the per-attempt deadline; each retry gets a fresh budget.
	// Default 15s.
	Timeout time.Duration

	// MaxRetries is the number of retries beyond the first attempt.
	// Default 3.
	MaxRetries int

	// RetryBaseDelay is the backoff before the first retry. Default 1s.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff. Default 30s.
	RetryMaxDelay time.Duration

	// MaxConcurrent bounds in-flight requests; excess callers wait FIFO.
	// Default 5.
	MaxConcurrent int

	// EnableBreaker turns the circuit breaker on. DefaultConfig sets true.
	EnableBreaker bool

	// EnableCache turns GET response caching on. DefaultConfig sets true.
	EnableCache bool

	// CacheTTL is the lifetime of cached responses. Default 5m.
	CacheTTL time.Duration

	// CacheCapacity bounds the in-memory cache. Default 100 entries.
	CacheCapacity int

	// CacheStore overrides the in-memory cache, e.g. with a Redis-backed
	// store shared across processes.
	CacheStore cache.Store

	// RateLimit is the default admission budget when the resolved key does
	// not carry its own. Default 60 requests per 60s.
	RateLimit keys.RatePolicy

	// Breaker tunes the circuit breaker thresholds. Zero fields take the
	// breaker package defaults.
	Breaker breaker.Config

	// Registry receives this client's Prometheus instruments. Defaults to
	// the default registerer.
	Registry prometheus.Registerer

	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper

	// HealthPath is the probe path used by HealthCheck. Default "/health".
	HealthPath string

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a safe default configuration for one upstream key.
func DefaultConfig(keyName string, provider keys.Provider) Config {
	return Config{
		KeyName:        keyName,
		Provider:       provider,
		Timeout:        15 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 1 * time.Second,
		RetryMaxDelay:  30 * time.Second,
		MaxConcurrent:  5,
		EnableBreaker:  true,
		EnableCache:    true,
		CacheTTL:       5 * time.Minute,
		CacheCapacity:  cache.DefaultCapacity,
		RateLimit:      keys.RatePolicy{Requests: 60, Window: 60 * time.Second},
		HealthPath:     "/health",
	}
}

// Stats is the live performance surface of one client.
type Stats struct {
	TotalRequests       int64
	SuccessCount        int64
	ErrorCount          int64
	SuccessRate         float64
	ErrorRate           float64
	AverageResponseTime time.Duration
	CacheHits           int64
	CacheMisses         int64
	CacheHitRate        float64
	CircuitBreakerState string
	QueueRunning        int
	QueueWaiting        int
	RateLimitKeys       int
}

// Client coordinates the request pipeline for one upstream. Its cache,
// rate limiter, queue, breaker, and metrics are owned by this instance and
// must not be shared with clients for other upstreams.
type Client struct {
	config     Config
	provider   keys.Provider
	audit      audit.Sink
	httpClient *http.Client
	store      cache.Store
	limiter    *ratelimit.Limiter
	queue      *queue.Queue
	breaker    *breaker.Breaker
	metrics    *metrics.Collector
	retry      RetryPolicy
	logger     zerolog.Logger

	closed      atomic.Bool
	maxWindowNs atomic.Int64
	stop        chan struct{}
	cleanupWG   sync.WaitGroup
}

// New creates a client. The returned client owns a background cleanup
// goroutine; call Close when done with it.
func New(cfg Config) (*Client, error) {
	if cfg.KeyName == "" {
		return nil, fmt.Errorf("key name is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("key provider is required")
	}

	if cfg.Name == "" {
		cfg.Name = cfg.KeyName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0 (got %d)", cfg.MaxRetries)
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 1 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.RateLimit.Requests <= 0 || cfg.RateLimit.Window <= 0 {
		cfg.RateLimit = keys.RatePolicy{Requests: 60, Window: 60 * time.Second}
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/health"
	}

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = logging.NewLogger("upstream-client").With().Str("key_name", cfg.KeyName).Logger()
	}

	auditSink := cfg.Audit
	if auditSink == nil {
		auditSink = audit.NewZerologSink(logger)
	}

	store := cfg.CacheStore
	if store == nil {
		store = cache.NewLRUStore(cfg.CacheCapacity)
	}

	brkCfg := cfg.Breaker
	if brkCfg.Name == "" {
		brkCfg.Name = cfg.Name
	}
	brkCfg.OnStateChange = func(name string, from, to breaker.State) {
		severity := audit.SeverityMedium
		if to == breaker.StateOpen {
			severity = audit.SeverityHigh
		}
		auditSink.Record(audit.Event{
			Time:     time.Now(),
			KeyName:  cfg.KeyName,
			Action:   "circuit_state_change",
			Severity: severity,
			Detail:   fmt.Sprintf("circuit %s: %s -> %s", name, from, to),
		})
		logger.Warn().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Circuit breaker state changed")
	}

	c := &Client{
		config:   cfg,
		provider: cfg.Provider,
		audit:    auditSink,
		httpClient: &http.Client{
			Transport: cfg.Transport,
		},
		store:   store,
		limiter: ratelimit.NewLimiter(),
		queue:   queue.New(cfg.MaxConcurrent),
		breaker: breaker.New(brkCfg),
		metrics: metrics.NewCollector(cfg.Registry, cfg.Name),
		retry: RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
			MaxDelay:   cfg.RetryMaxDelay,
			Jitter:     0.2,
		},
		logger: logger,
		stop:   make(chan struct{}),
	}
	c.maxWindowNs.Store(int64(cfg.RateLimit.Window))

	c.cleanupWG.Add(1)
	go c.cleanupLoop()

	return c, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body []byte, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body []byte, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body, opts...)
}

// Patch performs a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body []byte, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, body, opts...)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil, opts...)
}

// Do runs one logical request through the full pipeline: key resolution,
// cache lookup, rate-limit admission, queueing, circuit breaking, the
// transport call, and the retry loop. On failure the returned error is
// always an *Error.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, opts ...RequestOption) (*Response, error) {
	start := time.Now()
	requestID := uuid.NewString()

	if c.closed.Load() {
		e := newError(KindConfig, requestID, "client is closed")
		c.recordAudit(e, "request_rejected")
		return nil, e
	}

	var options requestOptions
	for _, opt := range opts {
		opt(&options)
	}
	timeout := c.config.Timeout
	if options.timeout > 0 {
		timeout = options.timeout
	}

	key, err := c.provider.Resolve(ctx, c.config.KeyName)
	if err != nil {
		e := newError(KindConfig, requestID, fmt.Sprintf("resolve key %q", c.config.KeyName))
		e.Cause = err
		return nil, c.finishError(e, start)
	}

	if path == "" || !strings.HasPrefix(path, "/") {
		e := newError(KindValidation, requestID, fmt.Sprintf("path must start with /: %q", path))
		return nil, c.finishError(e, start)
	}
	if !key.AllowsPath(path) {
		e := newError(KindValidation, requestID, fmt.Sprintf("path not permitted for key: %s", path))
		return nil, c.finishError(e, start)
	}

	url := key.BaseURL + path
	idempotent := isIdempotent(method)
	if options.idempotent != nil {
		idempotent = *options.idempotent
	}

	cacheable := method == http.MethodGet && c.config.EnableCache && !options.skipCache
	cacheKey := cache.Key(method, url, body)
	if cacheable {
		if entry, ok := c.store.Get(cacheKey); ok {
			c.metrics.RecordCacheHit()
			c.logger.Debug().
				Str("request_id", requestID).
				Str("path", path).
				Msg("Response served from cache")
			return &Response{
				StatusCode: entry.StatusCode,
				Header:     entry.Header.Clone(),
				Body:       entry.Body,
				Timestamp:  time.Now(),
				RequestID:  requestID,
				Duration:   time.Since(start),
				Cached:     true,
			}, nil
		}
		c.metrics.RecordCacheMiss()
	}

	policy := c.config.RateLimit
	if key.RateLimit.Requests > 0 && key.RateLimit.Window > 0 {
		policy = key.RateLimit
	}
	c.noteWindow(policy.Window)

	if !c.limiter.Allow(key.Name+":"+path, policy.Requests, policy.Window) {
		e := newError(KindRateLimited, requestID, fmt.Sprintf(
			"rate limit exceeded: %d requests per %s", policy.Requests, policy.Window))
		return nil, c.finishError(e, start)
	}

	spec := requestSpec{
		method:     method,
		url:        url,
		path:       path,
		body:       body,
		headers:    options.headers,
		requestID:  requestID,
		credential: key.Credential,
		timeout:    timeout,
	}

	var lastErr *Error
	attempt := 0
	for {
		attempt++

		if err := c.queue.Acquire(ctx); err != nil {
			lastErr = c.classifyAdmission(err, requestID)
			lastErr.RetryCount = attempt - 1
			return nil, c.finishError(lastErr, start)
		}
		status, header, respBody, aerr := c.attempt(ctx, spec)
		c.queue.Release()

		if aerr == nil {
			resp := &Response{
				StatusCode: status,
				Header:     header,
				Body:       respBody,
				Timestamp:  time.Now(),
				RequestID:  requestID,
				Duration:   time.Since(start),
				RetryCount: attempt - 1,
			}
			if cacheable && status >= 200 && status < 300 {
				c.store.Set(cacheKey, &cache.Entry{
					Body:       respBody,
					Header:     header.Clone(),
					StatusCode: status,
				}, c.config.CacheTTL)
			}
			c.metrics.RecordSuccess(resp.Duration)
			c.logger.Debug().
				Str("request_id", requestID).
				Str("method", method).
				Str("path", path).
				Int("status", status).
				Int("retries", resp.RetryCount).
				Dur("duration", resp.Duration).
				Msg("Request completed")
			return resp, nil
		}

		lastErr = aerr
		if !idempotent || !c.retry.ShouldRetry(aerr, attempt) {
			break
		}

		// The backoff happens with the queue slot already released, so a
		// waiting retry never starves other callers of capacity.
		delay := c.retry.DelayFor(aerr, attempt)
		c.logger.Debug().
			Str("request_id", requestID).
			Str("kind", string(aerr.Kind)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			lastErr = c.classifyAdmission(ctx.Err(), requestID)
			lastErr.RetryCount = attempt - 1
			return nil, c.finishError(lastErr, start)
		case <-time.After(delay):
		}
	}

	lastErr.RetryCount = attempt - 1
	return nil, c.finishError(lastErr, start)
}

// HealthCheck probes the upstream through the full pipeline, so an open
// circuit correctly reports unhealthy.
func (c *Client) HealthCheck(ctx context.Context) bool {
	resp, err := c.Get(ctx, c.config.HealthPath,
		WithTimeout(healthCheckTimeout), WithoutCache())
	return err == nil && resp.StatusCode < 400
}

// Stats returns a snapshot of the client's live performance counters.
func (c *Client) Stats() Stats {
	snap := c.metrics.Snapshot()
	running, waiting := c.queue.Stats()
	return Stats{
		TotalRequests:       snap.TotalRequests,
		SuccessCount:        snap.SuccessCount,
		ErrorCount:          snap.ErrorCount,
		SuccessRate:         snap.SuccessRate(),
		ErrorRate:           snap.ErrorRate(),
		AverageResponseTime: snap.AverageLatency(),
		CacheHits:           snap.CacheHits,
		CacheMisses:         snap.CacheMisses,
		CacheHitRate:        snap.CacheHitRate(),
		CircuitBreakerState: c.breaker.State().String(),
		QueueRunning:        running,
		QueueWaiting:        waiting,
		RateLimitKeys:       c.limiter.Keys(),
	}
}

// ClearCache drops all cached responses.
func (c *Client) ClearCache() {
	c.store.Clear()
}

// ResetBreaker forces the circuit breaker back to closed.
func (c *Client) ResetBreaker() {
	c.breaker.Reset()
}

// ResetRateLimit clears all recorded admission windows.
func (c *Client) ResetRateLimit() {
	c.limiter.ResetAll()
}

// ResetStats zeroes the stats counters.
func (c *Client) ResetStats() {
	c.metrics.Reset()
}

// Close stops the cleanup goroutine and rejects all further calls with a
// config-kind error. Close is idempotent.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.stop)
	c.queue.Close()
	c.cleanupWG.Wait()
	c.audit.Record(audit.Event{
		Time:     time.Now(),
		KeyName:  c.config.KeyName,
		Action:   "client_closed",
		Severity: audit.SeverityLow,
	})
	c.logger.Info().Msg("Client closed")
	return nil
}

// requestSpec carries everything one attempt needs.
type requestSpec struct {
	method     string
	url        string
	path       string
	body       []byte
	headers    http.Header
	requestID  string
	credential string
	timeout    time.Duration
}

// attempt performs one transport call, wrapped in the circuit breaker when
// enabled. It returns a normalized *Error on failure.
func (c *Client) attempt(ctx context.Context, spec requestSpec) (int, http.Header, []byte, *Error) {
	var (
		status   int
		header   http.Header
		respBody []byte
		aerr     *Error
	)

	call := func() error {
		status, header, respBody, aerr = c.transportCall(ctx, spec)
		if aerr != nil && breakerCounts(aerr) {
			return aerr
		}
		// Plain 4xx means the upstream is alive; it must not trip the
		// breaker even though the caller sees an error.
		return nil
	}

	if !c.config.EnableBreaker {
		_ = call()
		return status, header, respBody, aerr
	}

	if err := c.breaker.Execute(call); errors.Is(err, breaker.ErrCircuitOpen) {
		e := newError(KindCircuitOpen, spec.requestID, "circuit breaker is open")
		e.Cause = breaker.ErrCircuitOpen
		return 0, nil, nil, e
	}
	return status, header, respBody, aerr
}

// transportCall builds and executes one HTTP request with a fresh
// per-attempt timeout.
func (c *Client) transportCall(ctx context.Context, spec requestSpec) (int, http.Header, []byte, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, spec.method, spec.url, bytes.NewReader(spec.body))
	if err != nil {
		e := newError(KindValidation, spec.requestID, "build request")
		e.Cause = err
		return 0, nil, nil, e
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, spec.requestID)
	req.Header.Set("Authorization", "Bearer "+spec.credential)
	if len(spec.body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, values := range spec.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, c.classifyTransport(err, spec.requestID)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		e := newError(KindNetwork, spec.requestID, "read response body")
		e.Cause = err
		e.IsNetworkError = true
		return 0, nil, nil, e
	}

	if resp.StatusCode >= 400 {
		return 0, nil, nil, c.classifyStatus(resp, respBody, spec.requestID)
	}

	return resp.StatusCode, resp.Header.Clone(), respBody, nil
}

// classifyTransport normalizes a transport-level failure.
func (c *Client) classifyTransport(err error, requestID string) *Error {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())

	if timeout {
		e := newError(KindTimeout, requestID, "request timed out")
		e.Cause = err
		e.IsTimeout = true
		return e
	}

	e := newError(KindNetwork, requestID, "request failed")
	e.Cause = err
	e.IsNetworkError = true
	return e
}

// classifyStatus normalizes an HTTP error response.
func (c *Client) classifyStatus(resp *http.Response, body []byte, requestID string) *Error {
	kind := KindUpstreamClient
	if resp.StatusCode >= 500 {
		kind = KindUpstreamServer
	}

	e := newError(kind, requestID, fmt.Sprintf("upstream returned %s", resp.Status))
	e.StatusCode = resp.StatusCode
	e.UpstreamCode = resp.Header.Get("X-Error-Code")
	if len(body) > 0 {
		detail := string(body)
		if len(detail) > 512 {
			detail = detail[:512]
		}
		e.Details = map[string]string{"body": detail}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return e
}

// classifyAdmission normalizes failures that happen before or between
// transport attempts: queue shutdown and context expiry.
func (c *Client) classifyAdmission(err error, requestID string) *Error {
	switch {
	case errors.Is(err, queue.ErrClosed):
		e := newError(KindConfig, requestID, "client is closed")
		e.Cause = err
		return e
	case errors.Is(err, context.DeadlineExceeded):
		e := newError(KindTimeout, requestID, "request timed out waiting for capacity")
		e.Cause = err
		e.IsTimeout = true
		return e
	default:
		e := newError(KindNetwork, requestID, "request cancelled")
		e.Cause = err
		return e
	}
}

// breakerCounts reports whether a failure should count against the circuit
// breaker. Only upstream-health failures do; plain 4xx responses do not.
func breakerCounts(e *Error) bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindUpstreamServer:
		return true
	case KindUpstreamClient:
		return e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// finishError records metrics and audit for a failed logical request and
// returns the error for the caller.
func (c *Client) finishError(e *Error, start time.Time) *Error {
	c.metrics.RecordError(time.Since(start))
	c.recordAudit(e, "request_failed")
	c.logger.Warn().
		Str("request_id", e.RequestID).
		Str("kind", string(e.Kind)).
		Int("status", e.StatusCode).
		Int("retries", e.RetryCount).
		Err(e.Cause).
		Msg(e.Message)
	return e
}

// recordAudit forwards an error to the external audit collaborator.
func (c *Client) recordAudit(e *Error, action string) {
	c.audit.Record(audit.Event{
		Time:       e.Timestamp,
		RequestID:  e.RequestID,
		KeyName:    c.config.KeyName,
		Action:     action,
		Severity:   e.Severity(),
		StatusCode: e.StatusCode,
		Detail:     e.Error(),
	})
}

// noteWindow tracks the widest rate-limit window seen, so cleanup never
// drops timestamps that could still influence a decision.
func (c *Client) noteWindow(window time.Duration) {
	for {
		cur := c.maxWindowNs.Load()
		if int64(window) <= cur {
			return
		}
		if c.maxWindowNs.CompareAndSwap(cur, int64(window)) {
			return
		}
	}
}

// cleanupLoop periodically purges stale rate-limit windows until Close.
func (c *Client) cleanupLoop() {
	defer c.cleanupWG.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.limiter.Cleanup(time.Duration(c.maxWindowNs.Load()))
		}
	}
}
