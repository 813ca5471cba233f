// Package pmgr provides a resilient client for the Portfolio Manager service.
//
// The fetch path is wrapped, outer to inner, by: rate limiter, bulkhead,
// circuit breaker, retry. Rejections happen cheaply at the edge; retries run
// inside the breaker's accounting so repeated transient faults trip it.
// Terminal failures fall back to the snapshot cache.
package pmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

const (
	DefaultBaseURL   = "http://localhost:9090"
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 20
	DefaultBulkhead  = 16
)

// Client implements the PortfolioManagerClient interface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger

	limiter  *rate.Limiter
	bulkhead *semaphore.Weighted
	breaker  *gobreaker.CircuitBreaker

	maxAttempts int
	baseBackoff time.Duration

	cache  interfaces.SnapshotCache
	alerts interfaces.EventPublisher
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the per-call HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRateLimit sets the token-bucket rate and burst
func WithRateLimit(requestsPerSecond, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithBulkhead bounds concurrent in-flight requests
func WithBulkhead(maxConcurrent int) ClientOption {
	return func(c *Client) {
		c.bulkhead = semaphore.NewWeighted(int64(maxConcurrent))
	}
}

// WithRetry sets the bounded retry policy
func WithRetry(maxAttempts int, baseBackoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.baseBackoff = baseBackoff
	}
}

// WithSnapshotCache sets the stale-cache fallback store
func WithSnapshotCache(cache interfaces.SnapshotCache) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithAlertPublisher sets the sink for breaker state-change alerts
func WithAlertPublisher(publisher interfaces.EventPublisher) ClientOption {
	return func(c *Client) {
		c.alerts = publisher
	}
}

// WithHTTPClient replaces the HTTP client. Used by tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// BreakerSettings configures the circuit breaker thresholds.
type BreakerSettings struct {
	FailureRate  float64
	MinCalls     int
	OpenDuration time.Duration
}

// NewClient creates a new Portfolio Manager client.
func NewClient(breakerCfg BreakerSettings, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:     rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		bulkhead:    semaphore.NewWeighted(DefaultBulkhead),
		maxAttempts: 4,
		baseBackoff: 200 * time.Millisecond,
		logger:      common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if breakerCfg.FailureRate <= 0 {
		breakerCfg.FailureRate = 0.5
	}
	if breakerCfg.MinCalls <= 0 {
		breakerCfg.MinCalls = 10
	}
	if breakerCfg.OpenDuration <= 0 {
		breakerCfg.OpenDuration = 30 * time.Second
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "pmgr",
		Timeout: breakerCfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(breakerCfg.MinCalls) {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= breakerCfg.FailureRate
		},
		OnStateChange: c.onBreakerStateChange,
	})

	return c
}

// APIError represents an upstream HTTP error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("portfolio manager error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// onBreakerStateChange publishes an ALERT for every breaker transition.
func (c *Client) onBreakerStateChange(name string, from, to gobreaker.State) {
	level := models.AlertWarning
	if to == gobreaker.StateOpen {
		level = models.AlertCritical
	}

	c.logger.Warn().
		Str("breaker", name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Circuit breaker state change")

	if c.alerts == nil {
		return
	}

	alert := &models.Alert{
		Level:     level,
		Source:    "pmgr",
		Type:      models.AlertTypeBreakerState,
		Message:   fmt.Sprintf("circuit breaker %s: %s -> %s", name, from.String(), to.String()),
		Timestamp: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.alerts.PublishAlert(ctx, alert); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to publish breaker alert")
	}
}

// FetchSnapshot fetches the position snapshot for an account and business
// date. Fallbacks are values, never errors: callers must inspect Status.
func (c *Client) FetchSnapshot(ctx context.Context, accountID, businessDate string) (*models.Snapshot, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required: %w", models.ErrInvalidArgument)
	}
	if _, err := common.ParseBusinessDate(businessDate); err != nil {
		return nil, fmt.Errorf("%v: %w", err, models.ErrInvalidArgument)
	}

	// Rate limiter: the only stage allowed to wait.
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", models.ErrCancelled)
	}

	// Bulkhead: fast-fail when saturated.
	if !c.bulkhead.TryAcquire(1) {
		c.logger.Warn().Str("account", accountID).Msg("Bulkhead saturated, using fallback")
		return c.fallback(ctx, accountID, businessDate, models.ErrUpstreamSaturated), nil
	}
	defer c.bulkhead.Release(1)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchWithRetry(ctx, accountID, businessDate)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("fetch snapshot: %w", models.ErrCancelled)
		}
		c.logger.Warn().
			Str("account", accountID).
			Str("date", businessDate).
			Err(err).
			Msg("Snapshot fetch failed, using fallback")
		return c.fallback(ctx, accountID, businessDate, err), nil
	}

	snapshot := result.(*models.Snapshot)
	if snapshot.Status == models.SnapshotAvailable && c.cache != nil {
		if err := c.cache.Put(ctx, snapshot); err != nil {
			c.logger.Warn().Str("account", accountID).Err(err).Msg("Failed to cache snapshot")
		}
	}
	return snapshot, nil
}

// fetchWithRetry retries transient faults with exponential backoff and full
// jitter. Non-retryable faults are wrapped as permanent so backoff stops.
func (c *Client) fetchWithRetry(ctx context.Context, accountID, businessDate string) (*models.Snapshot, error) {
	var snapshot *models.Snapshot

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseBackoff

	attempts := uint64(0)
	if c.maxAttempts > 1 {
		attempts = uint64(c.maxAttempts - 1)
	}

	op := func() error {
		snap, err := c.fetch(ctx, accountID, businessDate)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		snapshot = snap
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, attempts), ctx)); err != nil {
		return nil, classify(err)
	}
	return snapshot, nil
}

// fetch performs one HTTP call.
func (c *Client) fetch(ctx context.Context, accountID, businessDate string) (*models.Snapshot, error) {
	params := url.Values{}
	params.Set("businessDate", businessDate)

	path := fmt.Sprintf("/accounts/%s/eod-snapshot", url.PathEscape(accountID))
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("account", accountID).Str("date", businessDate).Msg("Snapshot request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	var snapshot models.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if snapshot.AccountID == "" {
		snapshot.AccountID = accountID
	}
	if snapshot.BusinessDate == "" {
		snapshot.BusinessDate = businessDate
	}
	return &snapshot, nil
}

// fallback consults the snapshot cache. A cached snapshot is returned with
// status rewritten to STALE_CACHE; otherwise an UNAVAILABLE snapshot with
// empty positions. Cached data is never silently treated as fresh.
func (c *Client) fallback(ctx context.Context, accountID, businessDate string, cause error) *models.Snapshot {
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, accountID)
		if err != nil {
			c.logger.Warn().Str("account", accountID).Err(err).Msg("Snapshot cache read failed")
		} else if cached != nil {
			stale := *cached
			stale.Status = models.SnapshotStaleCache
			c.logger.Info().
				Str("account", accountID).
				Str("cached_date", cached.BusinessDate).
				Err(cause).
				Msg("Returning stale cached snapshot")
			return &stale
		}
	}

	return &models.Snapshot{
		AccountID:    accountID,
		BusinessDate: businessDate,
		Status:       models.SnapshotUnavailable,
		Positions:    nil,
	}
}

// isRetryable reports whether a fault is transient: timeouts, connection
// errors, 5xx, 408 and 429. All other 4xx are permanent.
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode >= 500:
			return true
		case apiErr.StatusCode == http.StatusRequestTimeout, apiErr.StatusCode == http.StatusTooManyRequests:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Connection resets and other url.Error transport faults.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// classify maps a terminal fault to the surfaced upstream error kinds.
func classify(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%v: %w", apiErr, models.ErrUpstreamRateLimited)
		case apiErr.StatusCode == http.StatusRequestTimeout:
			return fmt.Errorf("%v: %w", apiErr, models.ErrUpstreamTimeout)
		default:
			return fmt.Errorf("%v: %w", apiErr, models.ErrUpstreamUnavailable)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%v: %w", err, models.ErrUpstreamTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%v: %w", err, models.ErrUpstreamTimeout)
	}
	return fmt.Errorf("%v: %w", err, models.ErrUpstreamUnavailable)
}

// Compile-time check
var _ interfaces.PortfolioManagerClient = (*Client)(nil)
