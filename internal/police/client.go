package police

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/danielmh111/police-data-scraper/internal/config"
	"github.com/danielmh111/police-data-scraper/internal/models"
	"github.com/danielmh111/police-data-scraper/pkg/logging"
	"github.com/danielmh111/police-data-scraper/pkg/metrics"
)

// APIError represents a non-success, non-404 response from the police data
// API after any retries have been exhausted.
type APIError struct {
	StatusCode int
	Attempts   int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("police api returned status %d after %d attempts", e.StatusCode, e.Attempts)
}

// IsTransient reports whether the failure was retryable in principle.
// Rate limiting and server errors are; other client errors are not.
func (e *APIError) IsTransient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NetworkError wraps a transport-level failure (timeout, connection reset)
// that persisted through retries.
type NetworkError struct {
	Err      error
	Attempts int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("police api unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsTransient returns true as network failures are retryable
func (e *NetworkError) IsTransient() bool {
	return true
}

// Client fetches street-level crime data under a shared request budget.
// The rate limiter is the single gate for every request the process makes,
// so the aggregate rate stays under the configured ceiling no matter how
// many workers call FetchMonth concurrently.
type Client struct {
	http        *resty.Client
	limiter     *rate.Limiter
	baseURL     string
	maxRetries  int
	backoffBase time.Duration
	logger      *logging.StructuredLogger
	metrics     *metrics.Collector
}

// NewClient creates a police data API client
func NewClient(cfg config.APIConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Client {
	// Retries stay in FetchMonth where the status taxonomy lives; resty
	// only provides the transport.
	httpClient := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(0)

	return &Client{
		http:        httpClient,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
		baseURL:     cfg.BaseURL,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.RetryBackoffBase,
		logger:      logger,
		metrics:     metricsCollector,
	}
}

// FetchMonth executes one work item's request. A 404 means the archive has
// no data for that area and month and yields an empty list, not an error.
// 429 and 5xx responses and network failures are retried with exponential
// backoff; a Retry-After hint from the server takes precedence over the
// computed delay. Any other non-200 status fails the work item immediately.
func (c *Client) FetchMonth(ctx context.Context, item models.WorkItem) ([]models.APIIncident, error) {
	attempts := 0

	for {
		attempts++

		if err := c.waitForBudget(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.doRequest(ctx, item)
		if err != nil {
			c.metrics.RecordFetchOutcome("network_error")
			c.logger.Warn(ctx, "[FETCH_NETWORK_ERROR] Request failed", logging.Fields{
				"area":    item.Area,
				"month":   item.Month,
				"attempt": attempts,
				"error":   err.Error(),
			})

			if attempts > c.maxRetries {
				return nil, &NetworkError{Err: err, Attempts: attempts}
			}

			c.metrics.RecordFetchRetry("network_error")
			if err := c.sleep(ctx, c.backoff(attempts)); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode() == http.StatusOK:
			var incidents []models.APIIncident
			if err := json.Unmarshal(resp.Body(), &incidents); err != nil {
				return nil, fmt.Errorf("decode response for %s %s: %w", item.Area, item.Month, err)
			}

			c.metrics.RecordFetchOutcome("ok")
			c.logger.Debug(ctx, "[FETCH_OK] Month fetched", logging.Fields{
				"area":      item.Area,
				"month":     item.Month,
				"incidents": len(incidents),
			})
			return incidents, nil

		case resp.StatusCode() == http.StatusNotFound:
			// No data held for this area and month. A valid empty result,
			// not a failure.
			c.metrics.RecordFetchOutcome("empty")
			c.logger.Debug(ctx, "[FETCH_EMPTY] No data for month", logging.Fields{
				"area":  item.Area,
				"month": item.Month,
			})
			return []models.APIIncident{}, nil

		case resp.StatusCode() == http.StatusTooManyRequests:
			c.metrics.RecordFetchOutcome("rate_limited")
			c.logger.Warn(ctx, "[FETCH_RATE_LIMITED] Upstream throttled request", logging.Fields{
				"area":    item.Area,
				"month":   item.Month,
				"attempt": attempts,
			})

			if attempts > c.maxRetries {
				return nil, &APIError{StatusCode: resp.StatusCode(), Attempts: attempts}
			}

			delay := c.backoff(attempts)
			if hint, ok := retryAfterDelay(resp); ok {
				delay = hint
			}

			c.metrics.RecordFetchRetry("rate_limited")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode() >= 500:
			c.metrics.RecordFetchOutcome("server_error")
			c.logger.Warn(ctx, "[FETCH_SERVER_ERROR] Upstream server error", logging.Fields{
				"area":    item.Area,
				"month":   item.Month,
				"status":  resp.StatusCode(),
				"attempt": attempts,
			})

			if attempts > c.maxRetries {
				return nil, &APIError{StatusCode: resp.StatusCode(), Attempts: attempts}
			}

			c.metrics.RecordFetchRetry("server_error")
			if err := c.sleep(ctx, c.backoff(attempts)); err != nil {
				return nil, err
			}
			continue

		default:
			// Remaining 4xx statuses will not improve on retry. 414 here
			// means a boundary slipped past the length ceiling.
			c.metrics.RecordFetchOutcome("client_error")
			c.logger.Warn(ctx, "[FETCH_CLIENT_ERROR] Request rejected", logging.Fields{
				"area":   item.Area,
				"month":  item.Month,
				"status": resp.StatusCode(),
				"url":    item.URL(c.baseURL),
			})
			return nil, &APIError{StatusCode: resp.StatusCode(), Attempts: attempts}
		}
	}
}

// doRequest performs a single GET attempt
func (c *Client) doRequest(ctx context.Context, item models.WorkItem) (*resty.Response, error) {
	timer := c.metrics.NewTimer(c.metrics.FetchDuration)
	defer timer.ObserveDuration()

	return c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"date": item.Month,
			"poly": item.Poly,
		}).
		Get(c.baseURL)
}

// waitForBudget blocks until the shared rate limiter grants a token
func (c *Client) waitForBudget(ctx context.Context) error {
	timer := c.metrics.NewTimer(c.metrics.RateLimiterWaitTime)
	defer timer.ObserveDuration()

	return c.limiter.Wait(ctx)
}

// backoff computes the exponential delay before the next attempt
func (c *Client) backoff(attempt int) time.Duration {
	return c.backoffBase * time.Duration(1<<(attempt-1))
}

// sleep waits for the given duration unless the context is cancelled first
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryAfterDelay extracts the server's retry hint, either delay-seconds
// or an HTTP date
func retryAfterDelay(resp *resty.Response) (time.Duration, bool) {
	header := resp.Header().Get("Retry-After")
	if header == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second, true
	}

	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
		return 0, true
	}

	return 0, false
}
