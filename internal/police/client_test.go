package police

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danielmh111/police-data-scraper/internal/config"
	"github.com/danielmh111/police-data-scraper/internal/models"
	"github.com/danielmh111/police-data-scraper/pkg/logging"
	"github.com/danielmh111/police-data-scraper/pkg/metrics"
)

// One collector per test binary; promauto registers into the default
// registry and duplicate registration panics.
var testMetrics = metrics.NewCollector("police_test")

func testClient(baseURL string) *Client {
	logger := logging.NewStructuredLogger("test", "test", logging.FatalLevel)
	logger.SetOutput(io.Discard)

	cfg := config.APIConfig{
		BaseURL:           baseURL,
		RequestsPerSecond: 100,
		MaxRetries:        3,
		RetryBackoffBase:  10 * time.Millisecond,
		RequestTimeout:    2 * time.Second,
	}

	return NewClient(cfg, logger, testMetrics)
}

func testItem() models.WorkItem {
	return models.WorkItem{
		Area:  "test-area",
		Month: "2023-04",
		Poly:  "52.4,-1.9:52.5,-1.9:52.5,-2.0",
	}
}

func TestFetchMonth_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("date"); got != "2023-04" {
			t.Errorf("date param = %q, want 2023-04", got)
		}
		if got := r.URL.Query().Get("poly"); got == "" {
			t.Error("poly param missing")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": 1, "category": "burglary", "month": "2023-04", "outcome_status": {"category": "Under investigation", "date": "2023-05"}},
			{"id": 2, "category": "vehicle-crime", "month": "2023-04", "outcome_status": null}
		]`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	incidents, err := client.FetchMonth(context.Background(), testItem())
	if err != nil {
		t.Fatalf("FetchMonth() error = %v", err)
	}

	if len(incidents) != 2 {
		t.Fatalf("incident count = %d, want 2", len(incidents))
	}

	if incidents[0].OutcomeStatus == nil || incidents[0].OutcomeStatus.Category != "Under investigation" {
		t.Errorf("first incident outcome = %v, want Under investigation", incidents[0].OutcomeStatus)
	}

	if incidents[1].OutcomeStatus != nil {
		t.Errorf("second incident outcome = %v, want nil", incidents[1].OutcomeStatus)
	}
}

// TestFetchMonth_NotFound checks that a 404 is a valid empty outcome, not
// an error: the archive simply holds no data for that month
func TestFetchMonth_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(server.URL)

	incidents, err := client.FetchMonth(context.Background(), testItem())
	if err != nil {
		t.Fatalf("FetchMonth() error = %v, want nil for 404", err)
	}

	if incidents == nil {
		t.Fatal("incidents = nil, want empty non-nil list")
	}

	if len(incidents) != 0 {
		t.Errorf("incident count = %d, want 0", len(incidents))
	}
}

func TestFetchMonth_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"id": 1, "category": "drugs", "month": "2023-04"}]`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	incidents, err := client.FetchMonth(context.Background(), testItem())
	if err != nil {
		t.Fatalf("FetchMonth() error = %v, want success after retries", err)
	}

	if len(incidents) != 1 {
		t.Errorf("incident count = %d, want 1", len(incidents))
	}

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestFetchMonth_RateLimitExhausted(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := testClient(server.URL)

	_, err := client.FetchMonth(context.Background(), testItem())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}

	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", apiErr.StatusCode)
	}

	if !apiErr.IsTransient() {
		t.Error("429 failure should be transient")
	}

	// Initial attempt plus MaxRetries retries
	if got := attempts.Load(); got != 4 {
		t.Errorf("attempts = %d, want 4", got)
	}
}

// TestFetchMonth_RespectsRetryAfter checks that the server's Retry-After
// hint takes precedence over the computed backoff
func TestFetchMonth_RespectsRetryAfter(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := testClient(server.URL)

	start := time.Now()
	incidents, err := client.FetchMonth(context.Background(), testItem())
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("FetchMonth() error = %v", err)
	}

	if len(incidents) != 0 {
		t.Errorf("incident count = %d, want 0", len(incidents))
	}

	if elapsed < 1*time.Second {
		t.Errorf("elapsed = %v, want >= 1s (Retry-After hint ignored)", elapsed)
	}
}

// TestFetchMonth_ClientErrorNotRetried checks that other 4xx statuses fail
// the work item immediately
func TestFetchMonth_ClientErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusRequestURITooLong)
	}))
	defer server.Close()

	client := testClient(server.URL)

	_, err := client.FetchMonth(context.Background(), testItem())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}

	if apiErr.StatusCode != http.StatusRequestURITooLong {
		t.Errorf("status = %d, want 414", apiErr.StatusCode)
	}

	if apiErr.IsTransient() {
		t.Error("4xx failure should not be transient")
	}

	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retries)", got)
	}
}

func TestFetchMonth_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close() // nothing listens any more

	client := testClient(serverURL)

	_, err := client.FetchMonth(context.Background(), testItem())

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error = %v, want *NetworkError", err)
	}

	if !netErr.IsTransient() {
		t.Error("network failure should be transient")
	}
}

func TestFetchMonth_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := testClient(server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.FetchMonth(ctx, testItem()); err == nil {
		t.Error("FetchMonth() expected error for cancelled context, got nil")
	}
}

func TestRetryAfterDelay(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
		wantOK bool
	}{
		{name: "absent", header: "", want: 0, wantOK: false},
		{name: "delay seconds", header: "2", want: 2 * time.Second, wantOK: true},
		{name: "zero seconds", header: "0", want: 0, wantOK: true},
		{name: "garbage", header: "soon", want: 0, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(http.StatusTooManyRequests)
			}))
			defer server.Close()

			client := testClient(server.URL)
			resp, err := client.http.R().Get(server.URL)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}

			got, ok := retryAfterDelay(resp)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("retryAfterDelay() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
