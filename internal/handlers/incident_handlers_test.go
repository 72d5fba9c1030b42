package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/danielmh111/police-data-scraper/internal/models"
	"github.com/danielmh111/police-data-scraper/internal/repository"
	"github.com/danielmh111/police-data-scraper/internal/services"
	"github.com/danielmh111/police-data-scraper/pkg/logging"
	"github.com/danielmh111/police-data-scraper/pkg/metrics"
)

// One collector per test binary; promauto registers into the default
// registry and duplicate registration panics.
var testMetrics = metrics.NewCollector("handlers_test")

// fakeRepository serves canned rows for handler tests
type fakeRepository struct {
	incidents []*models.Incident
	counts    []*models.MonthlyCount
	err       error
}

func (f *fakeRepository) TruncateIncidents(ctx context.Context) error { return f.err }

func (f *fakeRepository) CreateIncidentsBatch(ctx context.Context, incidents []*models.Incident) error {
	return f.err
}

func (f *fakeRepository) GetIncident(ctx context.Context, id int64) (*models.Incident, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, incident := range f.incidents {
		if incident.ID == id {
			return incident, nil
		}
	}
	return nil, &repository.NotFoundError{Resource: "incident", ID: strconv.FormatInt(id, 10)}
}

func (f *fakeRepository) GetIncidents(ctx context.Context, filter repository.IncidentFilter) ([]*models.Incident, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}

	matched := make([]*models.Incident, 0, len(f.incidents))
	for _, incident := range f.incidents {
		if filter.Area != nil && incident.Area != *filter.Area {
			continue
		}
		if filter.Month != nil && incident.Month != *filter.Month {
			continue
		}
		if filter.Category != nil && incident.Category != *filter.Category {
			continue
		}
		matched = append(matched, incident)
	}
	return matched, len(matched), nil
}

func (f *fakeRepository) RecalculateMonthlyCounts(ctx context.Context) (int, error) {
	return len(f.counts), f.err
}

func (f *fakeRepository) GetMonthlyCounts(ctx context.Context, filter repository.CountFilter) ([]*models.MonthlyCount, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.counts, len(f.counts), nil
}

func (f *fakeRepository) HealthCheck(ctx context.Context) error { return f.err }

func testRouter(repo repository.IncidentRepository) *mux.Router {
	logger := logging.NewStructuredLogger("test", "test", logging.FatalLevel)
	logger.SetOutput(io.Discard)

	service := services.NewIncidentService(repo, logger, testMetrics)
	handler := NewIncidentHandler(service, logger, testMetrics)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func seedIncidents() []*models.Incident {
	status := "Under investigation"
	return []*models.Incident{
		{ID: 1, Area: "alpha", Month: "2024-01", Category: "burglary", Status: &status, CreatedAt: time.Now()},
		{ID: 2, Area: "alpha", Month: "2024-02", Category: "drugs", CreatedAt: time.Now()},
		{ID: 3, Area: "beta", Month: "2024-01", Category: "burglary", CreatedAt: time.Now()},
	}
}

func TestGetIncidents(t *testing.T) {
	router := testRouter(&fakeRepository{incidents: seedIncidents()})

	tests := []struct {
		name      string
		url       string
		wantCode  int
		wantTotal int
	}{
		{name: "all incidents", url: "/api/incidents", wantCode: http.StatusOK, wantTotal: 3},
		{name: "filter by area", url: "/api/incidents?area=alpha", wantCode: http.StatusOK, wantTotal: 2},
		{name: "filter by month", url: "/api/incidents?month=2024-01", wantCode: http.StatusOK, wantTotal: 2},
		{name: "filter by category", url: "/api/incidents?category=drugs", wantCode: http.StatusOK, wantTotal: 1},
		{name: "combined filters", url: "/api/incidents?area=beta&category=burglary", wantCode: http.StatusOK, wantTotal: 1},
		{name: "invalid month", url: "/api/incidents?month=January", wantCode: http.StatusBadRequest},
		{name: "no matches", url: "/api/incidents?area=nowhere", wantCode: http.StatusOK, wantTotal: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.url, nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}

			if tt.wantCode != http.StatusOK {
				return
			}

			var response PaginatedResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}

			if response.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", response.Total, tt.wantTotal)
			}
		})
	}
}

func TestGetIncident(t *testing.T) {
	router := testRouter(&fakeRepository{incidents: seedIncidents()})

	req := httptest.NewRequest("GET", "/api/incidents/1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var incident models.Incident
	if err := json.NewDecoder(rec.Body).Decode(&incident); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if incident.ID != 1 || incident.Area != "alpha" {
		t.Errorf("incident = %d/%s, want 1/alpha", incident.ID, incident.Area)
	}

	if incident.Status == nil || *incident.Status != "Under investigation" {
		t.Errorf("status = %v, want Under investigation", incident.Status)
	}
}

func TestGetIncident_NotFound(t *testing.T) {
	router := testRouter(&fakeRepository{incidents: seedIncidents()})

	req := httptest.NewRequest("GET", "/api/incidents/99", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetIncidents_RepositoryError(t *testing.T) {
	router := testRouter(&fakeRepository{err: errors.New("connection refused")})

	req := httptest.NewRequest("GET", "/api/incidents", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var response ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if response.Code != http.StatusInternalServerError {
		t.Errorf("error code = %d, want 500", response.Code)
	}
}

func TestGetStats(t *testing.T) {
	counts := []*models.MonthlyCount{
		{ID: 1, Area: "alpha", Month: "2024-01", Category: "burglary", Count: 12},
		{ID: 2, Area: "alpha", Month: "2024-01", Category: "drugs", Count: 3},
	}
	router := testRouter(&fakeRepository{counts: counts})

	req := httptest.NewRequest("GET", "/api/incidents/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var response PaginatedResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Total != 2 {
		t.Errorf("total = %d, want 2", response.Total)
	}
}

func TestHealthCheck(t *testing.T) {
	router := testRouter(&fakeRepository{})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var status map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if status["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", status["status"])
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantPage  int
		wantLimit int
	}{
		{name: "defaults", url: "/api/incidents", wantPage: 1, wantLimit: 100},
		{name: "explicit", url: "/api/incidents?page=3&limit=50", wantPage: 3, wantLimit: 50},
		{name: "zero page ignored", url: "/api/incidents?page=0", wantPage: 1, wantLimit: 100},
		{name: "oversized limit ignored", url: "/api/incidents?limit=5000", wantPage: 1, wantLimit: 100},
		{name: "garbage ignored", url: "/api/incidents?page=abc&limit=xyz", wantPage: 1, wantLimit: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.url, nil)

			page, limit := parsePagination(req)
			if page != tt.wantPage || limit != tt.wantLimit {
				t.Errorf("parsePagination() = (%d, %d), want (%d, %d)", page, limit, tt.wantPage, tt.wantLimit)
			}
		})
	}
}
