package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/danielmh111/police-data-scraper/internal/repository"
	"github.com/danielmh111/police-data-scraper/internal/services"
	"github.com/danielmh111/police-data-scraper/pkg/logging"
	"github.com/danielmh111/police-data-scraper/pkg/metrics"
)

// IncidentHandler handles crime data API endpoints
type IncidentHandler struct {
	incidentService *services.IncidentService
	logger          *logging.StructuredLogger
	metrics         *metrics.Collector
}

// NewIncidentHandler creates a new incident handler
func NewIncidentHandler(
	incidentService *services.IncidentService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *IncidentHandler {
	return &IncidentHandler{
		incidentService: incidentService,
		logger:          logger,
		metrics:         metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// GetIncidents handles GET /api/incidents
func (h *IncidentHandler) GetIncidents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/incidents").Observe(duration.Seconds())
	}()

	page, limit := parsePagination(r)
	offset := (page - 1) * limit

	filter := repository.IncidentFilter{
		Limit:  limit,
		Offset: offset,
	}

	if area := r.URL.Query().Get("area"); area != "" {
		filter.Area = &area
	}

	if month := r.URL.Query().Get("month"); month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			h.sendError(w, r, "invalid month format, expected YYYY-MM", http.StatusBadRequest)
			return
		}
		filter.Month = &month
	}

	if category := r.URL.Query().Get("category"); category != "" {
		filter.Category = &category
	}

	incidents, total, err := h.incidentService.GetIncidents(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_INCIDENTS_ERROR] Failed to get incidents", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/incidents")
		h.sendError(w, r, "failed to retrieve incidents", http.StatusInternalServerError)
		return
	}

	response := PaginatedResponse{
		Data:       incidents,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}

	h.metrics.RecordAPIRequest("/api/incidents", "GET", "200")
	h.sendJSON(w, response, http.StatusOK)
}

// GetIncident handles GET /api/incidents/{id}
func (h *IncidentHandler) GetIncident(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/incidents/{id}").Observe(duration.Seconds())
	}()

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.sendError(w, r, "invalid incident id", http.StatusBadRequest)
		return
	}

	incident, err := h.incidentService.GetIncident(ctx, id)
	if err != nil {
		var notFound *repository.NotFoundError
		if errors.As(err, &notFound) {
			h.sendError(w, r, notFound.Error(), http.StatusNotFound)
			return
		}

		h.logger.Error(ctx, "[API_GET_INCIDENT_ERROR] Failed to get incident", logging.Fields{
			"id": id,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/incidents/{id}")
		h.sendError(w, r, "failed to retrieve incident", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/incidents/{id}", "GET", "200")
	h.sendJSON(w, incident, http.StatusOK)
}

// GetStats handles GET /api/incidents/stats
func (h *IncidentHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/incidents/stats").Observe(duration.Seconds())
	}()

	page, limit := parsePagination(r)
	offset := (page - 1) * limit

	filter := repository.CountFilter{
		Limit:  limit,
		Offset: offset,
	}

	if area := r.URL.Query().Get("area"); area != "" {
		filter.Area = &area
	}

	if month := r.URL.Query().Get("month"); month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			h.sendError(w, r, "invalid month format, expected YYYY-MM", http.StatusBadRequest)
			return
		}
		filter.Month = &month
	}

	counts, total, err := h.incidentService.GetMonthlyCounts(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_STATS_ERROR] Failed to get monthly counts", logging.Fields{
			"filter": filter,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/incidents/stats")
		h.sendError(w, r, "failed to retrieve monthly counts", http.StatusInternalServerError)
		return
	}

	response := PaginatedResponse{
		Data:       counts,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}

	h.metrics.RecordAPIRequest("/api/incidents/stats", "GET", "200")
	h.sendJSON(w, response, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *IncidentHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// parsePagination extracts page and limit query parameters with defaults
func parsePagination(r *http.Request) (int, int) {
	page := 1
	limit := 100

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	return page, limit
}

// sendJSON sends a JSON response
func (h *IncidentHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *IncidentHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all crime data API routes
func (h *IncidentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/incidents", h.GetIncidents).Methods("GET")
	router.HandleFunc("/api/incidents/stats", h.GetStats).Methods("GET")
	router.HandleFunc("/api/incidents/{id:[0-9]+}", h.GetIncident).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
