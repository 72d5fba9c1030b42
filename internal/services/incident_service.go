package services

import (
	"context"

	"github.com/danielmh111/police-data-scraper/internal/models"
	"github.com/danielmh111/police-data-scraper/internal/repository"
	"github.com/danielmh111/police-data-scraper/pkg/logging"
	"github.com/danielmh111/police-data-scraper/pkg/metrics"
)

// IncidentService handles queries over stored crime data
type IncidentService struct {
	repo    repository.IncidentRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewIncidentService creates a new incident service
func NewIncidentService(repo repository.IncidentRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IncidentService {
	return &IncidentService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GetIncident retrieves a single incident by ID
func (s *IncidentService) GetIncident(ctx context.Context, id int64) (*models.Incident, error) {
	return s.repo.GetIncident(ctx, id)
}

// GetIncidents retrieves incidents with filtering
func (s *IncidentService) GetIncidents(ctx context.Context, filter repository.IncidentFilter) ([]*models.Incident, int, error) {
	return s.repo.GetIncidents(ctx, filter)
}

// GetMonthlyCounts retrieves aggregate rows with filtering
func (s *IncidentService) GetMonthlyCounts(ctx context.Context, filter repository.CountFilter) ([]*models.MonthlyCount, int, error) {
	return s.repo.GetMonthlyCounts(ctx, filter)
}

// StoreCollection persists a flattened incident table and rebuilds the
// aggregate table in the database. The store replaces any previous run.
func (s *IncidentService) StoreCollection(ctx context.Context, incidents []*models.Incident) (int, error) {
	if err := s.repo.TruncateIncidents(ctx); err != nil {
		return 0, err
	}

	if err := s.repo.CreateIncidentsBatch(ctx, incidents); err != nil {
		return 0, err
	}

	aggregateRows, err := s.repo.RecalculateMonthlyCounts(ctx)
	if err != nil {
		return 0, err
	}

	s.logger.Info(ctx, "[STORE_COMPLETE] Collection stored", logging.Fields{
		"incident_rows":  len(incidents),
		"aggregate_rows": aggregateRows,
	})

	return aggregateRows, nil
}
