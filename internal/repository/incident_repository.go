package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/danielmh111/police-data-scraper/internal/models"
	"github.com/danielmh111/police-data-scraper/pkg/database"
	"github.com/danielmh111/police-data-scraper/pkg/logging"
	"github.com/danielmh111/police-data-scraper/pkg/metrics"
)

// IncidentRepository provides data access for collected crime data
type IncidentRepository interface {
	// Incident table operations
	TruncateIncidents(ctx context.Context) error
	CreateIncidentsBatch(ctx context.Context, incidents []*models.Incident) error
	GetIncident(ctx context.Context, id int64) (*models.Incident, error)
	GetIncidents(ctx context.Context, filter IncidentFilter) ([]*models.Incident, int, error)

	// Aggregate table operations
	RecalculateMonthlyCounts(ctx context.Context) (int, error)
	GetMonthlyCounts(ctx context.Context, filter CountFilter) ([]*models.MonthlyCount, int, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// IncidentFilter defines filters for querying incidents
type IncidentFilter struct {
	Area     *string
	Month    *string
	Category *string
	Limit    int
	Offset   int
}

// CountFilter defines filters for querying monthly counts
type CountFilter struct {
	Area   *string
	Month  *string
	Limit  int
	Offset int
}

// incidentBatchSize bounds the number of rows per insert statement
const incidentBatchSize = 500

// incidentRepository implements IncidentRepository
type incidentRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewIncidentRepository creates a new incident repository
func NewIncidentRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) IncidentRepository {
	return &incidentRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// TruncateIncidents clears the incident table. A collection run fully
// recomputes both tables, so storing starts from empty.
func (r *incidentRepository) TruncateIncidents(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "truncate_incidents", `TRUNCATE incidents, monthly_crime_counts`); err != nil {
		return fmt.Errorf("failed to truncate incidents: %w", err)
	}

	return nil
}

// CreateIncidentsBatch inserts incidents in bounded batches
func (r *incidentRepository) CreateIncidentsBatch(ctx context.Context, incidents []*models.Incident) error {
	query := `
		INSERT INTO incidents (area, month, category, status, created_at)
		VALUES (:area, :month, :category, :status, :created_at)
	`

	for start := 0; start < len(incidents); start += incidentBatchSize {
		end := start + incidentBatchSize
		if end > len(incidents) {
			end = len(incidents)
		}

		if _, err := r.db.DB().NamedExecContext(ctx, query, incidents[start:end]); err != nil {
			r.metrics.RecordDBError("batch_insert_error")
			return fmt.Errorf("failed to insert incident batch: %w", err)
		}
	}

	r.logger.Debug(ctx, "[REPO_CREATE_INCIDENTS] Incidents inserted", logging.Fields{
		"count": len(incidents),
	})

	return nil
}

// GetIncident retrieves a single incident by ID
func (r *incidentRepository) GetIncident(ctx context.Context, id int64) (*models.Incident, error) {
	query := `
		SELECT id, area, month, category, status, created_at
		FROM incidents
		WHERE id = $1
	`

	var incident models.Incident
	err := r.db.GetContext(ctx, "get_incident", &incident, query, id)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "incident",
			ID:       fmt.Sprintf("%d", id),
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	return &incident, nil
}

// GetIncidents retrieves incidents with filtering and pagination
func (r *incidentRepository) GetIncidents(ctx context.Context, filter IncidentFilter) ([]*models.Incident, int, error) {
	query := `
		SELECT id, area, month, category, status, created_at
		FROM incidents
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.Area != nil {
		query += fmt.Sprintf(" AND area = $%d", argNum)
		args = append(args, *filter.Area)
		argNum++
	}

	if filter.Month != nil {
		query += fmt.Sprintf(" AND month = $%d", argNum)
		args = append(args, *filter.Month)
		argNum++
	}

	if filter.Category != nil {
		query += fmt.Sprintf(" AND category = $%d", argNum)
		args = append(args, *filter.Category)
		argNum++
	}

	// Get total count
	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	err := r.db.GetContext(ctx, "count_incidents", &totalCount, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count incidents: %w", err)
	}

	// Add ordering and pagination
	query += " ORDER BY area, month, id"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var incidents []*models.Incident
	err = r.db.SelectContext(ctx, "get_incidents", &incidents, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get incidents: %w", err)
	}

	return incidents, totalCount, nil
}

// RecalculateMonthlyCounts rebuilds the aggregate table from the incident
// table with a single group-by, returning the number of aggregate rows
func (r *incidentRepository) RecalculateMonthlyCounts(ctx context.Context) (int, error) {
	query := `
		INSERT INTO monthly_crime_counts (area, month, category, count, created_at, updated_at)
		SELECT area, month, category, COUNT(*), NOW(), NOW()
		FROM incidents
		GROUP BY area, month, category
		ON CONFLICT (area, month, category) DO UPDATE SET
			count = EXCLUDED.count,
			updated_at = EXCLUDED.updated_at
	`

	result, err := r.db.ExecContext(ctx, "recalculate_counts", query)
	if err != nil {
		return 0, fmt.Errorf("failed to recalculate monthly counts: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_RECALC_COUNTS] Monthly counts recalculated", logging.Fields{
		"rows": rows,
	})

	return int(rows), nil
}

// GetMonthlyCounts retrieves aggregate rows with filtering and pagination
func (r *incidentRepository) GetMonthlyCounts(ctx context.Context, filter CountFilter) ([]*models.MonthlyCount, int, error) {
	query := `
		SELECT id, area, month, category, count, created_at, updated_at
		FROM monthly_crime_counts
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.Area != nil {
		query += fmt.Sprintf(" AND area = $%d", argNum)
		args = append(args, *filter.Area)
		argNum++
	}

	if filter.Month != nil {
		query += fmt.Sprintf(" AND month = $%d", argNum)
		args = append(args, *filter.Month)
		argNum++
	}

	// Get total count
	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	err := r.db.GetContext(ctx, "count_monthly_counts", &totalCount, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count aggregate rows: %w", err)
	}

	// Add ordering and pagination
	query += " ORDER BY area, month, category"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	var counts []*models.MonthlyCount
	err = r.db.SelectContext(ctx, "get_monthly_counts", &counts, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get monthly counts: %w", err)
	}

	return counts, totalCount, nil
}

// HealthCheck performs a repository health check
func (r *incidentRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
