package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/danielmh111/police-data-scraper/internal/models"
	"github.com/danielmh111/police-data-scraper/pkg/logging"
	"github.com/danielmh111/police-data-scraper/pkg/metrics"
)

// ExportService flattens collection outcomes into the incident table,
// derives the per-month aggregate table, and writes both as CSV.
type ExportService struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewExportService creates a new export service
func NewExportService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ExportService {
	return &ExportService{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Flatten reduces the nested per-area outcome collections into a uniform
// incident table. Empty and failed outcomes contribute zero rows; a record
// without an outcome status is kept with a nil status. Records that fail
// validation are dropped with a logged reason.
func (s *ExportService) Flatten(ctx context.Context, result *CollectionResult) []*models.Incident {
	incidents := make([]*models.Incident, 0, result.TotalIncidents)
	dropped := 0

	// Areas iterated in result order so output is deterministic
	for _, area := range result.Areas {
		for _, outcome := range result.Outcomes[area] {
			if outcome.Failed() {
				continue
			}

			for i := range outcome.Incidents {
				incident, err := outcome.Incidents[i].ToIncident(area)
				if err != nil {
					dropped++
					s.logger.Warn(ctx, "[EXPORT_DROPPED_RECORD] Skipping invalid incident record", logging.Fields{
						"area":  area,
						"month": outcome.Month,
						"error": err.Error(),
					})
					continue
				}

				incidents = append(incidents, incident)
			}
		}
	}

	s.logger.Info(ctx, "[EXPORT_FLATTENED] Incident table assembled", logging.Fields{
		"rows":    len(incidents),
		"dropped": dropped,
		"stage":   "RECONCILE",
	})

	return incidents
}

// Aggregate computes the exact group-by-count over (area, month, category).
// The sum of counts always equals the incident row count. Rows come back
// sorted by area, month, category so output files are stable.
func (s *ExportService) Aggregate(incidents []*models.Incident) []*models.MonthlyCount {
	type key struct {
		area     string
		month    string
		category string
	}

	counts := make(map[key]int, len(incidents))
	for _, incident := range incidents {
		counts[key{incident.Area, incident.Month, incident.Category}]++
	}

	rows := make([]*models.MonthlyCount, 0, len(counts))
	now := time.Now().UTC()
	for k, count := range counts {
		rows = append(rows, &models.MonthlyCount{
			Area:      k.area,
			Month:     k.month,
			Category:  k.category,
			Count:     count,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Area != rows[j].Area {
			return rows[i].Area < rows[j].Area
		}
		if rows[i].Month != rows[j].Month {
			return rows[i].Month < rows[j].Month
		}
		return rows[i].Category < rows[j].Category
	})

	return rows
}

// WriteIncidentsCSV writes the incident table with exactly the columns
// area, month, category, status. A nil status becomes an empty cell.
func (s *ExportService) WriteIncidentsCSV(ctx context.Context, path string, incidents []*models.Incident) error {
	file, err := createOutputFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"area", "month", "category", "status"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, incident := range incidents {
		status := ""
		if incident.Status != nil {
			status = *incident.Status
		}

		row := []string{incident.Area, incident.Month, incident.Category, status}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write incident row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush incident table: %w", err)
	}

	s.metrics.RecordExportRows("incidents", len(incidents))
	s.logger.Info(ctx, "[EXPORT_INCIDENTS] Incident table written", logging.Fields{
		"path": path,
		"rows": len(incidents),
	})

	return nil
}

// WriteCountsCSV writes the aggregate table with the columns area, month,
// category, count
func (s *ExportService) WriteCountsCSV(ctx context.Context, path string, counts []*models.MonthlyCount) error {
	file, err := createOutputFile(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"area", "month", "category", "count"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, count := range counts {
		row := []string{count.Area, count.Month, count.Category, strconv.Itoa(count.Count)}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write count row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush aggregate table: %w", err)
	}

	s.metrics.RecordExportRows("monthly_counts", len(counts))
	s.logger.Info(ctx, "[EXPORT_COUNTS] Aggregate table written", logging.Fields{
		"path": path,
		"rows": len(counts),
	})

	return nil
}

// createOutputFile creates the file and any missing parent directories
func createOutputFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	return file, nil
}
