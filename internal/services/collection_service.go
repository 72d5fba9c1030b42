package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danielmh111/police-data-scraper/internal/config"
	"github.com/danielmh111/police-data-scraper/internal/geometry"
	"github.com/danielmh111/police-data-scraper/internal/models"
	"github.com/danielmh111/police-data-scraper/pkg/logging"
	"github.com/danielmh111/police-data-scraper/pkg/metrics"
)

// MonthFetcher executes a single work item's request
type MonthFetcher interface {
	FetchMonth(ctx context.Context, item models.WorkItem) ([]models.APIIncident, error)
}

// CollectionService drives the full (area, month) work matrix against the
// fetcher and assembles per-area outcome sequences, completing even when
// individual work items fail.
type CollectionService struct {
	boundaries geometry.BoundarySource
	simplifier *geometry.Simplifier
	fetcher    MonthFetcher
	cfg        config.CollectionConfig
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// CollectionResult contains the assembled outcomes and run statistics
type CollectionResult struct {
	// Outcomes maps area identifier to that area's per-month outcomes,
	// in chronological month order.
	Outcomes map[string][]models.FetchOutcome

	Areas          []string
	Months         []string
	SkippedAreas   []string
	TotalItems     int
	SucceededItems int
	EmptyItems     int
	FailedItems    int
	TotalIncidents int
	Duration       time.Duration
	Errors         []string
}

// NewCollectionService creates a new collection service
func NewCollectionService(
	boundaries geometry.BoundarySource,
	simplifier *geometry.Simplifier,
	fetcher MonthFetcher,
	cfg config.CollectionConfig,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *CollectionService {
	return &CollectionService{
		boundaries: boundaries,
		simplifier: simplifier,
		fetcher:    fetcher,
		cfg:        cfg,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// GenerateMonths produces every "YYYY-MM" month identifier from startYear
// up to but not including endYear, in chronological order.
func GenerateMonths(startYear, endYear int) []string {
	months := make([]string, 0, (endYear-startYear)*12)

	for year := startYear; year < endYear; year++ {
		for month := 1; month <= 12; month++ {
			months = append(months, fmt.Sprintf("%d-%02d", year, month))
		}
	}

	return months
}

// workJob pairs a work item with its month index so workers can write
// results straight into the correct per-area slot.
type workJob struct {
	item     models.WorkItem
	monthIdx int
}

// Collect runs the full pipeline: load and simplify every boundary, build
// the work matrix, and fetch every (area, month) pair through the shared
// rate limiter. A boundary that fails simplification skips only that area;
// a work item that fails fetching is recorded as a failed outcome. Only
// configuration-level problems (no boundaries at all) abort the run.
// Cancelling the context stops new work items from being issued; in-flight
// requests finish or time out individually.
func (s *CollectionService) Collect(ctx context.Context) (*CollectionResult, error) {
	startTime := time.Now()

	s.logger.Info(ctx, "[COLLECT_START] Starting collection run", logging.Fields{
		"start_year": s.cfg.StartYear,
		"end_year":   s.cfg.EndYear,
		"workers":    s.cfg.Workers,
		"stage":      "INITIALIZATION",
	})

	areas, err := s.boundaries.Areas()
	if err != nil {
		return nil, fmt.Errorf("failed to list areas: %w", err)
	}

	if len(areas) == 0 {
		return nil, fmt.Errorf("no boundary files found")
	}

	months := GenerateMonths(s.cfg.StartYear, s.cfg.EndYear)

	result := &CollectionResult{
		Outcomes: make(map[string][]models.FetchOutcome),
		Months:   months,
		Errors:   make([]string, 0),
	}

	// Simplification is deterministic and expensive, so each area's
	// coordinate string is computed once and shared by all of its months.
	polys := make(map[string]string, len(areas))
	for _, area := range areas {
		poly, err := s.preparePoly(ctx, area)
		if err != nil {
			result.SkippedAreas = append(result.SkippedAreas, area)
			result.Errors = append(result.Errors, fmt.Sprintf("boundary %s: %v", area, err))
			s.logger.Error(ctx, "[COLLECT_BOUNDARY_ERROR] Skipping area", logging.Fields{
				"area":  area,
				"stage": "BOUNDARY_PREPARATION",
			}, err)
			continue
		}

		polys[area] = poly
		result.Areas = append(result.Areas, area)
	}

	if len(result.Areas) == 0 {
		return nil, fmt.Errorf("no valid boundaries out of %d areas", len(areas))
	}

	for _, area := range result.Areas {
		result.Outcomes[area] = make([]models.FetchOutcome, len(months))
	}

	result.TotalItems = len(result.Areas) * len(months)

	s.logger.Info(ctx, "[COLLECT_MATRIX] Work matrix built", logging.Fields{
		"areas":      len(result.Areas),
		"months":     len(months),
		"work_items": result.TotalItems,
		"stage":      "MATRIX_BUILD",
	})

	// Every outcome slot is owned by exactly one job, so workers write
	// without further synchronization.
	jobs := make(chan workJob)
	var wg sync.WaitGroup

	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				result.Outcomes[job.item.Area][job.monthIdx] = s.fetchOne(ctx, job.item)
			}
		}()
	}

produce:
	for _, area := range result.Areas {
		for monthIdx, month := range months {
			item := models.WorkItem{Area: area, Month: month, Poly: polys[area]}

			select {
			case <-ctx.Done():
				s.logger.Warn(ctx, "[COLLECT_CANCELLED] Stopping new work items", logging.Fields{
					"stage": "FETCH",
				})
				break produce
			case jobs <- workJob{item: item, monthIdx: monthIdx}:
			}
		}
	}

	close(jobs)
	wg.Wait()

	// Tally after the pool drains so counters need no atomics
	for area, outcomes := range result.Outcomes {
		for _, outcome := range outcomes {
			switch {
			case outcome.Failed():
				result.FailedItems++
				result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", area, outcome.Month, outcome.Err))
			case len(outcome.Incidents) == 0:
				result.EmptyItems++
			default:
				result.SucceededItems++
				result.TotalIncidents += len(outcome.Incidents)
			}
		}
	}

	result.Duration = time.Since(startTime)
	s.metrics.CollectionDuration.Observe(result.Duration.Seconds())
	s.metrics.IncidentsCollected.Add(float64(result.TotalIncidents))

	s.logger.Info(ctx, "[COLLECT_COMPLETE] Collection run completed", logging.Fields{
		"areas":            len(result.Areas),
		"skipped_areas":    len(result.SkippedAreas),
		"work_items":       result.TotalItems,
		"succeeded":        result.SucceededItems,
		"empty":            result.EmptyItems,
		"failed":           result.FailedItems,
		"total_incidents":  result.TotalIncidents,
		"duration_seconds": result.Duration.Seconds(),
		"stage":            "COMPLETE",
	})

	return result, nil
}

// preparePoly loads one area's boundary and simplifies it into its
// coordinate string
func (s *CollectionService) preparePoly(ctx context.Context, area string) (string, error) {
	ring, err := s.boundaries.Boundary(area)
	if err != nil {
		return "", err
	}

	return s.simplifier.PolyString(ctx, area, ring)
}

// fetchOne executes one work item and converts the result into an outcome.
// Failures become failed outcomes with their reason attached; they never
// propagate past the orchestrator.
func (s *CollectionService) fetchOne(ctx context.Context, item models.WorkItem) models.FetchOutcome {
	log := s.logger.WithFields(logging.Fields{
		"area":  item.Area,
		"month": item.Month,
	})

	incidents, err := s.fetcher.FetchMonth(ctx, item)
	if err != nil {
		s.metrics.RecordWorkItem("failed")
		log.Error(ctx, "[COLLECT_ITEM_FAILED] Work item failed, recording empty result", logging.Fields{
			"stage": "FETCH",
		}, err)
		return models.FetchOutcome{Area: item.Area, Month: item.Month, Err: err}
	}

	if len(incidents) == 0 {
		s.metrics.RecordWorkItem("empty")
	} else {
		s.metrics.RecordWorkItem("success")
	}

	log.Debug(ctx, "[COLLECT_ITEM_DONE] Work item completed", logging.Fields{
		"incidents": len(incidents),
		"stage":     "FETCH",
	})

	return models.FetchOutcome{Area: item.Area, Month: item.Month, Incidents: incidents}
}
