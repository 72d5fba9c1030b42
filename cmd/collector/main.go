package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/danielmh111/police-data-scraper/internal/config"
	"github.com/danielmh111/police-data-scraper/internal/geometry"
	"github.com/danielmh111/police-data-scraper/internal/models"
	"github.com/danielmh111/police-data-scraper/internal/police"
	"github.com/danielmh111/police-data-scraper/internal/repository"
	"github.com/danielmh111/police-data-scraper/internal/services"
	"github.com/danielmh111/police-data-scraper/pkg/database"
	"github.com/danielmh111/police-data-scraper/pkg/logging"
	"github.com/danielmh111/police-data-scraper/pkg/metrics"
)

func main() {
	// Parse command-line flags
	boundaryDir := flag.String("boundaries", "", "Directory containing .geojson boundary files (overrides COLLECTION_BOUNDARY_DIR)")
	outputDir := flag.String("out", "", "Directory for output CSV files (overrides COLLECTION_OUTPUT_DIR)")
	store := flag.Bool("store", false, "Also store the collected tables in PostgreSQL")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *boundaryDir != "" {
		cfg.Collection.BoundaryDir = *boundaryDir
	}
	if *outputDir != "" {
		cfg.Collection.OutputDir = *outputDir
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logLevel := logging.InfoLevel
	if cfg.Logging.Level == "debug" {
		logLevel = logging.DebugLevel
	}

	logger := logging.NewStructuredLogger("crime-collector", "1.0.0", logLevel)

	runID := fmt.Sprintf("run-%d", time.Now().Unix())
	ctx := context.WithValue(context.Background(), "run_id", runID)

	// SIGINT/SIGTERM stops issuing new work items; in-flight requests
	// finish or time out on their own.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Warn(ctx, "[COLLECTOR_SIGNAL] Shutdown requested, stopping new work", logging.Fields{})
		cancel()
	}()

	logger.Info(ctx, "[COLLECTOR_START] Starting crime data collection", logging.Fields{
		"version":      "1.0.0",
		"boundary_dir": cfg.Collection.BoundaryDir,
		"output_dir":   cfg.Collection.OutputDir,
		"start_year":   cfg.Collection.StartYear,
		"end_year":     cfg.Collection.EndYear,
		"store":        *store,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("crime_collector")

	// Wire the pipeline
	boundaries := geometry.NewFileBoundarySource(cfg.Collection.BoundaryDir)
	simplifier := geometry.NewSimplifier(cfg.Geometry.CoordinatePrecision, cfg.Geometry.MaxPolyLength, logger, metricsCollector)
	client := police.NewClient(cfg.API, logger, metricsCollector)
	collectionService := services.NewCollectionService(boundaries, simplifier, client, cfg.Collection, logger, metricsCollector)
	exportService := services.NewExportService(logger, metricsCollector)

	// Collect
	result, err := collectionService.Collect(ctx)
	if err != nil {
		logger.Fatal(ctx, "[COLLECTOR_ERROR] Collection failed", logging.Fields{}, err)
	}

	// Reconcile and export
	incidents := exportService.Flatten(ctx, result)
	counts := exportService.Aggregate(incidents)

	incidentsPath := filepath.Join(cfg.Collection.OutputDir, "area_crimes.csv")
	if err := exportService.WriteIncidentsCSV(ctx, incidentsPath, incidents); err != nil {
		logger.Fatal(ctx, "[COLLECTOR_ERROR] Failed to write incident table", logging.Fields{
			"path": incidentsPath,
		}, err)
	}

	countsPath := filepath.Join(cfg.Collection.OutputDir, "area_crime_stats.csv")
	if err := exportService.WriteCountsCSV(ctx, countsPath, counts); err != nil {
		logger.Fatal(ctx, "[COLLECTOR_ERROR] Failed to write aggregate table", logging.Fields{
			"path": countsPath,
		}, err)
	}

	// Optionally persist to PostgreSQL
	if *store {
		storeCollection(ctx, cfg, logger, metricsCollector, incidents)
	}

	// Print results
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("COLLECTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Areas:              %d (%d skipped)\n", len(result.Areas), len(result.SkippedAreas))
	fmt.Printf("Months:             %d\n", len(result.Months))
	fmt.Printf("Work Items:         %d\n", result.TotalItems)
	fmt.Printf("  With Incidents:   %d\n", result.SucceededItems)
	fmt.Printf("  Empty:            %d\n", result.EmptyItems)
	fmt.Printf("  Failed:           %d\n", result.FailedItems)
	fmt.Printf("Incident Rows:      %d\n", len(incidents))
	fmt.Printf("Aggregate Rows:     %d\n", len(counts))
	fmt.Printf("Duration:           %v\n", result.Duration)
	if result.Duration.Seconds() > 0 {
		fmt.Printf("Items/Second:       %.2f\n", float64(result.TotalItems)/result.Duration.Seconds())
	}

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i < 10 {
				fmt.Printf("  - %s\n", errMsg)
			}
		}
		if len(result.Errors) > 10 {
			fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
		}
	}

	logger.Info(ctx, "[COLLECTOR_COMPLETE] Collection completed", logging.Fields{
		"incident_rows":    len(incidents),
		"aggregate_rows":   len(counts),
		"failed_items":     result.FailedItems,
		"duration_seconds": result.Duration.Seconds(),
	})
}

// storeCollection persists the incident table to PostgreSQL and rebuilds
// the aggregate table there
func storeCollection(ctx context.Context, cfg *config.Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, incidents []*models.Incident) {
	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[COLLECTOR_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	repo := repository.NewIncidentRepository(db, logger, metricsCollector)
	incidentService := services.NewIncidentService(repo, logger, metricsCollector)

	if _, err := incidentService.StoreCollection(ctx, incidents); err != nil {
		logger.Fatal(ctx, "[COLLECTOR_ERROR] Failed to store collection", logging.Fields{}, err)
	}
}
