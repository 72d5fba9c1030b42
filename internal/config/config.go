package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration, loaded from the environment.
// Components receive the sections they need at construction; nothing reads
// the environment after LoadConfig returns.
type Config struct {
	API        APIConfig
	Collection CollectionConfig
	Geometry   GeometryConfig
	Database   DatabaseConfig
	Server     ServerConfig
	Logging    LoggingConfig
}

// APIConfig configures the upstream police data API client
type APIConfig struct {
	BaseURL           string
	RequestsPerSecond int
	MaxRetries        int
	RetryBackoffBase  time.Duration
	RequestTimeout    time.Duration
}

// CollectionConfig configures the collection run
type CollectionConfig struct {
	StartYear    int
	EndYear      int // exclusive
	Workers      int
	BoundaryDir  string
	OutputDir    string
}

// GeometryConfig configures boundary simplification
type GeometryConfig struct {
	CoordinatePrecision int
	MaxPolyLength       int
}

// DatabaseConfig configures the PostgreSQL connection
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level string
}

// LoadConfig loads configuration from the environment, with a .env file as
// an optional source for local development.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		API: APIConfig{
			BaseURL:           getEnv("POLICE_API_BASE_URL", "https://data.police.uk/api/crimes-street/all-crime"),
			RequestsPerSecond: getEnvInt("POLICE_API_REQUESTS_PER_SECOND", 15),
			MaxRetries:        getEnvInt("POLICE_API_MAX_RETRIES", 3),
			RetryBackoffBase:  getEnvDuration("POLICE_API_RETRY_BACKOFF_BASE", 1*time.Second),
			RequestTimeout:    getEnvDuration("POLICE_API_REQUEST_TIMEOUT", 30*time.Second),
		},
		Collection: CollectionConfig{
			StartYear:   getEnvInt("COLLECTION_START_YEAR", 2022),
			EndYear:     getEnvInt("COLLECTION_END_YEAR", 2026),
			Workers:     getEnvInt("COLLECTION_WORKERS", 1),
			BoundaryDir: getEnv("COLLECTION_BOUNDARY_DIR", "./locations"),
			OutputDir:   getEnv("COLLECTION_OUTPUT_DIR", "./data"),
		},
		Geometry: GeometryConfig{
			CoordinatePrecision: getEnvInt("GEOMETRY_COORDINATE_PRECISION", 5),
			MaxPolyLength:       getEnvInt("GEOMETRY_MAX_POLY_LENGTH", 300),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "crime_data"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("API base URL must not be empty")
	}

	if c.API.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive, got %d", c.API.RequestsPerSecond)
	}

	if c.API.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.API.MaxRetries)
	}

	if c.Collection.StartYear >= c.Collection.EndYear {
		return fmt.Errorf("start year %d must be before end year %d", c.Collection.StartYear, c.Collection.EndYear)
	}

	if c.Collection.Workers <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.Collection.Workers)
	}

	if c.Geometry.CoordinatePrecision < 1 || c.Geometry.CoordinatePrecision > 7 {
		return fmt.Errorf("coordinate precision must be between 1 and 7, got %d", c.Geometry.CoordinatePrecision)
	}

	// Below ~50 characters even a triangle cannot be encoded.
	if c.Geometry.MaxPolyLength < 50 {
		return fmt.Errorf("max poly length must be at least 50, got %d", c.Geometry.MaxPolyLength)
	}

	return nil
}

// getEnv reads an environment variable with a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt reads an integer environment variable with a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration reads a duration environment variable with a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
