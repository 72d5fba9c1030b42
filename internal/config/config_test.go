package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           "https://data.police.uk/api/crimes-street/all-crime",
			RequestsPerSecond: 15,
			MaxRetries:        3,
			RetryBackoffBase:  1 * time.Second,
			RequestTimeout:    30 * time.Second,
		},
		Collection: CollectionConfig{
			StartYear: 2022,
			EndYear:   2026,
			Workers:   1,
		},
		Geometry: GeometryConfig{
			CoordinatePrecision: 5,
			MaxPolyLength:       300,
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty base URL",
			mutate:  func(c *Config) { c.API.BaseURL = "" },
			wantErr: "base URL",
		},
		{
			name:    "zero request rate",
			mutate:  func(c *Config) { c.API.RequestsPerSecond = 0 },
			wantErr: "requests per second",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.API.MaxRetries = -1 },
			wantErr: "max retries",
		},
		{
			name: "inverted year range",
			mutate: func(c *Config) {
				c.Collection.StartYear = 2026
				c.Collection.EndYear = 2022
			},
			wantErr: "start year",
		},
		{
			name: "equal years",
			mutate: func(c *Config) {
				c.Collection.StartYear = 2024
				c.Collection.EndYear = 2024
			},
			wantErr: "start year",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Collection.Workers = 0 },
			wantErr: "worker count",
		},
		{
			name:    "precision too low",
			mutate:  func(c *Config) { c.Geometry.CoordinatePrecision = 0 },
			wantErr: "precision",
		},
		{
			name:    "precision too high",
			mutate:  func(c *Config) { c.Geometry.CoordinatePrecision = 8 },
			wantErr: "precision",
		},
		{
			name:    "poly ceiling too small",
			mutate:  func(c *Config) { c.Geometry.MaxPolyLength = 20 },
			wantErr: "poly length",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}

			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.API.RequestsPerSecond != 15 {
		t.Errorf("RequestsPerSecond = %d, want 15", cfg.API.RequestsPerSecond)
	}

	if cfg.Collection.StartYear != 2022 || cfg.Collection.EndYear != 2026 {
		t.Errorf("year range = %d-%d, want 2022-2026", cfg.Collection.StartYear, cfg.Collection.EndYear)
	}

	if cfg.Geometry.MaxPolyLength != 300 {
		t.Errorf("MaxPolyLength = %d, want 300", cfg.Geometry.MaxPolyLength)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("COLLECTION_WORKERS", "4")
	t.Setenv("GEOMETRY_COORDINATE_PRECISION", "3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Collection.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Collection.Workers)
	}

	if cfg.Geometry.CoordinatePrecision != 3 {
		t.Errorf("CoordinatePrecision = %d, want 3", cfg.Geometry.CoordinatePrecision)
	}
}
