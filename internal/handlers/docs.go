package handlers

import (
	"encoding/json"
	"net/http"
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the crime data API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Street-Level Crime Data API",
			"description": "Read API over street-level crime incidents collected from data.police.uk per custom area and month",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": map[string]interface{}{
			"/api/incidents": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Get incidents",
					"description": "Retrieve collected incidents with filtering and pagination",
					"parameters": []map[string]interface{}{
						{
							"name":        "area",
							"in":          "query",
							"description": "Filter by area identifier",
							"required":    false,
							"schema":      map[string]string{"type": "string"},
						},
						{
							"name":        "month",
							"in":          "query",
							"description": "Filter by month (YYYY-MM)",
							"required":    false,
							"schema":      map[string]string{"type": "string"},
						},
						{
							"name":        "category",
							"in":          "query",
							"description": "Filter by crime category",
							"required":    false,
							"schema":      map[string]string{"type": "string"},
						},
						{
							"name":        "page",
							"in":          "query",
							"description": "Page number (default: 1)",
							"required":    false,
							"schema":      map[string]interface{}{"type": "integer", "default": 1},
						},
						{
							"name":        "limit",
							"in":          "query",
							"description": "Records per page (default: 100, max: 1000)",
							"required":    false,
							"schema":      map[string]interface{}{"type": "integer", "default": 100},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Paginated list of incidents",
						},
						"400": map[string]interface{}{
							"description": "Invalid filter parameter",
						},
					},
				},
			},
			"/api/incidents/{id}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Get one incident",
					"parameters": []map[string]interface{}{
						{
							"name":     "id",
							"in":       "path",
							"required": true,
							"schema":   map[string]string{"type": "integer"},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "The incident",
						},
						"404": map[string]interface{}{
							"description": "Incident not found",
						},
					},
				},
			},
			"/api/incidents/stats": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Get monthly crime counts",
					"description": "Retrieve (area, month, category) counts with filtering and pagination",
					"parameters": []map[string]interface{}{
						{
							"name":        "area",
							"in":          "query",
							"description": "Filter by area identifier",
							"required":    false,
							"schema":      map[string]string{"type": "string"},
						},
						{
							"name":        "month",
							"in":          "query",
							"description": "Filter by month (YYYY-MM)",
							"required":    false,
							"schema":      map[string]string{"type": "string"},
						},
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Paginated list of aggregate rows",
						},
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Health check",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Service is healthy",
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
