package models

import (
	"testing"
)

// TestAPIIncident_ToIncident tests the flattening logic, in particular the
// reduction of the nested outcome object to the status column
func TestAPIIncident_ToIncident(t *testing.T) {
	tests := []struct {
		name        string
		incident    APIIncident
		area        string
		wantErr     bool
		checkValues func(*testing.T, *Incident)
	}{
		{
			name: "record with outcome status",
			incident: APIIncident{
				ID:       12345,
				Category: "burglary",
				Month:    "2023-04",
				OutcomeStatus: &OutcomeStatus{
					Category: "Investigation complete; no suspect identified",
					Date:     "2023-06",
				},
			},
			area:    "city-centre",
			wantErr: false,
			checkValues: func(t *testing.T, incident *Incident) {
				if incident.Area != "city-centre" {
					t.Errorf("Area = %v, want %v", incident.Area, "city-centre")
				}

				if incident.Month != "2023-04" {
					t.Errorf("Month = %v, want %v", incident.Month, "2023-04")
				}

				if incident.Category != "burglary" {
					t.Errorf("Category = %v, want %v", incident.Category, "burglary")
				}

				if incident.Status == nil {
					t.Error("Status should not be nil")
				} else if *incident.Status != "Investigation complete; no suspect identified" {
					t.Errorf("Status = %v, want outcome category", *incident.Status)
				}
			},
		},
		{
			name: "record without outcome status is kept with nil status",
			incident: APIIncident{
				ID:       12346,
				Category: "anti-social-behaviour",
				Month:    "2023-04",
			},
			area:    "city-centre",
			wantErr: false,
			checkValues: func(t *testing.T, incident *Incident) {
				if incident.Status != nil {
					t.Errorf("Status should be nil for a record without an outcome, got %v", *incident.Status)
				}

				if incident.Category != "anti-social-behaviour" {
					t.Errorf("Category = %v, want %v", incident.Category, "anti-social-behaviour")
				}
			},
		},
		{
			name: "missing category",
			incident: APIIncident{
				ID:    12347,
				Month: "2023-04",
			},
			area:    "city-centre",
			wantErr: true,
		},
		{
			name: "invalid month format",
			incident: APIIncident{
				ID:       12348,
				Category: "burglary",
				Month:    "April 2023",
			},
			area:    "city-centre",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incident, err := tt.incident.ToIncident(tt.area)

			if (err != nil) != tt.wantErr {
				t.Errorf("ToIncident() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && tt.checkValues != nil {
				tt.checkValues(t, incident)
			}
		})
	}
}

// TestFetchOutcome_Failed tests failure detection on outcomes
func TestFetchOutcome_Failed(t *testing.T) {
	ok := FetchOutcome{Area: "a", Month: "2023-01", Incidents: []APIIncident{}}
	if ok.Failed() {
		t.Error("outcome with empty incident list should not be failed")
	}

	failed := FetchOutcome{Area: "a", Month: "2023-01", Err: &ValidationError{Message: "boom"}}
	if !failed.Failed() {
		t.Error("outcome with an error should be failed")
	}
}

// TestWorkItem_URL tests request URL rendering
func TestWorkItem_URL(t *testing.T) {
	item := WorkItem{Area: "docks", Month: "2024-02", Poly: "51.5,-0.1:51.6,-0.1:51.6,-0.2"}

	got := item.URL("https://data.police.uk/api/crimes-street/all-crime")
	want := "https://data.police.uk/api/crimes-street/all-crime?date=2024-02&poly=51.5,-0.1:51.6,-0.1:51.6,-0.2"

	if got != want {
		t.Errorf("URL() = %v, want %v", got, want)
	}
}

// TestValidationError tests error handling
func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:   "month",
		Value:   "invalid",
		Message: "invalid month format",
	}

	if err.Error() != "invalid month format" {
		t.Errorf("Error() = %v, want %v", err.Error(), "invalid month format")
	}

	if err.IsTransient() {
		t.Error("ValidationError should not be transient")
	}
}
