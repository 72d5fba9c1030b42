package models

import (
	"fmt"
	"time"
)

// APIIncident is one street-level crime record as returned by the police
// data API. Only the fields the pipeline consumes are declared; the payload
// carries more (location subtype, context) that is discarded on flattening.
type APIIncident struct {
	ID            int64          `json:"id"`
	PersistentID  string         `json:"persistent_id"`
	Category      string         `json:"category"`
	Month         string         `json:"month"`
	LocationType  string         `json:"location_type"`
	Location      *APILocation   `json:"location"`
	OutcomeStatus *OutcomeStatus `json:"outcome_status"`
}

// APILocation is the incident location as reported by the API.
// Coordinates arrive as strings, not numbers.
type APILocation struct {
	Latitude  string     `json:"latitude"`
	Longitude string     `json:"longitude"`
	Street    *APIStreet `json:"street"`
}

// APIStreet identifies the street an incident was snapped to
type APIStreet struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// OutcomeStatus is the case-resolution category attached to an incident.
// Absent entirely (JSON null) while a case is still in progress.
type OutcomeStatus struct {
	Category string `json:"category"`
	Date     string `json:"date"`
}

// Incident is one flattened row of the incident table: the four retained
// columns plus bookkeeping for the optional database sink. Status is nil
// when the incident has no recorded outcome yet.
type Incident struct {
	ID        int64     `json:"id" db:"id"`
	Area      string    `json:"area" db:"area"`
	Month     string    `json:"month" db:"month"`
	Category  string    `json:"category" db:"category"`
	Status    *string   `json:"status,omitempty" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MonthlyCount is one row of the aggregate table: the number of incidents
// for a distinct (area, month, category) triple.
type MonthlyCount struct {
	ID        int64     `json:"id" db:"id"`
	Area      string    `json:"area" db:"area"`
	Month     string    `json:"month" db:"month"`
	Category  string    `json:"category" db:"category"`
	Count     int       `json:"count" db:"count"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ToIncident flattens an APIIncident into an incident table row for the
// named area. The nested outcome object reduces to its category string; an
// in-progress case without an outcome is kept with a nil status.
func (a *APIIncident) ToIncident(area string) (*Incident, error) {
	if a.Category == "" {
		return nil, &ValidationError{
			Field:   "category",
			Value:   "",
			Message: "incident record has no category",
		}
	}

	if _, err := time.Parse("2006-01", a.Month); err != nil {
		return nil, &ValidationError{
			Field:   "month",
			Value:   a.Month,
			Message: "invalid month format, expected YYYY-MM",
		}
	}

	incident := &Incident{
		Area:      area,
		Month:     a.Month,
		Category:  a.Category,
		CreatedAt: time.Now().UTC(),
	}

	if a.OutcomeStatus != nil {
		status := a.OutcomeStatus.Category
		incident.Status = &status
	}

	return incident, nil
}

// WorkItem is one (area, month) unit of collection work. The coordinate
// string is computed once per area and shared across that area's items.
type WorkItem struct {
	Area  string
	Month string
	Poly  string
}

// URL renders the full request URL for logging and debugging. The client
// builds the real request from the parts, not from this string.
func (w WorkItem) URL(baseURL string) string {
	return fmt.Sprintf("%s?date=%s&poly=%s", baseURL, w.Month, w.Poly)
}

// FetchOutcome is the result of attempting one WorkItem: either a list of
// zero or more incidents (a 404 month is a legitimate empty list), or a
// failure with its reason. Exactly one outcome exists per work item.
type FetchOutcome struct {
	Area      string
	Month     string
	Incidents []APIIncident
	Err       error
}

// Failed reports whether this outcome represents a fetch failure
func (o FetchOutcome) Failed() bool {
	return o.Err != nil
}

// ValidationError represents a data validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsTransient returns false as validation errors are permanent
func (e *ValidationError) IsTransient() bool {
	return false
}
