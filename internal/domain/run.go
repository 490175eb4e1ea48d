package domain

import (
	"fmt"
	"strings"
	"time"
)

// Location records where a run took place.
type Location string

const (
	LocationIndoor  Location = "indoor"
	LocationOutdoor Location = "outdoor"
)

// Locations lists every accepted Location value.
var Locations = []Location{LocationIndoor, LocationOutdoor}

// ParseLocation normalises raw input, accepting any letter case.
func ParseLocation(raw string) (Location, error) {
	loc := Location(strings.ToLower(strings.TrimSpace(raw)))
	if !loc.Valid() {
		return "", fmt.Errorf("unknown location %q", raw)
	}
	return loc, nil
}

// Valid reports whether l is one of the known locations.
func (l Location) Valid() bool {
	switch l {
	case LocationIndoor, LocationOutdoor:
		return true
	}
	return false
}

// TimestampPrecision is the finest resolution every store keeps. Postgres
// TIMESTAMPTZ holds microseconds, so finer digits are dropped on the way in.
const TimestampPrecision = time.Microsecond

// Timestamps without a zone are read as UTC.
var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04"}

// ParseTimestamp accepts RFC 3339 and the zoneless forms used by seed files.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}

// Run represents a logged exercise run.
type Run struct {
	ID          int64
	Title       string
	StartedOn   time.Time
	CompletedOn time.Time
	Miles       float64
	Location    Location
}

// Normalized returns r with both timestamps in UTC at TimestampPrecision.
func (r Run) Normalized() Run {
	r.StartedOn = r.StartedOn.UTC().Truncate(TimestampPrecision)
	r.CompletedOn = r.CompletedOn.UTC().Truncate(TimestampPrecision)
	return r
}

// Validate checks the record invariants and reports every violated constraint.
func (r Run) Validate() error {
	var verr ValidationError
	if strings.TrimSpace(r.Title) == "" {
		verr.Add("title", "must not be empty")
	}
	if r.StartedOn.IsZero() {
		verr.Add("startedOn", "is required")
	}
	if r.CompletedOn.IsZero() {
		verr.Add("completedOn", "is required")
	}
	if !r.StartedOn.IsZero() && !r.CompletedOn.IsZero() && r.CompletedOn.Before(r.StartedOn) {
		verr.Add("completedOn", "must not be before startedOn")
	}
	if r.Miles < 0 {
		verr.Add("miles", "must be greater than or equal to 0")
	}
	switch {
	case r.Location == "":
		verr.Add("location", "is required")
	case !r.Location.Valid():
		verr.Add("location", "must be one of indoor, outdoor")
	}
	return verr.OrNil()
}

// Violation names a single broken field constraint.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field violations detected before reaching the store.
type ValidationError struct {
	Violations []Violation
}

// Add records a violation.
func (e *ValidationError) Add(field, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: message})
}

// OrNil returns e as an error when it holds violations, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+" "+v.Message)
	}
	return "invalid run: " + strings.Join(parts, "; ")
}
