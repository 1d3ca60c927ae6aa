// Package domain contains the normalized usage shapes shared by every
// pipeline stage. Records are value types: produced by the source adapters,
// consumed by attribution and rollup, never persisted individually.
package domain

import (
	"time"
)

// ServiceType tags a usage record with the metered service it came from.
type ServiceType string

const (
	ServiceFunctions     ServiceType = "ai_functions"
	ServiceSearch        ServiceType = "ai_search"
	ServiceAnalyst       ServiceType = "ai_analyst"
	ServiceDocProcessing ServiceType = "doc_processing"
)

// KnownServiceTypes lists every service the pipeline meters, in the order
// adapters are run.
var KnownServiceTypes = []ServiceType{
	ServiceFunctions,
	ServiceSearch,
	ServiceAnalyst,
	ServiceDocProcessing,
}

// Record is one normalized usage observation.
//
// Operations carries the per-service operation count: tokens for functions,
// requests for search, messages for analyst, pages for document processing.
// The mapping is fixed per adapter, not inferred.
type Record struct {
	ServiceType ServiceType
	OccurredAt  time.Time
	Credits     float64
	Operations  int64

	// UserKey is set only when the source event carries attributable
	// identity directly. QueryRef is set when identity must be recovered
	// through the query log. Both empty means the source is aggregate-only.
	UserKey  string
	QueryRef string

	FeatureName string
	ModelName   string
}

// UsageDate returns the UTC day the record belongs to.
func (r Record) UsageDate() time.Time {
	return Day(r.OccurredAt)
}

// Day truncates a timestamp to UTC midnight.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Window is a half-open [Start, End) time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// LookbackWindow builds a window covering the given number of whole days up
// to and including the day of now.
func LookbackWindow(now time.Time, days int) Window {
	if days <= 0 {
		days = 1
	}
	end := Day(now).AddDate(0, 0, 1)
	return Window{Start: end.AddDate(0, 0, -days), End: end}
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	ts = ts.UTC()
	return !ts.Before(w.Start) && ts.Before(w.End)
}

// Validation reasons surfaced on rejected records.
const (
	RejectNegativeCredits = "negative_credits"
	RejectFutureTimestamp = "future_timestamp"
	RejectZeroTimestamp   = "zero_timestamp"
)

// Validate reports whether the record satisfies the ingest invariants.
// It returns an empty string for valid records, or the rejection reason.
func (r Record) Validate(now time.Time) string {
	if r.OccurredAt.IsZero() {
		return RejectZeroTimestamp
	}
	if r.Credits < 0 {
		return RejectNegativeCredits
	}
	if r.OccurredAt.After(now.UTC()) {
		return RejectFutureTimestamp
	}
	return ""
}
