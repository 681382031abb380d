// Package ratelimit implements request pacing and quota tracking for the
// StackExchange API. Pacing covers the server-issued backoff directive and a
// fixed minimum spacing between requests; quota tracking follows the
// quota_remaining and quota_max counters reported on every response.
package ratelimit

import (
	"time"
)

// Thresholds for quota decisions, as fractions of quota_max.
const (
	// QuotaWarningFraction logs a warning when the remaining quota falls below
	// this share of the daily maximum.
	QuotaWarningFraction = 0.10

	// QuotaHealthyFraction indicates normal operation.
	QuotaHealthyFraction = 0.25
)

// QuotaState represents the last quota counters reported by the API.
type QuotaState struct {
	// Remaining is the number of requests left in the current quota window.
	Remaining int `json:"quota_remaining"`

	// Max is the size of the quota window.
	Max int `json:"quota_max"`

	// LastUpdate is when the counters were last observed.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true while Remaining >= QuotaHealthyFraction * Max.
	IsHealthy bool `json:"is_healthy"`
}

// Known reports whether any response has carried quota counters yet.
func (s *QuotaState) Known() bool {
	return s.Max > 0
}

// IsStale returns true if the state data is older than the given duration.
func (s *QuotaState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// IsExhausted returns true once the API reports no remaining quota.
// The API rejects further requests itself; this is only used for reporting.
func (s *QuotaState) IsExhausted() bool {
	return s.Known() && s.Remaining <= 0
}

// NeedsWarning returns true if the remaining quota is low but not exhausted.
func (s *QuotaState) NeedsWarning() bool {
	return s.Known() && !s.IsExhausted() &&
		float64(s.Remaining) < QuotaWarningFraction*float64(s.Max)
}

// UpdateHealth updates the IsHealthy field based on the current counters.
func (s *QuotaState) UpdateHealth() {
	if !s.Known() {
		s.IsHealthy = true
		return
	}
	s.IsHealthy = float64(s.Remaining) >= QuotaHealthyFraction*float64(s.Max)
}
