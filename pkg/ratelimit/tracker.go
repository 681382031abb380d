package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	seQuotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "se_quota_remaining",
		Help: "Requests remaining in the current StackExchange quota window",
	})

	seQuotaMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "se_quota_max",
		Help: "Size of the StackExchange quota window",
	})

	seQuotaWarningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "se_quota_warnings_total",
		Help: "Total number of responses that reported a low remaining quota",
	})
)

// Store persists quota snapshots so other processes sharing the API key
// can observe them.
type Store interface {
	Save(ctx context.Context, state QuotaState) error
}

// Tracker follows the quota counters reported by the API. It never blocks
// requests; exhaustion is reported by the API as a request error.
type Tracker struct {
	mu     sync.Mutex
	state  QuotaState
	store  Store
	logger zerolog.Logger
}

// NewTracker creates a new quota tracker. store may be nil.
func NewTracker(store Store, logger zerolog.Logger) *Tracker {
	return &Tracker{
		state:  QuotaState{IsHealthy: true},
		store:  store,
		logger: logger,
	}
}

// State returns a copy of the last observed quota state.
func (t *Tracker) State() QuotaState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Update records the counters of one response. Responses without counters
// (max of 0) are ignored.
func (t *Tracker) Update(ctx context.Context, remaining, max int) error {
	if max <= 0 {
		return nil
	}

	state := QuotaState{
		Remaining:  remaining,
		Max:        max,
		LastUpdate: time.Now(),
	}
	state.UpdateHealth()

	t.mu.Lock()
	t.state = state
	t.mu.Unlock()

	seQuotaRemaining.Set(float64(remaining))
	seQuotaMax.Set(float64(max))

	switch {
	case state.IsExhausted():
		t.logger.Error().
			Int("quota_remaining", remaining).
			Int("quota_max", max).
			Msg("StackExchange quota exhausted")
	case state.NeedsWarning():
		seQuotaWarningsTotal.Inc()
		t.logger.Warn().
			Int("quota_remaining", remaining).
			Int("quota_max", max).
			Msg("StackExchange quota running low")
	default:
		t.logger.Debug().
			Int("quota_remaining", remaining).
			Int("quota_max", max).
			Msg("Quota state updated")
	}

	if t.store == nil {
		return nil
	}
	if err := t.store.Save(ctx, state); err != nil {
		return fmt.Errorf("store quota state: %w", err)
	}
	return nil
}
