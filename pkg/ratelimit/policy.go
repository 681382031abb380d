package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for request pacing.
var (
	seBackoffTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "se_backoff_directives_total",
		Help: "Total number of backoff directives received from the API",
	})

	seWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "se_request_wait_seconds",
		Help:    "Time spent waiting before a request, by reason",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"reason"})
)

// DefaultMinInterval keeps the client under 10 requests per second,
// well inside the API's per-IP ceiling.
const DefaultMinInterval = 100 * time.Millisecond

// Clock abstracts time so pacing can be tested without real delays.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep waits for d with context cancellation support.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PolicyConfig holds the pacing configuration.
type PolicyConfig struct {
	// MinInterval is the mandatory spacing between two request starts.
	MinInterval time.Duration
}

// DefaultPolicyConfig returns the default pacing configuration.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{MinInterval: DefaultMinInterval}
}

// MaxRequestsPerSecond returns the request ceiling implied by MinInterval.
func (c PolicyConfig) MaxRequestsPerSecond() float64 {
	if c.MinInterval <= 0 {
		return 0
	}
	return float64(time.Second) / float64(c.MinInterval)
}

// Policy decides how long to wait before the next request. It combines the
// fixed minimum spacing with the most recent server backoff directive; the
// longer of the two wins.
type Policy struct {
	mu           sync.Mutex
	clock        Clock
	config       PolicyConfig
	lastRequest  time.Time
	backoffUntil time.Time
	logger       zerolog.Logger
}

// NewPolicy creates a pacing policy. A nil clock uses SystemClock.
func NewPolicy(cfg PolicyConfig, clock Clock, logger zerolog.Logger) *Policy {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	return &Policy{
		clock:  clock,
		config: cfg,
		logger: logger,
	}
}

// Delay returns how long the next request must wait from now.
func (p *Policy) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	delay, _ := p.delayLocked(p.clock.Now())
	return delay
}

func (p *Policy) delayLocked(now time.Time) (time.Duration, string) {
	var delay time.Duration
	reason := "spacing"
	if !p.lastRequest.IsZero() {
		delay = p.lastRequest.Add(p.config.MinInterval).Sub(now)
	}
	if until := p.backoffUntil.Sub(now); until > delay {
		delay = until
		reason = "backoff"
	}
	if delay < 0 {
		delay = 0
	}
	return delay, reason
}

// Wait blocks until the next request may be issued and records its start.
// It returns the context error if ctx is cancelled while waiting.
func (p *Policy) Wait(ctx context.Context) error {
	p.mu.Lock()
	delay, reason := p.delayLocked(p.clock.Now())
	p.mu.Unlock()

	if delay > 0 {
		seWaitSeconds.WithLabelValues(reason).Observe(delay.Seconds())
		if reason == "backoff" {
			p.logger.Info().Dur("wait", delay).Msg("Waiting for server backoff")
		}
		if err := p.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.lastRequest = p.clock.Now()
	p.mu.Unlock()
	return ctx.Err()
}

// Observe records the backoff directive (in seconds) of a response.
// A directive never shortens a wait that is already in force.
func (p *Policy) Observe(backoffSeconds int) {
	if backoffSeconds <= 0 {
		return
	}
	d := time.Duration(backoffSeconds) * time.Second

	p.mu.Lock()
	until := p.clock.Now().Add(d)
	if until.After(p.backoffUntil) {
		p.backoffUntil = until
	}
	p.mu.Unlock()

	seBackoffTotal.Inc()
	p.logger.Warn().Int("backoff", backoffSeconds).Msg("API issued backoff directive")
}

// Config returns the policy configuration.
func (p *Policy) Config() PolicyConfig {
	return p.config
}
