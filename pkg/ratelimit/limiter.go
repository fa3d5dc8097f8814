package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request gating.
var (
	requestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fsdl_requests_in_flight",
		Help: "Number of feature service requests currently in flight",
	})

	limiterWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fsdl_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a request slot",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	limiterRejectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fsdl_rate_limit_rejects_total",
		Help: "Total number of acquires abandoned because the context ended",
	})
)

// Config holds limiter configuration.
type Config struct {
	// RequestsPerSecond is the sustained rate. Zero means DefaultRequestsPerSecond,
	// a negative value disables the token bucket.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=-1"`

	// Burst is the token bucket size.
	Burst int `yaml:"burst" validate:"gte=0"`

	// MaxInFlight caps concurrent requests against the service.
	MaxInFlight int `yaml:"max_in_flight" validate:"gte=0"`
}

// DefaultConfig returns the sequential, polite configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: DefaultRequestsPerSecond,
		Burst:             DefaultBurst,
		MaxInFlight:       DefaultMaxInFlight,
	}
}

// Limiter gates outgoing requests.
type Limiter struct {
	bucket   *rate.Limiter
	slots    *semaphore.Weighted
	config   Config
	inFlight atomic.Int64
	acquired atomic.Int64
	logger   zerolog.Logger
}

// NewLimiter creates a limiter, filling zero fields with defaults.
func NewLimiter(cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}

	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond < 0 {
		limit = rate.Inf
	}

	return &Limiter{
		bucket: rate.NewLimiter(limit, cfg.Burst),
		slots:  semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		config: cfg,
		logger: logger,
	}
}

// Acquire blocks until a request may be sent. The returned release func
// must be called exactly once when the request has completed.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	start := time.Now()

	if err := l.slots.Acquire(ctx, 1); err != nil {
		limiterRejectsTotal.Inc()
		return nil, fmt.Errorf("acquire request slot: %w", err)
	}

	if err := l.bucket.Wait(ctx); err != nil {
		l.slots.Release(1)
		limiterRejectsTotal.Inc()
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	waited := time.Since(start)
	limiterWaitSeconds.Observe(waited.Seconds())
	if waited > SlowAcquireThreshold {
		l.logger.Warn().
			Dur("waited", waited).
			Int("max_in_flight", l.config.MaxInFlight).
			Msg("Request slot acquired slowly")
	}

	l.inFlight.Add(1)
	l.acquired.Add(1)
	requestsInFlight.Inc()

	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			return
		}
		l.inFlight.Add(-1)
		requestsInFlight.Dec()
		l.slots.Release(1)
	}, nil
}

// State returns a snapshot of the limiter.
func (l *Limiter) State() State {
	return State{
		InFlight:          l.inFlight.Load(),
		MaxInFlight:       int64(l.config.MaxInFlight),
		RequestsPerSecond: l.config.RequestsPerSecond,
		Acquired:          l.acquired.Load(),
	}
}
