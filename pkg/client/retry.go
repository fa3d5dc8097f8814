package client

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsdl_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fsdl_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsdl_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int `yaml:"max_attempts" validate:"gte=0"`

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass returns the appropriate retry configuration for an error class.
func RetryConfigForErrorClass(errorClass ErrorClass) RetryConfig {
	switch errorClass {
	case ErrorClassServer:
		// 5xx - shorter backoff
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassTimeout:
		// an overloaded service needs room
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    5 * time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassNetwork:
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		}
	default:
		return DefaultRetryConfig()
	}
}

// retryWithBackoff executes fn with exponential backoff retry logic.
// classify maps each failure to an ErrorClass that selects whether and how
// to retry. It respects context cancellation and adds jitter.
func retryWithBackoff(ctx context.Context, fn func() error, classify func(error) ErrorClass) error {
	return retryWithConfig(ctx, nil, fn, classify)
}

// retryWithConfig is retryWithBackoff with an optional fixed configuration
// overriding the per-class defaults.
func retryWithConfig(ctx context.Context, fixed *RetryConfig, fn func() error, classify func(error) ErrorClass) error {
	var lastErr error
	var errorClass ErrorClass
	var config RetryConfig
	var backoff time.Duration

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errorClass = classify(err)

		if !shouldRetry(errorClass) {
			return lastErr
		}

		if attempt == 1 {
			config = RetryConfigForErrorClass(errorClass)
			if fixed != nil {
				config = *fixed
			}
			backoff = config.InitialBackoff
		}

		if attempt >= config.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(errorClass)).Inc()

		// ±20% jitter
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(jitter.Seconds())

		log.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			log.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	log.Warn().
		Str("error_class", string(errorClass)).
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, config.MaxAttempts, lastErr)
}

// RetryingQuerier wraps a client with bounded retries for transient
// transport failures. Service errors and 4xx responses are never retried.
type RetryingQuerier struct {
	next   *Client
	config *RetryConfig
}

// NewRetryingQuerier wraps next. A nil config selects per-class defaults.
func NewRetryingQuerier(next *Client, config *RetryConfig) *RetryingQuerier {
	if config != nil && config.MaxAttempts <= 0 {
		config = nil
	}
	return &RetryingQuerier{next: next, config: config}
}

// Query implements Querier.
func (r *RetryingQuerier) Query(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	var resp *Response
	err := retryWithConfig(ctx, r.config, func() error {
		var qerr error
		resp, qerr = r.next.Query(ctx, rawURL, params)
		return qerr
	}, ClassOf)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Download implements Downloader. Only failures before any byte was
// written are retried, since w cannot be rewound.
func (r *RetryingQuerier) Download(ctx context.Context, rawURL string, params url.Values, w io.Writer) (int64, error) {
	var n int64
	err := retryWithConfig(ctx, r.config, func() error {
		var derr error
		n, derr = r.next.Download(ctx, rawURL, params, w)
		return derr
	}, func(err error) ErrorClass {
		if n > 0 {
			return ""
		}
		return ClassOf(err)
	})
	return n, err
}
