// Package metrics exposes the Prometheus metrics of the downloader.
// Metrics are defined in their respective packages via promauto to keep
// packages independent; this package serves them and documents them.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the registerer all packages use.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("Metrics endpoint listening")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - fsdl_requests_total{operation, status} (Counter): Requests by operation (query, download) and status
//   - fsdl_request_duration_seconds{operation} (Histogram): Request duration
//   - fsdl_errors_total{class} (Counter): Errors by class (timeout, network, invalid_url, client, server, decode, service)
//   - fsdl_downloaded_bytes_total (Counter): Attachment bytes streamed
//
// Retry Metrics (pkg/client):
//   - fsdl_retries_total{error_class} (Counter): Retry attempts by error class
//   - fsdl_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - fsdl_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Limiter Metrics (pkg/ratelimit):
//   - fsdl_requests_in_flight (Gauge): Requests currently holding a slot
//   - fsdl_rate_limit_wait_seconds (Histogram): Time spent waiting for a slot
//   - fsdl_rate_limit_rejects_total (Counter): Acquisitions abandoned by cancellation
//
// Cache Metrics (pkg/cache):
//   - fsdl_cache_lookups_total{scope, result} (Counter): Metadata lookups, result is hit, miss, expired or invalid
//   - fsdl_cache_stored_bytes_total{scope} (Counter): Bytes of metadata written
//   - fsdl_cache_errors_total{operation} (Counter): Redis failures
//
// Download Metrics (pkg/pagination, pkg/attachments, pkg/download, pkg/progress):
//   - fsdl_identifier_pages_total (Counter): Identifier pages requested
//   - fsdl_identifiers_total (Counter): Identifiers resolved
//   - fsdl_batches_total{status} (Counter): Chunk fetches by status
//   - fsdl_batch_records_total (Counter): Records received
//   - fsdl_batch_duration_seconds (Histogram): Duration of a complete batch fetch
//   - fsdl_attachments_total{status} (Counter): Attachment downloads by status
//   - fsdl_attachment_list_failures_total (Counter): Failed attachment listings
//   - fsdl_runs_total{outcome, state} (Counter): Runs by outcome (done, empty, error) and failing state
//   - fsdl_run_duration_seconds (Histogram): Run duration
//   - fsdl_progress_done{stage}, fsdl_progress_total{stage} (Gauge): Current progress
//
// Example Prometheus Queries:
//
//   # Chunk failure rate
//   rate(fsdl_batches_total{status="error"}[5m]) / rate(fsdl_batches_total[5m])
//
//   # Attachment progress
//   fsdl_progress_done{stage="attachments"} / fsdl_progress_total{stage="attachments"}
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(fsdl_request_duration_seconds_bucket[5m]))
