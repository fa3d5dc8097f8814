// Package download runs a complete download: credential resolution, layer
// classification, chunk negotiation, identifier enumeration, batch and
// attachment fetch, and consolidation.
package download

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/featureservice-downloader/pkg/attachments"
	"github.com/Sternrassler/featureservice-downloader/pkg/auth"
	"github.com/Sternrassler/featureservice-downloader/pkg/capabilities"
	"github.com/Sternrassler/featureservice-downloader/pkg/client"
	"github.com/Sternrassler/featureservice-downloader/pkg/consolidate"
	"github.com/Sternrassler/featureservice-downloader/pkg/pagination"
	"github.com/Sternrassler/featureservice-downloader/pkg/progress"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsdl_runs_total",
		Help: "Download runs by final state and failing state",
	}, []string{"outcome", "state"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fsdl_run_duration_seconds",
		Help:    "Duration of download runs",
		Buckets: []float64{1, 10, 60, 300, 900, 3600, 10800},
	})
)

// ServiceEndpoint is the resolved target of a run.
type ServiceEndpoint struct {
	URL     string
	Token   string
	IsTable bool
}

// Result describes a finished run.
type Result struct {
	RunID       string
	State       State
	Endpoint    ServiceEndpoint
	ChunkSize   int
	Identifiers int
	Batches     []pagination.RecordBatch
	Records     int
	Written     int
	Attachments attachments.Summary
	Duration    time.Duration
}

// Empty reports whether the filter matched nothing.
func (r Result) Empty() bool {
	return r.Identifiers == 0
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCredentials sets the credential provider. Without one every
// request is anonymous.
func WithCredentials(p auth.Provider) Option {
	return func(o *Orchestrator) { o.credentials = p }
}

// WithAttachmentSink enables attachment download into sink.
func WithAttachmentSink(sink attachments.Sink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithConsolidator sets the consolidation sink. Without one the batches
// are only returned in the Result.
func WithConsolidator(c consolidate.Consolidator) Option {
	return func(o *Orchestrator) { o.consolidator = c }
}

// WithMetadataCache shares layer metadata across runs.
func WithMetadataCache(c capabilities.MetadataCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithReporter sets the progress reporter.
func WithReporter(r progress.Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithRetry wraps every service request in bounded retries. A nil config
// selects per-class defaults.
func WithRetry(cfg *client.RetryConfig) Option {
	return func(o *Orchestrator) {
		o.retry = true
		o.retryConfig = cfg
	}
}

// Orchestrator sequences a download run.
type Orchestrator struct {
	config       Config
	client       *client.Client
	credentials  auth.Provider
	sink         attachments.Sink
	consolidator consolidate.Consolidator
	cache        capabilities.MetadataCache
	reporter     progress.Reporter
	retry        bool
	retryConfig  *client.RetryConfig
	logger       zerolog.Logger
}

// New validates cfg and creates an orchestrator on c. c must not carry a
// token; the resolved credential is injected per run.
func New(cfg Config, c *client.Client, opts ...Option) (*Orchestrator, error) {
	if c == nil {
		return nil, errors.New("client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = capabilities.DefaultChunkSize
	}
	cfg.ServiceURL = client.JoinURL(strings.TrimSpace(cfg.ServiceURL))

	o := &Orchestrator{
		config:   cfg,
		client:   c,
		reporter: progress.Nop{},
		logger:   log.With().Str("component", "orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.reporter == nil {
		o.reporter = progress.Nop{}
	}
	return o, nil
}

// run carries the state of one Run call.
type run struct {
	id     string
	state  State
	result Result
	logger zerolog.Logger
}

func (r *run) enter(next State) error {
	if !CanTransition(r.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, next)
	}
	r.logger.Debug().Str("from", string(r.state)).Str("to", string(next)).Msg("State transition")
	r.state = next
	r.result.State = next
	return nil
}

// fail moves the run to ErrorTerminal, recording the failing state.
func (r *run) fail(err error) error {
	failed := r.state
	r.state = StateErrorTerminal
	r.result.State = StateErrorTerminal
	runsTotal.WithLabelValues("error", string(failed)).Inc()
	r.logger.Error().Err(err).Str("state", string(failed)).Msg("Download failed")
	return &RunError{State: failed, Err: err}
}

// Run executes one download. Credential, classification, enumeration,
// batch fetch and consolidation failures as well as cancellation end the
// run with a *RunError; capability and attachment problems are reported
// as warnings.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	id := uuid.NewString()
	r := &run{
		id:     id,
		state:  StateInit,
		result: Result{RunID: id, State: StateInit},
		logger: o.logger.With().Str("run_id", id).Logger(),
	}

	r.logger.Info().Str("url", o.config.ServiceURL).Msg("Download started")
	err := o.execute(ctx, r)

	r.result.Duration = time.Since(start)
	runDuration.Observe(r.result.Duration.Seconds())
	return r.result, err
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	// ResolveCredential
	if err := r.enter(StateResolveCredential); err != nil {
		return r.fail(err)
	}
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	token, err := auth.Resolve(ctx, o.credentials, auth.NewTokenIssuer(o.client), o.config.ServiceURL)
	if err != nil {
		return r.fail(err)
	}
	if token != "" {
		o.reporter.Info("Using token authentication")
	}
	authed := o.client.WithToken(token)
	var svc attachments.Service = authed
	if o.retry {
		svc = client.NewRetryingQuerier(authed, o.retryConfig)
	}

	// ClassifyLayer
	if err := r.enter(StateClassifyLayer); err != nil {
		return r.fail(err)
	}
	proberOpts := []capabilities.Option{capabilities.WithLogger(r.logger.With().Str("component", "capabilities").Logger())}
	if o.cache != nil {
		proberOpts = append(proberOpts, capabilities.WithCache(o.cache, token != ""))
	}
	prober := capabilities.NewProber(svc, o.config.ServiceURL, proberOpts...)
	isTable, err := prober.IsTable(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return r.fail(ctxErr)
		}
		return r.fail(err)
	}
	endpoint := ServiceEndpoint{URL: o.config.ServiceURL, Token: token, IsTable: isTable}
	r.result.Endpoint = endpoint
	kind := capabilities.RecordKind(isTable)

	// NegotiateChunk
	if err := r.enter(StateNegotiateChunk); err != nil {
		return r.fail(err)
	}
	chunk := prober.MaxRecordCount(ctx, o.config.ChunkSize)
	supportsPagination := prober.SupportsPagination(ctx)
	r.result.ChunkSize = chunk
	o.reporter.Info(fmt.Sprintf("chunk size used: %d", chunk))
	r.logger.Info().
		Int("chunk_size", chunk).
		Bool("supports_pagination", supportsPagination).
		Bool("is_table", isTable).
		Msg("Chunk size negotiated")

	// EnumerateIdentifiers
	if err := r.enter(StateEnumerateIdentifiers); err != nil {
		return r.fail(err)
	}
	o.reporter.Info("Loading identifiers")
	enum := pagination.NewEnumerator(svc, endpoint.URL, o.config.Filter, pagination.EnumeratorConfig{
		SupportsPagination: supportsPagination,
		PageSize:           chunk,
		MaxIdentifiers:     o.config.MaxIdentifiers,
	})
	ids, err := enum.Enumerate(ctx)
	if err != nil {
		return r.fail(err)
	}
	r.result.Identifiers = len(ids)

	if len(ids) == 0 {
		if err := r.enter(StateEmptyResult); err != nil {
			return r.fail(err)
		}
		o.reporter.Warn(kind + " not found")
		if err := r.enter(StateDone); err != nil {
			return r.fail(err)
		}
		runsTotal.WithLabelValues("empty", string(StateEmptyResult)).Inc()
		r.logger.Info().Msg("Download finished without records")
		return nil
	}

	// FetchBatches
	if err := r.enter(StateFetchBatches); err != nil {
		return r.fail(err)
	}
	fetcher := pagination.NewBatchFetcher(svc, endpoint.URL, pagination.Config{
		ChunkSize:      chunk,
		MaxConcurrency: o.config.BatchConcurrency,
		Timeout:        o.config.ChunkTimeout,
	}).WithReporter(o.reporter)
	batches, err := fetcher.FetchAll(ctx, ids, isTable)
	if err != nil {
		return r.fail(err)
	}
	r.result.Batches = batches
	for _, b := range batches {
		r.result.Records += b.Records
	}

	// FetchAttachments
	if err := r.enter(StateFetchAttachments); err != nil {
		return r.fail(err)
	}
	hasAttachments := false
	if o.sink != nil {
		hasAttachments = prober.HasAttachments(ctx)
	}
	summary, err := attachments.NewFetcher(svc, endpoint.URL, o.sink, attachments.Config{
		MaxConcurrency: o.config.AttachmentConcurrency,
	}).WithReporter(o.reporter).FetchAll(ctx, ids, isTable, hasAttachments)
	r.result.Attachments = summary
	if err != nil {
		return r.fail(err)
	}

	// Consolidate
	if err := r.enter(StateConsolidate); err != nil {
		return r.fail(err)
	}
	if o.consolidator != nil {
		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}
		written, err := o.consolidator.Consolidate(ctx, batches, o.config.Output)
		if err != nil {
			return r.fail(fmt.Errorf("consolidate into %q: %w", o.config.Output, err))
		}
		r.result.Written = written
	}

	if err := r.enter(StateDone); err != nil {
		return r.fail(err)
	}
	runsTotal.WithLabelValues("done", string(StateDone)).Inc()
	r.logger.Info().
		Int("identifiers", r.result.Identifiers).
		Int("records", r.result.Records).
		Int("attachments", summary.Downloaded).
		Msg("Download finished")
	return nil
}
