package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/featureservice-downloader/pkg/capabilities"
	"github.com/Sternrassler/featureservice-downloader/pkg/client"
	"github.com/Sternrassler/featureservice-downloader/pkg/progress"
	"github.com/Sternrassler/featureservice-downloader/pkg/query"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Config holds batch fetcher configuration
type Config struct {
	// ChunkSize is the number of identifiers per request
	ChunkSize int `yaml:"chunk_size" validate:"gte=0"`

	// MaxConcurrency is the maximum number of parallel chunk requests.
	// 1 keeps chunks strictly sequential.
	MaxConcurrency int `yaml:"max_concurrency" validate:"gte=0"`

	// Timeout per chunk fetch, 0 disables
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// DefaultConfig returns the sequential default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:      capabilities.DefaultChunkSize,
		MaxConcurrency: 1,
	}
}

// RecordBatch is the payload of one chunk.
type RecordBatch struct {
	Index     int
	ObjectIDs []int64
	Payload   json.RawMessage
	Records   int
}

// BatchFetchError is returned when a chunk could not be fetched. The most
// common cause is a service-enforced limit below the negotiated chunk size.
type BatchFetchError struct {
	Chunk     int
	ChunkSize int
	FirstID   int64
	Err       error
}

// Error implements the error interface.
func (e *BatchFetchError) Error() string {
	return fmt.Sprintf("fetching chunk %d (starting at id %d) failed: %v; try a chunk size lower than %d",
		e.Chunk, e.FirstID, e.Err, e.ChunkSize)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *BatchFetchError) Unwrap() error {
	return e.Err
}

// BatchFetcher fetches full records for an identifier set chunk by chunk.
type BatchFetcher struct {
	querier  client.Querier
	queryURL string
	config   Config
	reporter progress.Reporter
	logger   zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(querier client.Querier, layerURL string, config Config) *BatchFetcher {
	if config.ChunkSize < 1 {
		config.ChunkSize = 1
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}

	return &BatchFetcher{
		querier:  querier,
		queryURL: client.JoinURL(layerURL, "query"),
		config:   config,
		reporter: progress.Nop{},
		logger:   log.With().Str("component", "batch-fetcher").Logger(),
	}
}

// WithReporter sets the progress reporter.
func (bf *BatchFetcher) WithReporter(r progress.Reporter) *BatchFetcher {
	if r != nil {
		bf.reporter = r
	}
	return bf
}

// FetchAll fetches every chunk of ids and returns the batches in chunk
// order. Geometry is requested unless isTable is set. Any chunk failure
// aborts the whole fetch and no batches are returned.
func (bf *BatchFetcher) FetchAll(ctx context.Context, ids []int64, isTable bool) ([]RecordBatch, error) {
	start := time.Now()
	chunks := Chunks(ids, bf.config.ChunkSize)
	kind := strings.ToLower(capabilities.RecordKind(isTable))

	bf.logger.Info().
		Str("url", bf.queryURL).
		Int("identifiers", len(ids)).
		Int("chunks", len(chunks)).
		Int("workers", bf.config.MaxConcurrency).
		Msg("Starting batch fetch")

	bf.reporter.Info(fmt.Sprintf("%d %s to be downloaded", len(ids), kind))
	counter := progress.NewCounter(bf.reporter, progress.StageBatches, len(ids), "%d "+kind+" appended")

	results := make([]RecordBatch, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bf.config.MaxConcurrency)

	for _, chunk := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			batch, err := bf.fetchChunk(gctx, chunk, isTable)
			if err != nil {
				batchesTotal.WithLabelValues("error").Inc()
				if ctx.Err() != nil {
					return ctx.Err()
				}
				bf.logger.Warn().
					Err(err).
					Int("chunk", chunk.Index).
					Int("chunk_size", bf.config.ChunkSize).
					Msg("Chunk fetch failed")
				return &BatchFetchError{
					Chunk:     chunk.Index,
					ChunkSize: bf.config.ChunkSize,
					FirstID:   chunk.IDs[0],
					Err:       err,
				}
			}
			results[chunk.Index] = batch
			batchesTotal.WithLabelValues("ok").Inc()
			batchRecordsTotal.Add(float64(batch.Records))
			counter.Add(batch.Records)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batchDuration.Observe(time.Since(start).Seconds())
	bf.logger.Info().
		Int("chunks", len(chunks)).
		Int("records", counter.Done()).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	return results, nil
}

func (bf *BatchFetcher) fetchChunk(ctx context.Context, chunk Chunk, isTable bool) (RecordBatch, error) {
	if bf.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bf.config.Timeout)
		defer cancel()
	}

	resp, err := bf.querier.Query(ctx, bf.queryURL, query.ByIDs(chunk.IDs, !isTable))
	if err != nil {
		return RecordBatch{}, err
	}

	var features []json.RawMessage
	if _, err := resp.Field("features", &features); err != nil {
		return RecordBatch{}, err
	}

	return RecordBatch{
		Index:     chunk.Index,
		ObjectIDs: chunk.IDs,
		Payload:   resp.Body,
		Records:   len(features),
	}, nil
}
