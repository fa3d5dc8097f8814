package pagination

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/featureservice-downloader/pkg/client"
	"github.com/Sternrassler/featureservice-downloader/pkg/query"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrTooManyIdentifiers is returned when the filter matches more records
// than EnumeratorConfig.MaxIdentifiers allows.
var ErrTooManyIdentifiers = errors.New("too many identifiers")

// errNoCount marks a count response without a usable count.
var errNoCount = errors.New("count missing from response")

// EnumeratorConfig selects the enumeration path.
type EnumeratorConfig struct {
	// SupportsPagination enables the offset-based path
	SupportsPagination bool

	// PageSize is the number of identifiers per page request
	PageSize int

	// MaxIdentifiers caps the identifier set; 0 means unlimited
	MaxIdentifiers int
}

// Enumerator resolves the ordered identifier set matching a filter.
type Enumerator struct {
	querier  client.Querier
	queryURL string
	base     query.Params
	config   EnumeratorConfig
	logger   zerolog.Logger
}

// NewEnumerator creates an enumerator querying layerURL/query. The filter
// parameters are built once here.
func NewEnumerator(querier client.Querier, layerURL string, filter query.FilterSpec, config EnumeratorConfig) *Enumerator {
	if config.PageSize < 1 {
		config.PageSize = 1
	}
	return &Enumerator{
		querier:  querier,
		queryURL: client.JoinURL(layerURL, "query"),
		base:     filter.Params(),
		config:   config,
		logger:   log.With().Str("component", "enumerator").Logger(),
	}
}

// Iterations returns the number of pages needed for count records.
func Iterations(count, pageSize int) int {
	if count <= 0 || pageSize <= 0 {
		return 0
	}
	return (count + pageSize - 1) / pageSize
}

// PageOffsets returns the resultOffset of every page.
func PageOffsets(count, pageSize int) []int {
	n := Iterations(count, pageSize)
	offsets := make([]int, n)
	for i := range offsets {
		offsets[i] = i * pageSize
	}
	return offsets
}

// Enumerate returns the identifiers in service order. An empty result is
// not an error.
func (e *Enumerator) Enumerate(ctx context.Context) ([]int64, error) {
	if e.config.SupportsPagination {
		count, err := e.RecordCount(ctx)
		if err == nil {
			return e.paginate(ctx, count)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Debug().
			Err(err).
			Str("url", e.queryURL).
			Msg("Record count unavailable, falling back to single request")
	}
	return e.single(ctx)
}

// RecordCount asks the service how many records match the filter.
func (e *Enumerator) RecordCount(ctx context.Context) (int, error) {
	resp, err := e.querier.Query(ctx, e.queryURL, query.CountOnly(e.base))
	if err != nil {
		return 0, err
	}
	var count int
	found, err := resp.Field("count", &count)
	if err != nil {
		return 0, err
	}
	if !found || count < 0 {
		return 0, errNoCount
	}
	return count, nil
}

// maxPreallocPages bounds the identifier slice allocated up front, since
// count is reported by the service.
const maxPreallocPages = 64

func preallocIDs(count, pageSize int) int {
	if limit := pageSize * maxPreallocPages; count > limit {
		return limit
	}
	return count
}

func (e *Enumerator) paginate(ctx context.Context, count int) ([]int64, error) {
	if err := e.checkLimit(count); err != nil {
		return nil, err
	}
	pages := Iterations(count, e.config.PageSize)

	e.logger.Debug().
		Int("count", count).
		Int("page_size", e.config.PageSize).
		Int("iterations", pages).
		Msg("Paginating identifiers")

	ids := make([]int64, 0, preallocIDs(count, e.config.PageSize))
	for i := 0; i < pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		offset := i * e.config.PageSize
		page, err := e.fetchIDs(ctx, query.Page(e.base, offset, e.config.PageSize))
		if err != nil {
			return nil, fmt.Errorf("identifier page %d (offset %d): %w", i, offset, err)
		}
		identifierPagesTotal.Inc()
		ids = append(ids, page...)
	}

	identifiersTotal.Add(float64(len(ids)))
	return ids, nil
}

func (e *Enumerator) single(ctx context.Context) ([]int64, error) {
	ids, err := e.fetchIDs(ctx, query.IDsOnly(e.base))
	if err != nil {
		return nil, fmt.Errorf("identifier request: %w", err)
	}
	if err := e.checkLimit(len(ids)); err != nil {
		return nil, err
	}
	identifiersTotal.Add(float64(len(ids)))
	return ids, nil
}

func (e *Enumerator) fetchIDs(ctx context.Context, params query.Params) ([]int64, error) {
	resp, err := e.querier.Query(ctx, e.queryURL, params)
	if err != nil {
		return nil, err
	}
	var ids []int64
	if _, err := resp.Field("objectIds", &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *Enumerator) checkLimit(n int) error {
	if e.config.MaxIdentifiers > 0 && n > e.config.MaxIdentifiers {
		return fmt.Errorf("%w: %d matching records exceed the limit of %d", ErrTooManyIdentifiers, n, e.config.MaxIdentifiers)
	}
	return nil
}
