// Package pagination resolves the identifiers matching a filter and fetches
// their full records in fixed-size chunks.
//
// Identifier enumeration either pages through the service with
// resultOffset/resultRecordCount, when the layer declares pagination
// support and a record count is obtainable, or issues a single
// identifiers-only request:
//
//	enum := pagination.NewEnumerator(querier, layerURL, filter, pagination.EnumeratorConfig{
//		SupportsPagination: prober.SupportsPagination(ctx),
//		PageSize:           chunk,
//	})
//	ids, err := enum.Enumerate(ctx)
//
// The batch fetcher then partitions the identifiers into contiguous chunks
// and requests each chunk with objectIds and outFields=*:
//
//	fetcher := pagination.NewBatchFetcher(querier, layerURL, pagination.Config{ChunkSize: chunk})
//	batches, err := fetcher.FetchAll(ctx, ids, isTable)
//
// The batch fetcher:
//   - Runs a worker pool (default 1 worker, strictly sequential)
//   - Returns batches in chunk order regardless of completion order
//   - Reports a monotonic running total of records
//   - Fails as a whole when any chunk fails (no partial results)
package pagination
