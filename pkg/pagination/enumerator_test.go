package pagination

import (
	"context"
	"errors"
	"testing"

	"github.com/Sternrassler/featureservice-downloader/pkg/client"
	"github.com/Sternrassler/featureservice-downloader/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const layerURL = "https://example.com/arcgis/rest/services/Parcels/FeatureServer/0"

func TestIterations(t *testing.T) {
	tests := []struct {
		count, pageSize, want int
	}{
		{250, 100, 3},
		{200, 100, 2},
		{0, 100, 0},
		{1, 100, 1},
		{99, 100, 1},
		{101, 100, 2},
		{10, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Iterations(tt.count, tt.pageSize), "count=%d pageSize=%d", tt.count, tt.pageSize)
	}
}

func TestPageOffsets(t *testing.T) {
	assert.Equal(t, []int{0, 100, 200}, PageOffsets(250, 100))
	assert.Equal(t, []int{0, 100}, PageOffsets(200, 100))
	assert.Empty(t, PageOffsets(0, 100))
}

func TestEnumerate_Pagination(t *testing.T) {
	svc := &fakeService{ids: sequentialIDs(250)}
	enum := NewEnumerator(svc, layerURL, query.FilterSpec{Where: "STATUS = 'A'"}, EnumeratorConfig{
		SupportsPagination: true,
		PageSize:           100,
	})

	ids, err := enum.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sequentialIDs(250), ids)

	pages := svc.requests("ids")
	require.Len(t, pages, 3)
	for i, want := range []string{"0", "100", "200"} {
		assert.Equal(t, want, pages[i].Get("resultOffset"))
		assert.Equal(t, "100", pages[i].Get("resultRecordCount"))
		assert.Equal(t, "STATUS = 'A'", pages[i].Get("where"))
	}
	assert.Len(t, svc.requests("count"), 1)
}

func TestEnumerate_ExactMultipleHasNoTrailingPage(t *testing.T) {
	svc := &fakeService{ids: sequentialIDs(200)}
	enum := NewEnumerator(svc, layerURL, query.FilterSpec{}, EnumeratorConfig{SupportsPagination: true, PageSize: 100})

	ids, err := enum.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 200)
	assert.Len(t, svc.requests("ids"), 2)
}

func TestEnumerate_ZeroCountIssuesNoPageRequests(t *testing.T) {
	svc := &fakeService{}
	enum := NewEnumerator(svc, layerURL, query.FilterSpec{}, EnumeratorConfig{SupportsPagination: true, PageSize: 100})

	ids, err := enum.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, svc.requests("ids"))
}

func TestEnumerate_CountFailureFallsBackToSingleRequest(t *testing.T) {
	svc := &fakeService{
		ids:      sequentialIDs(30),
		countErr: &client.ServiceError{URL: layerURL, Code: 400, Message: "count not supported"},
	}
	enum := NewEnumerator(svc, layerURL, query.FilterSpec{}, EnumeratorConfig{SupportsPagination: true, PageSize: 10})

	ids, err := enum.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 30)

	reqs := svc.requests("ids")
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Get("resultOffset"))
}

func TestEnumerate_NoPaginationSupport(t *testing.T) {
	svc := &fakeService{ids: sequentialIDs(5)}
	enum := NewEnumerator(svc, layerURL, query.FilterSpec{}, EnumeratorConfig{PageSize: 2})

	ids, err := enum.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
	assert.Empty(t, svc.requests("count"))
	assert.Len(t, svc.requests("ids"), 1)
	assert.Equal(t, "1=1", svc.requests("ids")[0].Get("where"))
}

func TestEnumerate_MissingObjectIDsIsEmpty(t *testing.T) {
	svc := &fakeService{omitIDs: true}
	enum := NewEnumerator(svc, layerURL, query.FilterSpec{}, EnumeratorConfig{PageSize: 100})

	ids, err := enum.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEnumerate_MaxIdentifiers(t *testing.T) {
	t.Run("pagination", func(t *testing.T) {
		svc := &fakeService{ids: sequentialIDs(50)}
		enum := NewEnumerator(svc, layerURL, query.FilterSpec{}, EnumeratorConfig{
			SupportsPagination: true, PageSize: 10, MaxIdentifiers: 20,
		})
		_, err := enum.Enumerate(context.Background())
		assert.ErrorIs(t, err, ErrTooManyIdentifiers)
		assert.Empty(t, svc.requests("ids"), "limit must be checked before paging")
	})

	t.Run("single request", func(t *testing.T) {
		svc := &fakeService{ids: sequentialIDs(50)}
		enum := NewEnumerator(svc, layerURL, query.FilterSpec{}, EnumeratorConfig{PageSize: 10, MaxIdentifiers: 20})
		_, err := enum.Enumerate(context.Background())
		assert.ErrorIs(t, err, ErrTooManyIdentifiers)
	})
}

func TestEnumerate_PageFailurePropagates(t *testing.T) {
	boom := &client.TransportError{URL: layerURL, Op: "query", Class: client.ErrorClassServer, StatusCode: 503}
	svc := &fakeService{
		ids: sequentialIDs(25),
		failOn: func(p query.Params) error {
			if p.Get("resultOffset") == "10" {
				return boom
			}
			return nil
		},
	}
	enum := NewEnumerator(svc, layerURL, query.FilterSpec{}, EnumeratorConfig{SupportsPagination: true, PageSize: 10})

	ids, err := enum.Enumerate(context.Background())
	assert.Nil(t, ids)
	var te *client.TransportError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, err.Error(), "offset 10")
}

func TestEnumerate_HugeReportedCount(t *testing.T) {
	boom := &client.TransportError{URL: layerURL, Op: "query", Class: client.ErrorClassServer, StatusCode: 503}
	svc := &fakeService{
		ids:   sequentialIDs(100),
		count: 1 << 40,
		failOn: func(p query.Params) error {
			if p.Get("resultOffset") == "100" {
				return boom
			}
			return nil
		},
	}
	enum := NewEnumerator(svc, layerURL, query.FilterSpec{}, EnumeratorConfig{SupportsPagination: true, PageSize: 100})

	ids, err := enum.Enumerate(context.Background())
	assert.Nil(t, ids)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, svc.requests("ids"), 2)
}

func TestPreallocIDs(t *testing.T) {
	assert.Equal(t, 250, preallocIDs(250, 100))
	assert.Equal(t, 6400, preallocIDs(1<<40, 100))
	assert.Equal(t, 0, preallocIDs(0, 100))
}

func TestEnumerate_SpatialFilterSentOnEveryRequest(t *testing.T) {
	svc := &fakeService{ids: sequentialIDs(15)}
	filter := query.FilterSpec{Spatial: &query.SpatialFilter{
		GeometryType: "esriGeometryEnvelope",
		Geometry:     `{"xmin":0,"ymin":0,"xmax":10,"ymax":10}`,
		InSR:         4326,
	}}
	enum := NewEnumerator(svc, layerURL, filter, EnumeratorConfig{SupportsPagination: true, PageSize: 10})

	_, err := enum.Enumerate(context.Background())
	require.NoError(t, err)

	for _, p := range append(svc.requests("count"), svc.requests("ids")...) {
		assert.Equal(t, "esriGeometryEnvelope", p.Get("geometryType"))
		assert.Equal(t, "esriSpatialRelIntersects", p.Get("spatialRel"))
		assert.Equal(t, "4326", p.Get("inSR"))
	}
}

func TestEnumerate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &fakeService{ids: sequentialIDs(30)}
	svc.beforeCall = func(p query.Params) {
		if p.Get("resultOffset") == "10" {
			cancel()
		}
	}
	enum := NewEnumerator(svc, layerURL, query.FilterSpec{}, EnumeratorConfig{SupportsPagination: true, PageSize: 10})

	_, err := enum.Enumerate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
