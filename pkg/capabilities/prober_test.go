package capabilities

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/Sternrassler/featureservice-downloader/pkg/client"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const layerURL = "https://gis.example.com/arcgis/rest/services/Parcels/FeatureServer/0"

type fakeQuerier struct {
	calls int
	body  string
	err   error
}

func (f *fakeQuerier) Query(ctx context.Context, rawURL string, params url.Values) (*client.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return client.NewResponse(rawURL, []byte(f.body))
}

type memoryCache struct {
	data   map[string][]byte
	stores int
}

func (m *memoryCache) key(u string, auth bool) string {
	if auth {
		return u + "#auth"
	}
	return u
}

func (m *memoryCache) LoadMetadata(ctx context.Context, serviceURL string, authenticated bool) ([]byte, bool, error) {
	d, ok := m.data[m.key(serviceURL, authenticated)]
	return d, ok, nil
}

func (m *memoryCache) StoreMetadata(ctx context.Context, serviceURL string, authenticated bool, data []byte) error {
	m.stores++
	m.data[m.key(serviceURL, authenticated)] = data
	return nil
}

func fullMetadata() string {
	return `{
		"type": "Feature Layer",
		"maxRecordCount": 1000,
		"hasAttachments": true,
		"advancedQueryCapabilities": {"supportsPagination": true}
	}`
}

func TestProbe_QueriesOnce(t *testing.T) {
	q := &fakeQuerier{body: fullMetadata()}
	p := NewProber(q, layerURL+"/", WithLogger(zerolog.Nop()))
	ctx := context.Background()

	caps, err := p.Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000, caps.MaxRecordCount)
	assert.True(t, caps.SupportsPagination)
	assert.True(t, caps.HasAttachments)
	assert.False(t, caps.IsTable())

	p.MaxRecordCount(ctx, 100)
	p.SupportsPagination(ctx)
	p.HasAttachments(ctx)
	_, _ = p.IsTable(ctx)

	assert.Equal(t, 1, q.calls, "metadata must be requested once per session")
}

func TestMaxRecordCount(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		fallback int
		want     int
	}{
		{"service smaller than fallback", `{"maxRecordCount": 50}`, nil, 100, 50},
		{"service larger than fallback", `{"maxRecordCount": 2000}`, nil, 100, 100},
		{"service equal to fallback", `{"maxRecordCount": 100}`, nil, 100, 100},
		{"missing key", `{}`, nil, 250, 250},
		{"zero declared", `{"maxRecordCount": 0}`, nil, 100, 100},
		{"probe failure returns fallback", "", errors.New("connection refused"), 321, 321},
		{"non-positive fallback normalised", `{"maxRecordCount": 5000}`, nil, 0, DefaultChunkSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProber(&fakeQuerier{body: tt.body, err: tt.err}, layerURL, WithLogger(zerolog.Nop()))
			assert.Equal(t, tt.want, p.MaxRecordCount(context.Background(), tt.fallback))
		})
	}
}

func TestSupportsPagination(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want bool
	}{
		{"declared true", `{"advancedQueryCapabilities": {"supportsPagination": true}}`, nil, true},
		{"declared false", `{"advancedQueryCapabilities": {"supportsPagination": false}}`, nil, false},
		{"advancedQueryCapabilities omitted", `{"maxRecordCount": 1000}`, nil, false},
		{"probe failure", "", errors.New("timeout"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProber(&fakeQuerier{body: tt.body, err: tt.err}, layerURL, WithLogger(zerolog.Nop()))
			assert.Equal(t, tt.want, p.SupportsPagination(context.Background()))
		})
	}
}

func TestHasAttachments_WarnsOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		want     bool
		wantWarn bool
	}{
		{"declared true", `{"hasAttachments": true}`, nil, true, false},
		{"declared false", `{"hasAttachments": false}`, nil, false, false},
		{"missing key", `{"type": "Table"}`, nil, false, true},
		{"probe failure", "", &client.ServiceError{Message: "Invalid token."}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)
			p := NewProber(&fakeQuerier{body: tt.body, err: tt.err}, layerURL, WithLogger(logger))

			assert.Equal(t, tt.want, p.HasAttachments(context.Background()))
			if tt.wantWarn {
				assert.Contains(t, buf.String(), `"level":"warn"`)
			} else {
				assert.NotContains(t, buf.String(), `"level":"warn"`)
			}
		})
	}
}

func TestIsTable(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"table", `{"type": "Table"}`, true},
		{"lowercase table", `{"type": "table"}`, true},
		{"feature layer", `{"type": "Feature Layer"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProber(&fakeQuerier{body: tt.body}, layerURL, WithLogger(zerolog.Nop()))
			got, err := p.IsTable(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsTable_PropagatesFailure(t *testing.T) {
	cause := &client.TransportError{URL: layerURL, Class: client.ErrorClassNetwork}
	p := NewProber(&fakeQuerier{err: cause}, layerURL, WithLogger(zerolog.Nop()))

	_, err := p.IsTable(context.Background())

	var ce *ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, layerURL, ce.URL)

	var te *client.TransportError
	assert.ErrorAs(t, err, &te, "origin error must stay reachable")
}

func TestIsTable_MissingType(t *testing.T) {
	p := NewProber(&fakeQuerier{body: `{"maxRecordCount": 10}`}, layerURL, WithLogger(zerolog.Nop()))

	_, err := p.IsTable(context.Background())

	var ce *ClassificationError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, ErrNotDeclared)
}

func TestProbe_UsesCache(t *testing.T) {
	cache := &memoryCache{data: map[string][]byte{}}
	ctx := context.Background()

	first := &fakeQuerier{body: fullMetadata()}
	_, err := NewProber(first, layerURL, WithCache(cache, false), WithLogger(zerolog.Nop())).Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.stores)

	second := &fakeQuerier{err: errors.New("should not be called")}
	caps, err := NewProber(second, layerURL, WithCache(cache, false), WithLogger(zerolog.Nop())).Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.calls)
	assert.Equal(t, 1000, caps.MaxRecordCount)

	third := &fakeQuerier{body: `{"type": "Table"}`}
	caps, err = NewProber(third, layerURL, WithCache(cache, true), WithLogger(zerolog.Nop())).Probe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, third.calls, "authenticated view is cached separately")
	assert.True(t, caps.IsTable())
}

func TestRecordKind(t *testing.T) {
	assert.Equal(t, "Rows", RecordKind(true))
	assert.Equal(t, "Features", RecordKind(false))
}
