package capabilities

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/Sternrassler/featureservice-downloader/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MetadataCache stores raw layer metadata across sessions.
type MetadataCache interface {
	LoadMetadata(ctx context.Context, serviceURL string, authenticated bool) ([]byte, bool, error)
	StoreMetadata(ctx context.Context, serviceURL string, authenticated bool, data []byte) error
}

// Option configures a Prober.
type Option func(*Prober)

// WithCache adds a cross-session metadata cache.
func WithCache(cache MetadataCache, authenticated bool) Option {
	return func(p *Prober) {
		p.cache = cache
		p.authenticated = authenticated
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Prober) {
		p.logger = logger
	}
}

// Prober queries layer metadata once and answers capability questions.
type Prober struct {
	querier       client.Querier
	layerURL      string
	cache         MetadataCache
	authenticated bool
	logger        zerolog.Logger

	once sync.Once
	caps Capabilities
	err  error
}

// NewProber creates a prober for layerURL.
func NewProber(querier client.Querier, layerURL string, opts ...Option) *Prober {
	p := &Prober{
		querier:  querier,
		layerURL: client.JoinURL(layerURL),
		logger:   log.With().Str("component", "capabilities").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe returns the parsed metadata. The request is issued at most once;
// later calls return the cached result or error.
func (p *Prober) Probe(ctx context.Context) (Capabilities, error) {
	p.once.Do(func() {
		p.caps, p.err = p.load(ctx)
	})
	return p.caps, p.err
}

func (p *Prober) load(ctx context.Context) (Capabilities, error) {
	if p.cache != nil {
		data, found, err := p.cache.LoadMetadata(ctx, p.layerURL, p.authenticated)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Metadata cache read failed")
		}
		if found {
			var m metadata
			if err := json.Unmarshal(data, &m); err == nil {
				p.logger.Debug().Str("url", p.layerURL).Msg("Layer metadata served from cache")
				return m.capabilities(), nil
			}
		}
	}

	resp, err := p.querier.Query(ctx, p.layerURL, url.Values{})
	if err != nil {
		return Capabilities{}, fmt.Errorf("probe %s: %w", p.layerURL, err)
	}

	var m metadata
	if err := resp.Decode(&m); err != nil {
		return Capabilities{}, fmt.Errorf("decode metadata of %s: %w", p.layerURL, err)
	}

	if p.cache != nil {
		if err := p.cache.StoreMetadata(ctx, p.layerURL, p.authenticated, resp.Body); err != nil {
			p.logger.Warn().Err(err).Msg("Metadata cache write failed")
		}
	}

	caps := m.capabilities()
	p.logger.Debug().
		Str("url", p.layerURL).
		Int("max_record_count", caps.MaxRecordCount).
		Bool("supports_pagination", caps.SupportsPagination).
		Bool("has_attachments", caps.HasAttachments).
		Str("type", caps.Type).
		Msg("Layer metadata probed")
	return caps, nil
}

// MaxRecordCount returns the service maximum when it is smaller than
// fallback, otherwise fallback. Probe failures are swallowed.
func (p *Prober) MaxRecordCount(ctx context.Context, fallback int) int {
	if fallback <= 0 {
		fallback = DefaultChunkSize
	}
	caps, err := p.Probe(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Int("fallback", fallback).Msg("maxRecordCount unavailable, using fallback")
		return fallback
	}
	if caps.MaxRecordCount > 0 && caps.MaxRecordCount < fallback {
		return caps.MaxRecordCount
	}
	return fallback
}

// SupportsPagination returns the declared flag, false on failure.
func (p *Prober) SupportsPagination(ctx context.Context) bool {
	caps, err := p.Probe(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Pagination support unknown, assuming none")
		return false
	}
	return caps.SupportsPagination
}

// HasAttachments returns the declared flag. A failed probe or a missing
// key yields false and a warning, since it suppresses every attachment
// download.
func (p *Prober) HasAttachments(ctx context.Context) bool {
	caps, err := p.Probe(ctx)
	if err == nil && !caps.HasAttachmentsDeclared {
		err = fmt.Errorf("hasAttachments: %w", ErrNotDeclared)
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("url", p.layerURL).Msg("Problem getting hasAttachments info from service")
		return false
	}
	return caps.HasAttachments
}

// IsTable classifies the layer. Failures propagate as *ClassificationError.
func (p *Prober) IsTable(ctx context.Context) (bool, error) {
	caps, err := p.Probe(ctx)
	if err != nil {
		return false, &ClassificationError{URL: p.layerURL, Err: err}
	}
	if caps.Type == "" {
		return false, &ClassificationError{URL: p.layerURL, Err: fmt.Errorf("type: %w", ErrNotDeclared)}
	}
	return caps.IsTable(), nil
}
