package attachments

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/featureservice-downloader/pkg/capabilities"
	"github.com/Sternrassler/featureservice-downloader/pkg/client"
	"github.com/Sternrassler/featureservice-downloader/pkg/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	attachmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fsdl_attachments_total",
		Help: "Attachment downloads by status",
	}, []string{"status"})

	attachmentListFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fsdl_attachment_list_failures_total",
		Help: "Failed attachment listings",
	})
)

// Service lists and downloads attachments.
type Service interface {
	client.Querier
	client.Downloader
}

// Config holds attachment fetcher configuration.
type Config struct {
	// MaxConcurrency is the number of identifiers processed in parallel
	MaxConcurrency int `yaml:"max_concurrency" validate:"gte=0"`
}

// DefaultConfig returns the sequential default configuration.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 1}
}

// Fetcher downloads the attachments of a set of records into a Sink.
type Fetcher struct {
	service  Service
	layerURL string
	sink     Sink
	config   Config
	reporter progress.Reporter
	logger   zerolog.Logger
}

// NewFetcher creates a fetcher. A nil sink disables attachment output.
func NewFetcher(service Service, layerURL string, sink Sink, config Config) *Fetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	return &Fetcher{
		service:  service,
		layerURL: client.JoinURL(layerURL),
		sink:     sink,
		config:   config,
		reporter: progress.Nop{},
		logger:   log.With().Str("component", "attachments").Logger(),
	}
}

// WithReporter sets the progress reporter.
func (f *Fetcher) WithReporter(r progress.Reporter) *Fetcher {
	if r != nil {
		f.reporter = r
	}
	return f
}

// List returns the attachments of one record.
func (f *Fetcher) List(ctx context.Context, objectID int64) ([]Descriptor, error) {
	listURL := client.JoinURL(f.layerURL, strconv.FormatInt(objectID, 10), "attachments")
	resp, err := f.service.Query(ctx, listURL, nil)
	if err != nil {
		return nil, err
	}

	var infos []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        int64  `json:"size"`
	}
	if _, err := resp.Field("attachmentInfos", &infos); err != nil {
		return nil, err
	}

	out := make([]Descriptor, 0, len(infos))
	for _, info := range infos {
		out = append(out, Descriptor{
			ObjectID:     objectID,
			AttachmentID: info.ID,
			Name:         info.Name,
			ContentType:  info.ContentType,
			Size:         info.Size,
		})
	}
	return out, nil
}

// URL returns the download URL of d.
func (f *Fetcher) URL(d Descriptor) string {
	return client.JoinURL(f.layerURL, strconv.FormatInt(d.ObjectID, 10), "attachments", strconv.FormatInt(d.AttachmentID, 10))
}

// FetchAll downloads the attachments of every identifier. Nothing is
// attempted when the fetcher has no sink or hasAttachments is false.
// Per-item failures are collected as warnings; the only error returned
// is cancellation of ctx.
func (f *Fetcher) FetchAll(ctx context.Context, ids []int64, isTable, hasAttachments bool) (Summary, error) {
	if f.sink == nil {
		f.reporter.Info("Attachments not requested")
		return Summary{Skipped: true}, nil
	}
	if !hasAttachments {
		f.reporter.Warn("Service hasn't attachments")
		return Summary{Skipped: true}, nil
	}

	start := time.Now()
	kind := strings.ToLower(capabilities.RecordKind(isTable))
	f.reporter.Info(fmt.Sprintf("Downloading attachments to %s", f.sink.Location()))
	counter := progress.NewCounter(f.reporter, progress.StageAttachments, len(ids), "%d "+kind+" attachments")

	var (
		mu      sync.Mutex
		summary Summary
	)
	record := func(fn func(s *Summary)) {
		mu.Lock()
		defer mu.Unlock()
		fn(&summary)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.config.MaxConcurrency)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f.fetchOne(gctx, id, record)
			counter.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	summary.Identifiers = counter.Done()
	summary.sortWarnings()

	f.logger.Info().
		Int("identifiers", summary.Identifiers).
		Int("downloaded", summary.Downloaded).
		Int("failed", summary.Failed).
		Int64("bytes", summary.Bytes).
		Dur("duration", time.Since(start)).
		Msg("Attachment fetch complete")

	return summary, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, objectID int64, record func(func(*Summary))) {
	descriptors, err := f.List(ctx, objectID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		attachmentListFailuresTotal.Inc()
		f.warn(&Warning{Op: OpList, ObjectID: objectID, URL: client.JoinURL(f.layerURL, strconv.FormatInt(objectID, 10), "attachments"), Err: err}, record)
		return
	}
	record(func(s *Summary) { s.Listed += len(descriptors) })

	for _, d := range descriptors {
		if ctx.Err() != nil {
			return
		}
		target := f.URL(d)
		n, err := f.sink.Put(ctx, d.FileName(), func(w io.Writer) (int64, error) {
			return f.service.Download(ctx, target, nil, w)
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attachmentsTotal.WithLabelValues("error").Inc()
			f.warn(&Warning{Op: OpDownload, ObjectID: objectID, AttachmentID: d.AttachmentID, URL: target, Err: err}, record)
			continue
		}
		attachmentsTotal.WithLabelValues("ok").Inc()
		record(func(s *Summary) {
			s.Downloaded++
			s.Bytes += n
		})
	}
}

func (f *Fetcher) warn(w *Warning, record func(func(*Summary))) {
	f.logger.Warn().
		Err(w.Err).
		Str("op", w.Op).
		Int64("object_id", w.ObjectID).
		Int64("attachment_id", w.AttachmentID).
		Msg("Attachment skipped")
	f.reporter.Warn(w.Error())
	record(func(s *Summary) {
		if w.Op == OpDownload {
			s.Failed++
		}
		s.Warnings = append(s.Warnings, w)
	})
}
