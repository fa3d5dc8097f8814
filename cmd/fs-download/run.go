package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/featureservice-downloader/internal/config"
	"github.com/Sternrassler/featureservice-downloader/pkg/attachments"
	"github.com/Sternrassler/featureservice-downloader/pkg/auth"
	"github.com/Sternrassler/featureservice-downloader/pkg/cache"
	"github.com/Sternrassler/featureservice-downloader/pkg/client"
	"github.com/Sternrassler/featureservice-downloader/pkg/consolidate"
	"github.com/Sternrassler/featureservice-downloader/pkg/download"
	"github.com/Sternrassler/featureservice-downloader/pkg/logging"
	"github.com/Sternrassler/featureservice-downloader/pkg/metrics"
	"github.com/Sternrassler/featureservice-downloader/pkg/progress"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var errNoOutput = errors.New("an --output file or a --postgres-dsn is required")

func newRunCmd() *cobra.Command {
	cfg := config.Default()
	var configFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "download a layer or table",
		Example: `  fs-download run --url https://host/arcgis/rest/services/Parcels/FeatureServer/0 -o parcels.json
  fs-download run -c fsdl.yaml --where "STATUS = 'A'" --attachments-dir ./attachments`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Load(cmd.Flags(), configFile); err != nil {
				return err
			}
			if err := cfg.Finalize(); err != nil {
				return err
			}

			cfg.Logging.Output = cmd.ErrOrStderr()
			logging.Setup(cfg.Logging)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML config file, see `fs-download config init`")
	cfg.RegisterFlags(cmd.Flags())
	return cmd
}

// run wires the configured sinks, caches and metrics around one
// orchestrator run and prints a summary to out.
func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.Download.Output == "" {
		return errNoOutput
	}
	logger := logging.NewLogger("fs-download")

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error().Err(err).Msg("Metrics endpoint failed")
			}
		}()
	}

	c, err := client.New(cfg.Client)
	if err != nil {
		return err
	}

	opts := []download.Option{
		download.WithReporter(progress.NewLogReporter(logger)),
		download.WithCredentials(auth.Static(cfg.Credentials)),
	}
	if cfg.Retry.MaxAttempts > 0 {
		retry := cfg.Retry
		opts = append(opts, download.WithRetry(&retry))
	}

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		manager := cache.NewManager(rdb, cfg.Redis.TTL)
		logger.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", manager.TTL()).Msg("Connected to Redis")
		opts = append(opts, download.WithMetadataCache(manager))
	}

	sink, err := newSink(ctx, cfg.Attachments)
	if err != nil {
		return err
	}
	if sink != nil {
		opts = append(opts, download.WithAttachmentSink(sink))
	}

	consolidator, closeFn, err := newConsolidator(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	opts = append(opts, download.WithConsolidator(consolidator))

	o, err := download.New(cfg.Download, c, opts...)
	if err != nil {
		return err
	}

	res, err := o.Run(ctx)
	if err != nil {
		return err
	}
	printSummary(out, cfg.Download.Output, res)
	return nil
}

// newSink returns the configured attachment destination, or nil.
func newSink(ctx context.Context, cfg config.Attachments) (attachments.Sink, error) {
	switch {
	case cfg.UseMinIO():
		s, err := attachments.NewMinIOSink(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case cfg.Dir != "":
		s, err := attachments.NewDirSink(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, nil
	}
}

// newConsolidator returns the Postgres loader when a DSN is configured,
// the JSON file writer otherwise.
func newConsolidator(ctx context.Context, cfg *config.Config) (consolidate.Consolidator, func(), error) {
	if cfg.Postgres.DSN == "" {
		return consolidate.NewJSONFile(), func() {}, nil
	}
	pg, err := consolidate.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func printSummary(out io.Writer, destination string, res download.Result) {
	kind := "features"
	if res.Endpoint.IsTable {
		kind = "rows"
	}
	if res.Empty() {
		fmt.Fprintf(out, "run %s: no %s matched\n", res.RunID, kind)
		return
	}
	fmt.Fprintf(out, "run %s: %d %s written to %s in %s\n", res.RunID, res.Written, kind, destination, res.Duration.Round(time.Millisecond))
	a := res.Attachments
	if !a.Skipped {
		fmt.Fprintf(out, "attachments: %d downloaded (%d bytes), %d failed\n", a.Downloaded, a.Bytes, a.Failed)
	}
}
