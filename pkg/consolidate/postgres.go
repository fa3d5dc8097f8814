package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Sternrassler/featureservice-downloader/pkg/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PostgresConfig configures the Postgres consolidator.
type PostgresConfig struct {
	DSN       string `yaml:"dsn" validate:"required"`
	MaxConns  int    `yaml:"max_conns" validate:"gte=0"`
	BatchSize int    `yaml:"batch_size" validate:"gte=0"`
}

// Postgres loads features into a table, one row per feature, inside a
// single transaction.
type Postgres struct {
	pool      *pgxpool.Pool
	batchSize int
	logger    zerolog.Logger
}

// NewPostgres opens a connection pool.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 2
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgresWithPool(pool, cfg.BatchSize), nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool *pgxpool.Pool, batchSize int) *Postgres {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Postgres{
		pool:      pool,
		batchSize: batchSize,
		logger:    log.With().Str("component", "consolidate").Logger(),
	}
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// tableIdent quotes a possibly schema-qualified table name.
func tableIdent(destination string) (string, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return "", fmt.Errorf("table name is required")
	}
	parts := strings.Split(destination, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid table name %q", destination)
	}
	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("invalid table name %q", destination)
		}
	}
	return pgx.Identifier(parts).Sanitize(), nil
}

// Consolidate replaces the contents of the destination table with the
// features of batches. The table is created when missing.
func (p *Postgres) Consolidate(ctx context.Context, batches []pagination.RecordBatch, destination string) (int, error) {
	table, err := tableIdent(destination)
	if err != nil {
		return 0, err
	}
	fs, err := Merge(batches)
	if err != nil {
		return 0, err
	}
	oidField := fs.ObjectIDField()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	ddl := `CREATE TABLE IF NOT EXISTS ` + table + ` (
		object_id  BIGINT PRIMARY KEY,
		attributes JSONB NOT NULL,
		geometry   JSONB
	)`
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return 0, fmt.Errorf("create table: %w", err)
	}
	if _, err := tx.Exec(ctx, `TRUNCATE `+table); err != nil {
		return 0, fmt.Errorf("truncate: %w", err)
	}

	insert := `INSERT INTO ` + table + ` (object_id, attributes, geometry) VALUES ($1, $2, $3)
		ON CONFLICT (object_id) DO UPDATE SET attributes = EXCLUDED.attributes, geometry = EXCLUDED.geometry`

	total := 0
	for i := 0; i < len(fs.Features); i += p.batchSize {
		j := i + p.batchSize
		if j > len(fs.Features) {
			j = len(fs.Features)
		}
		b := &pgx.Batch{}
		for k, raw := range fs.Features[i:j] {
			var f feature
			if err := json.Unmarshal(raw, &f); err != nil {
				return total, fmt.Errorf("feature %d: %w", i+k, err)
			}
			id, ok := f.objectID(oidField)
			if !ok {
				return total, fmt.Errorf("feature %d: missing %s", i+k, oidField)
			}
			attrs, err := json.Marshal(f.Attributes)
			if err != nil {
				return total, err
			}
			var geom any
			if len(f.Geometry) > 0 && string(f.Geometry) != "null" {
				geom = string(f.Geometry)
			}
			b.Queue(insert, id, string(attrs), geom)
		}

		br := tx.SendBatch(ctx, b)
		for k := 0; k < b.Len(); k++ {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return total, fmt.Errorf("insert: %w", err)
			}
			total += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return total, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	p.logger.Info().
		Str("table", table).
		Int("rows", total).
		Msg("Output loaded")
	return total, nil
}
