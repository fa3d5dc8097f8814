//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/Sternrassler/featureservice-downloader/internal/testutil"
	"github.com/Sternrassler/featureservice-downloader/pkg/attachments"
	"github.com/Sternrassler/featureservice-downloader/pkg/cache"
	"github.com/Sternrassler/featureservice-downloader/pkg/client"
	"github.com/Sternrassler/featureservice-downloader/pkg/consolidate"
	"github.com/Sternrassler/featureservice-downloader/pkg/download"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	minioUser     = "fsdl"
	minioPassword = "fsdl-secret"
)

// startContainer starts req and returns host:port of its first exposed port.
func startContainer(t *testing.T, req testcontainers.ContainerRequest) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() {
		container.Terminate(ctx)
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get container endpoint: %v", err)
	}
	return endpoint
}

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	})
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

// setupPostgres creates a Postgres container and returns its DSN.
func setupPostgres(t *testing.T) string {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "fsdl",
			"POSTGRES_PASSWORD": "fsdl",
			"POSTGRES_DB":       "fsdl",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	})
	return fmt.Sprintf("postgres://fsdl:fsdl@%s/fsdl?sslmode=disable", addr)
}

// setupMinIO creates a MinIO container and returns its endpoint.
func setupMinIO(t *testing.T) string {
	return startContainer(t, testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     minioUser,
			"MINIO_ROOT_PASSWORD": minioPassword,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	})
}

func newClient(t *testing.T) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.Limiter.RequestsPerSecond = -1
	cfg.Limiter.MaxInFlight = 4
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func newLayer(n int) testutil.Layer {
	return testutil.Layer{
		Type:               "Feature Layer",
		MaxRecordCount:     100,
		SupportsPagination: true,
		HasAttachments:     testutil.Bool(true),
		ObjectIDs:          testutil.SequentialIDs(n),
		Attachments: map[int64][]testutil.Attachment{
			7: {{ID: 1, Name: "site.jpg", Body: "jpeg-bytes"}},
		},
	}
}

// TestMetadataCache_Redis runs twice against one layer; the second run
// takes the layer metadata from Redis.
func TestMetadataCache_Redis(t *testing.T) {
	rdb := setupRedis(t)

	mock := testutil.NewMockFeatureService(newLayer(120))
	defer mock.Close()

	cfg := download.DefaultConfig()
	cfg.ServiceURL = mock.LayerURL()

	o, err := download.New(cfg, newClient(t), download.WithMetadataCache(cache.NewManager(rdb, time.Minute)))
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	metadataRequests := func() int {
		n := 0
		for _, r := range mock.Requests() {
			if r.Path == testutil.LayerPath {
				n++
			}
		}
		return n
	}

	ctx := context.Background()
	for i := 1; i <= 2; i++ {
		res, err := o.Run(ctx)
		if err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
		if res.Records != 120 {
			t.Errorf("Run %d: records = %d, want 120", i, res.Records)
		}
	}

	if got := metadataRequests(); got != 1 {
		t.Errorf("Metadata requests = %d, want 1", got)
	}
}

// TestPostgresConsolidation loads a layer twice into the same table; the
// second load replaces the first.
func TestPostgresConsolidation(t *testing.T) {
	dsn := setupPostgres(t)
	ctx := context.Background()

	mock := testutil.NewMockFeatureService(newLayer(250))
	defer mock.Close()

	pg, err := consolidate.NewPostgres(ctx, consolidate.PostgresConfig{DSN: dsn, BatchSize: 64})
	if err != nil {
		t.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pg.Close()

	cfg := download.DefaultConfig()
	cfg.ServiceURL = mock.LayerURL()
	cfg.BatchConcurrency = 3
	cfg.Output = "public.parcels"

	o, err := download.New(cfg, newClient(t), download.WithConsolidator(pg))
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	for i := 1; i <= 2; i++ {
		res, err := o.Run(ctx)
		if err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
		if res.Written != 250 {
			t.Errorf("Run %d: written = %d, want 250", i, res.Written)
		}
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to open pool: %v", err)
	}
	defer pool.Close()

	var rows, maxID int64
	if err := pool.QueryRow(ctx, `SELECT count(*), max(object_id) FROM public.parcels`).Scan(&rows, &maxID); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if rows != 250 || maxID != 250 {
		t.Errorf("Table holds %d rows up to id %d, want 250/250", rows, maxID)
	}

	var name string
	if err := pool.QueryRow(ctx, `SELECT attributes->>'NAME' FROM public.parcels WHERE object_id = 42`).Scan(&name); err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if name != "record-42" {
		t.Errorf("NAME = %q, want record-42", name)
	}
}

// TestMinIOAttachments uploads attachments into a fresh bucket.
func TestMinIOAttachments(t *testing.T) {
	endpoint := setupMinIO(t)
	ctx := context.Background()

	sink, err := attachments.NewMinIOSink(attachments.MinIOConfig{
		EndpointURL:     "http://" + endpoint,
		AccessKeyID:     minioUser,
		SecretAccessKey: minioPassword,
		Bucket:          "attachments",
		Prefix:          "parcels",
	})
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	if err := sink.EnsureBucket(ctx); err != nil {
		t.Fatalf("EnsureBucket failed: %v", err)
	}

	mock := testutil.NewMockFeatureService(newLayer(10))
	defer mock.Close()

	cfg := download.DefaultConfig()
	cfg.ServiceURL = mock.LayerURL()

	o, err := download.New(cfg, newClient(t), download.WithAttachmentSink(sink))
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	res, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Attachments.Downloaded != 1 {
		t.Fatalf("Downloaded = %d, want 1", res.Attachments.Downloaded)
	}

	mc, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(minioUser, minioPassword, ""),
	})
	if err != nil {
		t.Fatalf("Failed to create MinIO client: %v", err)
	}
	obj, err := mc.GetObject(ctx, "attachments", sink.Key("7-1-site.jpg"), minio.GetObjectOptions{})
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer obj.Close()
	body, err := io.ReadAll(obj)
	if err != nil {
		t.Fatalf("Read object failed: %v", err)
	}
	if string(body) != "jpeg-bytes" {
		t.Errorf("Object body = %q, want jpeg-bytes", body)
	}
}
