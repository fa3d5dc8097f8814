package attachments

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig configures an object-store destination.
type MinIOConfig struct {
	EndpointURL     string `yaml:"endpoint_url" validate:"required,url"`
	Region          string `yaml:"region"`
	UseSSL          bool   `yaml:"use_ssl"`
	AccessKeyID     string `yaml:"access_key_id" validate:"required"`
	SecretAccessKey string `yaml:"secret_access_key" validate:"required"`
	Bucket          string `yaml:"bucket" validate:"required"`
	Prefix          string `yaml:"prefix"`
}

// MinIOSink stores attachments as objects in a MinIO/S3 bucket.
type MinIOSink struct {
	client *minio.Client
	cfg    MinIOConfig
}

// NewMinIOSink creates the object-store client. No request is made.
func NewMinIOSink(cfg MinIOConfig) (*MinIOSink, error) {
	if cfg.EndpointURL == "" {
		return nil, fmt.Errorf("endpoint url is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("credentials are required")
	}

	u, err := url.Parse(cfg.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	endpoint := u.Host
	if endpoint == "" {
		endpoint = cfg.EndpointURL
	}
	useSSL := cfg.UseSSL || u.Scheme == "https"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOSink{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *MinIOSink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// Location implements Sink.
func (s *MinIOSink) Location() string {
	return "s3://" + path.Join(s.cfg.Bucket, s.cfg.Prefix)
}

// Key returns the object key for name.
func (s *MinIOSink) Key(name string) string {
	return path.Join(s.cfg.Prefix, safeName(name))
}

// Put streams the content into an object of unknown size. A failing
// write aborts the upload.
func (s *MinIOSink) Put(ctx context.Context, name string, write func(io.Writer) (int64, error)) (int64, error) {
	pr, pw := io.Pipe()

	var written int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		n, err := write(pw)
		written = n
		pw.CloseWithError(err)
	}()

	_, err := s.client.PutObject(ctx, s.cfg.Bucket, s.Key(name), pr, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	pr.CloseWithError(err)
	<-done
	if err != nil {
		return written, fmt.Errorf("put object %s: %w", s.Key(name), err)
	}
	return written, nil
}
