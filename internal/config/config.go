// Package config assembles the fs-download configuration from command line
// flags, environment variables and an optional YAML file.
//
// A value is taken from, in order of precedence:
//
//  1. the command line flag
//  2. the environment variable FSDL_<FLAG_NAME> ("chunk-size" -> FSDL_CHUNK_SIZE)
//  3. the config file, laid out like the output of `fs-download config init`
//  4. the default
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/featureservice-downloader/pkg/attachments"
	"github.com/Sternrassler/featureservice-downloader/pkg/auth"
	"github.com/Sternrassler/featureservice-downloader/pkg/cache"
	"github.com/Sternrassler/featureservice-downloader/pkg/client"
	"github.com/Sternrassler/featureservice-downloader/pkg/consolidate"
	"github.com/Sternrassler/featureservice-downloader/pkg/download"
	"github.com/Sternrassler/featureservice-downloader/pkg/logging"
	"github.com/Sternrassler/featureservice-downloader/pkg/query"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "FSDL"

// DefaultTable is the Postgres table used when no output is given.
const DefaultTable = "features"

// Redis configures the optional metadata cache.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

// Enabled reports whether a Redis address is configured.
func (r Redis) Enabled() bool {
	return r.Addr != ""
}

// Attachments selects where attachments go. Dir and MinIO are exclusive.
type Attachments struct {
	Dir   string                  `yaml:"dir"`
	MinIO attachments.MinIOConfig `yaml:"minio"`
}

// UseMinIO reports whether a bucket is configured.
func (a Attachments) UseMinIO() bool {
	return a.MinIO.Bucket != ""
}

// Enabled reports whether any attachment destination is configured.
func (a Attachments) Enabled() bool {
	return a.Dir != "" || a.UseMinIO()
}

// Geometry points at a file holding the serialized filter geometry.
type Geometry struct {
	File       string `yaml:"file"`
	Type       string `yaml:"type"`
	SpatialRel string `yaml:"spatial_rel"`
	InSR       int    `yaml:"in_sr"`
}

// Config is the complete fs-download configuration.
type Config struct {
	Download    download.Config            `yaml:"download"`
	Geometry    Geometry                   `yaml:"geometry"`
	Credentials auth.Credentials           `yaml:"credentials"`
	Client      client.Config              `yaml:"client"`
	Retry       client.RetryConfig         `yaml:"retry"`
	Logging     logging.Config             `yaml:"logging"`
	Attachments Attachments                `yaml:"attachments"`
	Postgres    consolidate.PostgresConfig `yaml:"postgres"`
	Redis       Redis                      `yaml:"redis"`
	MetricsAddr string                     `yaml:"metrics_addr"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	logCfg := logging.DefaultConfig()
	logCfg.Output = nil
	return &Config{
		Download: download.DefaultConfig(),
		Geometry: Geometry{SpatialRel: query.SpatialRelIntersects},
		Client:   client.DefaultConfig(),
		Retry:    client.DefaultRetryConfig(),
		Logging:  logCfg,
		Redis:    Redis{TTL: cache.DefaultTTL},
	}
}

// RegisterFlags binds every option of c to fs, using the current values
// of c as defaults.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Download.ServiceURL, "url", "u", c.Download.ServiceURL, "feature layer or table URL, e.g. https://host/arcgis/rest/services/X/FeatureServer/0")
	fs.StringVarP(&c.Download.Filter.Where, "where", "w", c.Download.Filter.Where, "where clause, every record when blank")
	fs.StringVar(&c.Geometry.File, "geometry-file", c.Geometry.File, "file holding a serialized geometry for a spatial filter")
	fs.StringVar(&c.Geometry.Type, "geometry-type", c.Geometry.Type, "type of the filter geometry, e.g. esriGeometryPolygon")
	fs.StringVar(&c.Geometry.SpatialRel, "spatial-rel", c.Geometry.SpatialRel, "spatial relationship of the filter")
	fs.IntVar(&c.Geometry.InSR, "in-sr", c.Geometry.InSR, "spatial reference of the filter geometry")
	fs.IntVar(&c.Download.ChunkSize, "chunk-size", c.Download.ChunkSize, "records per request, capped by the service maximum")
	fs.IntVar(&c.Download.BatchConcurrency, "batch-concurrency", c.Download.BatchConcurrency, "chunks fetched in parallel")
	fs.IntVar(&c.Download.AttachmentConcurrency, "attachment-concurrency", c.Download.AttachmentConcurrency, "records whose attachments are fetched in parallel")
	fs.IntVar(&c.Download.MaxIdentifiers, "max-identifiers", c.Download.MaxIdentifiers, "abort when more records match, 0 for unlimited")
	fs.DurationVar(&c.Download.ChunkTimeout, "chunk-timeout", c.Download.ChunkTimeout, "timeout per chunk request, 0 disables")
	fs.StringVarP(&c.Download.Output, "output", "o", c.Download.Output, "output JSON file, or table name with --postgres-dsn")

	fs.StringVar(&c.Credentials.Token, "token", c.Credentials.Token, "pre-issued access token")
	fs.StringVar(&c.Credentials.Username, "username", c.Credentials.Username, "user name for token issuance")
	fs.StringVar(&c.Credentials.Password, "password", c.Credentials.Password, "password for token issuance")
	fs.StringVar(&c.Credentials.PortalURL, "portal-url", c.Credentials.PortalURL, "portal URL; tokens are issued by the server when blank")

	fs.StringVar(&c.Client.UserAgent, "user-agent", c.Client.UserAgent, "User-Agent header")
	fs.DurationVar(&c.Client.Timeout, "timeout", c.Client.Timeout, "timeout per HTTP request")
	fs.StringVar(&c.Client.ProxyURL, "proxy-url", c.Client.ProxyURL, "HTTP proxy for all requests")
	fs.Float64Var(&c.Client.Limiter.RequestsPerSecond, "limiter-rps", c.Client.Limiter.RequestsPerSecond, "sustained requests per second, -1 disables")
	fs.IntVar(&c.Client.Limiter.Burst, "limiter-burst", c.Client.Limiter.Burst, "request burst size")
	fs.IntVar(&c.Client.Limiter.MaxInFlight, "limiter-max-in-flight", c.Client.Limiter.MaxInFlight, "requests in flight at once")
	fs.IntVar(&c.Retry.MaxAttempts, "retry-attempts", c.Retry.MaxAttempts, "attempts per request for transient failures, 0 disables retries")
	fs.DurationVar(&c.Retry.InitialBackoff, "retry-backoff", c.Retry.InitialBackoff, "initial retry backoff")

	fs.StringVar((*string)(&c.Logging.Level), "log-level", string(c.Logging.Level), "debug, info, warn or error")
	fs.BoolVar(&c.Logging.Pretty, "log-pretty", c.Logging.Pretty, "human readable console logs")

	fs.StringVar(&c.Attachments.Dir, "attachments-dir", c.Attachments.Dir, "download attachments into this directory")
	fs.StringVar(&c.Attachments.MinIO.Bucket, "attachments-bucket", c.Attachments.MinIO.Bucket, "upload attachments into this bucket")
	fs.StringVar(&c.Attachments.MinIO.Prefix, "attachments-prefix", c.Attachments.MinIO.Prefix, "object key prefix inside the bucket")
	fs.StringVar(&c.Attachments.MinIO.EndpointURL, "minio-endpoint", c.Attachments.MinIO.EndpointURL, "object store endpoint URL")
	fs.StringVar(&c.Attachments.MinIO.Region, "minio-region", c.Attachments.MinIO.Region, "object store region")
	fs.BoolVar(&c.Attachments.MinIO.UseSSL, "minio-use-ssl", c.Attachments.MinIO.UseSSL, "use TLS towards the object store")
	fs.StringVar(&c.Attachments.MinIO.AccessKeyID, "minio-access-key", c.Attachments.MinIO.AccessKeyID, "object store access key")
	fs.StringVar(&c.Attachments.MinIO.SecretAccessKey, "minio-secret-key", c.Attachments.MinIO.SecretAccessKey, "object store secret key")

	fs.StringVar(&c.Postgres.DSN, "postgres-dsn", c.Postgres.DSN, "load features into Postgres instead of a JSON file")
	fs.IntVar(&c.Postgres.MaxConns, "postgres-max-conns", c.Postgres.MaxConns, "Postgres pool size")
	fs.IntVar(&c.Postgres.BatchSize, "postgres-batch-size", c.Postgres.BatchSize, "rows per insert batch")

	fs.StringVar(&c.Redis.Addr, "redis-addr", c.Redis.Addr, "cache service metadata in Redis at this address")
	fs.StringVar(&c.Redis.Password, "redis-password", c.Redis.Password, "Redis password")
	fs.IntVar(&c.Redis.DB, "redis-db", c.Redis.DB, "Redis database")
	fs.DurationVar(&c.Redis.TTL, "redis-ttl", c.Redis.TTL, "metadata cache TTL")

	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve Prometheus metrics on this address, e.g. :9090")
}

// Load applies the config file at path (skipped when blank) and the
// environment to c, then re-applies the flags of fs that were set on the
// command line so they keep precedence. fs must have been registered with
// c.RegisterFlags.
func (c *Config) Load(fs *pflag.FlagSet, path string) error {
	explicit := map[string]string{}
	fs.Visit(func(f *pflag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if path != "" {
		if err := c.LoadConfigFile(path); err != nil {
			return err
		}
	}
	if err := LoadEnv(fs); err != nil {
		return err
	}

	for name, val := range explicit {
		if err := fs.Set(name, val); err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
	}
	return nil
}

// LoadConfigFile decodes a YAML file into c. Keys follow the yaml tags of
// Config; absent keys leave the current values untouched.
func (c *Config) LoadConfigFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := v.Unmarshal(c, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("Config from file")
	return nil
}

// LoadEnv applies FSDL_* environment variables to every flag of fs that
// was not set on the command line.
func LoadEnv(fs *pflag.FlagSet) error {
	var errs []string
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		name := EnvKey(f.Name)
		val, ok := os.LookupEnv(name)
		if !ok {
			return
		}
		log.Debug().Str("env", name).Msg("Config from environment")
		if err := f.Value.Set(val); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EnvKey maps a flag name to its environment variable.
func EnvKey(flag string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

var validate = validator.New()

// Finalize reads the geometry file, applies output defaults and validates
// the result. It must run after Load.
func (c *Config) Finalize() error {
	if c.Geometry.File != "" {
		data, err := os.ReadFile(c.Geometry.File)
		if err != nil {
			return fmt.Errorf("read geometry: %w", err)
		}
		c.Download.Filter.Spatial = &query.SpatialFilter{
			GeometryType: c.Geometry.Type,
			Geometry:     strings.TrimSpace(string(data)),
			SpatialRel:   c.Geometry.SpatialRel,
			InSR:         c.Geometry.InSR,
		}
	}

	if c.Postgres.DSN != "" && c.Download.Output == "" {
		c.Download.Output = DefaultTable
	}

	if c.Attachments.Dir != "" && c.Attachments.UseMinIO() {
		return fmt.Errorf("attachments: directory and bucket are mutually exclusive")
	}
	if c.Attachments.UseMinIO() {
		if err := validate.Struct(c.Attachments.MinIO); err != nil {
			return fmt.Errorf("attachments: %w", err)
		}
	}
	if _, err := logging.ParseLevel(string(c.Logging.Level)); err != nil {
		return err
	}
	for _, part := range []any{c.Client, c.Retry, c.Redis} {
		if err := validate.Struct(part); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if c.MetricsAddr != "" {
		if err := validate.Var(c.MetricsAddr, "hostname_port"); err != nil {
			return fmt.Errorf("invalid metrics address %q", c.MetricsAddr)
		}
	}
	if c.Postgres.DSN != "" {
		if err := validate.Struct(c.Postgres); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return c.Download.Validate()
}

// Redacted returns a copy with secrets masked, suitable for printing.
func (c *Config) Redacted() *Config {
	cp := *c
	mask := func(s *string) {
		if *s != "" {
			*s = "******"
		}
	}
	mask(&cp.Credentials.Token)
	mask(&cp.Credentials.Password)
	mask(&cp.Attachments.MinIO.SecretAccessKey)
	mask(&cp.Redis.Password)
	mask(&cp.Postgres.DSN)
	return &cp
}

// YAML renders c as a config file.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
