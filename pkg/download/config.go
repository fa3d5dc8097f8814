package download

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/featureservice-downloader/pkg/capabilities"
	"github.com/Sternrassler/featureservice-downloader/pkg/query"
	"github.com/go-playground/validator/v10"
)

// Config is the per-run configuration.
type Config struct {
	// ServiceURL is the layer or table URL, e.g. .../FeatureServer/0
	ServiceURL string `yaml:"url" validate:"required,service_url"`

	// Filter selects the records
	Filter query.FilterSpec `yaml:"filter"`

	// ChunkSize is the requested chunk size; the service maximum wins
	// when it is smaller
	ChunkSize int `yaml:"chunk_size" validate:"gte=0"`

	// BatchConcurrency is the number of chunks fetched in parallel
	BatchConcurrency int `yaml:"batch_concurrency" validate:"gte=0,lte=64"`

	// AttachmentConcurrency is the number of records whose attachments
	// are fetched in parallel
	AttachmentConcurrency int `yaml:"attachment_concurrency" validate:"gte=0,lte=64"`

	// MaxIdentifiers caps the identifier set, 0 means unlimited
	MaxIdentifiers int `yaml:"max_identifiers" validate:"gte=0"`

	// ChunkTimeout bounds each chunk request, 0 disables
	ChunkTimeout time.Duration `yaml:"chunk_timeout" validate:"gte=0"`

	// Output is the destination handed to the consolidator
	Output string `yaml:"output"`
}

// DefaultConfig returns the sequential default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:             capabilities.DefaultChunkSize,
		BatchConcurrency:      1,
		AttachmentConcurrency: 1,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("service_url", validateServiceURL)
	return v
}

func validateServiceURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(strings.TrimSpace(fl.Field().String()))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return c.Filter.Validate()
}
