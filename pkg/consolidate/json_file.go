package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sternrassler/featureservice-downloader/pkg/pagination"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// JSONFile writes the merged feature set as one JSON document.
type JSONFile struct {
	logger zerolog.Logger
}

// NewJSONFile creates a file consolidator.
func NewJSONFile() *JSONFile {
	return &JSONFile{logger: log.With().Str("component", "consolidate").Logger()}
}

// Consolidate writes batches to the file destination, replacing it
// atomically.
func (j *JSONFile) Consolidate(ctx context.Context, batches []pagination.RecordBatch, destination string) (int, error) {
	if destination == "" {
		return 0, fmt.Errorf("output path is required")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	fs, err := Merge(batches)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(fs)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(destination)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destination)+".*")
	if err != nil {
		return 0, err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), destination); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}

	j.logger.Info().
		Str("path", destination).
		Int("features", len(fs.Features)).
		Int("bytes", len(data)).
		Msg("Output written")
	return len(fs.Features), nil
}
