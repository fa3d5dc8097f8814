package attachments

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sink stores downloaded attachments. write streams the content into the
// supplied writer; when it fails nothing must be left behind under name.
type Sink interface {
	Put(ctx context.Context, name string, write func(io.Writer) (int64, error)) (int64, error)
	Location() string
}

// DirSink writes attachments into a local directory.
type DirSink struct {
	dir string
}

// NewDirSink creates dir if needed.
func NewDirSink(dir string) (*DirSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("attachment directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment directory: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

// Location implements Sink.
func (s *DirSink) Location() string {
	return s.dir
}

// Put writes into a temporary file and renames it to name on success.
func (s *DirSink) Put(_ context.Context, name string, write func(io.Writer) (int64, error)) (int64, error) {
	target := filepath.Join(s.dir, safeName(name))

	f, err := os.CreateTemp(s.dir, ".part-*")
	if err != nil {
		return 0, err
	}
	tmp := f.Name()

	n, err := write(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return n, err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return n, err
	}
	return n, nil
}

// safeName keeps attachment names inside the destination.
func safeName(name string) string {
	return strings.NewReplacer("/", "_", `\`, "_").Replace(name)
}
