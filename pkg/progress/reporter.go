// Package progress carries informational messages, warnings and progress
// counts from the download engine to whatever presents them.
package progress

import (
	"sync"

	"github.com/rs/zerolog"
)

// Stage names used by the engine.
const (
	StageIdentifiers = "identifiers"
	StageBatches     = "batches"
	StageAttachments = "attachments"
)

// Update is one progress step.
type Update struct {
	Stage string
	Done  int
	Total int
	Label string
}

// Percent returns Done/Total in percent, 0 when Total is unknown.
func (u Update) Percent() float64 {
	if u.Total <= 0 {
		return 0
	}
	return float64(u.Done) / float64(u.Total) * 100
}

// Reporter receives engine output. Implementations must be safe for
// concurrent use.
type Reporter interface {
	Info(msg string)
	Warn(msg string)
	Progress(u Update)
}

// LogReporter writes everything to a zerolog logger.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a reporter on logger.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Info implements Reporter.
func (r *LogReporter) Info(msg string) {
	r.logger.Info().Msg(msg)
}

// Warn implements Reporter.
func (r *LogReporter) Warn(msg string) {
	r.logger.Warn().Msg(msg)
}

// Progress implements Reporter.
func (r *LogReporter) Progress(u Update) {
	r.logger.Info().
		Str("stage", u.Stage).
		Int("done", u.Done).
		Int("total", u.Total).
		Float64("progress_pct", u.Percent()).
		Msg(u.Label)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Info(string)     {}
func (Nop) Warn(string)     {}
func (Nop) Progress(Update) {}

// Recorder keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	infos    []string
	warnings []string
	updates  []Update
}

// Info implements Reporter.
func (r *Recorder) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, msg)
}

// Warn implements Reporter.
func (r *Recorder) Warn(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, msg)
}

// Progress implements Reporter.
func (r *Recorder) Progress(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

// Infos returns a copy of the recorded info messages.
func (r *Recorder) Infos() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.infos...)
}

// Warnings returns a copy of the recorded warnings.
func (r *Recorder) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}

// Updates returns a copy of the recorded updates, optionally filtered by stage.
func (r *Recorder) Updates(stage string) []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Update
	for _, u := range r.updates {
		if stage == "" || u.Stage == stage {
			out = append(out, u)
		}
	}
	return out
}
