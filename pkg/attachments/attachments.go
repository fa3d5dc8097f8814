// Package attachments lists and downloads the binary attachments of
// records. Downloads are best-effort per item: failures become warnings
// and never abort the run.
package attachments

import (
	"fmt"
	"sort"
)

// Descriptor identifies one attachment of one record.
type Descriptor struct {
	ObjectID     int64
	AttachmentID int64
	Name         string
	ContentType  string
	Size         int64
}

// FileName returns "{objectID}-{attachmentID}-{name}".
func (d Descriptor) FileName() string {
	return fmt.Sprintf("%d-%d-%s", d.ObjectID, d.AttachmentID, d.Name)
}

// Warning is a non-fatal attachment failure.
type Warning struct {
	Op           string
	ObjectID     int64
	AttachmentID int64
	URL          string
	Err          error
}

// Error implements the error interface.
func (w *Warning) Error() string {
	if w.Op == OpList {
		return fmt.Sprintf("listing attachments of %d failed: %v", w.ObjectID, w.Err)
	}
	return fmt.Sprintf("error or file not found: %s: %v", w.URL, w.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (w *Warning) Unwrap() error {
	return w.Err
}

// Warning operations.
const (
	OpList     = "list"
	OpDownload = "download"
)

// Summary accounts for one attachment run.
type Summary struct {
	// Skipped is set when nothing was attempted
	Skipped bool

	Identifiers int
	Listed      int
	Downloaded  int
	Failed      int
	Bytes       int64
	Warnings    []*Warning
}

func (s *Summary) sortWarnings() {
	sort.SliceStable(s.Warnings, func(i, j int) bool {
		a, b := s.Warnings[i], s.Warnings[j]
		if a.ObjectID != b.ObjectID {
			return a.ObjectID < b.ObjectID
		}
		return a.AttachmentID < b.AttachmentID
	})
}
