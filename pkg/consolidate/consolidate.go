// Package consolidate merges the ordered record batches of a run into one
// persistent output.
package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Sternrassler/featureservice-downloader/pkg/pagination"
)

// Consolidator persists batches, in order, under destination.
type Consolidator interface {
	Consolidate(ctx context.Context, batches []pagination.RecordBatch, destination string) (int, error)
}

// DefaultObjectIDField is assumed when the payload does not name one.
const DefaultObjectIDField = "OBJECTID"

// FeatureSet is a merged query result: the header fields of the first
// batch and the features of all batches.
type FeatureSet struct {
	Header   map[string]json.RawMessage
	Features []json.RawMessage
}

// Merge concatenates the features of batches in slice order. Header
// fields are taken from the first batch that carries them.
func Merge(batches []pagination.RecordBatch) (*FeatureSet, error) {
	fs := &FeatureSet{Header: map[string]json.RawMessage{}}
	for _, b := range batches {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(b.Payload, &payload); err != nil {
			return nil, fmt.Errorf("batch %d: %w", b.Index, err)
		}
		for k, v := range payload {
			if k == "features" {
				continue
			}
			if _, ok := fs.Header[k]; !ok {
				fs.Header[k] = v
			}
		}
		if raw, ok := payload["features"]; ok && string(raw) != "null" {
			var features []json.RawMessage
			if err := json.Unmarshal(raw, &features); err != nil {
				return nil, fmt.Errorf("batch %d features: %w", b.Index, err)
			}
			fs.Features = append(fs.Features, features...)
		}
	}
	return fs, nil
}

// ObjectIDField returns the identifier field declared by the service.
func (fs *FeatureSet) ObjectIDField() string {
	var name string
	if raw, ok := fs.Header["objectIdFieldName"]; ok {
		if err := json.Unmarshal(raw, &name); err == nil && name != "" {
			return name
		}
	}
	return DefaultObjectIDField
}

// MarshalJSON writes the header fields in key order followed by features.
func (fs *FeatureSet) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(fs.Header))
	for k := range fs.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for _, k := range keys {
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, name...)
		buf = append(buf, ':')
		buf = append(buf, fs.Header[k]...)
		buf = append(buf, ',')
	}
	features := fs.Features
	if features == nil {
		features = []json.RawMessage{}
	}
	body, err := json.Marshal(features)
	if err != nil {
		return nil, err
	}
	buf = append(buf, `"features":`...)
	buf = append(buf, body...)
	buf = append(buf, '}')
	return buf, nil
}

// feature is the part of a feature a sink needs.
type feature struct {
	Attributes map[string]json.RawMessage `json:"attributes"`
	Geometry   json.RawMessage            `json:"geometry"`
}

func (f feature) objectID(field string) (int64, bool) {
	raw, ok := f.Attributes[field]
	if !ok {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	return id, true
}
