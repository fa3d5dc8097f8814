// Package capabilities probes a feature service layer for the limits and
// flags that drive a download: maximum records per response, pagination
// support, attachment support and layer-versus-table classification.
//
// The layer metadata is requested once per Prober and cached; each
// accessor then applies its own failure policy.
package capabilities

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultChunkSize is used when a caller supplies no usable fallback.
const DefaultChunkSize = 100

// ErrNotDeclared is returned when the metadata lacks a requested key.
var ErrNotDeclared = errors.New("not declared by service")

// Capabilities is the parsed layer metadata.
type Capabilities struct {
	// MaxRecordCount is the service-declared maximum, 0 when absent
	MaxRecordCount int

	// SupportsPagination from advancedQueryCapabilities
	SupportsPagination bool

	// HasAttachments is the declared attachment flag
	HasAttachments bool

	// HasAttachmentsDeclared is false when the key was missing
	HasAttachmentsDeclared bool

	// Type is the layer type, e.g. "Feature Layer" or "Table"
	Type string
}

// IsTable reports whether Type names a table.
func (c Capabilities) IsTable() bool {
	return strings.EqualFold(strings.TrimSpace(c.Type), "table")
}

// RecordKind returns "Rows" for tables and "Features" for layers.
func RecordKind(isTable bool) string {
	if isTable {
		return "Rows"
	}
	return "Features"
}

// ClassificationError is returned when the layer type cannot be determined.
type ClassificationError struct {
	URL string
	Err error
}

// Error implements the error interface.
func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify layer %s: %v", e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// metadata is the subset of the layer document we read.
type metadata struct {
	MaxRecordCount            *int    `json:"maxRecordCount"`
	HasAttachments            *bool   `json:"hasAttachments"`
	Type                      *string `json:"type"`
	AdvancedQueryCapabilities *struct {
		SupportsPagination bool `json:"supportsPagination"`
	} `json:"advancedQueryCapabilities"`
}

func (m metadata) capabilities() Capabilities {
	var c Capabilities
	if m.MaxRecordCount != nil {
		c.MaxRecordCount = *m.MaxRecordCount
	}
	if m.HasAttachments != nil {
		c.HasAttachments = *m.HasAttachments
		c.HasAttachmentsDeclared = true
	}
	if m.Type != nil {
		c.Type = *m.Type
	}
	if m.AdvancedQueryCapabilities != nil {
		c.SupportsPagination = m.AdvancedQueryCapabilities.SupportsPagination
	}
	return c
}
