// Package query builds the form parameters understood by the feature
// service query operation.
package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Parameter names recognised by the query endpoint.
const (
	ParamWhere             = "where"
	ParamGeometryType      = "geometryType"
	ParamGeometry          = "geometry"
	ParamSpatialRel        = "spatialRel"
	ParamInSR              = "inSR"
	ParamReturnIDsOnly     = "returnIdsOnly"
	ParamReturnCountOnly   = "returnCountOnly"
	ParamResultOffset      = "resultOffset"
	ParamResultRecordCount = "resultRecordCount"
	ParamObjectIDs         = "objectIds"
	ParamOutFields         = "outFields"
	ParamReturnGeometry    = "returnGeometry"
)

// DefaultWhere is the unconditional predicate.
const DefaultWhere = "1=1"

// Spatial relationship operators.
const (
	SpatialRelIntersects = "esriSpatialRelIntersects"
	SpatialRelContains   = "esriSpatialRelContains"
	SpatialRelWithin     = "esriSpatialRelWithin"
	SpatialRelCrosses    = "esriSpatialRelCrosses"
	SpatialRelTouches    = "esriSpatialRelTouches"
	SpatialRelOverlaps   = "esriSpatialRelOverlaps"
)

// SpatialFilter is a pre-built spatial filter. Geometry is passed through
// verbatim; no geometry handling happens here.
type SpatialFilter struct {
	// GeometryType, e.g. "esriGeometryPolygon".
	GeometryType string `yaml:"geometry_type"`

	// Geometry is the serialized geometry (Esri JSON or envelope string).
	Geometry string `yaml:"geometry"`

	// SpatialRel defaults to SpatialRelIntersects.
	SpatialRel string `yaml:"spatial_rel"`

	// InSR is the spatial reference identifier of Geometry, 0 when unknown.
	InSR int `yaml:"in_sr"`
}

// Validate checks that the filter carries a geometry and a type.
func (s *SpatialFilter) Validate() error {
	if strings.TrimSpace(s.Geometry) == "" {
		return fmt.Errorf("spatial filter: geometry is required")
	}
	if !strings.HasPrefix(s.GeometryType, "esriGeometry") {
		return fmt.Errorf("spatial filter: invalid geometry type %q", s.GeometryType)
	}
	return nil
}

// FilterSpec selects the records to download.
type FilterSpec struct {
	// Where is a SQL-92 where clause; blank means every record.
	Where string `yaml:"where"`

	// Spatial is optional.
	Spatial *SpatialFilter `yaml:"spatial,omitempty"`
}

// WhereClause returns Where, or DefaultWhere when blank.
func (f FilterSpec) WhereClause() string {
	if strings.TrimSpace(f.Where) == "" {
		return DefaultWhere
	}
	return f.Where
}

// Validate checks the spatial part, if any.
func (f FilterSpec) Validate() error {
	if f.Spatial == nil {
		return nil
	}
	return f.Spatial.Validate()
}

// Params returns the base filter parameters. The result is a fresh map
// on every call.
func (f FilterSpec) Params() Params {
	p := Params{}
	p.Set(ParamWhere, f.WhereClause())

	if s := f.Spatial; s != nil {
		rel := s.SpatialRel
		if rel == "" {
			rel = SpatialRelIntersects
		}
		p.Set(ParamGeometryType, s.GeometryType)
		p.Set(ParamGeometry, s.Geometry)
		p.Set(ParamSpatialRel, rel)
		if s.InSR != 0 {
			p.Set(ParamInSR, strconv.Itoa(s.InSR))
		}
	}
	return p
}
