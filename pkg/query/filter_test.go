package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterSpec_WhereClause(t *testing.T) {
	tests := []struct {
		where string
		want  string
	}{
		{"", DefaultWhere},
		{"   ", DefaultWhere},
		{"STATUS = 'A'", "STATUS = 'A'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FilterSpec{Where: tt.where}.WhereClause())
	}
}

func TestFilterSpec_ParamsWithoutSpatial(t *testing.T) {
	p := FilterSpec{}.Params()

	assert.Equal(t, "1=1", p.Get(ParamWhere))
	assert.NotContains(t, p, ParamGeometry)
	assert.NotContains(t, p, ParamSpatialRel)
}

func TestFilterSpec_ParamsWithSpatial(t *testing.T) {
	f := FilterSpec{
		Where: "POP > 1000",
		Spatial: &SpatialFilter{
			GeometryType: "esriGeometryEnvelope",
			Geometry:     `{"xmin":1,"ymin":2,"xmax":3,"ymax":4}`,
			InSR:         4326,
		},
	}
	require.NoError(t, f.Validate())

	p := f.Params()
	assert.Equal(t, "POP > 1000", p.Get(ParamWhere))
	assert.Equal(t, "esriGeometryEnvelope", p.Get(ParamGeometryType))
	assert.Equal(t, SpatialRelIntersects, p.Get(ParamSpatialRel))
	assert.Equal(t, "4326", p.Get(ParamInSR))
}

func TestSpatialFilter_Validate(t *testing.T) {
	assert.Error(t, (&SpatialFilter{GeometryType: "esriGeometryPoint"}).Validate())
	assert.Error(t, (&SpatialFilter{GeometryType: "Polygon", Geometry: "{}"}).Validate())
	assert.NoError(t, (&SpatialFilter{GeometryType: "esriGeometryPolygon", Geometry: "{}"}).Validate())
}

func TestParamsHelpersDoNotMutateBase(t *testing.T) {
	base := FilterSpec{}.Params()

	page := Page(base, 200, 100)
	count := CountOnly(base)

	assert.Equal(t, "true", page.Get(ParamReturnIDsOnly))
	assert.Equal(t, "200", page.Get(ParamResultOffset))
	assert.Equal(t, "100", page.Get(ParamResultRecordCount))
	assert.Equal(t, "true", count.Get(ParamReturnCountOnly))

	assert.Len(t, base, 1)
	assert.Equal(t, "1=1", page.Get(ParamWhere))
}

func TestByIDs(t *testing.T) {
	p := ByIDs([]int64{3, 1, 2}, false)

	assert.Equal(t, "3,1,2", p.Get(ParamObjectIDs))
	assert.Equal(t, "*", p.Get(ParamOutFields))
	assert.Equal(t, "false", p.Get(ParamReturnGeometry))
	assert.Equal(t, "", JoinIDs(nil))
}
