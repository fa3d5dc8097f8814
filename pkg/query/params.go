package query

import (
	"net/url"
	"strconv"
	"strings"
)

// Params is a set of form parameters.
type Params = url.Values

// With returns a copy of base with the given key/value pairs set.
func With(base Params, kv ...string) Params {
	out := make(Params, len(base)+len(kv)/2)
	for k, v := range base {
		out[k] = append([]string(nil), v...)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out.Set(kv[i], kv[i+1])
	}
	return out
}

// IDsOnly marks base as an identifiers-only request.
func IDsOnly(base Params) Params {
	return With(base, ParamReturnIDsOnly, "true")
}

// CountOnly marks base as a count-only request.
func CountOnly(base Params) Params {
	return With(base, ParamReturnCountOnly, "true")
}

// Page marks base as one page of an identifiers-only request.
func Page(base Params, offset, count int) Params {
	return With(IDsOnly(base),
		ParamResultOffset, strconv.Itoa(offset),
		ParamResultRecordCount, strconv.Itoa(count),
	)
}

// ByIDs requests full attributes for the given identifiers. Geometry is
// requested for layers only.
func ByIDs(ids []int64, withGeometry bool) Params {
	return Params{
		ParamObjectIDs:      {JoinIDs(ids)},
		ParamOutFields:      {"*"},
		ParamReturnGeometry: {strconv.FormatBool(withGeometry)},
	}
}

// JoinIDs comma-joins identifiers.
func JoinIDs(ids []int64) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	return b.String()
}
