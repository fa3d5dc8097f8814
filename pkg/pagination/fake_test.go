package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/Sternrassler/featureservice-downloader/pkg/client"
)

// fakeService answers count, identifier and feature queries from a fixed
// identifier set.
type fakeService struct {
	mu    sync.Mutex
	calls []url.Values

	ids        []int64
	count      int
	countErr   error
	omitIDs    bool
	failOn     func(params url.Values) error
	beforeCall func(params url.Values)
}

func (f *fakeService) Query(ctx context.Context, rawURL string, params url.Values) (*client.Response, error) {
	if f.beforeCall != nil {
		f.beforeCall(params)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, params)
	f.mu.Unlock()

	if f.failOn != nil {
		if err := f.failOn(params); err != nil {
			return nil, err
		}
	}

	var body any
	switch {
	case params.Get("returnCountOnly") == "true":
		if f.countErr != nil {
			return nil, f.countErr
		}
		count := len(f.ids)
		if f.count > 0 {
			count = f.count
		}
		body = map[string]any{"count": count}
	case params.Get("returnIdsOnly") == "true":
		if f.omitIDs {
			body = map[string]any{"objectIdFieldName": "OBJECTID"}
			break
		}
		ids := f.ids
		if off := params.Get("resultOffset"); off != "" {
			offset, _ := strconv.Atoi(off)
			count, _ := strconv.Atoi(params.Get("resultRecordCount"))
			end := offset + count
			if end > len(ids) {
				end = len(ids)
			}
			ids = ids[offset:end]
		}
		body = map[string]any{"objectIdFieldName": "OBJECTID", "objectIds": ids}
	case params.Get("objectIds") != "":
		var features []map[string]any
		for _, s := range strings.Split(params.Get("objectIds"), ",") {
			id, _ := strconv.ParseInt(s, 10, 64)
			features = append(features, map[string]any{"attributes": map[string]any{"OBJECTID": id}})
		}
		body = map[string]any{"features": features}
	default:
		return nil, fmt.Errorf("unexpected query %v", params)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return client.NewResponse(rawURL, data)
}

func (f *fakeService) requests(kind string) []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []url.Values
	for _, c := range f.calls {
		switch kind {
		case "count":
			if c.Get("returnCountOnly") == "true" {
				out = append(out, c)
			}
		case "ids":
			if c.Get("returnIdsOnly") == "true" {
				out = append(out, c)
			}
		case "features":
			if c.Get("objectIds") != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

func sequentialIDs(n int) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	return ids
}
