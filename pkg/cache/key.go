package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "fsdl:meta"

// CacheKey identifies cached metadata for one service resource.
type CacheKey struct {
	// ServiceURL is the layer or table URL
	ServiceURL string

	// Params are request parameters that change the metadata document
	Params url.Values

	// Authenticated separates token-scoped metadata from anonymous metadata
	Authenticated bool
}

// String generates a deterministic cache key string.
//
// Example:
//
//	fsdl:meta:gis.example.com/arcgis/rest/services/Parcels/FeatureServer/0:auth
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	if svc := normalizeServiceURL(k.ServiceURL); svc != "" {
		parts = append(parts, svc)
	}

	if len(k.Params) > 0 {
		keys := make([]string, 0, len(k.Params))
		for key := range k.Params {
			if key == "token" || key == "f" {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Params.Get(key)))
		}
	}

	if k.Authenticated {
		parts = append(parts, "auth")
	}

	return strings.Join(parts, ":")
}

// normalizeServiceURL drops scheme, query and surrounding slashes and
// lowercases the host so equivalent URLs share a key.
func normalizeServiceURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.Trim(raw, "/")
	}
	return strings.ToLower(u.Host) + "/" + strings.Trim(u.Path, "/")
}

// scope labels metrics without exposing the URL.
func (k CacheKey) scope() string {
	if k.Authenticated {
		return "authenticated"
	}
	return "anonymous"
}
