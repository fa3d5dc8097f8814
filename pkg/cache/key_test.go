package cache

import (
	"net/url"
	"testing"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "layer url",
			key: CacheKey{
				ServiceURL: "https://gis.example.com/arcgis/rest/services/Parcels/FeatureServer/0",
			},
			want: "fsdl:meta:gis.example.com/arcgis/rest/services/Parcels/FeatureServer/0",
		},
		{
			name: "trailing slash and host case normalised",
			key: CacheKey{
				ServiceURL: "https://GIS.example.com/arcgis/rest/services/Parcels/FeatureServer/0/",
			},
			want: "fsdl:meta:gis.example.com/arcgis/rest/services/Parcels/FeatureServer/0",
		},
		{
			name: "params sorted, token and f dropped",
			key: CacheKey{
				ServiceURL: "https://gis.example.com/0",
				Params: url.Values{
					"token":         []string{"secret"},
					"f":             []string{"json"},
					"returnUpdates": []string{"true"},
					"layers":        []string{"0"},
				},
			},
			want: "fsdl:meta:gis.example.com/0:layers=0:returnUpdates=true",
		},
		{
			name: "authenticated",
			key: CacheKey{
				ServiceURL:    "https://gis.example.com/0",
				Authenticated: true,
			},
			want: "fsdl:meta:gis.example.com/0:auth",
		},
		{
			name: "empty",
			key:  CacheKey{},
			want: "fsdl:meta",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("CacheKey.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	key := CacheKey{
		ServiceURL: "https://gis.example.com/0",
		Params: url.Values{
			"z": []string{"1"},
			"a": []string{"2"},
			"m": []string{"3"},
		},
	}

	first := key.String()
	for i := 0; i < 100; i++ {
		if got := key.String(); got != first {
			t.Fatalf("Key not deterministic: %q != %q", got, first)
		}
	}
}
