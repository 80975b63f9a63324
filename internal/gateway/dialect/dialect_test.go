package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_Classify(t *testing.T) {
	r := New()

	tests := []struct {
		baseURL string
		want    Dialect
	}{
		{"https://ark.cn-beijing.volces.com", Extended},
		{"https://ark.cn-beijing.volces.com/api/v3/", Extended},
		{"https://volces.com", Extended},
		{"https://api.openai.com", Standard},
		{"https://notvolces.com", Standard},
		{"https://volces.com.evil.example", Standard},
		{"not a url", Standard},
		{"", Standard},
	}

	for _, tt := range tests {
		t.Run(tt.baseURL, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Classify(tt.baseURL))
		})
	}
}

func TestRegistry_CustomSuffix(t *testing.T) {
	r := New(".ark.example.com")
	assert.Equal(t, Extended, r.Classify("https://cn.ark.example.com"))
	assert.Equal(t, Standard, r.Classify("https://ark.cn-beijing.volces.com"))
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		dialect Dialect
		want    string
	}{
		{
			name:    "hash override standard",
			baseURL: "https://proxy.example.com/custom/path#",
			dialect: Standard,
			want:    "https://proxy.example.com/custom/path",
		},
		{
			name:    "hash override extended",
			baseURL: "https://ark.cn-beijing.volces.com/anything/#",
			dialect: Extended,
			want:    "https://ark.cn-beijing.volces.com/anything/",
		},
		{
			name:    "extended already full endpoint",
			baseURL: "https://ark.cn-beijing.volces.com/api/v3/images/generations",
			dialect: Extended,
			want:    "https://ark.cn-beijing.volces.com/api/v3/images/generations",
		},
		{
			name:    "extended already full endpoint with slash",
			baseURL: "https://ark.cn-beijing.volces.com/api/v3/images/generations/",
			dialect: Extended,
			want:    "https://ark.cn-beijing.volces.com/api/v3/images/generations/",
		},
		{
			name:    "standard trailing slash ignores version",
			baseURL: "https://api.example.com/openai/",
			dialect: Standard,
			want:    "https://api.example.com/openai/images/generations",
		},
		{
			name:    "standard trailing slash with version",
			baseURL: "https://api.openai.com/v1/",
			dialect: Standard,
			want:    "https://api.openai.com/v1/images/generations",
		},
		{
			name:    "extended trailing slash adds version",
			baseURL: "https://ark.cn-beijing.volces.com/",
			dialect: Extended,
			want:    "https://ark.cn-beijing.volces.com/api/v3/images/generations",
		},
		{
			name:    "extended trailing slash version present",
			baseURL: "https://ark.cn-beijing.volces.com/api/v3/",
			dialect: Extended,
			want:    "https://ark.cn-beijing.volces.com/api/v3/images/generations",
		},
		{
			name:    "standard bare host",
			baseURL: "https://api.openai.com",
			dialect: Standard,
			want:    "https://api.openai.com/v1/images/generations",
		},
		{
			name:    "standard bare path",
			baseURL: "https://gateway.example.com/openai",
			dialect: Standard,
			want:    "https://gateway.example.com/openai/v1/images/generations",
		},
		{
			name:    "extended bare host",
			baseURL: "https://ark.cn-beijing.volces.com",
			dialect: Extended,
			want:    "https://ark.cn-beijing.volces.com/api/v3/images/generations",
		},
		{
			name:    "extended bare version",
			baseURL: "https://ark.cn-beijing.volces.com/api/v3",
			dialect: Extended,
			want:    "https://ark.cn-beijing.volces.com/api/v3/images/generations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Endpoint(tt.baseURL, tt.dialect)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Endpoint(tt.baseURL, tt.dialect), "endpoint must be deterministic")
		})
	}
}

func TestEndpoint_HashNeverAppends(t *testing.T) {
	bases := []string{
		"https://a.example.com#",
		"https://a.example.com/v1/#",
		"https://ark.cn-beijing.volces.com/api/v3#",
	}
	for _, b := range bases {
		for _, d := range []Dialect{Standard, Extended} {
			assert.Equal(t, b[:len(b)-1], Endpoint(b, d))
		}
	}
}

func TestRegistry_Endpoint(t *testing.T) {
	endpoint, d := New().Endpoint("https://ark.cn-beijing.volces.com")
	assert.Equal(t, Extended, d)
	assert.Equal(t, "https://ark.cn-beijing.volces.com/api/v3/images/generations", endpoint)
}
