// Package dialect classifies upstream base URLs into image-generation wire
// dialects and builds the generation endpoint for each.
package dialect

import (
	"net/url"
	"strings"
)

// Dialect is an upstream request/response shape and path convention
type Dialect string

const (
	// Standard is the OpenAI-compatible images API
	Standard Dialect = "standard"
	// Extended is the Volcengine Ark images API with vendor-only fields
	Extended Dialect = "extended"
)

const (
	// DefaultExtendedHostSuffix identifies Extended-dialect hosts
	DefaultExtendedHostSuffix = "volces.com"

	capabilityPath        = "/images/generations"
	standardVersionPrefix = "/v1"
	extendedVersionPrefix = "/api/v3"
)

// Registry classifies base URLs. The zero value is not usable; use New.
type Registry struct {
	extendedSuffixes []string
}

// New creates a registry that treats hosts ending in any of suffixes as
// Extended. With no suffixes the default vendor domain is used.
func New(suffixes ...string) *Registry {
	r := &Registry{}
	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
		if s != "" {
			r.extendedSuffixes = append(r.extendedSuffixes, s)
		}
	}
	if len(r.extendedSuffixes) == 0 {
		r.extendedSuffixes = []string{DefaultExtendedHostSuffix}
	}
	return r
}

// Classify returns the dialect of baseURL
func (r *Registry) Classify(baseURL string) Dialect {
	u, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(baseURL), "#"))
	if err != nil {
		return Standard
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Standard
	}
	for _, suffix := range r.extendedSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return Extended
		}
	}
	return Standard
}

// Endpoint builds the generation endpoint for baseURL. It is a pure string
// transformation of its inputs.
func Endpoint(baseURL string, d Dialect) string {
	base := strings.TrimSpace(baseURL)

	if strings.HasSuffix(base, "#") {
		return strings.TrimSuffix(base, "#")
	}

	path := pathOf(base)

	if d == Extended && strings.HasSuffix(strings.TrimSuffix(path, "/"), capabilityPath) {
		return base
	}

	if strings.HasSuffix(base, "/") {
		if d == Extended {
			if strings.Contains(path, extendedVersionPrefix) {
				return base + strings.TrimPrefix(capabilityPath, "/")
			}
			return base + strings.TrimPrefix(extendedVersionPrefix+capabilityPath, "/")
		}
		return base + strings.TrimPrefix(capabilityPath, "/")
	}

	if d == Extended {
		if strings.Contains(path, extendedVersionPrefix) {
			return base + capabilityPath
		}
		return base + extendedVersionPrefix + capabilityPath
	}
	return base + standardVersionPrefix + capabilityPath
}

// Endpoint classifies baseURL and builds its endpoint
func (r *Registry) Endpoint(baseURL string) (string, Dialect) {
	d := r.Classify(baseURL)
	return Endpoint(baseURL, d), d
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}
