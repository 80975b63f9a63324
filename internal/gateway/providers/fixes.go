package providers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/mrmushfiq/imagegw/internal/gateway/dialect"
)

// DefaultExtendedMinSize is the smallest size the Extended dialect accepts
const DefaultExtendedMinSize = "2048x2048"

// FixContext describes a rejected attempt
type FixContext struct {
	StatusCode int
	Message    string
	Dialect    dialect.Dialect
	Body       RequestBody
}

// CorrectiveFix pairs a recognizer for a fixable upstream rejection with the
// single field adjustment that fixes it.
type CorrectiveFix struct {
	Name    string
	Matches func(FixContext) bool
	Apply   func(RequestBody)
}

// Whole words only, so "resize" or "admin" never count
var (
	sizeWords    = regexp.MustCompile(`\b(size|resolution|pixels?)\b`)
	minimumWords = regexp.MustCompile(`\b(at least|min|minimum|greater than|not less than|too small)\b`)
)

// MinimumSizeFix bumps an Extended request to minSize when the upstream says
// the requested size is below its minimum.
func MinimumSizeFix(minSize string) CorrectiveFix {
	if minSize == "" {
		minSize = DefaultExtendedMinSize
	}
	return CorrectiveFix{
		Name: "extended_min_size",
		Matches: func(fc FixContext) bool {
			if fc.StatusCode < http.StatusBadRequest || fc.StatusCode >= http.StatusInternalServerError {
				return false
			}
			if fc.Dialect != dialect.Extended || fc.Body == nil {
				return false
			}
			if strings.EqualFold(strings.TrimSpace(fc.Body.Core().Size), minSize) {
				return false
			}
			msg := strings.ToLower(fc.Message)
			return sizeWords.MatchString(msg) && minimumWords.MatchString(msg)
		},
		Apply: func(b RequestBody) {
			b.Core().Size = minSize
		},
	}
}

// DefaultFixes returns the built-in corrective fix table
func DefaultFixes(extendedMinSize string) []CorrectiveFix {
	return []CorrectiveFix{
		MinimumSizeFix(extendedMinSize),
	}
}
