package providers

import (
	"strings"

	"github.com/mrmushfiq/imagegw/internal/gateway/dialect"
	"github.com/sashabaranov/go-openai"
)

// Ark vendor defaults. These are fixed and never taken from the caller.
const (
	extendedSequentialMode = "disabled"
	extendedStream         = false
	extendedWatermark      = true
)

// Build selects the wire body for d and fills the shared fields from req
func Build(d dialect.Dialect, req GenerateRequest) RequestBody {
	core := openai.ImageRequest{
		Model:          strings.TrimSpace(req.Model),
		Prompt:         req.Prompt,
		N:              ClampCount(req.Count),
		Size:           strings.TrimSpace(req.Size),
		ResponseFormat: strings.TrimSpace(req.ResponseFormat),
	}

	if d == dialect.Extended {
		return &ExtendedBody{
			ImageRequest:              core,
			SequentialImageGeneration: extendedSequentialMode,
			Stream:                    extendedStream,
			Watermark:                 extendedWatermark,
		}
	}
	return &StandardBody{ImageRequest: core}
}
