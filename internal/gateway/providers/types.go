package providers

import (
	"github.com/mrmushfiq/imagegw/internal/gateway/dialect"
	"github.com/sashabaranov/go-openai"
)

// Image count bounds per call
const (
	MinImages = 1
	MaxImages = 20
)

// GenerateRequest is the dialect-neutral image generation request
type GenerateRequest struct {
	Model          string
	Prompt         string
	Count          int
	Size           string
	ResponseFormat string
}

// Image is one generated image. Base64 holds the bare payload without any
// data URL prefix.
type Image struct {
	Index         int    `json:"index"`
	Base64        string `json:"b64_json,omitempty"`
	URL           string `json:"url,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
	MimeType      string `json:"mime_type,omitempty"`
}

// ClampCount bounds n to [MinImages, MaxImages]
func ClampCount(n int) int {
	if n < MinImages {
		return MinImages
	}
	if n > MaxImages {
		return MaxImages
	}
	return n
}

// RequestBody is the dialect-specific wire request. Every dialect shares the
// OpenAI-compatible core; extensions live on the concrete type.
type RequestBody interface {
	Core() *openai.ImageRequest
	Dialect() dialect.Dialect
}

// StandardBody is the OpenAI-compatible request
type StandardBody struct {
	openai.ImageRequest
}

func (b *StandardBody) Core() *openai.ImageRequest { return &b.ImageRequest }
func (b *StandardBody) Dialect() dialect.Dialect   { return dialect.Standard }

// ExtendedBody is the Ark request with vendor-only fields
type ExtendedBody struct {
	openai.ImageRequest
	SequentialImageGeneration string `json:"sequential_image_generation"`
	Stream                    bool   `json:"stream"`
	Watermark                 bool   `json:"watermark"`
}

func (b *ExtendedBody) Core() *openai.ImageRequest { return &b.ImageRequest }
func (b *ExtendedBody) Dialect() dialect.Dialect   { return dialect.Extended }

// imageResponse covers both dialects. Items may carry the payload as
// b64_json or base64; Extended items also report their size.
type imageResponse struct {
	Created int64               `json:"created"`
	Data    []imageResponseItem `json:"data"`
}

type imageResponseItem struct {
	openai.ImageResponseDataInner
	Base64 string `json:"base64,omitempty"`
	Size   string `json:"size,omitempty"`
}
