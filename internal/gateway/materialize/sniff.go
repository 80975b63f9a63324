package materialize

import (
	"encoding/base64"
	"mime"
	"net/http"
	"strings"
)

// DefaultMimeType is reported when a payload cannot be identified
const DefaultMimeType = "image/png"

var sniffableImages = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Content types that say nothing about the payload. Unrecognized bytes under
// these default to DefaultMimeType; any other non-image type is refused.
var untypedMediaTypes = map[string]bool{
	"":                         true,
	"application/octet-stream": true,
	"binary/octet-stream":      true,
}

// SniffImage identifies PNG, JPEG, GIF and WEBP payloads by their magic
// bytes. It returns "" for anything else.
func SniffImage(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	detected := http.DetectContentType(data)
	if sniffableImages[detected] {
		return detected
	}
	return ""
}

// SniffBase64 identifies an inline base64 payload, falling back to
// DefaultMimeType.
func SniffBase64(payload string) string {
	head := payload
	if len(head) > 64 {
		head = head[:64]
	}
	head = head[:len(head)-len(head)%4]

	raw, err := base64.StdEncoding.DecodeString(head)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(head, "="))
	}
	if err == nil {
		if m := SniffImage(raw); m != "" {
			return m
		}
	}
	return DefaultMimeType
}

// declaredMediaType returns the lower-cased media type of a Content-Type
// header without parameters.
func declaredMediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mt)
}
