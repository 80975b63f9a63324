package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Redaction constants
const (
	Redacted        = "[REDACTED]"
	PreviewLimit    = 2000
	TruncatedMarker = "...(truncated)"
)

var secretKeys = map[string]bool{
	"apikey":        true,
	"xapikey":       true,
	"apisecret":     true,
	"authorization": true,
	"token":         true,
	"accesstoken":   true,
	"refreshtoken":  true,
	"sessiontoken":  true,
	"idtoken":       true,
	"secret":        true,
	"clientsecret":  true,
	"password":      true,
	"passwd":        true,
	"credential":    true,
	"credentials":   true,
	"privatekey":    true,
	"signature":     true,
}

var signedQueryMarkers = []string{
	"signature", "credential", "token", "expires", "x-amz-", "x-tos-", "x-goog-", "sig", "policy", "key",
}

var (
	bearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
	skKeyPattern  = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`)
	urlPattern    = regexp.MustCompile(`https?://[^\s"'<>\\]+`)
)

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	return strings.ReplaceAll(k, "-", "")
}

// IsSecretKey reports whether a JSON field name holds a credential
func IsSecretKey(k string) bool {
	n := normalizeKey(k)
	if secretKeys[n] {
		return true
	}
	return strings.HasSuffix(n, "apikey") ||
		strings.HasSuffix(n, "token") ||
		strings.HasSuffix(n, "secret") ||
		strings.HasSuffix(n, "password")
}

// RedactString masks bearer tokens, API-key-shaped strings and the query
// string of signed URLs.
func RedactString(s string) string {
	if s == "" {
		return s
	}
	s = bearerPattern.ReplaceAllString(s, "Bearer "+Redacted)
	s = skKeyPattern.ReplaceAllString(s, "sk-"+Redacted)
	return urlPattern.ReplaceAllStringFunc(s, redactURL)
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	if !isSignedQuery(u.Query()) {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String() + "?" + Redacted
}

func isSignedQuery(q url.Values) bool {
	for name := range q {
		lower := strings.ToLower(name)
		for _, marker := range signedQueryMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

// RedactJSON replaces secret fields in a JSON document and redacts every
// string value. Bodies that are not JSON are redacted as plain text.
func RedactJSON(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil || dec.More() {
		return []byte(RedactString(string(body)))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(redactValue(doc)); err != nil {
		return []byte(RedactString(string(body)))
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			if IsSecretKey(k) {
				val[k] = Redacted
				continue
			}
			val[k] = redactValue(inner)
		}
		return val
	case []any:
		for i := range val {
			val[i] = redactValue(val[i])
		}
		return val
	case string:
		return RedactString(val)
	default:
		return v
	}
}

// Hash returns the hex SHA-256 of b
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Preview redacts body and caps it at PreviewLimit characters
func Preview(body []byte) string {
	return Truncate(string(RedactJSON(body)), PreviewLimit)
}

// Truncate caps s at limit characters, appending TruncatedMarker when cut
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + TruncatedMarker
}
