package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mrmushfiq/imagegw/internal/gateway/gwerr"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Upstream bodies larger than this are treated as a read failure
const maxResponseBytes = 256 << 20

// Call is one outbound generation call
type Call struct {
	Endpoint string
	APIKey   string
	Body     RequestBody

	// OnFirstByte fires once, when the first response's headers arrive
	OnFirstByte func(at time.Time)
}

// Outcome describes the last upstream exchange of a call. It is returned
// alongside errors whenever a response was received.
type Outcome struct {
	StatusCode  int
	ContentType string
	Body        []byte
	RequestBody []byte
	Images      []Image
	Attempts    int
	AppliedFix  string
	Duration    time.Duration
}

// Dispatcher sends generation requests and applies at most one corrective
// resend per call.
type Dispatcher struct {
	clients ClientFactory
	timeout time.Duration
	fixes   []CorrectiveFix
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher. timeout is applied to each call's
// client and should already be clamped by configuration.
func NewDispatcher(clients ClientFactory, timeout time.Duration, fixes []CorrectiveFix, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clients == nil {
		clients = NewLoggingClientFactory(nil, logger)
	}
	return &Dispatcher{
		clients: clients,
		timeout: timeout,
		fixes:   fixes,
		logger:  logger.With(zap.String("component", "dispatcher")),
	}
}

// Dispatch posts call.Body to call.Endpoint. On a rejection recognized by the
// fix table the body is adjusted in place and sent exactly once more.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) (*Outcome, error) {
	client := d.clients.NewClient(d.timeout)
	out := &Outcome{}
	start := time.Now()
	firstByteSeen := false

	defer func() { out.Duration = time.Since(start) }()

	for {
		payload, err := json.Marshal(call.Body)
		if err != nil {
			return out, &gwerr.Error{Code: gwerr.CodeConfiguration, Message: "failed to encode image request", Err: err}
		}
		out.Attempts++
		out.RequestBody = payload

		resp, err := d.send(ctx, client, call, payload)
		if err != nil {
			return out, gwerr.Network(err)
		}

		if !firstByteSeen {
			firstByteSeen = true
			if call.OnFirstByte != nil {
				call.OnFirstByte(time.Now())
			}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
		resp.Body.Close()

		out.StatusCode = resp.StatusCode
		out.ContentType = resp.Header.Get("Content-Type")
		out.Body = body

		if err != nil {
			return out, gwerr.Network(fmt.Errorf("reading upstream response: %w", err))
		}
		if len(body) > maxResponseBytes {
			return out, gwerr.Service(resp.StatusCode, "upstream response exceeds the size limit")
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			images, err := ParseImages(body)
			if err != nil {
				return out, gwerr.Parse(resp.StatusCode, err)
			}
			out.Images = images
			return out, nil
		}

		message := ExtractErrorMessage(body)

		if out.Attempts == 1 && ctx.Err() == nil {
			if fix := d.matchFix(FixContext{
				StatusCode: resp.StatusCode,
				Message:    message,
				Dialect:    call.Body.Dialect(),
				Body:       call.Body,
			}); fix != nil {
				previous := call.Body.Core().Size
				fix.Apply(call.Body)
				out.AppliedFix = fix.Name
				d.logger.Info("resending with corrective fix",
					zap.String("fix", fix.Name),
					zap.Int("status", resp.StatusCode),
					zap.String("size_before", previous),
					zap.String("size_after", call.Body.Core().Size))
				continue
			}
		}

		return out, Classify(resp.StatusCode, message)
	}
}

func (d *Dispatcher) send(ctx context.Context, client *http.Client, call Call, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, call.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+call.APIKey)

	return client.Do(httpReq)
}

func (d *Dispatcher) matchFix(fc FixContext) *CorrectiveFix {
	for i := range d.fixes {
		if d.fixes[i].Matches != nil && d.fixes[i].Matches(fc) {
			return &d.fixes[i]
		}
	}
	return nil
}

// Status codes whose rejection the caller can correct by changing its input
var callerCorrectable = map[int]bool{
	http.StatusBadRequest:            true,
	http.StatusNotFound:              true,
	http.StatusConflict:              true,
	http.StatusRequestEntityTooLarge: true,
	http.StatusUnsupportedMediaType:  true,
	http.StatusUnprocessableEntity:   true,
}

// Classify maps a non-2xx upstream status to a gateway error
func Classify(status int, message string) *gwerr.Error {
	if message == "" {
		message = fmt.Sprintf("upstream returned status %d", status)
	}
	if status >= 400 && status < 500 && callerCorrectable[status] {
		return gwerr.Rejected(status, message)
	}
	return gwerr.Service(status, message)
}

// ParseImages decodes a generation response. Data URL prefixes on inline
// payloads are stripped.
func ParseImages(body []byte) ([]Image, error) {
	var resp imageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding image response: %w", err)
	}
	if resp.Data == nil {
		return nil, errors.New("image response has no data array")
	}

	images := make([]Image, len(resp.Data))
	for i, item := range resp.Data {
		payload := item.B64JSON
		if payload == "" {
			payload = item.Base64
		}
		images[i] = Image{
			Index:         i,
			Base64:        StripDataURL(payload),
			URL:           strings.TrimSpace(item.URL),
			RevisedPrompt: item.RevisedPrompt,
		}
	}
	return images, nil
}

// StripDataURL returns the bare base64 payload of a "data:...;base64," value
func StripDataURL(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(strings.ToLower(s), "data:") {
		return s
	}
	if idx := strings.Index(s, ","); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

// ExtractErrorMessage pulls a human-readable message out of an upstream
// error body, or returns "" when the body has no recognizable message.
func ExtractErrorMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ""
	}

	var errResp openai.ErrorResponse
	if err := json.Unmarshal(trimmed, &errResp); err == nil && errResp.Error != nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}

	var loose map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &loose); err != nil {
		return ""
	}
	for _, key := range []string{"error", "message", "msg", "detail"} {
		raw, ok := loose[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return ""
}
