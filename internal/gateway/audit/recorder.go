// Package audit records a redacted trail of every image generation call.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mrmushfiq/imagegw/internal/shared/models"
)

// Kind is the lifecycle stage an Event reports
type Kind string

const (
	KindStart     Kind = "start"
	KindFirstByte Kind = "first_byte"
	KindDone      Kind = "done"
	KindError     Kind = "error"
)

// Event is one audit lifecycle event. Bodies are raw; recorders redact them.
type Event struct {
	Kind      Kind
	RequestID string
	At        time.Time

	// start
	Provider    string
	Model       string
	Endpoint    string
	RequestBody []byte
	Prompt      string
	UserID      string
	SessionID   string
	Purpose     string

	// done and error
	StatusCode int
	Images     []ImageFlags

	// error
	ContentType  string
	ErrorCode    string
	ErrorMessage string
	ResponseBody []byte
}

// ImageFlags summarizes one returned image without its payload
type ImageFlags struct {
	Index     int  `json:"index"`
	HasBase64 bool `json:"hasBase64"`
	HasURL    bool `json:"hasUrl"`
}

// Recorder persists audit events
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Sink is the storage an audit trail is written to
type Sink interface {
	InsertImageGenLog(ctx context.Context, log *models.ImageGenLog) error
	MarkImageGenFirstByte(ctx context.Context, requestID string, at time.Time) error
	FinalizeImageGenLog(ctx context.Context, log *models.ImageGenLog) error
}

// SinkRecorder writes each event to a Sink synchronously
type SinkRecorder struct {
	sink Sink
}

// NewSinkRecorder creates a SinkRecorder
func NewSinkRecorder(sink Sink) *SinkRecorder {
	return &SinkRecorder{sink: sink}
}

func (r *SinkRecorder) Record(ctx context.Context, e Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	switch e.Kind {
	case KindStart:
		return r.sink.InsertImageGenLog(ctx, StartEntry(e, at))
	case KindFirstByte:
		return r.sink.MarkImageGenFirstByte(ctx, e.RequestID, at)
	case KindDone, KindError:
		return r.sink.FinalizeImageGenLog(ctx, FinalEntry(e, at))
	default:
		return fmt.Errorf("unknown audit event kind %q", e.Kind)
	}
}

// StartEntry builds the log row for a start event
func StartEntry(e Event, at time.Time) *models.ImageGenLog {
	body := RedactJSON(e.RequestBody)
	var hash string
	if len(body) > 0 {
		hash = Hash(body)
	}
	return &models.ImageGenLog{
		RequestID:       e.RequestID,
		Provider:        e.Provider,
		Model:           e.Model,
		Endpoint:        RedactString(e.Endpoint),
		RequestBody:     string(body),
		RequestBodyHash: hash,
		Question:        RedactString(e.Prompt),
		UserID:          e.UserID,
		SessionID:       e.SessionID,
		Purpose:         e.Purpose,
		Status:          models.LogStatusRunning,
		StartedAt:       at,
	}
}

type successSummary struct {
	ImageCount int          `json:"imageCount"`
	Images     []ImageFlags `json:"images"`
}

type errorSummary struct {
	StatusCode  int    `json:"statusCode,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	BodyPreview string `json:"bodyPreview,omitempty"`
}

// FinalEntry builds the completion update for a done or error event
func FinalEntry(e Event, at time.Time) *models.ImageGenLog {
	log := &models.ImageGenLog{
		RequestID:  e.RequestID,
		StatusCode: e.StatusCode,
		EndedAt:    &at,
	}

	if e.Kind == KindDone {
		images := e.Images
		if images == nil {
			images = []ImageFlags{}
		}
		summary, _ := json.Marshal(successSummary{ImageCount: len(images), Images: images})
		log.Status = models.LogStatusSucceeded
		log.Summary = string(summary)
		return log
	}

	message := Truncate(RedactString(e.ErrorMessage), PreviewLimit)
	summary, _ := json.Marshal(errorSummary{
		StatusCode:  e.StatusCode,
		ContentType: e.ContentType,
		Code:        e.ErrorCode,
		Message:     message,
		BodyPreview: Preview(e.ResponseBody),
	})
	log.Summary = string(summary)
	log.ErrorMessage = &message
	// A status code means the upstream answered; anything else never got that far
	if e.StatusCode > 0 {
		log.Status = models.LogStatusFailed
	} else {
		log.Status = models.LogStatusError
	}
	return log
}
