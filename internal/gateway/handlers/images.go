package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mrmushfiq/imagegw/internal/gateway"
	"github.com/mrmushfiq/imagegw/internal/gateway/gwerr"
	"github.com/mrmushfiq/imagegw/internal/gateway/providers"
	"go.uber.org/zap"
)

const maxRequestBytes = 1 << 20

// ImageGenerator runs image generation calls
type ImageGenerator interface {
	Generate(ctx context.Context, cc gateway.CallContext, req gateway.Request) (*gateway.Result, error)
}

type ImageHandler struct {
	generator ImageGenerator
	logger    *zap.Logger
}

func NewImageHandler(generator ImageGenerator, logger *zap.Logger) *ImageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageHandler{
		generator: generator,
		logger:    logger.With(zap.String("component", "image_handler")),
	}
}

// GenerateRequest is the body of POST /v1/images/generations. Count is an
// alias for n.
type GenerateRequest struct {
	Prompt         string `json:"prompt"`
	N              *int   `json:"n,omitempty"`
	Count          *int   `json:"count,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	ModelID        string `json:"model_id,omitempty"`
	PlatformID     string `json:"platform_id,omitempty"`
	Model          string `json:"model,omitempty"`
}

// GenerateResponse is a successful generation
type GenerateResponse struct {
	RequestID string            `json:"request_id"`
	Created   int64             `json:"created"`
	Model     string            `json:"model"`
	Images    []providers.Image `json:"images"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandleGenerate handles POST /v1/images/generations
func (h *ImageHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	count := 1
	switch {
	case req.N != nil:
		count = *req.N
	case req.Count != nil:
		count = *req.Count
	}

	cc := gateway.CallContext{
		RequestID: middleware.GetReqID(ctx),
		SessionID: strings.TrimSpace(r.Header.Get("X-Session-ID")),
		Purpose:   strings.TrimSpace(r.Header.Get("X-Purpose")),
	}
	if apiKey, ok := APIKeyFromContext(ctx); ok {
		cc.UserID = apiKey.ID
	}

	result, err := h.generator.Generate(ctx, cc, gateway.Request{
		Prompt:         req.Prompt,
		Count:          count,
		Size:           req.Size,
		ResponseFormat: req.ResponseFormat,
		ModelID:        req.ModelID,
		PlatformID:     req.PlatformID,
		Model:          req.Model,
	})
	if err != nil {
		gerr, ok := gwerr.As(err)
		if !ok {
			h.logger.Error("unexpected generation error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "image generation failed")
			return
		}
		writeError(w, gerr.HTTPStatus(), string(gerr.Code), gerr.Message)
		return
	}

	images := result.Images
	if images == nil {
		images = []providers.Image{}
	}
	w.Header().Set("X-Request-ID", result.RequestID)
	writeJSON(w, http.StatusOK, GenerateResponse{
		RequestID: result.RequestID,
		Created:   time.Now().Unix(),
		Model:     result.Model,
		Images:    images,
	})
}

// HandleHealth handles GET /health
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
