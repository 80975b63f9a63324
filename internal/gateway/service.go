// Package gateway turns one internal "generate N images from a prompt"
// request into a call against the configured upstream image API.
package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mrmushfiq/imagegw/internal/gateway/audit"
	"github.com/mrmushfiq/imagegw/internal/gateway/dialect"
	"github.com/mrmushfiq/imagegw/internal/gateway/gwerr"
	"github.com/mrmushfiq/imagegw/internal/gateway/providers"
	"github.com/mrmushfiq/imagegw/internal/gateway/resolver"
	"github.com/mrmushfiq/imagegw/internal/shared/metrics"
	"go.uber.org/zap"
)

// CallContext carries per-call correlation data. RequestID is generated when
// empty.
type CallContext struct {
	RequestID string
	UserID    string
	SessionID string
	Purpose   string
}

// Request is an image generation request. ModelID is tried first, then
// PlatformID with Model as a passthrough model name.
type Request struct {
	Prompt         string
	Count          int
	Size           string
	ResponseFormat string

	ModelID    string
	PlatformID string
	Model      string
}

// Result is a successful generation
type Result struct {
	RequestID  string
	Model      string
	Dialect    dialect.Dialect
	Images     []providers.Image
	Attempts   int
	AppliedFix string
}

// Resolver resolves a selector to an upstream target
type Resolver interface {
	Resolve(ctx context.Context, sel resolver.Selector) (*resolver.Target, error)
}

// Dispatcher performs the upstream call
type Dispatcher interface {
	Dispatch(ctx context.Context, call providers.Call) (*providers.Outcome, error)
}

// Materializer inlines URL-only images
type Materializer interface {
	Materialize(ctx context.Context, images []providers.Image) []providers.Image
}

// Options wires a Service. Materializer, Recorder, Metrics and Logger are
// optional.
type Options struct {
	Resolver     Resolver
	Dispatcher   Dispatcher
	Materializer Materializer
	Recorder     audit.Recorder
	Metrics      *metrics.Collector
	Logger       *zap.Logger
}

// Service runs image generation calls
type Service struct {
	resolver     Resolver
	dispatcher   Dispatcher
	materializer Materializer
	recorder     *audit.Safe
	metrics      *metrics.Collector
	logger       *zap.Logger
}

// NewService creates a Service
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "image_gateway"))

	return &Service{
		resolver:     opts.Resolver,
		dispatcher:   opts.Dispatcher,
		materializer: opts.Materializer,
		recorder:     audit.NewSafe(opts.Recorder, logger),
		metrics:      opts.Metrics,
		logger:       logger,
	}
}

// Generate resolves the target, dispatches the request, and materializes URL
// results. Every returned error is a *gwerr.Error.
func (s *Service) Generate(ctx context.Context, cc CallContext, req Request) (*Result, error) {
	start := time.Now()
	if strings.TrimSpace(cc.RequestID) == "" {
		cc.RequestID = uuid.NewString()
	}
	logger := s.logger.With(zap.String("request_id", cc.RequestID))

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, s.fail(logger, "", start, gwerr.Configuration("prompt is required"))
	}

	target, err := s.resolver.Resolve(ctx, resolver.Selector{
		ModelID:    req.ModelID,
		PlatformID: req.PlatformID,
		ModelName:  req.Model,
	})
	if err != nil {
		return nil, s.fail(logger, "", start, err)
	}

	endpoint := dialect.Endpoint(target.BaseURL, target.Dialect)
	body := providers.Build(target.Dialect, providers.GenerateRequest{
		Model:          target.Model,
		Prompt:         prompt,
		Count:          req.Count,
		Size:           req.Size,
		ResponseFormat: req.ResponseFormat,
	})
	payload := auditPayload(logger, body)

	provider := target.Provider
	if provider == "" {
		provider = string(target.Dialect)
	}

	s.recorder.Record(ctx, audit.Event{
		Kind:        audit.KindStart,
		RequestID:   cc.RequestID,
		At:          time.Now(),
		Provider:    provider,
		Model:       target.Model,
		Endpoint:    endpoint,
		RequestBody: payload,
		Prompt:      prompt,
		UserID:      cc.UserID,
		SessionID:   cc.SessionID,
		Purpose:     cc.Purpose,
	})

	outcome, err := s.dispatcher.Dispatch(ctx, providers.Call{
		Endpoint: endpoint,
		APIKey:   target.APIKey,
		Body:     body,
		OnFirstByte: func(at time.Time) {
			s.recorder.Record(ctx, audit.Event{Kind: audit.KindFirstByte, RequestID: cc.RequestID, At: at})
		},
	})
	if outcome == nil {
		outcome = &providers.Outcome{}
	}
	if outcome.AppliedFix != "" {
		s.metrics.RecordCorrectiveRetry(outcome.AppliedFix)
	}

	if err != nil {
		gerr := toGatewayError(err)
		s.recorder.Record(ctx, audit.Event{
			Kind:         audit.KindError,
			RequestID:    cc.RequestID,
			At:           time.Now(),
			StatusCode:   outcome.StatusCode,
			ContentType:  outcome.ContentType,
			ErrorCode:    string(gerr.Code),
			ErrorMessage: gerr.Message,
			ResponseBody: outcome.Body,
		})
		return nil, s.fail(logger.With(
			zap.String("model", target.Model),
			zap.Int("attempts", outcome.Attempts),
			zap.Int("status", outcome.StatusCode),
		), target.Dialect, start, gerr)
	}

	flags := make([]audit.ImageFlags, len(outcome.Images))
	for i, img := range outcome.Images {
		flags[i] = audit.ImageFlags{Index: img.Index, HasBase64: img.Base64 != "", HasURL: img.URL != ""}
	}
	s.recorder.Record(ctx, audit.Event{
		Kind:       audit.KindDone,
		RequestID:  cc.RequestID,
		At:         time.Now(),
		StatusCode: outcome.StatusCode,
		Images:     flags,
	})

	images := outcome.Images
	if s.materializer != nil {
		images = s.materializer.Materialize(ctx, images)
	}

	s.metrics.RecordGeneration(string(target.Dialect), "success", time.Since(start))
	logger.Info("image generation completed",
		zap.String("model", target.Model),
		zap.String("dialect", string(target.Dialect)),
		zap.Int("images", len(images)),
		zap.Int("attempts", outcome.Attempts),
		zap.String("applied_fix", outcome.AppliedFix),
		zap.Duration("duration", time.Since(start)))

	return &Result{
		RequestID:  cc.RequestID,
		Model:      target.Model,
		Dialect:    target.Dialect,
		Images:     images,
		Attempts:   outcome.Attempts,
		AppliedFix: outcome.AppliedFix,
	}, nil
}

func (s *Service) fail(logger *zap.Logger, d dialect.Dialect, start time.Time, err error) *gwerr.Error {
	gerr := toGatewayError(err)
	label := string(d)
	if label == "" {
		label = "unresolved"
	}
	s.metrics.RecordGeneration(label, string(gerr.Code), time.Since(start))
	logger.Warn("image generation failed",
		zap.String("code", string(gerr.Code)),
		zap.Int("upstream_status", gerr.UpstreamStatus),
		zap.Error(gerr))
	return gerr
}

// auditPayload encodes body for the audit trail, or returns nil when it
// cannot be encoded
func auditPayload(logger *zap.Logger, body any) []byte {
	payload, err := json.Marshal(body)
	if err != nil {
		logger.Warn("failed to encode request body for audit", zap.Error(err))
		return nil
	}
	return payload
}

func toGatewayError(err error) *gwerr.Error {
	if gerr, ok := gwerr.As(err); ok {
		return gerr
	}
	return &gwerr.Error{Code: gwerr.CodeUpstreamService, Message: "image generation failed", Err: err}
}
