// Package resolver turns a model/platform selector into a callable upstream
// target, filling model-level configuration gaps from the linked platform.
package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/mrmushfiq/imagegw/internal/gateway/dialect"
	"github.com/mrmushfiq/imagegw/internal/gateway/gwerr"
	"github.com/mrmushfiq/imagegw/internal/gateway/vault"
	"github.com/mrmushfiq/imagegw/internal/shared/database"
	"github.com/mrmushfiq/imagegw/internal/shared/models"
	"go.uber.org/zap"
)

// Store provides read-only access to admin-managed configuration
type Store interface {
	GetModelConfig(ctx context.Context, id string) (*models.ModelConfig, error)
	GetPlatformConfig(ctx context.Context, id string) (*models.PlatformConfig, error)
}

// Selector identifies the model to call. ModelID wins when it resolves;
// otherwise PlatformID with an explicit ModelName is used as a passthrough.
type Selector struct {
	ModelID    string
	PlatformID string
	ModelName  string
}

// Target is a fully resolved upstream
type Target struct {
	BaseURL  string
	APIKey   string
	Dialect  dialect.Dialect
	Model    string
	Provider string
}

// Platform families that only serve text and cannot generate images
var textOnlyFamilies = map[string]bool{
	"anthropic": true,
	"claude":    true,
	"deepseek":  true,
	"moonshot":  true,
	"kimi":      true,
	"mistral":   true,
	"cohere":    true,
	"ollama":    true,
}

// Resolver resolves selectors against a Store
type Resolver struct {
	store    Store
	registry *dialect.Registry
	secret   string
	logger   *zap.Logger
}

// New creates a resolver. secret decrypts stored API keys.
func New(store Store, registry *dialect.Registry, secret string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = dialect.New()
	}
	return &Resolver{
		store:    store,
		registry: registry,
		secret:   secret,
		logger:   logger.With(zap.String("component", "resolver")),
	}
}

// Resolve looks up configuration for sel and returns a complete target or a
// configuration error.
func (r *Resolver) Resolve(ctx context.Context, sel Selector) (*Target, error) {
	sel.ModelID = strings.TrimSpace(sel.ModelID)
	sel.PlatformID = strings.TrimSpace(sel.PlatformID)
	sel.ModelName = strings.TrimSpace(sel.ModelName)

	var (
		target *Target
		err    error
	)

	if sel.ModelID != "" {
		target, err = r.fromModel(ctx, sel)
		if err != nil {
			return nil, err
		}
	}

	if target == nil && sel.PlatformID != "" {
		target, err = r.fromPlatform(ctx, sel)
		if err != nil {
			return nil, err
		}
	}

	if target == nil {
		return nil, gwerr.Configuration("no usable target: no enabled model or platform matches the request")
	}

	if textOnlyFamilies[strings.ToLower(target.Provider)] {
		return nil, gwerr.Configuration("platform type %q cannot serve image generation", target.Provider)
	}

	if target.BaseURL == "" || target.APIKey == "" {
		return nil, gwerr.Configuration("incomplete credentials: api url and api key are both required")
	}
	if target.Model == "" {
		return nil, gwerr.Configuration("no model name configured for the resolved target")
	}

	target.Dialect = r.registry.Classify(target.BaseURL)
	return target, nil
}

// fromModel returns nil, nil when no enabled model matches
func (r *Resolver) fromModel(ctx context.Context, sel Selector) (*Target, error) {
	m, err := r.store.GetModelConfig(ctx, sel.ModelID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err)
	}
	if !m.IsImageGen {
		return nil, gwerr.Configuration("model %s is not configured for image generation", m.ID)
	}

	target := &Target{
		BaseURL: strings.TrimSpace(m.APIURL),
		APIKey:  r.decrypt(m.APIKeyEncrypted, "model", m.ID),
		Model:   strings.TrimSpace(m.ModelName),
	}
	if target.Model == "" {
		target.Model = sel.ModelName
	}

	if m.PlatformID == nil {
		return target, nil
	}

	p, err := r.store.GetPlatformConfig(ctx, *m.PlatformID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		r.logger.Warn("linked platform missing or disabled",
			zap.String("model_id", m.ID),
			zap.String("platform_id", *m.PlatformID))
		return target, nil
	case err != nil:
		return nil, storeError(err)
	}

	target.Provider = p.PlatformType
	if target.BaseURL == "" {
		target.BaseURL = strings.TrimSpace(p.APIURL)
	}
	if target.APIKey == "" {
		target.APIKey = r.decrypt(p.APIKeyEncrypted, "platform", p.ID)
	}
	return target, nil
}

// fromPlatform handles platform passthrough calls
func (r *Resolver) fromPlatform(ctx context.Context, sel Selector) (*Target, error) {
	p, err := r.store.GetPlatformConfig(ctx, sel.PlatformID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError(err)
	}

	if sel.ModelName == "" {
		return nil, gwerr.Configuration("model name is required when calling platform %s directly", p.ID)
	}

	return &Target{
		BaseURL:  strings.TrimSpace(p.APIURL),
		APIKey:   r.decrypt(p.APIKeyEncrypted, "platform", p.ID),
		Model:    sel.ModelName,
		Provider: p.PlatformType,
	}, nil
}

func (r *Resolver) decrypt(encrypted, owner, id string) string {
	if strings.TrimSpace(encrypted) == "" {
		return ""
	}
	res := vault.Open(encrypted, r.secret)
	if !res.OK() {
		r.logger.Warn("stored api key could not be decrypted",
			zap.String("owner", owner),
			zap.String("id", id),
			zap.Error(res.Err))
		return ""
	}
	return res.Plaintext
}

func storeError(err error) error {
	return &gwerr.Error{
		Code:    gwerr.CodeConfiguration,
		Message: "configuration store unavailable",
		Err:     err,
	}
}
