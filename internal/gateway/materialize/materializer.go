// Package materialize inlines remotely hosted generation results.
package materialize

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mrmushfiq/imagegw/internal/gateway/providers"
	"github.com/mrmushfiq/imagegw/internal/shared/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults used when Options leaves a field zero
const (
	DefaultMaxBytes    int64 = 15 * 1024 * 1024
	DefaultConcurrency       = 4
	DefaultTimeout           = 30 * time.Second
)

// Materialization results reported to metrics
const (
	ResultInline   = "inline"
	ResultFetched  = "fetched"
	ResultRejected = "rejected"
	ResultTooLarge = "too_large"
	ResultFailed   = "failed"
)

var (
	// ErrTooLarge means the image exceeded the byte cap
	ErrTooLarge = errors.New("image exceeds size limit")
	// ErrNotImage means the payload was neither declared nor sniffed as an image
	ErrNotImage = errors.New("payload is not an image")
)

// Options configures a Materializer
type Options struct {
	MaxBytes    int64
	Concurrency int
	Timeout     time.Duration

	// Client performs fetches. Nil selects a client on NewSafeTransport.
	// Credentials are stripped and redirects validated either way.
	Client *http.Client

	// CheckURL validates every URL and redirect target. Nil selects ValidateURL.
	CheckURL func(*url.URL) error

	Metrics *metrics.Collector
}

// Materializer downloads URL-only images and attaches them as base64
type Materializer struct {
	maxBytes    int64
	concurrency int
	timeout     time.Duration
	client      *http.Client
	checkURL    func(*url.URL) error
	metrics     *metrics.Collector
	logger      *zap.Logger
}

// New creates a Materializer
func New(opts Options, logger *zap.Logger) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CheckURL == nil {
		opts.CheckURL = ValidateURL
	}
	base := opts.Client
	if base == nil {
		base = &http.Client{Transport: NewSafeTransport()}
	}

	return &Materializer{
		maxBytes:    opts.MaxBytes,
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		client:      secureClient(base, opts.CheckURL),
		checkURL:    opts.CheckURL,
		metrics:     opts.Metrics,
		logger:      logger.With(zap.String("component", "materializer")),
	}
}

// Materialize returns a copy of images where every URL-only image that could
// be fetched safely carries its base64 payload. Images that cannot be fetched
// are returned unchanged. Every returned image has a MIME type when it has a
// payload.
func (m *Materializer) Materialize(ctx context.Context, images []providers.Image) []providers.Image {
	out := make([]providers.Image, len(images))
	copy(out, images)

	var g errgroup.Group
	g.SetLimit(m.concurrency)

	for i := range out {
		img := &out[i]
		if img.Base64 != "" {
			if img.MimeType == "" {
				img.MimeType = SniffBase64(img.Base64)
			}
			m.metrics.RecordMaterialize(ResultInline)
			continue
		}
		if img.URL == "" {
			continue
		}

		g.Go(func() error {
			data, mimeType, err := m.fetch(ctx, img.URL)
			if err != nil {
				m.metrics.RecordMaterialize(resultFor(err))
				m.logger.Warn("image left as url",
					zap.Int("index", img.Index),
					zap.String("target", describeURL(img.URL)),
					zap.Error(err))
				return nil
			}
			img.Base64 = base64.StdEncoding.EncodeToString(data)
			img.MimeType = mimeType
			m.metrics.RecordMaterialize(ResultFetched)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (m *Materializer) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	if err := m.checkURL(u); err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("image host returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > m.maxBytes {
		return nil, "", fmt.Errorf("%w: declared %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, m.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	if int64(len(data)) > m.maxBytes {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, m.maxBytes)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty body", ErrNotImage)
	}

	declared := declaredMediaType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(declared, "image/") {
		return data, declared, nil
	}
	if sniffed := SniffImage(data); sniffed != "" {
		return data, sniffed, nil
	}
	if untypedMediaTypes[declared] {
		return data, DefaultMimeType, nil
	}
	return nil, "", fmt.Errorf("%w: declared %q", ErrNotImage, declared)
}

func resultFor(err error) string {
	switch {
	case errors.Is(err, ErrUnsafeURL):
		return ResultRejected
	case errors.Is(err, ErrTooLarge):
		return ResultTooLarge
	default:
		return ResultFailed
	}
}

// describeURL drops query strings, which often carry signatures
func describeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Scheme + "://" + u.Host + u.Path
}
