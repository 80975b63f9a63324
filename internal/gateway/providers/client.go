package providers

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ClientFactory hands out a fresh client per call so per-call timeouts never
// leak into other calls.
type ClientFactory interface {
	NewClient(timeout time.Duration) *http.Client
}

// LoggingClientFactory builds clients whose transport logs every outbound
// request's method, host, path, status and latency.
type LoggingClientFactory struct {
	transport http.RoundTripper
	logger    *zap.Logger
}

// NewLoggingClientFactory wraps transport (http.DefaultTransport when nil)
func NewLoggingClientFactory(transport http.RoundTripper, logger *zap.Logger) *LoggingClientFactory {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingClientFactory{
		transport: transport,
		logger:    logger.With(zap.String("component", "upstream_http")),
	}
}

func (f *LoggingClientFactory) NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &loggingTransport{next: f.transport, logger: f.logger},
	}
}

type loggingTransport struct {
	next   http.RoundTripper
	logger *zap.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)

	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("host", req.URL.Host),
		zap.String("path", req.URL.Path),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		t.logger.Warn("upstream request failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	t.logger.Info("upstream request", append(fields, zap.Int("status", resp.StatusCode))...)
	return resp, nil
}
