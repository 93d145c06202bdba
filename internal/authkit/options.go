package authkit

import (
	"net/http"

	"go.uber.org/zap"
)

// Option customises an Exchanger or a Gate.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *zap.Logger
	metrics    MetricsRecorder
}

// WithHTTPClient sets the client used to reach the token endpoint.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(resolved *options) {
		if httpClient != nil {
			resolved.httpClient = httpClient
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(resolved *options) {
		if logger != nil {
			resolved.logger = logger
		}
	}
}

// WithMetrics sets the counter sink.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(resolved *options) {
		if metrics != nil {
			resolved.metrics = metrics
		}
	}
}

func resolveOptions(opts []Option) options {
	resolved := options{
		httpClient: http.DefaultClient,
		logger:     zap.NewNop(),
		metrics:    noopMetrics{},
	}
	for _, opt := range opts {
		opt(&resolved)
	}
	return resolved
}
