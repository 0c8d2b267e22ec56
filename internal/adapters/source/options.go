package source

import (
	"net/http"

	"github.com/okian/gather/pkg/logger"
)

// Option applies a configuration option to an adapter.
type Option func(*options)

type options struct {
	logger     logger.Logger
	httpClient *http.Client
}

// WithLogger sets a custom logger for the adapter.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHTTPClient sets the underlying client of HTTP adapters.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

func buildOptions(name string, opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Named("source")
	}
	o.logger = o.logger.With(logger.String("source", name))
	return o
}
