package embedder

import (
	"context"
	"net/http"
)

const DefaultDimensions = 1536

type Option func(*Options)

type Options struct {
	ApiKey     string
	Model      string
	BaseURL    string
	Dimensions int
	HTTPClient *http.Client
	Context    context.Context
}

func WithApiKey(apiKey string) Option {
	return func(o *Options) {
		o.ApiKey = apiKey
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithBaseURL points the client at a compatible endpoint other than the vendor default.
func WithBaseURL(url string) Option {
	return func(o *Options) {
		o.BaseURL = url
	}
}

func WithDimensions(n int) Option {
	return func(o *Options) {
		o.Dimensions = n
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = client
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		Dimensions: DefaultDimensions,
		Context:    context.Background(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
