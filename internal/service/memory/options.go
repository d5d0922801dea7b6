package memory

import "github.com/w-h-a/memories/embedder"

type Option func(*Options)

type Options struct {
	Dimensions int
	MaxLimit   int
}

// WithDimensions sets the embedding width every provider response must match.
func WithDimensions(n int) Option {
	return func(o *Options) {
		o.Dimensions = n
	}
}

func WithMaxLimit(n int) Option {
	return func(o *Options) {
		o.MaxLimit = n
	}
}

func NewOptions(opts ...Option) Options {
	options := Options{
		Dimensions: embedder.DefaultDimensions,
		MaxLimit:   DefaultMaxLimit,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
