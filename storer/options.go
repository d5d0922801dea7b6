package storer

import (
	"context"
	"time"
)

const DefaultDimensions = 1536

type Option func(*Options)

type Options struct {
	Location   string
	Dimensions int
	Context    context.Context
}

func WithLocation(loc string) Option {
	return func(o *Options) {
		o.Location = loc
	}
}

// WithDimensions sets the embedding width accepted by the store.
func WithDimensions(n int) Option {
	return func(o *Options) {
		o.Dimensions = n
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

type ListOption func(*ListOptions)

type ListOptions struct {
	Limit          int
	Start          time.Time
	End            time.Time
	ExcludeDeleted bool
}

func WithLimit(n int) ListOption {
	return func(o *ListOptions) {
		o.Limit = n
	}
}

// WithCreatedBetween restricts results to records created in [start, end].
func WithCreatedBetween(start, end time.Time) ListOption {
	return func(o *ListOptions) {
		o.Start = start
		o.End = end
	}
}

func WithExcludeDeleted() ListOption {
	return func(o *ListOptions) {
		o.ExcludeDeleted = true
	}
}

func NewListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{
		Limit: 1,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// HasRange reports whether both ends of the created_at range are set.
func (o ListOptions) HasRange() bool {
	return !o.Start.IsZero() && !o.End.IsZero()
}
