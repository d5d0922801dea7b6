package qdrant

import (
	"context"

	"github.com/w-h-a/memories/storer"
)

const DefaultCollection = "memories"

type collectionKey struct{}

type apiKeyKey struct{}

func WithCollection(name string) storer.Option {
	return func(o *storer.Options) {
		o.Context = context.WithValue(o.Context, collectionKey{}, name)
	}
}

func CollectionFrom(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(collectionKey{}).(string)
	return name, ok
}

func WithApiKey(key string) storer.Option {
	return func(o *storer.Options) {
		o.Context = context.WithValue(o.Context, apiKeyKey{}, key)
	}
}

func ApiKeyFrom(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(apiKeyKey{}).(string)
	return key, ok
}
