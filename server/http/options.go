package http

import (
	"context"
	"net/http"

	"github.com/w-h-a/memories/server"
)

type handlerKey struct{}

type middlewareKey struct{}

func WithHandler(h http.Handler) server.Option {
	return func(o *server.Options) {
		o.Context = context.WithValue(o.Context, handlerKey{}, h)
	}
}

func HandlerFrom(ctx context.Context) (http.Handler, bool) {
	h, ok := ctx.Value(handlerKey{}).(http.Handler)
	return h, ok
}

// WithMiddleware wraps the handler. The first middleware given is the outermost.
func WithMiddleware(ms ...func(h http.Handler) http.Handler) server.Option {
	return func(o *server.Options) {
		o.Context = context.WithValue(o.Context, middlewareKey{}, ms)
	}
}

func MiddlewareFrom(ctx context.Context) ([]func(h http.Handler) http.Handler, bool) {
	ms, ok := ctx.Value(middlewareKey{}).([]func(h http.Handler) http.Handler)
	return ms, ok
}
