package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/w-h-a/memories/server"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type httpServer struct {
	options  server.Options
	srv      *http.Server
	listener net.Listener
	errCh    chan error
	mtx      sync.RWMutex
}

func (s *httpServer) Options() server.Options {
	return s.options
}

// Start binds the address and serves in the background. Serve errors other
// than a clean shutdown are reported by Stop.
func (s *httpServer) Start() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.listener != nil {
		return errors.New("server already started")
	}

	listener, err := net.Listen("tcp", s.options.Address)
	if err != nil {
		return err
	}

	s.listener = listener

	go func() {
		slog.Info("http server listening", "name", s.options.Name, "address", listener.Addr().String())
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			s.errCh <- err
		}
		close(s.errCh)
	}()

	return nil
}

func (s *httpServer) Stop(ctx context.Context) error {
	s.mtx.RLock()
	started := s.listener != nil
	s.mtx.RUnlock()

	if !started {
		return nil
	}

	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}

	return <-s.errCh
}

func (s *httpServer) Addr() string {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if s.listener == nil {
		return s.options.Address
	}

	return s.listener.Addr().String()
}

func NewServer(opts ...server.Option) server.Server {
	options := server.NewOptions(opts...)

	handler, ok := HandlerFrom(options.Context)
	if !ok {
		handler = http.NotFoundHandler()
	}

	if ms, ok := MiddlewareFrom(options.Context); ok {
		for i := len(ms) - 1; i >= 0; i-- {
			handler = ms[i](handler)
		}
	}

	handler = otelhttp.NewHandler(handler, options.Name)

	s := &httpServer{
		options: options,
		srv: &http.Server{
			Handler: handler,
		},
		errCh: make(chan error, 1),
		mtx:   sync.RWMutex{},
	}

	return s
}
