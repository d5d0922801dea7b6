package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/w-h-a/memories/server"
)

func TestServerStartStop(t *testing.T) {
	var order []string

	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	s := NewServer(
		server.WithAddress("127.0.0.1:0"),
		WithHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("pong"))
		})),
		WithMiddleware(tag("outer"), tag("inner")),
	)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	rsp, err := http.Get("http://" + s.Addr() + "/ping")
	require.NoError(t, err)
	body, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	require.NoError(t, rsp.Body.Close())

	assert.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.Equal(t, "pong", string(body))
	assert.Equal(t, []string{"outer", "inner"}, order)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Stop(ctx))

	_, err = http.Get("http://" + s.Addr() + "/ping")
	assert.Error(t, err)
}

func TestStopBeforeStart(t *testing.T) {
	s := NewServer(server.WithAddress("127.0.0.1:0"))

	assert.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, "127.0.0.1:0", s.Addr())
}

func TestDefaultMiddleware(t *testing.T) {
	var requestId string

	handler := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestId = middleware.GetReqID(r.Context())
		panic("boom")
	}))

	ms := DefaultMiddleware()
	for i := len(ms) - 1; i >= 0; i-- {
		handler = ms[i](handler)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, requestId)
}
