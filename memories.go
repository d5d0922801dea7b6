package memories

import (
	"context"

	"github.com/w-h-a/memories/embedder"
	"github.com/w-h-a/memories/internal/service/memory"
	"github.com/w-h-a/memories/storer"
)

// Memories binds a store handle to the ingestion and retrieval rules. The
// handle is opened by the caller and released by Close.
type Memories struct {
	memory *memory.Service
	store  storer.Storer
}

func (m *Memories) Ingest(ctx context.Context, userId string, payload memory.Payload) (string, error) {
	return m.memory.Ingest(ctx, userId, payload)
}

func (m *Memories) Recent(ctx context.Context, userId string, query memory.RecentQuery) ([]memory.Summary, error) {
	return m.memory.Recent(ctx, userId, query)
}

func (m *Memories) Search(ctx context.Context, userId string, query string, limit int) ([]memory.Summary, error) {
	return m.memory.Search(ctx, userId, query, limit)
}

func (m *Memories) Close() error {
	return m.store.Close()
}

func New(
	store storer.Storer,
	embedder embedder.Embedder,
	opts ...memory.Option,
) *Memories {
	return &Memories{
		memory: memory.New(store, embedder, opts...),
		store:  store,
	}
}
