package storer

import (
	"context"
)

// Storer persists memory records and answers recency and similarity queries.
// Every query is scoped to a single user.
type Storer interface {
	Insert(ctx context.Context, rec Record) (string, error)
	ListByUser(ctx context.Context, userId string, opts ...ListOption) ([]Record, error)
	NearestByEmbedding(ctx context.Context, userId string, vector []float32, limit int) ([]Record, error)
	Close() error
}
