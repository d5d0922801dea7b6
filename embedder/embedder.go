package embedder

import "context"

// FallbackText is embedded in place of text that is empty after trimming.
const FallbackText = "Empty memory"

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
