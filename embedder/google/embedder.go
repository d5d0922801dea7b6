package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/w-h-a/memories/embedder"
	genaiopt "google.golang.org/api/option"
)

const defaultModel = "text-embedding-004"

// modelDimensions holds the fixed output width of the embedding models this
// package knows about.
var modelDimensions = map[string]int{
	"text-embedding-004": 768,
	"embedding-001":      768,
}

// Dimensions returns the output width of model, or 0 when it is unknown.
// An empty model means the package default.
func Dimensions(model string) int {
	if len(model) == 0 {
		model = defaultModel
	}
	return modelDimensions[strings.TrimPrefix(model, "models/")]
}

type googleEmbedder struct {
	options embedder.Options
	client  *genai.Client
}

func (e *googleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	model := e.client.EmbeddingModel(e.options.Model)
	rsp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}

	if rsp == nil || rsp.Embedding == nil || len(rsp.Embedding.Values) == 0 {
		return nil, errors.New("no response from Google")
	}

	if len(rsp.Embedding.Values) != e.options.Dimensions {
		return nil, fmt.Errorf("google model %s returned %d dimensions, want %d", e.options.Model, len(rsp.Embedding.Values), e.options.Dimensions)
	}

	return rsp.Embedding.Values, nil
}

func NewEmbedder(opts ...embedder.Option) (embedder.Embedder, error) {
	options := embedder.NewOptions(opts...)

	if len(options.Model) == 0 {
		options.Model = defaultModel
	}

	if n := Dimensions(options.Model); n > 0 && n != options.Dimensions {
		return nil, fmt.Errorf("google model %s produces %d dimensions, not %d", options.Model, n, options.Dimensions)
	}

	e := &googleEmbedder{
		options: options,
	}

	clientOpts := []genaiopt.ClientOption{
		genaiopt.WithAPIKey(options.ApiKey),
	}
	if len(options.BaseURL) > 0 {
		clientOpts = append(clientOpts, genaiopt.WithEndpoint(options.BaseURL))
	}

	client, err := genai.NewClient(options.Context, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize google embedder: %w", err)
	}

	e.client = client

	return e, nil
}
