package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeDimensions(t *testing.T) {
	tests := []struct {
		name    string
		cmd     serveCmd
		want    int
		wantErr bool
	}{
		{name: "openai default", cmd: serveCmd{Embedder: "openai"}, want: 1536},
		{name: "hash default", cmd: serveCmd{Embedder: "hash"}, want: 1536},
		{name: "google default", cmd: serveCmd{Embedder: "google"}, want: 768},
		{name: "google named model", cmd: serveCmd{Embedder: "google", EmbedderModel: "embedding-001"}, want: 768},
		{name: "openai explicit", cmd: serveCmd{Embedder: "openai", Dimensions: 256}, want: 256},
		{name: "google explicit native", cmd: serveCmd{Embedder: "google", Dimensions: 768}, want: 768},
		{name: "google explicit unknown model", cmd: serveCmd{Embedder: "google", EmbedderModel: "custom", Dimensions: 1024}, want: 1024},
		{name: "google mismatch", cmd: serveCmd{Embedder: "google", Dimensions: 1536}, wantErr: true},
		{name: "google unknown model without width", cmd: serveCmd{Embedder: "google", EmbedderModel: "custom"}, wantErr: true},
		{name: "negative", cmd: serveCmd{Embedder: "hash", Dimensions: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.dimensions()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
